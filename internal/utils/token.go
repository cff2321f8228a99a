// Package utils issues and verifies operator credentials: bcrypt password
// hashes, HS256 access tokens and opaque refresh tokens.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed JWT and its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// RefreshToken is the raw value handed to the client; only its hash is
// stored.
type RefreshToken struct {
	Raw string
	Exp time.Time
}

// Claims is the payload of an access token. Subject holds the operator id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// OperatorID parses the subject claim.
func (c Claims) OperatorID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// NewAccessToken signs an HS256 token for an operator.
func NewAccessToken(secret string, operatorID uint64, role string, ttl time.Duration, now time.Time) (AccessToken, error) {
	now = now.UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(operatorID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ErrInvalidToken covers malformed, expired and wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// ParseAccessToken verifies raw with secret and returns its claims.
func ParseAccessToken(secret, raw string) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, err := claims.OperatorID(); err != nil {
		return Claims{}, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	return claims, nil
}

// NewRefreshToken returns a random 96-character token valid for ttl.
func NewRefreshToken(ttl time.Duration, now time.Time) (RefreshToken, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: hex.EncodeToString(buf), Exp: now.UTC().Add(ttl)}, nil
}

// HashRefreshRaw is the SHA-256 hex digest stored for a refresh token.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
