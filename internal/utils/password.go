package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordLength rejects passwords bcrypt would silently truncate or that
// are too short to be worth hashing.
var ErrPasswordLength = errors.New("password must be 8 to 72 bytes")

// HashPassword returns a bcrypt hash of plain at cost.
func HashPassword(plain string, cost int) (string, error) {
	if len(plain) < 8 || len(plain) > 72 {
		return "", ErrPasswordLength
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword compares a bcrypt hash with a plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
