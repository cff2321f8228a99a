package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/festwatch/ticketwatch/internal/middleware"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/repository"
	"github.com/festwatch/ticketwatch/internal/utils"
)

// Operators loads operator accounts. *repository.OperatorRepo implements it.
type Operators interface {
	GetByEmail(ctx context.Context, email string) (model.Operator, error)
	GetByID(ctx context.Context, id uint64) (model.Operator, error)
}

// RefreshTokens persists refresh token hashes. *repository.TokenRepo
// implements it.
type RefreshTokens interface {
	StoreRefresh(ctx context.Context, operatorID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
}

// AuthConfig holds the token settings AuthHandler needs.
type AuthConfig struct {
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthHandler issues operator tokens.
type AuthHandler struct {
	Cfg       AuthConfig
	Operators Operators
	Tokens    RefreshTokens
	Now       func() time.Time
}

func NewAuthHandler(cfg AuthConfig, o Operators, t RefreshTokens) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Operators: o, Tokens: t, Now: time.Now}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type operatorPart struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type authResp struct {
	Operator operatorPart `json:"operator"`
	Access   tokenPart    `json:"access"`
	Refresh  tokenPart    `json:"refresh"`
}

// issue signs an access token and stores a fresh refresh token for op.
func (h *AuthHandler) issue(ctx context.Context, op model.Operator) (authResp, error) {
	now := h.Now()
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, op.ID, op.Role, h.Cfg.AccessTTL, now)
	if err != nil {
		return authResp{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTL, now)
	if err != nil {
		return authResp{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, op.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return authResp{}, err
	}
	return authResp{
		Operator: operatorPart{ID: op.ID, Email: op.Email, Role: op.Role},
		Access:   tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh:  tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	}, nil
}

// Login verifies credentials and returns a token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	op, err := h.Operators.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !op.IsActive || !utils.VerifyPassword(op.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	resp, err := h.issue(ctx, op)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
	}
	return c.JSON(http.StatusOK, resp)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is returned.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest(c, "refresh_token required")
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Tokens.ValidateRefresh(ctx, hash, h.Now())
	if err != nil {
		if errors.Is(err, repository.ErrInvalidRefresh) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
	}
	op, err := h.Operators.GetByID(ctx, id)
	if err != nil || !op.IsActive {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}
	resp, err := h.issue(ctx, op)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout revokes the presented refresh token. Unknown tokens are ignored.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest(c, "refresh_token required")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Tokens.RevokeByHash(ctx, utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the operator behind the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	raw, _ := c.Get(middleware.ContextOperatorID).(string)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	op, err := h.Operators.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "operator not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, operatorPart{ID: op.ID, Email: op.Email, Role: op.Role})
}
