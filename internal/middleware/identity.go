package middleware

import "github.com/labstack/echo/v4"

// Context keys set by JWTAuth.
const (
	ContextOperatorID = "operator_id"
	ContextRole       = "role"
)

// operatorID returns the authenticated operator id, or "anon".
func operatorID(c echo.Context) string {
	if s, ok := c.Get(ContextOperatorID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
