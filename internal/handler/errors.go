// Package handler exposes the HTTP API: catalog queries, the operations that
// drive the festival session, the purchase ledger and operator auth.
package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/festwatch/ticketwatch/internal/apperr"
)

// statusFor maps an error kind to the HTTP status returned for it.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperr.Kind(err) {
	case "not_found":
		return http.StatusNotFound
	case "contention":
		return http.StatusConflict
	case "integrity":
		return http.StatusUnprocessableEntity
	case "timeout":
		return http.StatusGatewayTimeout
	case "external":
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c echo.Context, err error) error {
	return c.JSON(statusFor(err), echo.Map{"error": err.Error(), "kind": apperr.Kind(err)})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// pathID returns the unescaped :id parameter.
func pathID(c echo.Context) (string, bool) {
	id, err := url.PathUnescape(c.Param("id"))
	if err != nil || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// queryList collects repeated values of name, accepting both name and
// name[] as sent by array-style query serializers.
func queryList(c echo.Context, names ...string) []string {
	params := c.QueryParams()
	var out []string
	for _, n := range names {
		out = append(out, params[n]...)
		out = append(out, params[n+"[]"]...)
	}
	return out
}

// queryBool parses name; a missing parameter is nil.
func queryBool(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
