package router

import (
	"github.com/labstack/echo/v4"

	"github.com/festwatch/ticketwatch/internal/handler"
)

// RegisterPublic registers the read-only catalog under /v1. cache wraps
// every route; pass nil to serve uncached.
func RegisterPublic(e *echo.Echo, h *handler.CatalogHandler, s *handler.SessionHandler, cache echo.MiddlewareFunc) {
	var mw []echo.MiddlewareFunc
	if cache != nil {
		mw = append(mw, cache)
	}
	g := e.Group("/v1", mw...)
	g.GET("/program", h.Program)
	g.GET("/screenings", h.Screenings)
	g.GET("/screenings/:id", h.Screening)
	g.GET("/films", h.Films)
	g.GET("/categories", h.Categories)

	// Scanner state changes every step and is never cached.
	e.GET("/v1/state", s.State)
}
