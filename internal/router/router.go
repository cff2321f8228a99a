// Package router registers the HTTP routes of the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/festwatch/ticketwatch/internal/handler"
	"github.com/festwatch/ticketwatch/internal/middleware"
)

// RegisterRoutes registers the unauthenticated probes: /healthz and, when
// registry is set, /metrics.
func RegisterRoutes(e *echo.Echo, registry *prometheus.Registry) {
	e.GET("/healthz", handler.Health)
	if registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}
}

// RegisterAuth registers the token endpoints under /v1/auth. Login, refresh
// and logout take credentials in the body; /me needs an access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
	g.GET("/me", a.Me, middleware.JWTAuth(jwtSecret))
}
