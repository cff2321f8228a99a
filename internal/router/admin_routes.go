package router

import (
	"github.com/labstack/echo/v4"

	"github.com/festwatch/ticketwatch/internal/handler"
	"github.com/festwatch/ticketwatch/internal/middleware"
	"github.com/festwatch/ticketwatch/internal/model"
)

// Admin bundles the handlers behind operator auth.
type Admin struct {
	Session   *handler.SessionHandler
	Films     *handler.FilmHandler
	Purchases *handler.PurchaseHandler
}

// RegisterAdmin registers the operations that drive the festival session or
// scrape the film pages. All routes require an ADMIN access token; limit,
// when set, rate limits every route after auth.
func RegisterAdmin(e *echo.Echo, a Admin, jwtSecret string, limit echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	}
	if limit != nil {
		mw = append(mw, limit)
	}
	g := e.Group("/v1", mw...)

	// ---- Session ----
	g.POST("/program/refresh", a.Session.RefreshProgram)
	g.POST("/screenings/:id/refresh", a.Session.RefreshScreening)
	g.POST("/screenings/:id/purchase", a.Session.Purchase)
	g.DELETE("/cart", a.Session.ClearCart)
	g.PUT("/scanner/running/:value", a.Session.SetScannerRunning)

	// ---- Films ----
	g.POST("/films/refresh", a.Films.RefreshFilms)
	g.POST("/films/:id/refresh", a.Films.RefreshFilm)
	g.POST("/categories/refresh", a.Films.RefreshCategories)

	// ---- Ledger ----
	g.GET("/purchases", a.Purchases.List)
	g.GET("/purchases/:id", a.Purchases.Get)
}
