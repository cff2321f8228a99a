package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/service"
)

// Catalog answers read-only queries. *service.QueryService implements it.
type Catalog interface {
	Program(ctx context.Context) ([]string, error)
	Screening(ctx context.Context, id string) (model.ScreeningView, error)
	Screenings(ctx context.Context, q service.ScreeningQuery) ([]model.ScreeningView, error)
	Films(ctx context.Context, q service.FilmQuery) ([]model.Film, error)
	Categories(ctx context.Context, all bool, titles []string) ([]model.Category, error)
}

// CatalogHandler serves the cached catalog without touching the session.
type CatalogHandler struct {
	Catalog Catalog
}

func NewCatalogHandler(c Catalog) *CatalogHandler { return &CatalogHandler{Catalog: c} }

// Program returns the screening ids of the last full scan in listing order.
func (h *CatalogHandler) Program(c echo.Context) error {
	program, err := h.Catalog.Program(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, program)
}

// Screening returns one stored screening with its films.
func (h *CatalogHandler) Screening(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid screening id")
	}
	v, err := h.Catalog.Screening(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Screenings lists stored screenings.
//
// Query: sortBy=startTime, titles[], venues[], cities[] and otherCities[]
// (parkCity, slc or a city name), screeningTypes[] and otherScreeningTypes[]
// (premiere, second or a label), filmIds[], categories[], tags[], soldOut,
// available, withFilms. A value prefixed with "~" matches as a substring.
func (h *CatalogHandler) Screenings(c echo.Context) error {
	q := service.ScreeningQuery{
		SortBy:         c.QueryParam("sortBy"),
		Titles:         queryList(c, "titles"),
		Venues:         queryList(c, "venues"),
		Cities:         queryList(c, "cities", "otherCities"),
		ScreeningTypes: queryList(c, "screeningTypes", "otherScreeningTypes"),
		FilmIDs:        queryList(c, "filmIds"),
		Categories:     queryList(c, "categories"),
		Tags:           queryList(c, "tags"),
	}
	if q.SortBy != "" && q.SortBy != service.SortByStartTime {
		return badRequest(c, "sortBy must be startTime")
	}
	var err error
	if q.SoldOut, err = queryBool(c, "soldOut"); err != nil {
		return badRequest(c, "invalid soldOut")
	}
	if q.Available, err = queryBool(c, "available"); err != nil {
		return badRequest(c, "invalid available")
	}
	withFilms, err := queryBool(c, "withFilms")
	if err != nil {
		return badRequest(c, "invalid withFilms")
	}
	q.WithFilms = withFilms != nil && *withFilms

	views, err := h.Catalog.Screenings(c.Request().Context(), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, views)
}

// Films lists stored films. Query: all, shorts, ids[], titles[],
// categories[], tags[].
func (h *CatalogHandler) Films(c echo.Context) error {
	q := service.FilmQuery{
		IDs:        queryList(c, "ids"),
		Titles:     queryList(c, "titles"),
		Categories: queryList(c, "categories"),
		Tags:       queryList(c, "tags"),
	}
	all, err := queryBool(c, "all")
	if err != nil {
		return badRequest(c, "invalid all")
	}
	q.All = all != nil && *all
	if q.Shorts, err = queryBool(c, "shorts"); err != nil {
		return badRequest(c, "invalid shorts")
	}
	films, err := h.Catalog.Films(c.Request().Context(), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, films)
}

// Categories lists programme sections. Query: all, titles[].
func (h *CatalogHandler) Categories(c echo.Context) error {
	all, err := queryBool(c, "all")
	if err != nil {
		return badRequest(c, "invalid all")
	}
	cats, err := h.Catalog.Categories(c.Request().Context(), all != nil && *all, queryList(c, "titles"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cats)
}
