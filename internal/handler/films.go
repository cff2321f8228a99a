package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/festwatch/ticketwatch/internal/model"
)

// FilmScraper refreshes film and category pages. *filminfo.Scraper
// implements it.
type FilmScraper interface {
	RefreshFilms(ctx context.Context) ([]model.Film, error)
	RefreshFilm(ctx context.Context, id string, shorts bool) (model.Film, error)
	RefreshFilmByTitle(ctx context.Context, search string) (model.Film, error)
	RefreshCategories(ctx context.Context) ([]model.Category, error)
}

// FilmHandler serves the film refresh endpoints. They read public pages and
// do not take the session.
type FilmHandler struct {
	Scraper FilmScraper
}

func NewFilmHandler(s FilmScraper) *FilmHandler { return &FilmHandler{Scraper: s} }

// RefreshFilms lists every film and fetches each detail page. With
// ?titleSearch= only the first film whose title matches is refreshed.
func (h *FilmHandler) RefreshFilms(c echo.Context) error {
	if search := strings.TrimSpace(c.QueryParam("titleSearch")); search != "" {
		f, err := h.Scraper.RefreshFilmByTitle(c.Request().Context(), search)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, f)
	}
	films, err := h.Scraper.RefreshFilms(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, films)
}

// RefreshFilm fetches one film page, or a shorts package with ?shorts=true.
func (h *FilmHandler) RefreshFilm(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid film id")
	}
	shorts, err := queryBool(c, "shorts")
	if err != nil {
		return badRequest(c, "invalid shorts")
	}
	f, err := h.Scraper.RefreshFilm(c.Request().Context(), id, shorts != nil && *shorts)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// RefreshCategories reads the programme sections.
func (h *FilmHandler) RefreshCategories(c echo.Context) error {
	cats, err := h.Scraper.RefreshCategories(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cats)
}
