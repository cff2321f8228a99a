package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/festwatch/ticketwatch/internal/catalog"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/scanner"
)

// Tickets runs operations on the shared session. *service.TicketService
// implements it.
type Tickets interface {
	RefreshProgram(ctx context.Context) ([]string, error)
	RefreshScreening(ctx context.Context, id string) (catalog.Result, error)
	Purchase(ctx context.Context, id string, quantity int) (catalog.Result, error)
	ClearCart(ctx context.Context) error
}

// Scanner is the background loop's control surface.
type Scanner interface {
	SetRunning(v bool)
	State() scanner.State
}

// SessionHandler serves the endpoints that drive the browser session. They
// queue behind each other and preempt the background scanner.
type SessionHandler struct {
	Tickets Tickets
	Scanner Scanner
}

func NewSessionHandler(t Tickets, s Scanner) *SessionHandler {
	return &SessionHandler{Tickets: t, Scanner: s}
}

type screeningResult struct {
	Index            int                 `json:"index"`
	RefreshedProgram bool                `json:"refreshedProgram"`
	Available        bool                `json:"available"`
	Info             model.ScreeningView `json:"info"`
	Purchase         *purchasePart       `json:"purchase,omitempty"`
}

type purchasePart struct {
	Quantity   int   `json:"quantity"`
	PriceCents int64 `json:"priceCents"`
	Remaining  *int  `json:"ticketsRemaining,omitempty"`
}

func toScreeningResult(r catalog.Result) screeningResult {
	out := screeningResult{
		Index:            r.Index,
		RefreshedProgram: r.RefreshedProgram,
		Available:        r.Available,
		Info:             r.View,
	}
	if res := r.Reservation; res != nil && res.Quantity > 0 {
		out.Purchase = &purchasePart{Quantity: res.Quantity, PriceCents: res.PriceCents, Remaining: res.Remaining}
	}
	return out
}

// RefreshProgram rescans the full listing.
func (h *SessionHandler) RefreshProgram(c echo.Context) error {
	program, err := h.Tickets.RefreshProgram(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, program)
}

// RefreshScreening re-reads one screening.
func (h *SessionHandler) RefreshScreening(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid screening id")
	}
	res, err := h.Tickets.RefreshScreening(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toScreeningResult(res))
}

// Purchase buys ?quantity=N tickets.
func (h *SessionHandler) Purchase(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid screening id")
	}
	qty, err := strconv.Atoi(c.QueryParam("quantity"))
	if err != nil || qty <= 0 {
		return badRequest(c, "quantity must be a positive integer")
	}
	res, err := h.Tickets.Purchase(c.Request().Context(), id, qty)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toScreeningResult(res))
}

// ClearCart empties the festival cart.
func (h *SessionHandler) ClearCart(c echo.Context) error {
	if err := h.Tickets.ClearCart(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetScannerRunning switches the background scanner with /running/:value.
func (h *SessionHandler) SetScannerRunning(c echo.Context) error {
	v, err := strconv.ParseBool(c.Param("value"))
	if err != nil {
		return badRequest(c, "value must be true or false")
	}
	h.Scanner.SetRunning(v)
	return c.JSON(http.StatusOK, h.Scanner.State())
}

// State reports the scanner and session state.
func (h *SessionHandler) State(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Scanner.State())
}
