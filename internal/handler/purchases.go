package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/repository"
)

// Purchases reads the ledger. *repository.PurchaseRepo implements it.
type Purchases interface {
	GetByID(ctx context.Context, id uint64) (model.Purchase, error)
	List(ctx context.Context, q repository.PurchaseQuery) ([]model.Purchase, int64, error)
}

type PurchaseHandler struct {
	Purchases Purchases
}

func NewPurchaseHandler(p Purchases) *PurchaseHandler { return &PurchaseHandler{Purchases: p} }

// List pages through the ledger, newest first.
// Query: screeningId, status, page, page_size.
func (h *PurchaseHandler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	ps, _ := strconv.Atoi(c.QueryParam("page_size"))
	if ps < 1 {
		ps = 20
	}
	if ps > 100 {
		ps = 100
	}
	status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))
	switch status {
	case "", model.PurchaseStatusPurchased, model.PurchaseStatusRejected, model.PurchaseStatusFailed:
	default:
		return badRequest(c, "invalid status")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	items, total, err := h.Purchases.List(ctx, repository.PurchaseQuery{
		ScreeningID: strings.TrimSpace(c.QueryParam("screeningId")),
		Status:      status,
		Page:        page,
		PageSize:    ps,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": ps,
	})
}

// Get returns one ledger row.
func (h *PurchaseHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	p, err := h.Purchases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPurchaseNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "purchase not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, p)
}
