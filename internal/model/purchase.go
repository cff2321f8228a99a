package model

import "time"

// Purchase statuses recorded in the ledger.
const (
	PurchaseStatusPurchased = "PURCHASED"
	PurchaseStatusRejected  = "REJECTED"
	PurchaseStatusFailed    = "FAILED"
)

// Purchase is one ticket purchase attempt as recorded in the ledger.
//
// Fields:
//
//	ID          – primary key identifier.
//	ScreeningID – derived screening identifier.
//	Title       – screening title at the time of purchase.
//	Quantity    – number of tickets requested.
//	PriceCents  – total shown at checkout, 0 when never reached.
//	Status      – PURCHASED, REJECTED (not enough tickets) or FAILED.
//	Message     – error text for non-purchased attempts.
//	CreatedAt   – when the attempt finished.
type Purchase struct {
	ID          uint64    `json:"id"`                // purchases.id
	ScreeningID string    `json:"screeningId"`       // purchases.screening_id
	Title       string    `json:"title"`             // purchases.title
	Quantity    int       `json:"quantity"`          // purchases.quantity
	PriceCents  int64     `json:"priceCents"`        // purchases.price_cents
	Status      string    `json:"status"`            // purchases.status
	Message     string    `json:"message,omitempty"` // purchases.message
	CreatedAt   time.Time `json:"createdAt"`         // purchases.created_at
}
