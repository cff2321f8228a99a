package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/festwatch/ticketwatch/internal/model"
)

// PurchaseRepo is the ledger of purchase attempts. Rows are append-only.
type PurchaseRepo struct {
	db *sql.DB
}

// NewPurchaseRepo returns a PurchaseRepo bound to db.
func NewPurchaseRepo(db *sql.DB) *PurchaseRepo { return &PurchaseRepo{db: db} }

// PurchaseQuery filters and paginates List.
type PurchaseQuery struct {
	ScreeningID string
	Status      string
	Page        int
	PageSize    int
}

const purchaseColumns = `id, screening_id, title, quantity, price_cents, status, message, created_at`

// Create inserts p and fills in its generated id and creation time.
func (r *PurchaseRepo) Create(ctx context.Context, p *model.Purchase) error {
	const q = `INSERT INTO purchases (screening_id, title, quantity, price_cents, status, message) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, p.ScreeningID, p.Title, p.Quantity, p.PriceCents, p.Status, p.Message)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	stored, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*p = stored
	return nil
}

// GetByID returns one ledger row or ErrPurchaseNotFound.
func (r *PurchaseRepo) GetByID(ctx context.Context, id uint64) (model.Purchase, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, id)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrPurchaseNotFound
	}
	return p, err
}

// List returns one page of the ledger, newest first, and the total number
// of matching rows.
func (r *PurchaseRepo) List(ctx context.Context, q PurchaseQuery) ([]model.Purchase, int64, error) {
	where := []string{}
	args := []any{}
	if q.ScreeningID != "" {
		where = append(where, "screening_id = ?")
		args = append(args, q.ScreeningID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, strings.ToUpper(q.Status))
	}
	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM purchases WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	pageArgs := append(append([]any{}, args...), q.PageSize, (q.Page-1)*q.PageSize)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE `+cond+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []model.Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPurchase(s scanner) (model.Purchase, error) {
	var p model.Purchase
	err := s.Scan(&p.ID, &p.ScreeningID, &p.Title, &p.Quantity, &p.PriceCents, &p.Status, &p.Message, &p.CreatedAt)
	return p, err
}
