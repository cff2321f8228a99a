package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/utils"
)

// OperatorRepo stores the accounts allowed to drive the session.
type OperatorRepo struct{ DB *sql.DB }

func NewOperatorRepo(db *sql.DB) *OperatorRepo { return &OperatorRepo{DB: db} }

const operatorColumns = "id,email,password_hash,role,is_active,created_at,updated_at"

// Create hashes password and inserts an operator, returning its id.
func (r *OperatorRepo) Create(ctx context.Context, email, password, role string, cost int) (uint64, error) {
	email = normalizeEmail(email)
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO operators (email, password_hash, role) VALUES (?,?,?)",
		email, hash, role)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == 1062 {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Ensure creates the operator unless one with email already exists.
func (r *OperatorRepo) Ensure(ctx context.Context, email, password, role string, cost int) (created bool, err error) {
	_, err = r.GetByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if _, err := r.Create(ctx, email, password, role, cost); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetByEmail fetches an operator by normalized email.
func (r *OperatorRepo) GetByEmail(ctx context.Context, email string) (model.Operator, error) {
	return r.get(ctx, "email=?", normalizeEmail(email))
}

// GetByID fetches an operator by id.
func (r *OperatorRepo) GetByID(ctx context.Context, id uint64) (model.Operator, error) {
	return r.get(ctx, "id=?", id)
}

func (r *OperatorRepo) get(ctx context.Context, cond string, arg any) (model.Operator, error) {
	var u model.Operator
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+operatorColumns+" FROM operators WHERE "+cond+" LIMIT 1", arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
