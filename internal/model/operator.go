package model

import "time"

// RoleAdmin is the only operator role; every mutating endpoint requires it.
const RoleAdmin = "ADMIN"

// Operator is an account allowed to use the API, stored in `operators`.
//
// Fields:
//
//	ID           – primary key identifier.
//	Email        – unique, lower-cased.
//	PasswordHash – bcrypt hash.
//	Role         – ADMIN.
//	IsActive     – inactive operators cannot log in.
type Operator struct {
	ID           uint64    // operators.id
	Email        string    // operators.email
	PasswordHash string    // operators.password_hash
	Role         string    // operators.role
	IsActive     bool      // operators.is_active
	CreatedAt    time.Time // operators.created_at
	UpdatedAt    time.Time // operators.updated_at
}
