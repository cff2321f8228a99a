// Package repository persists purchase attempts and operator accounts in
// MySQL. Sentinel errors let handlers tell "missing" apart from failures.
package repository

import "errors"

// ErrPurchaseNotFound is returned when no ledger row has the requested id.
var ErrPurchaseNotFound = errors.New("purchase not found")

// ErrEmailExists is returned when an operator with the same email exists.
var ErrEmailExists = errors.New("email already exists")

// ErrInvalidRefresh is returned for unknown, revoked or expired refresh
// tokens.
var ErrInvalidRefresh = errors.New("invalid refresh token")
