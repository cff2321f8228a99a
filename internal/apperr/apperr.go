// Package apperr classifies the failures that cross component boundaries.
// Each wrapper keeps the underlying cause reachable through errors.Is and
// errors.As, and Kind maps any error to a short label used by logs, metrics
// and HTTP status selection.
package apperr

import (
	"errors"
	"fmt"
)

// Timeout indicates a bounded wait on the remote UI exceeded its limit.
type Timeout struct {
	Err error
}

func (e Timeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e Timeout) Unwrap() error {
	return e.Err
}

// NotFound indicates an id could not be located, either because the handle at
// its ordinal maps to a different id or because it is absent after a resync.
type NotFound struct {
	Err error
}

func (e NotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e NotFound) Unwrap() error {
	return e.Err
}

// Contention is raised by a long-running holder of the session when it yields
// to a waiting operation.
type Contention struct {
	Err error
}

func (e Contention) Error() string {
	return fmt.Errorf("contention: %w", e.Err).Error()
}

func (e Contention) Unwrap() error {
	return e.Err
}

// Integrity signals a reservation sanity check failed: quantity overshoot,
// price above the ceiling or a purchased-count mismatch.
type Integrity struct {
	Err error
}

func (e Integrity) Error() string {
	return fmt.Errorf("integrity: %w", e.Err).Error()
}

func (e Integrity) Unwrap() error {
	return e.Err
}

// External wraps a failure of the automation session itself.
type External struct {
	Err error
}

func (e External) Error() string {
	return fmt.Errorf("external: %w", e.Err).Error()
}

func (e External) Unwrap() error {
	return e.Err
}

// ErrYield is the cause carried by Contention errors raised at checkpoints.
var ErrYield = errors.New("yield to pending operation")

// Kind returns the label of the outermost classified error in err's chain.
func Kind(err error) string {
	if err == nil {
		return "none"
	}
	var timeout Timeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var notFound NotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var contention Contention
	if errors.As(err, &contention) {
		return "contention"
	}
	var integrity Integrity
	if errors.As(err, &integrity) {
		return "integrity"
	}
	var external External
	if errors.As(err, &external) {
		return "external"
	}
	return "other"
}

// IsContention reports whether err is a deliberate yield.
func IsContention(err error) bool {
	var contention Contention
	return errors.As(err, &contention)
}

// IsTimeout reports whether err is a bounded wait that expired.
func IsTimeout(err error) bool {
	var timeout Timeout
	return errors.As(err, &timeout)
}
