package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Factory builds a ready-to-use session: browser started, signed in and with
// an empty cart.
type Factory[T io.Closer] func(ctx context.Context) (T, error)

// Manager owns the one automation session. It is only meant to be used while
// holding the Coordinator; the internal mutex just keeps State readers safe.
type Manager[T io.Closer] struct {
	factory Factory[T]
	log     *slog.Logger

	mu      sync.Mutex
	current T
	live    bool
	builds  int
}

// NewManager returns a Manager that creates sessions with factory.
func NewManager[T io.Closer](factory Factory[T], log *slog.Logger) *Manager[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Manager[T]{factory: factory, log: log}
}

// Get returns the current session, building one when none is live.
func (m *Manager[T]) Get(ctx context.Context) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live {
		return m.current, nil
	}
	s, err := m.factory(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	m.current = s
	m.live = true
	m.builds++
	m.log.Info("automation session started", slog.Int("builds", m.builds))
	return s, nil
}

// Reset tears the current session down so the next Get builds a fresh one.
func (m *Manager[T]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live {
		return
	}
	if err := m.current.Close(); err != nil {
		m.log.Warn("automation session close failed", slog.Any("error", err))
	}
	var zero T
	m.current = zero
	m.live = false
}

// Live reports whether a session is currently open.
func (m *Manager[T]) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Builds returns how many sessions have been created so far.
func (m *Manager[T]) Builds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builds
}
