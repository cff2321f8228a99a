// Package session serializes access to the single browser session shared by
// the background scanner and the API handlers.
package session

import (
	"context"
	"sync"

	"github.com/festwatch/ticketwatch/internal/apperr"
)

// Coordinator is a mutex whose waiters are granted ownership strictly in
// arrival order. The number of queued waiters doubles as a cooperative
// preemption signal: a long-running holder calls Checkpoint and gives the
// session up when somebody is waiting.
type Coordinator struct {
	mu    sync.Mutex
	held  bool
	queue []chan struct{}
}

// NewCoordinator returns an unlocked Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Acquire blocks until the caller owns the session or ctx is done. Every nil
// return must be paired with exactly one Release.
func (c *Coordinator) Acquire(ctx context.Context) error {
	c.mu.Lock()
	if !c.held && len(c.queue) == 0 {
		c.held = true
		c.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	c.queue = append(c.queue, ready)
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		for i, ch := range c.queue {
			if ch == ready {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				c.mu.Unlock()
				return ctx.Err()
			}
		}
		c.mu.Unlock()
		// Ownership was handed over while we were giving up.
		c.Release()
		return ctx.Err()
	}
}

// Release passes ownership to the oldest waiter, or unlocks when none.
func (c *Coordinator) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		panic("session: release of unheld coordinator")
	}
	if len(c.queue) == 0 {
		c.held = false
		return
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	close(next)
}

// Do runs fn while holding the session and always releases it afterwards.
func (c *Coordinator) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	defer c.Release()
	return fn(ctx)
}

// Waiting returns the number of callers queued behind the current holder.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Held reports whether some caller currently owns the session.
func (c *Coordinator) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// Checkpoint returns a Contention error when another operation is waiting.
func (c *Coordinator) Checkpoint() error {
	if c.Waiting() > 0 {
		return apperr.Contention{Err: apperr.ErrYield}
	}
	return nil
}
