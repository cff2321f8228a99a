package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/queue"
	"github.com/festwatch/ticketwatch/internal/site"
	"github.com/festwatch/ticketwatch/internal/store"
)

const (
	date      = "January 20, 2023"
	timeRange = "9:00 PM - 11:00 PM"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st, err := store.New(rdb, "test", 16)
	require.NoError(t, err)
	return st
}

type fakeLedger struct {
	mu   sync.Mutex
	rows []model.Purchase
	err  error
}

func (l *fakeLedger) Create(_ context.Context, p *model.Purchase) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	p.ID = uint64(len(l.rows) + 1)
	p.CreatedAt = time.Now()
	l.rows = append(l.rows, *p)
	return nil
}

func (l *fakeLedger) all() []model.Purchase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Purchase(nil), l.rows...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, ev queue.NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev.Header)
	return p.err
}

var errBroker = errors.New("broker down")

func screening(t *testing.T, title, location string) model.Screening {
	t.Helper()
	s, err := site.NewScreening(title, date, timeRange, location, time.UTC, time.Now())
	require.NoError(t, err)
	return s
}
