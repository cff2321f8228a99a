package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festwatch/ticketwatch/internal/apperr"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestCoordinator_GrantsInArrivalOrder(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))

	const n = 8
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Acquire(ctx))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			c.Release()
		}(i)
		// Enqueue the next waiter only once this one is queued.
		waitFor(t, func() bool { return c.Waiting() == i })
	}

	c.Release()
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, order)
	assert.False(t, c.Held())
	assert.Zero(t, c.Waiting())
}

func TestCoordinator_CheckpointSignalsWaiters(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))
	assert.NoError(t, c.Checkpoint())

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.Acquire(ctx))
		c.Release()
	}()
	waitFor(t, func() bool { return c.Waiting() == 1 })

	err := c.Checkpoint()
	require.Error(t, err)
	assert.True(t, apperr.IsContention(err))
	assert.ErrorIs(t, err, apperr.ErrYield)

	c.Release()
	<-done
}

func TestCoordinator_CancelledWaiterLeavesQueue(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Acquire(ctx) }()
	waitFor(t, func() bool { return c.Waiting() == 1 })

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Zero(t, c.Waiting())

	c.Release()
	assert.False(t, c.Held())
}

func TestCoordinator_DoReleasesOnError(t *testing.T) {
	c := NewCoordinator()
	boom := errors.New("boom")

	err := c.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Held())

	err = c.Do(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
}

type fakeSession struct {
	closed bool
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func TestManager_BuildsLazilyAndRebuildsAfterReset(t *testing.T) {
	var built []*fakeSession
	m := NewManager(func(context.Context) (*fakeSession, error) {
		s := &fakeSession{}
		built = append(built, s)
		return s, nil
	}, nil)
	ctx := context.Background()

	assert.False(t, m.Live())
	s1, err := m.Get(ctx)
	require.NoError(t, err)
	s2, err := m.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, m.Builds())

	m.Reset()
	assert.True(t, s1.closed)
	assert.False(t, m.Live())

	s3, err := m.Get(ctx)
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
	assert.Len(t, built, 2)
}

func TestManager_FactoryErrorLeavesNoSession(t *testing.T) {
	m := NewManager(func(context.Context) (*fakeSession, error) {
		return nil, errors.New("chrome not found")
	}, nil)

	_, err := m.Get(context.Background())
	assert.Error(t, err)
	assert.False(t, m.Live())
	m.Reset()
}
