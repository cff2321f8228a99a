package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festwatch/ticketwatch/internal/apperr"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/site"
	"github.com/festwatch/ticketwatch/internal/store"
)

type fakeCart struct {
	openFailures int
	count        int
	// step is added to count by each increment.
	step       int
	ticketType string
	price      int64
	outcome    site.Outcome

	calls []string
}

func (c *fakeCart) record(name string) { c.calls = append(c.calls, name) }

func (c *fakeCart) SelectListing(context.Context, site.Listing) error { c.record("select"); return nil }

func (c *fakeCart) OpenCart(context.Context) error {
	c.record("open")
	if c.openFailures > 0 {
		c.openFailures--
		return apperr.Timeout{Err: errors.New("checkout button")}
	}
	return nil
}

func (c *fakeCart) TicketCount(context.Context) (int, error) { return c.count, nil }

func (c *fakeCart) IncrementTickets(_ context.Context, from int) error {
	c.record("increment")
	c.count = from + c.step
	return nil
}

func (c *fakeCart) Checkout(context.Context, string) error { c.record("checkout"); return nil }
func (c *fakeCart) GoHome(context.Context) error           { c.record("home"); return nil }
func (c *fakeCart) TicketType(context.Context, string) (string, error) {
	return c.ticketType, nil
}
func (c *fakeCart) AcceptTerms(context.Context) error { c.record("terms"); return nil }
func (c *fakeCart) TotalPrice(context.Context) (int64, error) {
	return c.price, nil
}
func (c *fakeCart) Submit(context.Context) error { c.record("submit"); return nil }
func (c *fakeCart) AwaitOutcome(context.Context) (site.Outcome, error) {
	return c.outcome, nil
}
func (c *fakeCart) CancelSelection(context.Context) error { c.record("cancel"); return nil }
func (c *fakeCart) ClearCart(context.Context) error       { c.record("clear"); return nil }

type recordingNotifier struct {
	mu      sync.Mutex
	headers []string
}

func (n *recordingNotifier) Notify(_ context.Context, header string, _ []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.headers = append(n.headers, header)
}

func newFlow(t *testing.T) (*Flow, *store.Store, *recordingNotifier) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st, err := store.New(rdb, "test", 16)
	require.NoError(t, err)
	n := &recordingNotifier{}
	f := New(st, n, nil)
	return f, st, n
}

var screening = model.Screening{ID: "Film - January 20, 2023 - 9:00 PM - 11:00 PM - Ray, Park City", Title: "Film"}

func qty(n int) *int { return &n }

func TestPurchaseMovesPurchasedCount(t *testing.T) {
	f, st, n := newFlow(t)
	ctx := context.Background()
	cart := &fakeCart{count: 0, step: 1, ticketType: "Single Film Ticket", price: 5400, outcome: site.Outcome{Purchased: true}}

	res, err := f.Run(ctx, cart, site.Listing{Index: 3}, screening, qty(2))
	require.NoError(t, err)
	assert.True(t, res.Purchased)
	assert.Equal(t, int64(5400), res.PriceCents)

	d, err := st.Detail(ctx, screening.ID)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.TicketsPurchased)
	assert.False(t, d.IsSoldOut)
	assert.Equal(t, "Single Film Ticket", d.TicketType)
	assert.Equal(t, []string{"select", "open", "increment", "increment", "checkout", "terms", "submit"}, cart.calls)
	assert.Empty(t, n.headers)
}

func TestPurchaseWithNoTicketsLeft(t *testing.T) {
	f, st, n := newFlow(t)
	ctx := context.Background()
	cart := &fakeCart{
		count: 2, ticketType: "Single Film Ticket", price: 5400,
		outcome: site.Outcome{Message: `Sorry, there aren't enough tickets left to fulfill this order ("Film" Single Film Ticket tickets remaining: 0).`},
	}

	res, err := f.Run(ctx, cart, site.Listing{}, screening, qty(2))
	require.NoError(t, err)
	assert.False(t, res.Purchased)
	require.NotNil(t, res.Remaining)
	assert.Equal(t, 0, *res.Remaining)

	d, err := st.Detail(ctx, screening.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, d.TicketsPurchased)
	assert.True(t, d.IsSoldOut)
	assert.Equal(t, []string{"Screening sold out: " + screening.ID}, n.headers)
	assert.Equal(t, "cancel", cart.calls[len(cart.calls)-1])
}

func TestProbeNotifiesOnSoldOutFlip(t *testing.T) {
	f, st, n := newFlow(t)
	ctx := context.Background()

	cart := &fakeCart{ticketType: "Single Film Ticket (SOLD OUT)"}
	res, err := f.Run(ctx, cart, site.Listing{}, screening, nil)
	require.NoError(t, err)
	assert.True(t, res.SoldOut)
	assert.Equal(t, []string{"select", "open", "checkout", "cancel"}, cart.calls)

	// Unchanged state does not notify again.
	_, err = f.Run(ctx, &fakeCart{ticketType: "Single Film Ticket (SOLD OUT)"}, site.Listing{}, screening, nil)
	require.NoError(t, err)

	_, err = f.Run(ctx, &fakeCart{ticketType: "Single Film Ticket"}, site.Listing{}, screening, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Screening sold out: " + screening.ID,
		"Screening tickets available: " + screening.ID,
	}, n.headers)

	d, err := st.Detail(ctx, screening.ID)
	require.NoError(t, err)
	assert.False(t, d.IsSoldOut)
}

func TestProbeKeepsScrapedFields(t *testing.T) {
	f, st, _ := newFlow(t)
	ctx := context.Background()
	_, err := st.SetDetail(ctx, screening.ID, site.NewDetail("Premiere", time.Now()))
	require.NoError(t, err)

	_, err = f.Run(ctx, &fakeCart{ticketType: "Single Film Ticket"}, site.Listing{}, screening, nil)
	require.NoError(t, err)

	d, err := st.Detail(ctx, screening.ID)
	require.NoError(t, err)
	assert.Equal(t, "Premiere", d.ScreeningType)
	assert.True(t, d.IsPremiere)
	assert.Equal(t, "Single Film Ticket", d.TicketType)
}

func TestOvershootIsNotRetried(t *testing.T) {
	f, st, _ := newFlow(t)
	ctx := context.Background()
	cart := &fakeCart{count: 1, step: 2}

	_, err := f.Run(ctx, cart, site.Listing{}, screening, qty(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuantityOvershoot)
	assert.Equal(t, "integrity", apperr.Kind(err))
	assert.Equal(t, []string{"select", "open", "increment", "clear"}, cart.calls)

	d, err := st.Detail(ctx, screening.ID)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestPriceCeiling(t *testing.T) {
	f, st, _ := newFlow(t)
	ctx := context.Background()
	assert.Equal(t, int64(5400), f.PriceCeiling(2))

	cart := &fakeCart{count: 2, ticketType: "Single Film Ticket", price: 5401}
	_, err := f.Run(ctx, cart, site.Listing{}, screening, qty(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPriceTooHigh)
	assert.Equal(t, "integrity", apperr.Kind(err))
	assert.NotContains(t, cart.calls, "submit")
	assert.Equal(t, "cancel", cart.calls[len(cart.calls)-1])

	d, err := st.Detail(ctx, screening.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, d.TicketsPurchased)
}

func TestOpenRetriesThenGivesUp(t *testing.T) {
	f, _, _ := newFlow(t)
	ctx := context.Background()

	cart := &fakeCart{openFailures: 3}
	_, err := f.Run(ctx, cart, site.Listing{}, screening, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, countOf(cart.calls, "home"))

	f.MaxOpenAttempts = 4
	cart = &fakeCart{openFailures: 10}
	_, err = f.Run(ctx, cart, site.Listing{}, screening, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnableToOpenSelector)
	assert.Equal(t, "external", apperr.Kind(err))
	assert.Equal(t, 4, countOf(cart.calls, "open"))
	assert.Equal(t, "clear", cart.calls[len(cart.calls)-1])
}

func TestInvalidQuantity(t *testing.T) {
	f, _, _ := newFlow(t)
	cart := &fakeCart{}
	_, err := f.Run(context.Background(), cart, site.Listing{}, screening, qty(0))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Empty(t, cart.calls)
}

func countOf(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}
