// Package reservation runs the cart flow for one screening: select it, open
// its quantity panel, read the ticket type and, when a quantity is requested,
// check out with price and quantity sanity checks.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/festwatch/ticketwatch/internal/apperr"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/site"
	"github.com/festwatch/ticketwatch/internal/store"
)

var (
	ErrUnableToOpenSelector = errors.New("unable to open selector")
	ErrQuantityOvershoot    = errors.New("ticket count higher than requested")
	ErrPriceTooHigh         = errors.New("unexpected higher price")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
)

// Cart is the page capability set the flow drives. *site.Festival implements it.
type Cart interface {
	SelectListing(ctx context.Context, l site.Listing) error
	OpenCart(ctx context.Context) error
	TicketCount(ctx context.Context) (int, error)
	IncrementTickets(ctx context.Context, from int) error
	Checkout(ctx context.Context, title string) error
	GoHome(ctx context.Context) error
	TicketType(ctx context.Context, title string) (string, error)
	AcceptTerms(ctx context.Context) error
	TotalPrice(ctx context.Context) (int64, error)
	Submit(ctx context.Context) error
	AwaitOutcome(ctx context.Context) (site.Outcome, error)
	CancelSelection(ctx context.Context) error
	ClearCart(ctx context.Context) error
}

var _ Cart = (*site.Festival)(nil)

// Notifier delivers best-effort messages.
type Notifier interface {
	Notify(ctx context.Context, header string, lines []string)
}

// Result describes what one run observed and did.
type Result struct {
	TicketType string
	SoldOut    bool
	Purchased  bool
	Quantity   int
	PriceCents int64
	// Remaining is set when the site refused the order and said how many
	// tickets are left.
	Remaining *int
	Detail    model.ScreeningDetail
}

// Flow runs reservations against a Cart and records what it learns in the store.
type Flow struct {
	store    *store.Store
	notifier Notifier
	log      *slog.Logger

	Now             func() time.Time
	MaxOpenAttempts int
	BasePriceCents  int64
	FeeCents        int64
	// RestoreTimeout bounds the best-effort cart cleanup after a failed run.
	RestoreTimeout time.Duration
}

// New returns a Flow with the festival's default limits.
func New(st *store.Store, notifier Notifier, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		store:           st,
		notifier:        notifier,
		log:             logger,
		Now:             time.Now,
		MaxOpenAttempts: 20,
		BasePriceCents:  2500,
		FeeCents:        200,
		RestoreTimeout:  30 * time.Second,
	}
}

// PriceCeiling is the most n tickets may cost.
func (f *Flow) PriceCeiling(n int) int64 {
	return int64(n) * (f.BasePriceCents + f.FeeCents)
}

// Run selects the listing l of screening s and opens its quantity panel. With
// a nil quantity it only records the ticket type and sold out state. With a
// quantity it also checks out. The cart is left empty on every outcome except
// a successful purchase, which empties it by completing the order.
func (f *Flow) Run(ctx context.Context, cart Cart, l site.Listing, s model.Screening, quantity *int) (Result, error) {
	if quantity != nil && *quantity <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	log := f.log.With(slog.String("screening", s.ID))

	if err := cart.SelectListing(ctx, l); err != nil {
		return Result{}, fmt.Errorf("select listing: %w", err)
	}
	if err := f.open(ctx, cart, s.Title, quantity, log); err != nil {
		f.restore(ctx, cart, false, log)
		return Result{}, err
	}

	res, err := f.readTicketType(ctx, cart, s)
	if err != nil {
		f.restore(ctx, cart, true, log)
		return res, err
	}
	if quantity == nil {
		f.restore(ctx, cart, true, log)
		return res, nil
	}

	res.Quantity = *quantity
	if err := f.checkout(ctx, cart, &res); err != nil {
		f.restore(ctx, cart, true, log)
		return res, err
	}
	out, err := cart.AwaitOutcome(ctx)
	if err != nil {
		f.restore(ctx, cart, true, log)
		return res, fmt.Errorf("await outcome: %w", err)
	}
	if out.Purchased {
		res.Purchased = true
		res.Detail, err = f.updateDetail(ctx, s.ID, func(d *model.ScreeningDetail) {
			d.TicketsPurchased += res.Quantity
		})
		if err != nil {
			return res, err
		}
		log.Info("tickets purchased", slog.Int("quantity", res.Quantity), slog.Int64("price_cents", res.PriceCents))
		return res, nil
	}

	log.Warn("order refused", slog.String("message", out.Message))
	if n, ok := site.ParseRemaining(out.Message); ok {
		res.Remaining = &n
		res.SoldOut = n == 0
		var prevSoldOut bool
		res.Detail, err = f.updateDetail(ctx, s.ID, func(d *model.ScreeningDetail) {
			prevSoldOut = d.IsSoldOut
			d.IsSoldOut = res.SoldOut
			remaining := n
			d.TicketsRemaining = &remaining
		})
		if err != nil {
			f.restore(ctx, cart, true, log)
			return res, err
		}
		if prevSoldOut != res.SoldOut {
			if res.SoldOut {
				f.notify(ctx, "Screening sold out: "+s.ID)
			} else {
				f.notify(ctx, fmt.Sprintf("Screening tickets available (%d): %s", n, s.ID))
			}
		}
	}
	f.restore(ctx, cart, true, log)
	return res, nil
}

// open retries the open sequence. Overshooting the requested quantity fails
// at once.
func (f *Flow) open(ctx context.Context, cart Cart, title string, quantity *int, log *slog.Logger) error {
	var last error
	for attempt := 1; attempt <= f.MaxOpenAttempts; attempt++ {
		err := f.openOnce(ctx, cart, title, quantity)
		if err == nil {
			return nil
		}
		var integrity apperr.Integrity
		if errors.As(err, &integrity) || ctx.Err() != nil {
			return err
		}
		last = err
		log.Warn("open quantity panel failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", f.MaxOpenAttempts),
			slog.String("error", err.Error()))
		if err := cart.GoHome(ctx); err != nil {
			log.Warn("go home failed", slog.String("error", err.Error()))
		}
	}
	return apperr.External{Err: fmt.Errorf("%w after %d attempts: %v", ErrUnableToOpenSelector, f.MaxOpenAttempts, last)}
}

func (f *Flow) openOnce(ctx context.Context, cart Cart, title string, quantity *int) error {
	if err := cart.OpenCart(ctx); err != nil {
		return err
	}
	if quantity != nil {
		if err := f.adjustQuantity(ctx, cart, *quantity); err != nil {
			return err
		}
	}
	return cart.Checkout(ctx, title)
}

func (f *Flow) adjustQuantity(ctx context.Context, cart Cart, want int) error {
	for {
		n, err := cart.TicketCount(ctx)
		if err != nil {
			return err
		}
		switch {
		case n == want:
			return nil
		case n > want:
			return apperr.Integrity{Err: fmt.Errorf("%w: have %d, want %d", ErrQuantityOvershoot, n, want)}
		}
		if err := cart.IncrementTickets(ctx, n); err != nil {
			return err
		}
	}
}

func (f *Flow) readTicketType(ctx context.Context, cart Cart, s model.Screening) (Result, error) {
	ticketType, err := cart.TicketType(ctx, s.Title)
	if err != nil {
		return Result{}, fmt.Errorf("ticket type: %w", err)
	}
	res := Result{TicketType: ticketType, SoldOut: site.SoldOut(ticketType)}
	var prevSoldOut bool
	res.Detail, err = f.updateDetail(ctx, s.ID, func(d *model.ScreeningDetail) {
		prevSoldOut = d.IsSoldOut
		d.TicketType = ticketType
		d.IsSoldOut = res.SoldOut
	})
	if err != nil {
		return res, err
	}
	if prevSoldOut != res.SoldOut {
		if res.SoldOut {
			f.notify(ctx, "Screening sold out: "+s.ID)
		} else {
			f.notify(ctx, "Screening tickets available: "+s.ID)
		}
	}
	return res, nil
}

func (f *Flow) checkout(ctx context.Context, cart Cart, res *Result) error {
	if err := cart.AcceptTerms(ctx); err != nil {
		return fmt.Errorf("accept terms: %w", err)
	}
	price, err := cart.TotalPrice(ctx)
	if err != nil {
		return fmt.Errorf("total price: %w", err)
	}
	res.PriceCents = price
	if ceiling := f.PriceCeiling(res.Quantity); price > ceiling {
		return apperr.Integrity{Err: fmt.Errorf("%w: $%s exceeds $%s", ErrPriceTooHigh, dollars(price), dollars(ceiling))}
	}
	if err := cart.Submit(ctx); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// updateDetail applies fn to the stored detail record and writes it back.
func (f *Flow) updateDetail(ctx context.Context, id string, fn func(*model.ScreeningDetail)) (model.ScreeningDetail, error) {
	var d model.ScreeningDetail
	prev, err := f.store.Detail(ctx, id)
	if err != nil {
		return d, err
	}
	if prev != nil {
		d = *prev
	}
	fn(&d)
	d.UpdatedAt = f.Now()
	return f.store.SetDetail(ctx, id, d)
}

// restore returns the cart to empty. selected reports whether the quantity
// panel is open; otherwise only the cart is cleared.
func (f *Flow) restore(ctx context.Context, cart Cart, selected bool, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.RestoreTimeout)
	defer cancel()
	if selected {
		err := cart.CancelSelection(ctx)
		if err == nil {
			return
		}
		log.Warn("cancel selection failed", slog.String("error", err.Error()))
	}
	if err := cart.ClearCart(ctx); err != nil {
		log.Error("clear cart failed", slog.String("error", err.Error()))
	}
}

func (f *Flow) notify(ctx context.Context, header string) {
	if f.notifier != nil {
		f.notifier.Notify(ctx, header, nil)
	}
}

func dollars(cents int64) string {
	if cents%100 == 0 {
		return strconv.FormatInt(cents/100, 10)
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
