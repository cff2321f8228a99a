// Package service holds the foreground operations behind the API: cart and
// refresh operations that take the shared session, and read-only queries over
// the cached catalog.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/festwatch/ticketwatch/internal/apperr"
	"github.com/festwatch/ticketwatch/internal/catalog"
	"github.com/festwatch/ticketwatch/internal/metrics"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/reservation"
	"github.com/festwatch/ticketwatch/internal/session"
	"github.com/festwatch/ticketwatch/internal/store"
)

var (
	// ErrPurchaseFailed reports a checkout that did not raise the purchased
	// count by exactly the requested quantity.
	ErrPurchaseFailed = errors.New("unable to purchase tickets")
	// ErrScreeningGone reports a purchase for a screening no longer listed.
	ErrScreeningGone = errors.New("screening is no longer listed")
)

// Ledger records purchase attempts. *repository.PurchaseRepo implements it.
type Ledger interface {
	Create(ctx context.Context, p *model.Purchase) error
}

// TicketService runs operations that drive the shared automation session.
// Each one holds the coordinator for its whole duration, so at most one runs
// at a time and the background scanner yields to it.
type TicketService struct {
	coord    *session.Coordinator
	sessions *session.Manager[catalog.Session]
	engine   *catalog.Engine
	store    *store.Store
	ledger   Ledger
	metrics  *metrics.Metrics
	log      *slog.Logger

	// LedgerTimeout bounds the ledger write after a purchase.
	LedgerTimeout time.Duration
}

// NewTicketService wires the session operations. ledger and m may be nil.
func NewTicketService(coord *session.Coordinator, sessions *session.Manager[catalog.Session], engine *catalog.Engine, st *store.Store, ledger Ledger, m *metrics.Metrics, logger *slog.Logger) *TicketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketService{
		coord:         coord,
		sessions:      sessions,
		engine:        engine,
		store:         st,
		ledger:        ledger,
		metrics:       m,
		log:           logger.With(slog.String("component", "tickets")),
		LedgerTimeout: 5 * time.Second,
	}
}

// do runs fn with the live session while holding the coordinator. A failure
// tears the session down so the next operation starts from a fresh sign-in.
func (s *TicketService) do(ctx context.Context, op string, fn func(context.Context, catalog.Session) error) error {
	return s.coord.Do(ctx, func(ctx context.Context) error {
		sess, err := s.sessions.Get(ctx)
		if err != nil {
			err = apperr.External{Err: fmt.Errorf("start session: %w", err)}
			s.metrics.IncError(op, apperr.Kind(err))
			return err
		}
		err = fn(ctx, sess)
		if err != nil && ctx.Err() == nil {
			s.metrics.IncError(op, apperr.Kind(err))
			if !errors.Is(err, ErrScreeningGone) {
				s.sessions.Reset()
				s.metrics.IncReset()
			}
		}
		return err
	})
}

// RefreshProgram runs a full program scan and returns the new program.
func (s *TicketService) RefreshProgram(ctx context.Context) ([]string, error) {
	var program []string
	err := s.do(ctx, "refresh_program", func(ctx context.Context, sess catalog.Session) error {
		var err error
		program, err = s.engine.RefreshProgram(ctx, sess, nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("program refreshed", slog.Int("screenings", len(program)))
	return program, nil
}

// RefreshScreening re-reads one screening from an empty cart. A screening
// that is no longer listed comes back with Available false.
func (s *TicketService) RefreshScreening(ctx context.Context, id string) (catalog.Result, error) {
	var res catalog.Result
	err := s.do(ctx, "refresh_screening", func(ctx context.Context, sess catalog.Session) error {
		if err := sess.ClearCart(ctx); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		var err error
		res, err = s.engine.RefreshOne(ctx, sess, id, nil, nil)
		return err
	})
	return res, err
}

// Purchase buys quantity tickets for screening id and records the attempt
// in the ledger. It succeeds only when the purchased count grew by exactly
// quantity.
func (s *TicketService) Purchase(ctx context.Context, id string, quantity int) (catalog.Result, error) {
	if quantity <= 0 {
		return catalog.Result{}, reservation.ErrInvalidQuantity
	}
	log := s.log.With(slog.String("screening", id), slog.Int("quantity", quantity))

	var res catalog.Result
	err := s.do(ctx, "purchase", func(ctx context.Context, sess catalog.Session) error {
		if err := sess.ClearCart(ctx); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		before, err := s.purchased(ctx, id)
		if err != nil {
			return err
		}
		res, err = s.engine.RefreshOne(ctx, sess, id, &quantity, nil)
		if err != nil {
			return err
		}
		if !res.Available {
			return apperr.NotFound{Err: fmt.Errorf("%s: %w", id, ErrScreeningGone)}
		}
		after := 0
		if res.View.Detail != nil {
			after = res.View.Detail.TicketsPurchased
		}
		if after != before+quantity {
			return apperr.Integrity{Err: fmt.Errorf("%w: purchased %d of %d", ErrPurchaseFailed, after-before, quantity)}
		}
		return nil
	})

	p := ledgerEntry(id, quantity, res, err)
	s.metrics.IncPurchase(p.Status)
	s.record(ctx, &p, log)
	if err != nil {
		log.Warn("purchase failed", slog.String("kind", apperr.Kind(err)), slog.String("error", err.Error()))
		return res, err
	}
	log.Info("purchase completed", slog.Int64("price_cents", p.PriceCents))
	return res, nil
}

func (s *TicketService) purchased(ctx context.Context, id string) (int, error) {
	d, err := s.store.Detail(ctx, id)
	if err != nil || d == nil {
		return 0, err
	}
	return d.TicketsPurchased, nil
}

// record writes the ledger row, detached from ctx's cancellation.
func (s *TicketService) record(ctx context.Context, p *model.Purchase, log *slog.Logger) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.LedgerTimeout)
	defer cancel()
	if err := s.ledger.Create(ctx, p); err != nil {
		log.Error("ledger write failed", slog.String("status", p.Status), slog.String("error", err.Error()))
	}
}

func ledgerEntry(id string, quantity int, res catalog.Result, err error) model.Purchase {
	p := model.Purchase{ScreeningID: id, Quantity: quantity, Status: model.PurchaseStatusPurchased}
	if res.View.Basic != nil {
		p.Title = res.View.Basic.Title
	}
	if r := res.Reservation; r != nil {
		p.PriceCents = r.PriceCents
	}
	if err == nil {
		return p
	}
	p.Message = err.Error()
	p.Status = model.PurchaseStatusFailed
	if r := res.Reservation; r != nil && (r.Remaining != nil || r.SoldOut) {
		p.Status = model.PurchaseStatusRejected
	}
	return p
}

// ClearCart empties the site cart.
func (s *TicketService) ClearCart(ctx context.Context) error {
	return s.do(ctx, "clear_cart", func(ctx context.Context, sess catalog.Session) error {
		return sess.ClearCart(ctx)
	})
}
