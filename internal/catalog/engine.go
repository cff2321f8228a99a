// Package catalog reconciles the cached screening catalog with the live
// ticket listing: full program scans and targeted refreshes of one screening.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/festwatch/ticketwatch/internal/apperr"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/reservation"
	"github.com/festwatch/ticketwatch/internal/site"
	"github.com/festwatch/ticketwatch/internal/store"
)

// NewlyAvailableHeader heads the batched notification sent after a scan that
// found screenings not seen before or back after being unavailable.
const NewlyAvailableHeader = "Newly available screenings:"

// Site reads the live listing.
type Site interface {
	LoadCatalog(ctx context.Context) ([]site.Listing, error)
	ReadListing(ctx context.Context, l site.Listing) (model.Screening, error)
	ReadScreeningType(ctx context.Context, l site.Listing) (string, error)
}

// Session is a signed-in browser session: the listing plus the cart.
type Session interface {
	Site
	reservation.Cart
	io.Closer
}

// Notifier delivers best-effort messages.
type Notifier interface {
	Notify(ctx context.Context, header string, lines []string)
}

// Reserver runs the cart flow for a located screening.
type Reserver interface {
	Run(ctx context.Context, cart reservation.Cart, l site.Listing, s model.Screening, quantity *int) (reservation.Result, error)
}

// Checkpoint is consulted before each listing of a long scan; a non-nil
// error aborts the scan with that error.
type Checkpoint func() error

// Result is the outcome of RefreshOne.
type Result struct {
	// Index is the screening's position in the listing, -1 when gone.
	Index            int
	RefreshedProgram bool
	Available        bool
	View             model.ScreeningView
	Reservation      *reservation.Result
}

// Engine keeps the store in step with the site.
type Engine struct {
	store    *store.Store
	notifier Notifier
	reserver Reserver
	log      *slog.Logger

	Now func() time.Time
	// SkipTBA leaves titles starting with "TBA " out of the cart.
	SkipTBA bool
	// ProbeCart runs the cart flow without a quantity on plain refreshes to
	// learn the ticket type and sold out state.
	ProbeCart bool
}

// New returns an Engine. reserver may be nil to disable cart handoff.
func New(st *store.Store, notifier Notifier, reserver Reserver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		notifier:  notifier,
		reserver:  reserver,
		log:       logger,
		Now:       time.Now,
		SkipTBA:   true,
		ProbeCart: true,
	}
}

// RefreshProgram scans every listing, overwrites the cached entries, replaces
// the program, marks vanished screenings unavailable and announces newly
// available ones in a single batch. listings may be nil to load them.
func (e *Engine) RefreshProgram(ctx context.Context, sess Site, listings []site.Listing, checkpoint Checkpoint) ([]string, error) {
	if listings == nil {
		var err error
		if listings, err = sess.LoadCatalog(ctx); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}
	e.log.Info("refreshing program", slog.Int("listings", len(listings)))

	// Nothing is written until every listing has been read; an aborted scan
	// leaves the store untouched.
	scraped := make([]model.Screening, 0, len(listings))
	for _, l := range listings {
		if checkpoint != nil {
			if err := checkpoint(); err != nil {
				return nil, err
			}
		}
		s, err := sess.ReadListing(ctx, l)
		if err != nil {
			return nil, fmt.Errorf("listing %d: %w", l.Index, err)
		}
		e.log.Debug("listing", slog.Int("index", l.Index), slog.String("screening", s.ID))
		scraped = append(scraped, s)
	}

	program := make([]string, 0, len(scraped))
	var newlyAvailable []string
	for _, s := range scraped {
		prev, err := e.store.Screening(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		if prev == nil || prev.IsUnavailable {
			newlyAvailable = append(newlyAvailable, s.Title)
		}
		program = append(program, s.ID)
	}
	for _, s := range scraped {
		if err := e.store.SetScreening(ctx, s); err != nil {
			return nil, err
		}
	}

	if titles := dedupe(newlyAvailable); len(titles) > 0 && e.notifier != nil {
		e.notifier.Notify(ctx, NewlyAvailableHeader, titles)
	}

	if err := e.store.SetProgram(ctx, program); err != nil {
		return nil, err
	}
	if err := e.markVanished(ctx, program); err != nil {
		return nil, err
	}
	if err := e.store.AddSeen(ctx, program...); err != nil {
		return nil, err
	}
	return program, nil
}

func (e *Engine) markVanished(ctx context.Context, program []string) error {
	live := make(map[string]struct{}, len(program))
	for _, id := range program {
		live[id] = struct{}{}
	}
	seen, err := e.store.Seen(ctx)
	if err != nil {
		return err
	}
	for _, id := range seen {
		if _, ok := live[id]; ok {
			continue
		}
		s, err := e.store.Screening(ctx, id)
		if err != nil {
			return err
		}
		if s == nil || s.IsUnavailable {
			continue
		}
		s.IsUnavailable = true
		if err := e.store.SetScreening(ctx, *s); err != nil {
			return err
		}
		e.log.Info("screening no longer listed", slog.String("screening", id))
	}
	return nil
}

// RefreshOne re-reads a single screening, first at its last known position
// and, when the listing has drifted, through a full program scan. A screening
// missing after the scan is reported with Available false, not an error. With
// a quantity the located screening is handed to the reservation flow.
func (e *Engine) RefreshOne(ctx context.Context, sess Session, id string, quantity *int, checkpoint Checkpoint) (Result, error) {
	res := Result{Index: -1}
	program, err := e.store.Program(ctx)
	if err != nil {
		return res, err
	}
	listings, err := sess.LoadCatalog(ctx)
	if err != nil {
		return res, fmt.Errorf("load catalog: %w", err)
	}

	index := indexOf(program, id)
	var found *model.Screening
	if index >= 0 && index < len(listings) {
		s, err := sess.ReadListing(ctx, listings[index])
		if err != nil {
			return res, fmt.Errorf("listing %d: %w", index, err)
		}
		if s.ID == id {
			found = &s
		} else {
			e.log.Info("listing drifted", slog.String("screening", id), slog.Int("index", index), slog.String("found", s.ID))
		}
	}

	if found == nil {
		program, err = e.RefreshProgram(ctx, sess, listings, checkpoint)
		if err != nil {
			return res, err
		}
		res.RefreshedProgram = true
		index = indexOf(program, id)
		if index < 0 {
			e.log.Info("screening no longer available", slog.String("screening", id))
			if err := e.markUnavailable(ctx, id); err != nil {
				return res, err
			}
			res.View, err = e.store.View(ctx, id)
			return res, err
		}
		s, err := sess.ReadListing(ctx, listings[index])
		if err != nil {
			return res, fmt.Errorf("listing %d: %w", index, err)
		}
		if s.ID != id {
			return res, apperr.NotFound{Err: fmt.Errorf("listing %d is %q: %w", index, s.ID, ErrDrift)}
		}
		found = &s
	}
	res.Index = index
	res.Available = true

	if !res.RefreshedProgram {
		if err := e.store.SetScreening(ctx, *found); err != nil {
			return res, err
		}
	}
	if err := e.refreshDetail(ctx, sess, listings[index], id); err != nil {
		return res, err
	}

	if e.reserver != nil && (quantity != nil || e.ProbeCart) {
		if e.SkipTBA && strings.HasPrefix(found.Title, "TBA ") {
			e.log.Debug("skipping cart for TBA title", slog.String("screening", id))
		} else {
			r, err := e.reserver.Run(ctx, sess, listings[index], *found, quantity)
			if err != nil {
				return res, err
			}
			res.Reservation = &r
		}
	}

	res.View, err = e.store.View(ctx, id)
	return res, err
}

// refreshDetail overwrites the scraped detail fields and keeps the cart
// bookkeeping fields.
func (e *Engine) refreshDetail(ctx context.Context, sess Site, l site.Listing, id string) error {
	typ, err := sess.ReadScreeningType(ctx, l)
	if err != nil {
		return fmt.Errorf("screening type: %w", err)
	}
	d := site.NewDetail(typ, e.Now())
	prev, err := e.store.Detail(ctx, id)
	if err != nil {
		return err
	}
	if prev != nil {
		d.TicketType = prev.TicketType
		d.IsSoldOut = prev.IsSoldOut
		d.TicketsPurchased = prev.TicketsPurchased
		d.TicketsRemaining = prev.TicketsRemaining
	}
	_, err = e.store.SetDetail(ctx, id, d)
	return err
}

func (e *Engine) markUnavailable(ctx context.Context, id string) error {
	s, err := e.store.Screening(ctx, id)
	if err != nil || s == nil || s.IsUnavailable {
		return err
	}
	s.IsUnavailable = true
	return e.store.SetScreening(ctx, *s)
}

// ErrDrift reports that the listing changed between the program scan and the
// follow-up read.
var ErrDrift = errors.New("listing changed during refresh")

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func dedupe(titles []string) []string {
	seen := make(map[string]struct{}, len(titles))
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
