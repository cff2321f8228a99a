// Package scanner walks the program in the background, one screening per
// step, yielding the shared session whenever a foreground request waits.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/festwatch/ticketwatch/internal/apperr"
	"github.com/festwatch/ticketwatch/internal/automation"
	"github.com/festwatch/ticketwatch/internal/catalog"
	"github.com/festwatch/ticketwatch/internal/metrics"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/session"
	"github.com/festwatch/ticketwatch/internal/store"
)

// State is a snapshot for the API.
type State struct {
	Running          bool   `json:"running"`
	InOp             int    `json:"inOp"`
	CurrentID        string `json:"currentScreeningId,omitempty"`
	Index            int    `json:"screeningIndex"`
	SessionLive      bool   `json:"sessionLive"`
	LastError        string `json:"lastError,omitempty"`
	LastProgramCount int    `json:"lastProgramCount"`
}

// Scanner is the background reconciliation loop.
type Scanner struct {
	coord    *session.Coordinator
	sessions *session.Manager[catalog.Session]
	engine   *catalog.Engine
	store    *store.Store
	metrics  *metrics.Metrics
	log      *slog.Logger

	// Backoff is the pause after a failed step.
	Backoff time.Duration
	// Idle is the poll interval while the scanner is switched off.
	Idle time.Duration
	// Pause is the delay between successful steps.
	Pause time.Duration

	mu        sync.Mutex
	running   bool
	currentID string
	index     int
	lastErr   string
	lastCount int
}

// New returns a running Scanner.
func New(coord *session.Coordinator, sessions *session.Manager[catalog.Session], engine *catalog.Engine, st *store.Store, m *metrics.Metrics, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		coord:    coord,
		sessions: sessions,
		engine:   engine,
		store:    st,
		metrics:  m,
		log:      logger.With(slog.String("component", "scanner")),
		Backoff:  10 * time.Second,
		Idle:     time.Second,
		running:  true,
	}
}

// SetRunning switches the loop on or off. A step in progress completes.
func (s *Scanner) SetRunning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != v {
		s.log.Info("scanner toggled", slog.Bool("running", v))
	}
	s.running = v
}

// Running reports whether the loop is switched on.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// State returns a snapshot of the loop.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	inOp := s.coord.Waiting()
	if s.coord.Held() {
		inOp++
	}
	return State{
		Running:          s.running,
		InOp:             inOp,
		CurrentID:        s.currentID,
		Index:            s.index,
		SessionLive:      s.sessions.Live(),
		LastError:        s.lastErr,
		LastProgramCount: s.lastCount,
	}
}

// Run loops until ctx is done. Step failures are logged and retried after
// Backoff; they never end the loop.
func (s *Scanner) Run(ctx context.Context) {
	s.log.Info("scanner started")
	defer s.log.Info("scanner stopped")
	for ctx.Err() == nil {
		if !s.Running() {
			if err := automation.Sleep(ctx, s.Idle); err != nil {
				return
			}
			continue
		}
		err := s.Step(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := s.Pause
		if err != nil {
			wait = s.Backoff
		}
		if err := automation.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

// Step performs one unit of work under the coordinator: a full program scan
// at the end of a pass, otherwise a refresh of the screening at the cursor.
//
// A failed step tears the automation session down, except when it yielded to
// a waiting operation: checkpoints only sit between listing reads, so the
// session is left on a settled page and is kept for the next holder.
func (s *Scanner) Step(ctx context.Context) error {
	err := s.coord.Do(ctx, func(ctx context.Context) error {
		err := s.step(ctx)
		if err != nil && !apperr.IsContention(err) && ctx.Err() == nil {
			s.sessions.Reset()
			s.metrics.IncReset()
		}
		return err
	})
	s.record(err)
	return err
}

func (s *Scanner) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = ""
	if err == nil {
		s.lastErr = ""
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.lastErr = err.Error()
	kind := apperr.Kind(err)
	if kind == "contention" {
		s.metrics.IncPreemption()
		s.log.Info("yielded to pending operation")
		return
	}
	s.metrics.IncError("scanner", kind)
	s.log.Error("scan step failed", slog.String("kind", kind), slog.String("error", err.Error()))
}

func (s *Scanner) step(ctx context.Context) error {
	sess, err := s.sessions.Get(ctx)
	if err != nil {
		return apperr.External{Err: err}
	}
	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return err
	}
	program, err := s.store.Program(ctx)
	if err != nil {
		return err
	}

	if cursor.Index < 0 || cursor.Index >= len(program) {
		start := time.Now()
		program, err := s.engine.RefreshProgram(ctx, sess, nil, s.coord.Checkpoint)
		if err != nil {
			return err
		}
		s.metrics.IncStep("program")
		s.metrics.ObservePass(len(program), time.Since(start))
		s.setPosition("", 0, len(program))
		return s.store.SetCursor(ctx, model.ScanCursor{})
	}

	id := program[cursor.Index]
	if slices.Contains(cursor.Seen, id) {
		s.metrics.IncStep("skip")
	} else {
		s.setPosition(id, cursor.Index, len(program))
		if _, err := s.engine.RefreshOne(ctx, sess, id, nil, s.coord.Checkpoint); err != nil {
			return err
		}
		s.metrics.IncStep("screening")
		cursor.Seen = append(cursor.Seen, id)
	}
	cursor.Index++
	return s.store.SetCursor(ctx, cursor)
}

func (s *Scanner) setPosition(id string, index, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = id
	s.index = index
	s.lastCount = count
}
