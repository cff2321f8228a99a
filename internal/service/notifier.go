package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/festwatch/ticketwatch/internal/queue"
)

// Publisher delivers a notification to the broker. *queue.Publisher
// implements it.
type Publisher interface {
	Publish(ctx context.Context, ev queue.NotificationEvent) error
}

// Notifier logs every notification and, when a publisher is configured,
// forwards it to the broker. Delivery failures are logged and never reach the
// caller.
type Notifier struct {
	pub Publisher
	log *slog.Logger
	wg  sync.WaitGroup

	Now     func() time.Time
	Timeout time.Duration
}

// NewNotifier returns a Notifier. pub may be nil to only log.
func NewNotifier(pub Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		pub:     pub,
		log:     logger.With(slog.String("component", "notifier")),
		Now:     time.Now,
		Timeout: 5 * time.Second,
	}
}

// Notify logs header and lines and hands them to the publisher in the
// background; it never blocks on the broker.
func (n *Notifier) Notify(ctx context.Context, header string, lines []string) {
	n.log.Info("notification", slog.String("header", header), slog.Any("lines", lines))
	if n.pub == nil {
		return
	}
	ev := queue.NotificationEvent{Header: header, Lines: lines, SentAt: n.Now().UTC()}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.Timeout)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		if err := n.pub.Publish(ctx, ev); err != nil {
			n.log.Warn("notification publish failed", slog.String("header", header), slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until every pending publish has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
