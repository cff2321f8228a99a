// Package queue carries notifications over RabbitMQ: the publisher used by
// the notifier and the consumer that writes deliveries to a log file.
package queue

import (
	"fmt"
	"strings"
	"time"
)

// NotificationQueue is the durable queue notifications are routed to.
const NotificationQueue = "ticketwatch.notifications"

// NotificationEvent is one message for the operator: a header such as
// "Screening sold out: <id>" and optional detail lines.
type NotificationEvent struct {
	Header string    `json:"header"`
	Lines  []string  `json:"lines,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Subject is the header line.
func (e NotificationEvent) Subject() string {
	return e.Header
}

// Body is the detail lines joined by newlines, or the header when there are
// none.
func (e NotificationEvent) Body() string {
	if len(e.Lines) == 0 {
		return e.Header
	}
	return strings.Join(e.Lines, "\n")
}

// LogLine renders the event on a single line.
func (e NotificationEvent) LogLine() string {
	lines := "[]"
	if len(e.Lines) > 0 {
		lines = fmt.Sprintf("[%s]", strings.Join(e.Lines, " | "))
	}
	return fmt.Sprintf("[%s] %s | lines=%s\n", e.SentAt.UTC().Format(time.RFC3339), e.Header, lines)
}
