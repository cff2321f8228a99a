package automation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/festwatch/ticketwatch/internal/apperr"
)

// PollInterval is how often wait conditions are re-evaluated.
var PollInterval = 100 * time.Millisecond

// WaitUntil evaluates cond until it returns true, returns an error, or timeout
// elapses. Expiry is reported as apperr.Timeout carrying msg.
func WaitUntil(ctx context.Context, timeout time.Duration, msg string, cond func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		ok, err := cond(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return apperr.Timeout{Err: fmt.Errorf("%s after %s", msg, timeout)}
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitLocated waits for at least one element matching sel and returns the first.
func WaitLocated(ctx context.Context, d Driver, sel Selector, within Element, timeout time.Duration) (Element, error) {
	var found Element
	err := WaitUntil(ctx, timeout, "locate "+sel.String(), func(ctx context.Context) (bool, error) {
		els, err := d.FindAll(ctx, sel, within)
		if err != nil {
			return false, err
		}
		if len(els) > 0 {
			found = els[0]
			return true, nil
		}
		return false, nil
	})
	return found, err
}

// WaitVisible waits until el is rendered with a box.
func WaitVisible(ctx context.Context, d Driver, el Element, timeout time.Duration) error {
	return WaitUntil(ctx, timeout, "visible "+el.Ref(), func(ctx context.Context) (bool, error) {
		return d.IsVisible(ctx, el)
	})
}

// WaitStale waits until el is detached from the document.
func WaitStale(ctx context.Context, d Driver, el Element, timeout time.Duration) error {
	return WaitUntil(ctx, timeout, "stale "+el.Ref(), func(ctx context.Context) (bool, error) {
		return d.IsStale(ctx, el)
	})
}

// WaitURL waits until the current URL matches pattern.
func WaitURL(ctx context.Context, d Driver, pattern *regexp.Regexp, timeout time.Duration) error {
	return WaitUntil(ctx, timeout, "url "+pattern.String(), func(ctx context.Context) (bool, error) {
		u, err := d.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		return pattern.MatchString(u), nil
	})
}

// WaitText polls the first element matching sel until its text is non-empty.
func WaitText(ctx context.Context, d Driver, sel Selector, within Element, timeout time.Duration) (string, error) {
	var text string
	err := WaitUntil(ctx, timeout, "text "+sel.String(), func(ctx context.Context) (bool, error) {
		els, err := d.FindAll(ctx, sel, within)
		if err != nil || len(els) == 0 {
			return false, err
		}
		text, err = d.Text(ctx, els[0])
		if err != nil {
			return false, err
		}
		return text != "", nil
	})
	return text, err
}

// Sleep pauses for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
