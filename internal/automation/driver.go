// Package automation exposes the small capability set the site adapter needs
// from a browser: navigation, element lookup, reads, clicks, key input and
// bounded waits on page conditions.
package automation

import (
	"context"
	"fmt"
)

// SelectorKind tells the driver how to interpret a selector value.
type SelectorKind int

const (
	ByCSS SelectorKind = iota
	ByXPath
)

// Selector locates elements in the page or beneath an element.
type Selector struct {
	Kind  SelectorKind
	Value string
}

// CSS returns a CSS selector.
func CSS(value string) Selector { return Selector{Kind: ByCSS, Value: value} }

// XPath returns an XPath selector. Relative expressions (starting with ".")
// are evaluated beneath the element passed as scope.
func XPath(value string) Selector { return Selector{Kind: ByXPath, Value: value} }

// XPathf formats an XPath selector.
func XPathf(format string, args ...any) Selector {
	return XPath(fmt.Sprintf(format, args...))
}

func (s Selector) String() string {
	if s.Kind == ByXPath {
		return "xpath=" + s.Value
	}
	return "css=" + s.Value
}

// Element is a handle on a node found in the current page. Handles go stale
// when the page re-renders the node.
type Element interface {
	// Ref identifies the node for logging.
	Ref() string
}

// Driver is the browser capability set. Implementations must be safe to use
// from one goroutine at a time; callers serialize through session.Coordinator.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// FindAll returns every element matching sel, optionally beneath within.
	// It never waits: an empty result is not an error.
	FindAll(ctx context.Context, sel Selector, within Element) ([]Element, error)
	Text(ctx context.Context, el Element) (string, error)
	// Attribute reads an HTML attribute, Property a live DOM property such as
	// value, textContent or innerHTML.
	Attribute(ctx context.Context, el Element, name string) (string, error)
	Property(ctx context.Context, el Element, name string) (string, error)
	Click(ctx context.Context, el Element) error
	SendKeys(ctx context.Context, el Element, keys string) error
	ScrollIntoView(ctx context.Context, el Element) error
	IsVisible(ctx context.Context, el Element) (bool, error)
	// IsStale reports whether el has been detached from the document.
	IsStale(ctx context.Context, el Element) (bool, error)
	Close() error
}

// Find returns the first element matching sel or an error when none does.
func Find(ctx context.Context, d Driver, sel Selector, within Element) (Element, error) {
	els, err := d.FindAll(ctx, sel, within)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("no element matches %s", sel)
	}
	return els[0], nil
}
