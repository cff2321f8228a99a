package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/festwatch/ticketwatch/internal/apperr"
)

// ChromeOptions configures the Chrome driver.
type ChromeOptions struct {
	Headless bool
	ExecPath string
	// OpTimeout bounds every single browser round trip.
	OpTimeout time.Duration
}

// Chrome drives a local Chrome over the DevTools protocol.
type Chrome struct {
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	opTimeout   time.Duration
}

type chromeElement struct {
	node *cdp.Node
}

func (e chromeElement) Ref() string {
	return fmt.Sprintf("node#%d<%s>", e.node.NodeID, strings.ToLower(e.node.LocalName))
}

// NewChrome starts a browser and opens a tab.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	// The browser outlives the request that created it.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, apperr.External{Err: fmt.Errorf("start chrome: %w", err)}
	}
	timeout := opts.OpTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Chrome{ctx: tabCtx, cancelAlloc: cancelAlloc, cancelTab: cancelTab, opTimeout: timeout}, nil
}

// run executes actions on the tab, bounded by both ctx and the op timeout.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(c.ctx, c.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runCtx.Err() != nil {
			return apperr.Timeout{Err: err}
		}
		return apperr.External{Err: err}
	}
	return nil
}

func nodeOf(el Element) (*cdp.Node, error) {
	ce, ok := el.(chromeElement)
	if !ok || ce.node == nil {
		return nil, fmt.Errorf("automation: foreign element %v", el)
	}
	return ce.node, nil
}

func ids(n *cdp.Node) []cdp.NodeID {
	return []cdp.NodeID{n.NodeID}
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := c.run(ctx, chromedp.Location(&u))
	return u, err
}

func (c *Chrome) FindAll(ctx context.Context, sel Selector, within Element) ([]Element, error) {
	var nodes []*cdp.Node
	var action chromedp.QueryAction
	switch sel.Kind {
	case ByXPath:
		expr := sel.Value
		if within != nil && strings.HasPrefix(expr, ".") {
			parent, err := nodeOf(within)
			if err != nil {
				return nil, err
			}
			expr = parent.FullXPath() + strings.TrimPrefix(expr, ".")
		}
		action = chromedp.Nodes(expr, &nodes, chromedp.BySearch, chromedp.AtLeast(0))
	default:
		opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
		if within != nil {
			parent, err := nodeOf(within)
			if err != nil {
				return nil, err
			}
			opts = append(opts, chromedp.FromNode(parent))
		}
		action = chromedp.Nodes(sel.Value, &nodes, opts...)
	}
	if err := c.run(ctx, action); err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, chromeElement{node: n})
	}
	return out, nil
}

func (c *Chrome) Text(ctx context.Context, el Element) (string, error) {
	n, err := nodeOf(el)
	if err != nil {
		return "", err
	}
	var text string
	err = c.run(ctx, chromedp.Text(ids(n), &text, chromedp.ByNodeID))
	return strings.TrimSpace(text), err
}

func (c *Chrome) Attribute(ctx context.Context, el Element, name string) (string, error) {
	n, err := nodeOf(el)
	if err != nil {
		return "", err
	}
	var (
		value string
		ok    bool
	)
	err = c.run(ctx, chromedp.AttributeValue(ids(n), name, &value, &ok, chromedp.ByNodeID))
	return value, err
}

func (c *Chrome) Property(ctx context.Context, el Element, name string) (string, error) {
	n, err := nodeOf(el)
	if err != nil {
		return "", err
	}
	var value any
	if err := c.run(ctx, chromedp.JavascriptAttribute(ids(n), name, &value, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return fmt.Sprint(value), nil
}

func (c *Chrome) Click(ctx context.Context, el Element) error {
	n, err := nodeOf(el)
	if err != nil {
		return err
	}
	return c.run(ctx, chromedp.Click(ids(n), chromedp.ByNodeID))
}

func (c *Chrome) SendKeys(ctx context.Context, el Element, keys string) error {
	n, err := nodeOf(el)
	if err != nil {
		return err
	}
	return c.run(ctx, chromedp.SendKeys(ids(n), keys, chromedp.ByNodeID))
}

func (c *Chrome) ScrollIntoView(ctx context.Context, el Element) error {
	n, err := nodeOf(el)
	if err != nil {
		return err
	}
	return c.run(ctx, chromedp.ScrollIntoView(ids(n), chromedp.ByNodeID))
}

func (c *Chrome) IsVisible(ctx context.Context, el Element) (bool, error) {
	n, err := nodeOf(el)
	if err != nil {
		return false, err
	}
	visible := false
	err = c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, boxErr := dom.GetBoxModel().WithNodeID(n.NodeID).Do(ctx)
		visible = boxErr == nil
		return nil
	}))
	return visible, err
}

func (c *Chrome) IsStale(ctx context.Context, el Element) (bool, error) {
	n, err := nodeOf(el)
	if err != nil {
		return false, err
	}
	stale := false
	err = c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, resolveErr := dom.ResolveNode().WithNodeID(n.NodeID).Do(ctx)
		stale = resolveErr != nil
		return nil
	}))
	return stale, err
}

// Close shuts the tab and the browser process down.
func (c *Chrome) Close() error {
	c.cancelTab()
	c.cancelAlloc()
	return nil
}
