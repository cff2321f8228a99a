// Package site drives the festival's ticketing website through an
// automation.Driver. It knows the site's URLs, selectors and page flows and
// nothing about caching or scheduling.
package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/festwatch/ticketwatch/internal/apperr"
	"github.com/festwatch/ticketwatch/internal/automation"
	"github.com/festwatch/ticketwatch/internal/model"
)

// DefaultBaseURL is the festival website.
const DefaultBaseURL = "https://festival.sundance.org"

var (
	selListingRow     = automation.CSS(".sd_tr_select_film")
	selListingCells   = automation.CSS(".sd_first_select_film")
	selAnyListing     = automation.CSS("div.sd_first_select_film")
	selSelectScreen   = automation.XPath(`//button[contains(text(), "Select a Screening")]`)
	selSelectFilm     = automation.XPath(`.//button[contains(text(), "Select Film")]`)
	selCheckout       = automation.XPath(`//div[@class="sd_checkout_btn"]/button[contains(text(), "Checkout")]`)
	selRemoveItem     = automation.CSS("button.sd_mycart_item_remove_btn")
	selConfirmRemove  = automation.XPath(`//button[contains(@class, "sd_form_submit_button") and text()="Yes"]`)
	selEmptyCart      = automation.CSS(".sd_mycart_item_not_found")
	selTicketCount    = automation.CSS("div.sd_home_pass_count > input")
	selIncrement      = automation.CSS("button.sd_home_pc_increase")
	selTerm1          = automation.XPath(`//input[@type="checkbox" and @name="sundanceTerm1"]`)
	selTerm2          = automation.XPath(`//input[@type="checkbox" and @name="sundanceTerm2"]`)
	selBuy            = automation.XPath(`//button//span[contains(text(), "Buy ($")]`)
	selNotEnough      = automation.XPath(`//div[contains(text(), "enough tickets left to fulfill this order")]`)
	selCancel         = automation.XPath(`//button//span[text()="Cancel"]`)
	selTicketTypeNext = automation.XPath(`./../div[2]`)
	selEmail          = automation.CSS(`input[name="email"]`)
	selPassword       = automation.CSS(`input[name="password"]`)
	selSignInSubmit   = automation.CSS(".sd_form_submit button")
)

// listing row cells, 1-based
const (
	cellTitle = iota + 1
	cellDate
	cellTimeAndType
	cellLocation
)

func cell(n int) automation.Selector {
	return automation.CSS(fmt.Sprintf(":scope > td:nth-child(%d)", n))
}

func quantityPanelTitle(title string) automation.Selector {
	return automation.XPathf(`//div[@class="Eventive--OrderQuantitySelect"]//div[contains(text(), %s)]`, xpathLiteral(title))
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	return `concat("` + strings.Join(parts, `", '"', "`) + `")`
}

// Config holds account and locale settings for a Festival.
type Config struct {
	BaseURL  string
	Email    string
	Password string
	// Location is the festival time zone used to parse listing times.
	Location *time.Location
}

// Listing is one row of the ticket listing as loaded by LoadCatalog.
type Listing struct {
	Index int
	row   automation.Element
}

// NewListing returns a Listing bound to a row element.
func NewListing(index int, row automation.Element) Listing {
	return Listing{Index: index, row: row}
}

// Outcome is what the page showed after submitting an order.
type Outcome struct {
	Purchased bool
	// Message is the insufficient-tickets text when Purchased is false.
	Message string
}

// Festival is an authenticated browser session on the festival site.
type Festival struct {
	d   automation.Driver
	cfg Config
	log *slog.Logger
	now func() time.Time

	// settle is the pause before polling pages that re-render after load.
	settle      time.Duration
	listingWait time.Duration
}

// New wraps a driver without touching the page.
func New(d automation.Driver, cfg Config, logger *slog.Logger) *Festival {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Festival{d: d, cfg: cfg, log: logger, now: time.Now, settle: time.Second, listingWait: 10 * time.Second}
}

// Open signs in and empties the cart, leaving the session ready for the
// catalog and reservation flows. The driver is closed on failure.
func Open(ctx context.Context, d automation.Driver, cfg Config, logger *slog.Logger) (*Festival, error) {
	f := New(d, cfg, logger)
	if err := f.SignIn(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := f.ClearCart(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return f, nil
}

func (f *Festival) homeURL() string    { return f.cfg.BaseURL + "/" }
func (f *Festival) signInURL() string  { return f.cfg.BaseURL + "/sign-in" }
func (f *Festival) ticketsURL() string { return f.cfg.BaseURL + "/tickets" }
func (f *Festival) cartURL() string    { return f.cfg.BaseURL + "/tickets/cart" }

// Close ends the browser session.
func (f *Festival) Close() error {
	return f.d.Close()
}

func (f *Festival) click(ctx context.Context, sel automation.Selector, within automation.Element, timeout time.Duration) (automation.Element, error) {
	el, err := automation.WaitLocated(ctx, f.d, sel, within, timeout)
	if err != nil {
		return nil, err
	}
	return el, f.d.Click(ctx, el)
}

// SignIn submits the account credentials and waits for the home page.
func (f *Festival) SignIn(ctx context.Context) error {
	if err := f.d.Navigate(ctx, f.signInURL()); err != nil {
		return err
	}
	email, err := automation.WaitLocated(ctx, f.d, selEmail, nil, 5*time.Second)
	if err != nil {
		return err
	}
	if err := f.d.SendKeys(ctx, email, f.cfg.Email); err != nil {
		return err
	}
	password, err := automation.WaitLocated(ctx, f.d, selPassword, nil, 5*time.Second)
	if err != nil {
		return err
	}
	if err := f.d.SendKeys(ctx, password, f.cfg.Password); err != nil {
		return err
	}
	if _, err := f.click(ctx, selSignInSubmit, nil, 5*time.Second); err != nil {
		return err
	}
	home := regexp.MustCompile("^" + regexp.QuoteMeta(f.homeURL()) + "$")
	if err := automation.WaitURL(ctx, f.d, home, 10*time.Second); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	f.log.Info("signed in", slog.String("email", f.cfg.Email))
	return nil
}

// cartState waits for the cart page to settle and reports whether it has items.
func (f *Festival) cartState(ctx context.Context) (bool, error) {
	if err := automation.Sleep(ctx, f.settle); err != nil {
		return false, err
	}
	var hasItems bool
	err := automation.WaitUntil(ctx, 7*time.Second, "cart state", func(ctx context.Context) (bool, error) {
		els, err := f.d.FindAll(ctx, selCheckout, nil)
		if err != nil {
			return false, err
		}
		if len(els) > 0 {
			hasItems = true
			return true, nil
		}
		els, err = f.d.FindAll(ctx, selEmptyCart, nil)
		if err != nil {
			return false, err
		}
		if len(els) > 0 {
			hasItems = false
			return true, nil
		}
		return false, nil
	})
	return hasItems, err
}

// ClearCart removes the first cart item and confirms until the page reports
// an empty cart. Each round is bounded by its waits; the number of rounds is
// not.
func (f *Festival) ClearCart(ctx context.Context) error {
	if err := f.d.Navigate(ctx, f.cartURL()); err != nil {
		return err
	}
	for {
		hasItems, err := f.cartState(ctx)
		if err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		if !hasItems {
			f.log.Debug("cart is empty")
			return nil
		}
		if err := f.removeFirstItem(ctx); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
	}
}

func (f *Festival) removeFirstItem(ctx context.Context) error {
	remove, err := f.click(ctx, selRemoveItem, nil, 3*time.Second)
	if err != nil {
		return err
	}
	confirm, err := f.click(ctx, selConfirmRemove, nil, 5*time.Second)
	if err != nil {
		return err
	}
	if err := automation.WaitStale(ctx, f.d, confirm, 5*time.Second); err != nil {
		return err
	}
	return automation.WaitStale(ctx, f.d, remove, 5*time.Second)
}

// LoadCatalog opens the full ticket listing and returns its rows in page
// order. A listing that never renders a row is returned empty.
func (f *Festival) LoadCatalog(ctx context.Context) ([]Listing, error) {
	if err := f.d.Navigate(ctx, f.ticketsURL()); err != nil {
		return nil, err
	}
	if _, err := f.click(ctx, selSelectScreen, nil, 10*time.Second); err != nil {
		return nil, err
	}
	if _, err := automation.WaitLocated(ctx, f.d, selAnyListing, nil, f.listingWait); err != nil {
		if !apperr.IsTimeout(err) {
			return nil, err
		}
		f.log.Info("no screenings found")
	}
	rows, err := f.d.FindAll(ctx, selListingRow, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, len(rows))
	for i, row := range rows {
		out[i] = NewListing(i, row)
	}
	return out, nil
}

func (f *Festival) cells(ctx context.Context, l Listing) (automation.Element, error) {
	if l.row == nil {
		return nil, errors.New("listing has no row handle")
	}
	return automation.WaitLocated(ctx, f.d, selListingCells, l.row, 3*time.Second)
}

// ReadListing scrapes a row's title, date, time range and location.
func (f *Festival) ReadListing(ctx context.Context, l Listing) (model.Screening, error) {
	now := f.now()
	cells, err := f.cells(ctx, l)
	if err != nil {
		return model.Screening{}, err
	}
	if err := f.d.ScrollIntoView(ctx, cells); err != nil {
		return model.Screening{}, err
	}
	if err := automation.WaitVisible(ctx, f.d, cells, 5*time.Second); err != nil {
		return model.Screening{}, err
	}
	title, err := automation.WaitText(ctx, f.d, cell(cellTitle), cells, 3*time.Second)
	if err != nil {
		return model.Screening{}, fmt.Errorf("title: %w", err)
	}
	date, err := automation.WaitText(ctx, f.d, cell(cellDate), cells, time.Second)
	if err != nil {
		return model.Screening{}, fmt.Errorf("date: %w", err)
	}
	timeCell, err := automation.Find(ctx, f.d, cell(cellTimeAndType), cells)
	if err != nil {
		return model.Screening{}, err
	}
	timeRange, err := automation.WaitText(ctx, f.d, automation.CSS(":scope > p:nth-child(1)"), timeCell, time.Second)
	if err != nil {
		return model.Screening{}, fmt.Errorf("time range: %w", err)
	}
	location, err := automation.WaitText(ctx, f.d, cell(cellLocation), cells, time.Second)
	if err != nil {
		return model.Screening{}, fmt.Errorf("location: %w", err)
	}
	return NewScreening(title, date, timeRange, location, f.cfg.Location, now)
}

// ReadScreeningType returns the row's type label without parentheses, or ""
// when the row has none.
func (f *Festival) ReadScreeningType(ctx context.Context, l Listing) (string, error) {
	cells, err := f.cells(ctx, l)
	if err != nil {
		return "", err
	}
	timeCell, err := automation.Find(ctx, f.d, cell(cellTimeAndType), cells)
	if err != nil {
		return "", err
	}
	els, err := f.d.FindAll(ctx, automation.CSS(":scope > p:nth-child(2)"), timeCell)
	if err != nil || len(els) == 0 {
		return "", err
	}
	raw, err := f.d.Text(ctx, els[0])
	if err != nil {
		return "", err
	}
	return ScreeningType(raw), nil
}

// SelectListing adds the row's screening to the cart.
func (f *Festival) SelectListing(ctx context.Context, l Listing) error {
	if l.row == nil {
		return errors.New("listing has no row handle")
	}
	btn, err := automation.Find(ctx, f.d, selSelectFilm, l.row)
	if err != nil {
		return err
	}
	if err := f.d.Click(ctx, btn); err != nil {
		return err
	}
	return automation.WaitStale(ctx, f.d, l.row, 5*time.Second)
}

// OpenCart navigates to the cart and waits for the checkout button.
func (f *Festival) OpenCart(ctx context.Context) error {
	if err := f.d.Navigate(ctx, f.cartURL()); err != nil {
		return err
	}
	_, err := automation.WaitLocated(ctx, f.d, selCheckout, nil, 7*time.Second)
	return err
}

// TicketCount reads the cart's quantity counter.
func (f *Festival) TicketCount(ctx context.Context) (int, error) {
	el, err := automation.Find(ctx, f.d, selTicketCount, nil)
	if err != nil {
		return 0, err
	}
	v, err := f.d.Property(ctx, el, "value")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("ticket count %q: %w", v, err)
	}
	return n, nil
}

// IncrementTickets clicks the increase control once and waits for the counter
// to move from from to from+1.
func (f *Festival) IncrementTickets(ctx context.Context, from int) error {
	btn, err := automation.Find(ctx, f.d, selIncrement, nil)
	if err != nil {
		return err
	}
	if err := f.d.Click(ctx, btn); err != nil {
		return err
	}
	return automation.WaitUntil(ctx, 3*time.Second, "ticket count increment", func(ctx context.Context) (bool, error) {
		n, err := f.TicketCount(ctx)
		if err != nil {
			return false, err
		}
		return n == from+1, nil
	})
}

// Checkout triggers checkout and waits for the quantity panel of title.
func (f *Festival) Checkout(ctx context.Context, title string) error {
	btn, err := automation.Find(ctx, f.d, selCheckout, nil)
	if err != nil {
		return err
	}
	if err := f.d.Click(ctx, btn); err != nil {
		return err
	}
	_, err = automation.WaitLocated(ctx, f.d, quantityPanelTitle(title), nil, 7*time.Second)
	return err
}

// GoHome navigates to the home page.
func (f *Festival) GoHome(ctx context.Context) error {
	return f.d.Navigate(ctx, f.homeURL())
}

// TicketType reads the ticket type line under title in the quantity panel.
// It returns "" when the panel shows none.
func (f *Festival) TicketType(ctx context.Context, title string) (string, error) {
	titleEl, err := automation.Find(ctx, f.d, quantityPanelTitle(title), nil)
	if err != nil {
		return "", err
	}
	els, err := f.d.FindAll(ctx, selTicketTypeNext, titleEl)
	if err != nil || len(els) == 0 {
		return "", err
	}
	return f.d.Text(ctx, els[0])
}

// AcceptTerms ticks both consent checkboxes.
func (f *Festival) AcceptTerms(ctx context.Context) error {
	for _, sel := range []automation.Selector{selTerm1, selTerm2} {
		if _, err := f.click(ctx, sel, nil, 3*time.Second); err != nil {
			return err
		}
	}
	return nil
}

// TotalPrice reads the order total from the buy button, in cents.
func (f *Festival) TotalPrice(ctx context.Context) (int64, error) {
	text, err := automation.WaitText(ctx, f.d, selBuy, nil, 3*time.Second)
	if err != nil {
		return 0, err
	}
	return ParsePrice(text)
}

// Submit clicks the buy button.
func (f *Festival) Submit(ctx context.Context) error {
	btn, err := automation.Find(ctx, f.d, selBuy, nil)
	if err != nil {
		return err
	}
	return f.d.Click(ctx, btn)
}

// AwaitOutcome polls until the buy button disappears (purchased) or the
// insufficient-tickets message appears.
func (f *Festival) AwaitOutcome(ctx context.Context) (Outcome, error) {
	if err := automation.Sleep(ctx, f.settle); err != nil {
		return Outcome{}, err
	}
	var out Outcome
	err := automation.WaitUntil(ctx, 5*time.Second, "purchase outcome", func(ctx context.Context) (bool, error) {
		buttons, err := f.d.FindAll(ctx, selBuy, nil)
		if err != nil {
			return false, err
		}
		if len(buttons) == 0 {
			out = Outcome{Purchased: true}
			return true, nil
		}
		errs, err := f.d.FindAll(ctx, selNotEnough, nil)
		if err != nil || len(errs) == 0 {
			return false, err
		}
		msg, err := f.d.Text(ctx, errs[0])
		if err != nil {
			return false, err
		}
		out = Outcome{Message: msg}
		return true, nil
	})
	return out, err
}

// CancelSelection backs out of the quantity panel and removes the item from
// the cart.
func (f *Festival) CancelSelection(ctx context.Context) error {
	cancel, err := f.click(ctx, selCancel, nil, 3*time.Second)
	if err != nil {
		return err
	}
	if err := automation.WaitStale(ctx, f.d, cancel, 5*time.Second); err != nil {
		return err
	}
	if _, err := f.click(ctx, selRemoveItem, nil, 3*time.Second); err != nil {
		return err
	}
	_, err = f.click(ctx, selConfirmRemove, nil, 5*time.Second)
	return err
}
