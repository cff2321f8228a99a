// Package filminfo scrapes the festival's public programme pages (films,
// shorts packages and categories) over plain HTTP. These pages need no
// signed-in browser, so this runs outside the session coordinator.
package filminfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/festwatch/ticketwatch/internal/apperr"
	"github.com/festwatch/ticketwatch/internal/filter"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/store"
)

var eventURL = regexp.MustCompile(`/program/(film|short-info)/([a-zA-Z0-9]+)`)

// EventID extracts the id from a film or shorts package URL.
func EventID(rawURL string) (id string, shorts bool, ok bool) {
	m := eventURL.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false, false
	}
	return m[2], m[1] == "short-info", true
}

// Config controls the HTTP side of the scraper.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Delay     time.Duration
}

// Scraper refreshes films and categories into the store.
type Scraper struct {
	cfg       Config
	host      string
	store     *store.Store
	log       *slog.Logger
	transport http.RoundTripper

	Now func() time.Time
}

// New validates cfg and returns a Scraper.
func New(cfg Config, st *store.Store, logger *slog.Logger) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, errors.New("base url must include a host")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Scraper{
		cfg:   cfg,
		host:  parsed.Host,
		store: st,
		log:   logger.With(slog.String("component", "filminfo")),
		Now:   time.Now,
	}, nil
}

// WithTransport replaces the HTTP transport of every collector.
func (s *Scraper) WithTransport(t http.RoundTripper) {
	s.transport = t
}

// crawlErr keeps the first failure seen by a collector.
type crawlErr struct {
	mu  sync.Mutex
	err error
}

func (c *crawlErr) set(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *crawlErr) get() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (s *Scraper) collector() (*colly.Collector, *crawlErr) {
	c := colly.NewCollector(
		colly.AllowedDomains(s.host),
		colly.AllowURLRevisit(),
	)
	if s.cfg.UserAgent != "" {
		c.UserAgent = s.cfg.UserAgent
	}
	c.SetRequestTimeout(s.cfg.Timeout)
	if s.transport != nil {
		c.WithTransport(s.transport)
	}
	if s.cfg.Delay > 0 {
		_ = c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: s.cfg.Delay})
	}

	errs := &crawlErr{}
	c.OnRequest(func(r *colly.Request) {
		s.log.Debug("fetch", slog.String("url", r.URL.String()))
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		u := ""
		if r != nil {
			status = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				u = r.Request.URL.String()
			}
		}
		s.log.Warn("request error", slog.String("url", u), slog.Int("status", status), slog.Any("error", err))
		errs.set(classify(err, status, u))
	})
	return c, errs
}

func classify(err error, status int, u string) error {
	wrapped := fmt.Errorf("%s: %w", u, err)
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout{Err: wrapped}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Timeout{Err: wrapped}
	}
	if status == http.StatusNotFound {
		return apperr.NotFound{Err: wrapped}
	}
	return apperr.External{Err: wrapped}
}

func (s *Scraper) visit(ctx context.Context, c *colly.Collector, errs *crawlErr, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := s.cfg.BaseURL + path
	err := c.Visit(u)
	c.Wait()
	if cerr := errs.get(); cerr != nil {
		return cerr
	}
	if err != nil {
		return apperr.External{Err: fmt.Errorf("visit %s: %w", u, err)}
	}
	return ctx.Err()
}

// RefreshCategories reads the event cards of the program page. The stored
// current set is replaced; the all set only grows.
func (s *Scraper) RefreshCategories(ctx context.Context) ([]model.Category, error) {
	c, errs := s.collector()
	var out []model.Category
	c.OnHTML(".sd_event_card", func(e *colly.HTMLElement) {
		title := strings.TrimSpace(e.ChildText(".sd_event_card_desc > h2"))
		if title == "" {
			return
		}
		out = append(out, model.Category{
			Title:       title,
			Description: strings.TrimSpace(e.ChildText(".sd_event_card_desc_content")),
			UpdatedAt:   s.Now(),
		})
	})
	if err := s.visit(ctx, c, errs, "/program"); err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(out))
	for _, cat := range out {
		if err := s.store.SetCategory(ctx, cat); err != nil {
			return nil, err
		}
		titles = append(titles, cat.Title)
	}
	if err := s.store.SetCurrentCategories(ctx, titles); err != nil {
		return nil, err
	}
	s.log.Info("categories refreshed", slog.Int("count", len(out)))
	return out, nil
}

// ListFilms walks every page of the film listing and stores the basic entry
// of each film. Duplicate ids across pages are kept once.
func (s *Scraper) ListFilms(ctx context.Context) ([]model.Film, error) {
	c, errs := s.collector()
	seen := make(map[string]struct{})
	var out []model.Film

	c.OnHTML(".sd_event_card", func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(e.Attr("href"))
		id, shorts, ok := EventID(href)
		if !ok {
			s.log.Warn("event card without film link", slog.String("href", href))
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		tagLine, _ := e.DOM.Find(".sd_event_card_desc_content").First().Html()
		out = append(out, model.Film{
			ID:        id,
			Title:     strings.TrimSpace(e.ChildText(".sd_event_card_desc h2")),
			URL:       href,
			IsShorts:  shorts,
			TagLine:   strings.TrimSpace(tagLine),
			UpdatedAt: s.Now(),
		})
	})
	c.OnHTML(".pagination .next:not(.disabled) a", func(e *colly.HTMLElement) {
		if ctx.Err() != nil {
			return
		}
		next := e.Request.AbsoluteURL(e.Attr("href"))
		if next == "" || next == e.Request.URL.String() {
			return
		}
		if err := e.Request.Visit(next); err != nil {
			s.log.Warn("next page", slog.String("url", next), slog.Any("error", err))
		}
	})
	if err := s.visit(ctx, c, errs, "/program/films"); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(out))
	for _, f := range out {
		prev, err := s.store.Film(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			f = mergeListing(*prev, f)
		}
		if err := s.store.SetFilm(ctx, f); err != nil {
			return nil, err
		}
		ids = append(ids, f.ID)
	}
	if err := s.store.SetCurrentFilms(ctx, ids); err != nil {
		return nil, err
	}
	s.log.Info("film listing refreshed", slog.Int("count", len(out)))
	return out, nil
}

// mergeListing applies a listing card over a stored film, keeping the detail
// fields the card does not carry.
func mergeListing(prev, card model.Film) model.Film {
	prev.Title = card.Title
	prev.URL = card.URL
	prev.IsShorts = card.IsShorts
	prev.TagLine = card.TagLine
	prev.UpdatedAt = card.UpdatedAt
	return prev
}

// RefreshFilms lists the films and then refreshes the detail page of each.
// A failing detail page is logged and skipped.
func (s *Scraper) RefreshFilms(ctx context.Context) ([]model.Film, error) {
	listed, err := s.ListFilms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Film, 0, len(listed))
	for _, f := range listed {
		full, err := s.RefreshFilm(ctx, f.ID, f.IsShorts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Error("film detail failed", slog.String("film", f.ID), slog.Any("error", err))
			out = append(out, f)
			continue
		}
		out = append(out, full)
	}
	return out, nil
}

// RefreshFilm scrapes one film page, or a shorts package page together with
// the page of every short it links to.
func (s *Scraper) RefreshFilm(ctx context.Context, id string, shorts bool) (model.Film, error) {
	f, err := s.fetchEvent(ctx, id, shorts)
	if err != nil {
		return model.Film{}, err
	}
	for _, childID := range f.Shorts {
		child, err := s.fetchEvent(ctx, childID, false)
		if err != nil {
			return model.Film{}, fmt.Errorf("short %s: %w", childID, err)
		}
		child.ParentID = id
		if err := s.save(ctx, child); err != nil {
			return model.Film{}, err
		}
	}
	if err := s.save(ctx, f); err != nil {
		return model.Film{}, err
	}
	s.log.Info("film refreshed", slog.String("film", id), slog.Bool("shorts", shorts))
	return f, nil
}

// RefreshFilmByTitle walks the film listing, picks the first film whose title
// contains search (an exact title wins) and refreshes it.
func (s *Scraper) RefreshFilmByTitle(ctx context.Context, search string) (model.Film, error) {
	search = strings.TrimSpace(search)
	if search == "" {
		return model.Film{}, errors.New("empty title search")
	}
	films, err := s.ListFilms(ctx)
	if err != nil {
		return model.Film{}, err
	}
	matches := filter.Search([]string{filter.FuzzyMarker + search}, films,
		func(f model.Film) []string { return []string{f.Title} }, nil)
	if len(matches) == 0 {
		return model.Film{}, apperr.NotFound{Err: fmt.Errorf("no film titled like %q", search)}
	}
	pick := matches[0]
	if i := slices.IndexFunc(matches, func(f model.Film) bool { return strings.EqualFold(f.Title, search) }); i >= 0 {
		pick = matches[i]
	}
	s.log.Debug("title search matched", slog.String("search", search), slog.String("film", pick.ID), slog.Int("matches", len(matches)))
	return s.RefreshFilm(ctx, pick.ID, pick.IsShorts)
}

// save stores f, keeping the tag line learned from the listing.
func (s *Scraper) save(ctx context.Context, f model.Film) error {
	prev, err := s.store.Film(ctx, f.ID)
	if err != nil {
		return err
	}
	if prev != nil && f.TagLine == "" {
		f.TagLine = prev.TagLine
	}
	return s.store.SetFilm(ctx, f)
}

func (s *Scraper) fetchEvent(ctx context.Context, id string, shorts bool) (model.Film, error) {
	path := "/program/film/" + id
	if shorts {
		path = "/program/short-info/" + id
	}
	c, errs := s.collector()
	var f model.Film
	c.OnHTML("html", func(e *colly.HTMLElement) {
		f = parseEvent(e, shorts)
		f.URL = e.Request.URL.String()
	})
	if err := s.visit(ctx, c, errs, path); err != nil {
		return model.Film{}, err
	}
	if f.Title == "" {
		return model.Film{}, apperr.NotFound{Err: fmt.Errorf("no film title on %s", path)}
	}
	f.ID = id
	f.IsShorts = shorts
	f.UpdatedAt = s.Now()
	return f, nil
}

func firstText(e *colly.HTMLElement, sel string) string {
	return strings.TrimSpace(e.DOM.Find(sel).First().Text())
}

func firstHTML(e *colly.HTMLElement, sel string) string {
	h, err := e.DOM.Find(sel).First().Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(h)
}

func parseEvent(e *colly.HTMLElement, shorts bool) model.Film {
	f := model.Film{
		Title:       firstText(e, ".sd_film_description h2.sd_textuppercase"),
		Category:    firstText(e, ".sd_film_desc_label"),
		Description: firstHTML(e, ".sd_film_description_content"),
	}

	tags := make(map[string]struct{})
	e.ForEach(".sd_film_description_content_cat > span", func(_ int, t *colly.HTMLElement) {
		tag := strings.TrimSpace(t.Text)
		if _, dup := tags[tag]; tag == "" || dup {
			return
		}
		tags[tag] = struct{}{}
		f.Tags = append(f.Tags, tag)
	})

	if shorts {
		e.ForEach(".sd_film_description .sd_film_desc_timings > div.short_links > a", func(_ int, a *colly.HTMLElement) {
			if id, _, ok := EventID(a.Attr("href")); ok && !slices.Contains(f.Shorts, id) {
				f.Shorts = append(f.Shorts, id)
			}
		})
		return f
	}

	if name := firstText(e, ".sd_panelist_name > h3"); name != "" {
		f.Panelist = &model.Panelist{
			Name:        name,
			Description: firstHTML(e, ".sd_panelist_desc .sd_rtf_content"),
		}
	}
	e.ForEach(".sd_film_artists_credits_sec li", func(_ int, li *colly.HTMLElement) {
		name := strings.TrimSpace(li.ChildText(".sd_film_artists_cr_pos"))
		if name == "" {
			return
		}
		credit := model.Credit{Name: name}
		li.ForEach(".sd_film_artists_cr_name > p", func(_ int, p *colly.HTMLElement) {
			if v := strings.TrimSpace(p.Text); v != "" {
				credit.Values = append(credit.Values, v)
			}
		})
		f.Credits = append(f.Credits, credit)
	})
	return f
}
