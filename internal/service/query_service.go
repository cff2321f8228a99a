package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/festwatch/ticketwatch/internal/apperr"
	"github.com/festwatch/ticketwatch/internal/filter"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/site"
	"github.com/festwatch/ticketwatch/internal/store"
)

// Symbolic needles accepted next to literal values.
const (
	CityParkCity      = "parkCity"
	CitySaltLake      = "slc"
	ScreeningPremiere = "premiere"
	ScreeningSecond   = "second"
	SortByStartTime   = "startTime"
)

// ScreeningQuery narrows Screenings. Every list is matched with filter.Search;
// empty lists and nil pointers do not filter.
type ScreeningQuery struct {
	SortBy         string
	Titles         []string
	Venues         []string
	Cities         []string
	ScreeningTypes []string
	FilmIDs        []string
	Categories     []string
	Tags           []string
	SoldOut        *bool
	// Available true reads the current program and drops unavailable
	// entries; false keeps only unavailable ones.
	Available *bool
	WithFilms bool
}

func (q ScreeningQuery) needsFilms() bool {
	return q.WithFilms || len(q.FilmIDs) > 0 || len(q.Categories) > 0 || len(q.Tags) > 0
}

// FilmQuery narrows Films.
type FilmQuery struct {
	All        bool
	IDs        []string
	Titles     []string
	Categories []string
	Tags       []string
	Shorts     *bool
}

// QueryService answers read-only questions from the cached catalog. It never
// touches the automation session.
type QueryService struct {
	store *store.Store
}

func NewQueryService(st *store.Store) *QueryService { return &QueryService{store: st} }

// Program returns the screening IDs of the last full scan in listing order.
func (q *QueryService) Program(ctx context.Context) ([]string, error) {
	return q.store.Program(ctx)
}

// Screening returns the stored view of id joined with its films.
func (q *QueryService) Screening(ctx context.Context, id string) (model.ScreeningView, error) {
	v, err := q.store.View(ctx, id)
	if err != nil {
		return v, err
	}
	if v.Basic == nil && v.Detail == nil {
		return v, apperr.NotFound{Err: fmt.Errorf("screening %q", id)}
	}
	byTitle, err := q.filmsByTitle(ctx)
	if err != nil {
		return v, err
	}
	if v.Basic != nil {
		v.Films = byTitle[v.Basic.Title]
	}
	return v, nil
}

// Screenings lists stored screenings matching sq.
func (q *QueryService) Screenings(ctx context.Context, sq ScreeningQuery) ([]model.ScreeningView, error) {
	var ids []string
	var err error
	if sq.Available != nil && *sq.Available {
		ids, err = q.store.Program(ctx)
	} else {
		ids, err = q.store.Seen(ctx)
	}
	if err != nil {
		return nil, err
	}

	var byTitle map[string][]model.Film
	if sq.needsFilms() {
		if byTitle, err = q.filmsByTitle(ctx); err != nil {
			return nil, err
		}
	}
	views := make([]model.ScreeningView, 0, len(ids))
	for _, id := range ids {
		v, err := q.store.View(ctx, id)
		if err != nil {
			return nil, err
		}
		if byTitle != nil && v.Basic != nil {
			v.Films = byTitle[v.Basic.Title]
		}
		views = append(views, v)
	}
	return filterScreenings(views, sq), nil
}

func filterScreenings(views []model.ScreeningView, sq ScreeningQuery) []model.ScreeningView {
	if len(sq.Titles) > 0 {
		views = filter.Search(sq.Titles, views, func(v model.ScreeningView) []string {
			if v.Basic == nil {
				return nil
			}
			return []string{v.Basic.Title}
		}, nil)
	}
	if sq.SoldOut != nil {
		views = keep(views, func(v model.ScreeningView) bool {
			return (v.Detail != nil && v.Detail.IsSoldOut) == *sq.SoldOut
		})
	}
	if len(sq.Venues) > 0 {
		views = filter.Search(sq.Venues, views, func(v model.ScreeningView) []string {
			if venue, _, ok := splitLocation(v); ok {
				return []string{venue}
			}
			return nil
		}, nil)
	}
	if len(sq.Cities) > 0 {
		views = filter.Search(sq.Cities, views, func(v model.ScreeningView) []string {
			if _, city, ok := splitLocation(v); ok {
				return []string{city}
			}
			return nil
		}, func(v model.ScreeningView, needle string) bool {
			if v.Basic == nil {
				return false
			}
			switch needle {
			case CityParkCity:
				return v.Basic.IsInParkCity
			case CitySaltLake:
				return v.Basic.IsInSaltLakeCity
			}
			return false
		})
	}
	if len(sq.ScreeningTypes) > 0 {
		views = filter.Search(sq.ScreeningTypes, views, func(v model.ScreeningView) []string {
			if v.Detail == nil || v.Detail.ScreeningType == "" {
				return nil
			}
			return []string{v.Detail.ScreeningType}
		}, func(v model.ScreeningView, needle string) bool {
			if v.Detail == nil {
				return false
			}
			return (needle == ScreeningPremiere && v.Detail.IsPremiere) ||
				(needle == ScreeningSecond && v.Detail.IsSecondScreening)
		})
	}
	if len(sq.FilmIDs) > 0 {
		views = filter.Search(sq.FilmIDs, views, filmValues(func(f model.Film) []string { return []string{f.ID} }), nil)
	}
	if len(sq.Categories) > 0 {
		views = filter.Search(sq.Categories, views, filmValues(func(f model.Film) []string {
			if f.Category == "" {
				return nil
			}
			return []string{f.Category}
		}), nil)
	}
	if len(sq.Tags) > 0 {
		views = filter.Search(sq.Tags, views, filmValues(func(f model.Film) []string { return f.Tags }), nil)
	}
	if sq.Available != nil {
		views = keep(views, func(v model.ScreeningView) bool {
			return !(v.Basic != nil && v.Basic.IsUnavailable) == *sq.Available
		})
	}
	if sq.SortBy == SortByStartTime {
		sort.SliceStable(views, func(i, j int) bool {
			return startTime(views[i]).Before(startTime(views[j]))
		})
	}
	return views
}

func filmValues(fn func(model.Film) []string) func(model.ScreeningView) []string {
	return func(v model.ScreeningView) []string {
		var out []string
		for _, f := range v.Films {
			out = append(out, fn(f)...)
		}
		return out
	}
}

// splitLocation reports ok only for locations that name a city.
func splitLocation(v model.ScreeningView) (venue, city string, ok bool) {
	if v.Basic == nil || !strings.Contains(v.Basic.Location, ", ") {
		return "", "", false
	}
	venue, city = site.SplitLocation(v.Basic.Location)
	return venue, city, true
}

func startTime(v model.ScreeningView) time.Time {
	if v.Basic == nil {
		return time.Time{}
	}
	return v.Basic.StartTime
}

func keep[R any](in []R, pred func(R) bool) []R {
	out := in[:0:0]
	for _, r := range in {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func (q *QueryService) filmsByTitle(ctx context.Context) (map[string][]model.Film, error) {
	films, err := q.loadFilms(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.Film, len(films))
	for _, f := range films {
		out[f.Title] = append(out[f.Title], f)
	}
	return out, nil
}

func (q *QueryService) loadFilms(ctx context.Context, all bool) ([]model.Film, error) {
	ids, err := q.store.FilmIDs(ctx, all)
	if err != nil {
		return nil, err
	}
	return q.store.Films(ctx, ids)
}

// Films lists stored films matching fq.
func (q *QueryService) Films(ctx context.Context, fq FilmQuery) ([]model.Film, error) {
	films, err := q.loadFilms(ctx, fq.All)
	if err != nil {
		return nil, err
	}
	if fq.Shorts != nil {
		films = keep(films, func(f model.Film) bool { return f.IsShorts == *fq.Shorts })
	}
	if len(fq.IDs) > 0 {
		films = filter.Search(fq.IDs, films, func(f model.Film) []string { return []string{f.ID} }, nil)
	}
	if len(fq.Titles) > 0 {
		films = filter.Search(fq.Titles, films, func(f model.Film) []string { return []string{f.Title} }, nil)
	}
	if len(fq.Categories) > 0 {
		films = filter.Search(fq.Categories, films, func(f model.Film) []string {
			if f.Category == "" {
				return nil
			}
			return []string{f.Category}
		}, nil)
	}
	if len(fq.Tags) > 0 {
		films = filter.Search(fq.Tags, films, func(f model.Film) []string { return f.Tags }, nil)
	}
	return films, nil
}

// Categories lists the current programme sections, or every one ever seen,
// optionally narrowed by titles.
func (q *QueryService) Categories(ctx context.Context, all bool, titles []string) ([]model.Category, error) {
	cats, err := q.store.Categories(ctx, all)
	if err != nil {
		return nil, err
	}
	if len(titles) > 0 {
		cats = filter.Search(titles, cats, func(c model.Category) []string { return []string{c.Title} }, nil)
	}
	return cats, nil
}
