// Package store persists the scraped catalog in Redis. Every entity kind has
// its own typed accessors; key layout is private to this package. Decoded
// screenings and details are kept in a small in-process LRU that is updated
// on every write, so readers in this process never see a value older than
// the last write made through the same Store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/festwatch/ticketwatch/internal/model"
)

// Store is the typed cache over Redis.
type Store struct {
	rdb    *redis.Client
	prefix string

	screenings *lru.Cache[string, model.Screening]
	details    *lru.Cache[string, model.ScreeningDetail]
}

// New returns a Store using rdb. prefix namespaces every key; cacheSize bounds
// the in-process LRU per entity kind.
func New(rdb *redis.Client, prefix string, cacheSize int) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("store: nil redis client")
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	screenings, err := lru.New[string, model.Screening](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("screening cache: %w", err)
	}
	details, err := lru.New[string, model.ScreeningDetail](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("detail cache: %w", err)
	}
	if prefix == "" {
		prefix = "tw"
	}
	return &Store{rdb: rdb, prefix: prefix, screenings: screenings, details: details}, nil
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	bs, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(bs, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	bs, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, bs, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Screening returns the stored listing for id, or nil when it was never seen.
func (s *Store) Screening(ctx context.Context, id string) (*model.Screening, error) {
	if v, ok := s.screenings.Get(id); ok {
		return &v, nil
	}
	var v model.Screening
	ok, err := s.getJSON(ctx, s.key("screening", id), &v)
	if err != nil || !ok {
		return nil, err
	}
	s.screenings.Add(id, v)
	return &v, nil
}

// SetScreening overwrites the stored listing for v.ID.
func (s *Store) SetScreening(ctx context.Context, v model.Screening) error {
	if err := s.setJSON(ctx, s.key("screening", v.ID), v); err != nil {
		return err
	}
	s.screenings.Add(v.ID, v)
	return nil
}

// Detail returns the stored detail record for id, or nil when none exists.
func (s *Store) Detail(ctx context.Context, id string) (*model.ScreeningDetail, error) {
	if v, ok := s.details.Get(id); ok {
		return &v, nil
	}
	var v model.ScreeningDetail
	ok, err := s.getJSON(ctx, s.key("detail", id), &v)
	if err != nil || !ok {
		return nil, err
	}
	s.details.Add(id, v)
	return &v, nil
}

// SetDetail replaces the detail record for id. UpdatedAt never moves
// backwards: a write stamped at or before the stored one is bumped just past
// it. The record actually written is returned.
func (s *Store) SetDetail(ctx context.Context, id string, v model.ScreeningDetail) (model.ScreeningDetail, error) {
	prev, err := s.Detail(ctx, id)
	if err != nil {
		return v, err
	}
	if prev != nil && !v.UpdatedAt.After(prev.UpdatedAt) {
		v.UpdatedAt = prev.UpdatedAt.Add(time.Millisecond)
	}
	if err := s.setJSON(ctx, s.key("detail", id), v); err != nil {
		return v, err
	}
	s.details.Add(id, v)
	return v, nil
}

// Program returns the ordered screening IDs of the last full scan.
func (s *Store) Program(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.LRange(ctx, s.key("program"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return ids, nil
}

// SetProgram replaces the program atomically.
func (s *Store) SetProgram(ctx context.Context, ids []string) error {
	key := s.key("program")
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(ids) > 0 {
			pipe.RPush(ctx, key, toArgs(ids)...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set program: %w", err)
	}
	return nil
}

// Seen returns every screening ID ever observed, sorted.
func (s *Store) Seen(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.key("seen")).Result()
	if err != nil {
		return nil, fmt.Errorf("seen: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// AddSeen unions ids into the seen registry.
func (s *Store) AddSeen(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.rdb.SAdd(ctx, s.key("seen"), toArgs(ids)...).Err(); err != nil {
		return fmt.Errorf("add seen: %w", err)
	}
	return nil
}

// Cursor returns the scanner position; a zero cursor when none is stored.
func (s *Store) Cursor(ctx context.Context) (model.ScanCursor, error) {
	var c model.ScanCursor
	_, err := s.getJSON(ctx, s.key("scanner", "cursor"), &c)
	return c, err
}

// SetCursor stores the scanner position.
func (s *Store) SetCursor(ctx context.Context, c model.ScanCursor) error {
	return s.setJSON(ctx, s.key("scanner", "cursor"), c)
}

// Film returns the stored film for id, or nil.
func (s *Store) Film(ctx context.Context, id string) (*model.Film, error) {
	var f model.Film
	ok, err := s.getJSON(ctx, s.key("film", id), &f)
	if err != nil || !ok {
		return nil, err
	}
	return &f, nil
}

// SetFilm overwrites the stored film and records its ID in the all-films set.
func (s *Store) SetFilm(ctx context.Context, f model.Film) error {
	if err := s.setJSON(ctx, s.key("film", f.ID), f); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, s.key("films", "all"), f.ID).Err()
}

// SetCurrentFilms replaces the set of films in the current listing.
func (s *Store) SetCurrentFilms(ctx context.Context, ids []string) error {
	key := s.key("films", "current")
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(ids) > 0 {
			pipe.SAdd(ctx, key, toArgs(ids)...)
			pipe.SAdd(ctx, s.key("films", "all"), toArgs(ids)...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set current films: %w", err)
	}
	return nil
}

// FilmIDs returns the IDs of the current listing, or of every film ever seen
// when all is set.
func (s *Store) FilmIDs(ctx context.Context, all bool) ([]string, error) {
	key := s.key("films", "current")
	if all {
		key = s.key("films", "all")
	}
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("film ids: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Films loads the films for ids, skipping any that are missing.
func (s *Store) Films(ctx context.Context, ids []string) ([]model.Film, error) {
	out := make([]model.Film, 0, len(ids))
	for _, id := range ids {
		f, err := s.Film(ctx, id)
		if err != nil {
			return nil, err
		}
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

// SetCategory overwrites the stored category and records its title in the
// all-categories set.
func (s *Store) SetCategory(ctx context.Context, c model.Category) error {
	if err := s.setJSON(ctx, s.key("category", c.Title), c); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, s.key("categories", "all"), c.Title).Err()
}

// SetCurrentCategories replaces the set of categories on the program page.
func (s *Store) SetCurrentCategories(ctx context.Context, titles []string) error {
	key := s.key("categories", "current")
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(titles) > 0 {
			pipe.SAdd(ctx, key, toArgs(titles)...)
			pipe.SAdd(ctx, s.key("categories", "all"), toArgs(titles)...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set current categories: %w", err)
	}
	return nil
}

// Categories returns the current categories, or every category ever seen when
// all is set, ordered by title.
func (s *Store) Categories(ctx context.Context, all bool) ([]model.Category, error) {
	key := s.key("categories", "current")
	if all {
		key = s.key("categories", "all")
	}
	titles, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	sort.Strings(titles)
	out := make([]model.Category, 0, len(titles))
	for _, t := range titles {
		var c model.Category
		ok, err := s.getJSON(ctx, s.key("category", t), &c)
		if err != nil {
			return nil, err
		}
		if !ok {
			c = model.Category{Title: t}
		}
		out = append(out, c)
	}
	return out, nil
}

// View loads the stored listing and detail for id.
func (s *Store) View(ctx context.Context, id string) (model.ScreeningView, error) {
	basic, err := s.Screening(ctx, id)
	if err != nil {
		return model.ScreeningView{}, err
	}
	detail, err := s.Detail(ctx, id)
	if err != nil {
		return model.ScreeningView{}, err
	}
	return model.ScreeningView{ID: id, Basic: basic, Detail: detail}, nil
}

func toArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
