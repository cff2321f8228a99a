package middleware

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/festwatch/ticketwatch/internal/config"
)

// cachedResponse is what the cache stores for one key.
type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// recorder tees the response body into a bounded buffer.
type recorder struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.overflow {
		if r.limit > 0 && r.buf.Len()+len(b) > r.limit {
			r.overflow = true
			r.buf.Reset()
		} else {
			r.buf.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}

func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	var parts []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		parts = []string{"route", c.Path()}
	case "method_route":
		parts = []string{"method", r.Method, "route", c.Path()}
	case "method_route_query":
		parts = []string{"method", r.Method, "route", c.Path(), "q", r.URL.RawQuery}
	default:
		parts = []string{"route", c.Path(), "q", r.URL.RawQuery}
	}
	// Path parameters are part of the request path, not the route pattern.
	parts = append(parts, "p", r.URL.Path)
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%x", cfg.Prefix, sum)
}

// NewRedisCache serves repeated reads of the cached catalog from Redis for
// cfg.TTL. Only 200 responses no larger than cfg.MaxBodyBytes are stored. A
// request with "Cache-Control: no-cache" skips the lookup and refreshes the
// entry.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client, logger *slog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !cfg.Methods[strings.ToUpper(req.Method)] {
				return next(c)
			}
			ctx := req.Context()
			key := cacheKey(cfg, c)
			res := c.Response()

			if !strings.Contains(req.Header.Get("Cache-Control"), "no-cache") {
				if raw, err := rdb.Get(ctx, key).Bytes(); err == nil {
					var hit cachedResponse
					if err := json.Unmarshal(raw, &hit); err == nil {
						for k, vs := range hit.Header {
							if k == echo.HeaderContentLength {
								continue
							}
							res.Header()[k] = vs
						}
						res.Header().Set("X-Cache", "HIT")
						return c.Blob(hit.Status, hit.Header.Get(echo.HeaderContentType), hit.Body)
					}
				}
			}

			rec := &recorder{ResponseWriter: res.Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
			res.Writer = rec
			res.Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if rec.status != http.StatusOK || rec.overflow {
				return nil
			}
			entry := cachedResponse{Status: rec.status, Header: res.Header().Clone(), Body: rec.buf.Bytes()}
			entry.Header.Del("X-Cache")
			payload, err := json.Marshal(entry)
			if err == nil {
				err = rdb.Set(ctx, key, payload, ttl).Err()
			}
			if err != nil {
				logger.Warn("response cache write failed", slog.String("path", req.URL.Path), slog.String("error", err.Error()))
			}
			return nil
		}
	}
}
