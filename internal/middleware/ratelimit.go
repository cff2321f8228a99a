package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/festwatch/ticketwatch/internal/config"
)

// tokenBucketScript refills and takes one token atomically. It returns
// {allowed, tokens left, ms until the next refill}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now_ms
end

local steps = math.floor(math.max(0, now_ms - last) / interval_ms)
if steps > 0 then
	tokens = math.min(capacity, tokens + steps * refill)
	last = last + steps * interval_ms
end

local allowed = 0
local wait_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	wait_ms = math.max(0, interval_ms - (now_ms - last))
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', last)
redis.call('EXPIRE', key, ttl)
return {allowed, tokens, wait_ms}
`)

// Decision is the outcome of one TokenBucket.Take.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// TokenBucket limits the operations that drive the browser session, keyed by
// operator and route.
type TokenBucket struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
	log *slog.Logger
	Now func() time.Time
}

// NewTokenBucket returns a limiter backed by rdb.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, logger *slog.Logger) *TokenBucket {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenBucket{cfg: cfg, rdb: rdb, log: logger, Now: time.Now}
}

// Take removes one token from the bucket at key.
func (b *TokenBucket) Take(ctx context.Context, key string) (Decision, error) {
	vals, err := tokenBucketScript.Run(ctx, b.rdb, []string{key},
		b.Now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(vals))
	}
	return Decision{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Middleware answers 429 once the caller's bucket is empty. Redis failures
// let the request through.
func (b *TokenBucket) Middleware() echo.MiddlewareFunc {
	if !b.cfg.Enabled || b.rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(b.cfg, c)
			d, err := b.Take(c.Request().Context(), key)
			if err != nil {
				b.log.Warn("rate limit check failed", slog.String("key", key), slog.String("error", err.Error()))
				return next(c)
			}
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(b.cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			if b.cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if d.Allowed {
				return next(c)
			}
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			b.log.Info("rate limited", slog.String("key", key), slog.Int("retry_after", secs))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too_many_requests",
				"retry_after": secs,
			})
		}
	}
}

func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	op := operatorID(c)
	route := c.Request().Method + " " + c.Path()

	var parts []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = []string{"ip", ip}
	case "user":
		parts = []string{"user", op}
	case "route":
		parts = []string{"route", route}
	case "ip_route":
		parts = []string{"ip", ip, "route", route}
	case "user_route":
		parts = []string{"user", op, "route", route}
	default:
		parts = []string{"ip", ip, "user", op, "route", route}
	}
	return cfg.Prefix + ":" + strings.Join(parts, ":")
}
