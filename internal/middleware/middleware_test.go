package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festwatch/ticketwatch/internal/config"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/utils"
)

const secret = "test-secret"

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func serve(e *echo.Echo, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		req.Header[k] = vs
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, role string) http.Header {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, 42, role, time.Minute, time.Now())
	require.NoError(t, err)
	return http.Header{echo.HeaderAuthorization: {"Bearer " + tok.Token}}
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error {
		return c.String(http.StatusOK, operatorID(c))
	}, JWTAuth(secret), RequireRole(model.RoleAdmin))

	rec := serve(e, http.MethodGet, "/admin", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/admin", http.Header{echo.HeaderAuthorization: {"Bearer nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/admin", bearer(t, "VIEWER"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(e, http.MethodGet, "/admin", bearer(t, model.RoleAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())
}

func TestJWTAuthRejectsOtherSecret(t *testing.T) {
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, JWTAuth("other"))
	rec := serve(e, http.MethodGet, "/admin", bearer(t, model.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func rateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Second,
		TTL:            time.Minute,
		KeyStrategy:    "user_route",
		Prefix:         "rl",
	}
}

func TestTokenBucketTakeAndRefill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewTokenBucket(rateConfig(), newRedis(t), nil)
	b.Now = func() time.Time { return now }
	ctx := context.Background()

	for want := int64(1); want >= 0; want-- {
		d, err := b.Take(ctx, "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
	}
	d, err := b.Take(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	now = now.Add(1500 * time.Millisecond)
	d, err = b.Take(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.Remaining)

	// Other keys have their own bucket.
	d, err = b.Take(ctx, "other")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTokenBucketMiddleware(t *testing.T) {
	cfg := rateConfig()
	cfg.Capacity = 1
	b := NewTokenBucket(cfg, newRedis(t), nil)
	e := echo.New()
	e.POST("/op", func(c echo.Context) error { return c.NoContent(http.StatusAccepted) }, b.Middleware())

	rec := serve(e, http.MethodPost, "/op", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(e, http.MethodPost, "/op", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestTokenBucketFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	b := NewTokenBucket(rateConfig(), rdb, nil)
	e := echo.New()
	e.POST("/op", func(c echo.Context) error { return c.NoContent(http.StatusAccepted) }, b.Middleware())

	rec := serve(e, http.MethodPost, "/op", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRateKeyStrategies(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/screenings/x/purchase", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/screenings/:id/purchase")
	c.Set(ContextOperatorID, "7")

	cfg := rateConfig()
	assert.Equal(t, "rl:user:7:route:POST /v1/screenings/:id/purchase", rateKey(cfg, c))
	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.1", rateKey(cfg, c))
	cfg.KeyStrategy = ""
	assert.Equal(t, "rl:ip:10.0.0.1:user:7:route:POST /v1/screenings/:id/purchase", rateKey(cfg, c))
}

func cacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Enabled:      true,
		Methods:      map[string]bool{http.MethodGet: true},
		TTL:          time.Minute,
		KeyStrategy:  "route_query",
		Prefix:       "cache",
		MaxBodyBytes: 1024,
	}
}

func TestRedisCache(t *testing.T) {
	calls := 0
	e := echo.New()
	e.GET("/v1/screenings/:id", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"id": c.Param("id"), "calls": calls})
	}, NewRedisCache(cacheConfig(), newRedis(t), nil))

	first := serve(e, http.MethodGet, "/v1/screenings/a?x=1", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serve(e, http.MethodGet, "/v1/screenings/a?x=1", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Contains(t, second.Header().Get(echo.HeaderContentType), "application/json")
	assert.Equal(t, 1, calls)

	// Another id, query or a no-cache request reaches the handler.
	serve(e, http.MethodGet, "/v1/screenings/b?x=1", nil)
	serve(e, http.MethodGet, "/v1/screenings/a?x=2", nil)
	serve(e, http.MethodGet, "/v1/screenings/a?x=1", http.Header{"Cache-Control": {"no-cache"}})
	assert.Equal(t, 4, calls)
}

func TestRedisCacheSkipsErrorsAndLargeBodies(t *testing.T) {
	calls := 0
	e := echo.New()
	mw := NewRedisCache(cacheConfig(), newRedis(t), nil)
	e.GET("/missing", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}, mw)
	e.GET("/big", func(c echo.Context) error {
		calls++
		return c.String(http.StatusOK, string(make([]byte, 2048)))
	}, mw)

	serve(e, http.MethodGet, "/missing", nil)
	serve(e, http.MethodGet, "/missing", nil)
	serve(e, http.MethodGet, "/big", nil)
	rec := serve(e, http.MethodGet, "/big", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Len(t, rec.Body.Bytes(), 2048)
	assert.Equal(t, 4, calls)
}

func TestRedisCacheDisabled(t *testing.T) {
	cfg := cacheConfig()
	cfg.Enabled = false
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewRedisCache(cfg, nil, nil))
	rec := serve(e, http.MethodGet, "/x", nil)
	assert.Empty(t, rec.Header().Get("X-Cache"))
}
