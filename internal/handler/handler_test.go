package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/festwatch/ticketwatch/internal/apperr"
	"github.com/festwatch/ticketwatch/internal/catalog"
	"github.com/festwatch/ticketwatch/internal/middleware"
	"github.com/festwatch/ticketwatch/internal/model"
	"github.com/festwatch/ticketwatch/internal/repository"
	"github.com/festwatch/ticketwatch/internal/reservation"
	"github.com/festwatch/ticketwatch/internal/scanner"
	"github.com/festwatch/ticketwatch/internal/service"
	"github.com/festwatch/ticketwatch/internal/utils"
)

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.NotFound{Err: errors.New("x")}, http.StatusNotFound},
		{apperr.Contention{Err: errors.New("x")}, http.StatusConflict},
		{apperr.Integrity{Err: errors.New("x")}, http.StatusUnprocessableEntity},
		{apperr.Timeout{Err: errors.New("x")}, http.StatusGatewayTimeout},
		{apperr.External{Err: errors.New("x")}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

type fakeCatalog struct {
	screenings service.ScreeningQuery
	films      service.FilmQuery
	all        bool
	titles     []string
	views      map[string]model.ScreeningView
}

func (f *fakeCatalog) Program(context.Context) ([]string, error) { return []string{"a", "b"}, nil }

func (f *fakeCatalog) Screening(_ context.Context, id string) (model.ScreeningView, error) {
	v, ok := f.views[id]
	if !ok {
		return v, apperr.NotFound{Err: errors.New(id)}
	}
	return v, nil
}

func (f *fakeCatalog) Screenings(_ context.Context, q service.ScreeningQuery) ([]model.ScreeningView, error) {
	f.screenings = q
	return []model.ScreeningView{}, nil
}

func (f *fakeCatalog) Films(_ context.Context, q service.FilmQuery) ([]model.Film, error) {
	f.films = q
	return []model.Film{{ID: "f1"}}, nil
}

func (f *fakeCatalog) Categories(_ context.Context, all bool, titles []string) ([]model.Category, error) {
	f.all, f.titles = all, titles
	return []model.Category{}, nil
}

func catalogServer(cat *fakeCatalog) *echo.Echo {
	h := NewCatalogHandler(cat)
	e := echo.New()
	e.GET("/program", h.Program)
	e.GET("/screenings", h.Screenings)
	e.GET("/screenings/:id", h.Screening)
	e.GET("/films", h.Films)
	e.GET("/categories", h.Categories)
	return e
}

func TestScreeningsParsesQuery(t *testing.T) {
	cat := &fakeCatalog{}
	e := catalogServer(cat)

	rec := do(e, http.MethodGet, "/screenings?sortBy=startTime&titles[]=~alp&titles=Beta&cities[]=parkCity&otherCities[]=Ogden"+
		"&screeningTypes[]=premiere&otherScreeningTypes[]=Special&filmIds[]=f1&categories[]=NEXT&tags[]=Drama&venues[]=~ray"+
		"&soldOut=false&available=true&withFilms=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	q := cat.screenings
	assert.Equal(t, service.SortByStartTime, q.SortBy)
	assert.Equal(t, []string{"Beta", "~alp"}, q.Titles)
	assert.Equal(t, []string{"parkCity", "Ogden"}, q.Cities)
	assert.Equal(t, []string{"premiere", "Special"}, q.ScreeningTypes)
	assert.Equal(t, []string{"f1"}, q.FilmIDs)
	assert.Equal(t, []string{"NEXT"}, q.Categories)
	assert.Equal(t, []string{"Drama"}, q.Tags)
	assert.Equal(t, []string{"~ray"}, q.Venues)
	require.NotNil(t, q.SoldOut)
	assert.False(t, *q.SoldOut)
	require.NotNil(t, q.Available)
	assert.True(t, *q.Available)
	assert.True(t, q.WithFilms)
}

func TestScreeningsRejectsBadQuery(t *testing.T) {
	e := catalogServer(&fakeCatalog{})
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/screenings?sortBy=endTime", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/screenings?soldOut=maybe", "").Code)
}

func TestScreeningUnescapesID(t *testing.T) {
	id := "A - January 20, 2023 - 9:00 PM - 11:00 PM - The Ray Theatre, Park City"
	cat := &fakeCatalog{views: map[string]model.ScreeningView{id: {ID: id}}}
	e := catalogServer(cat)

	rec := do(e, http.MethodGet, "/screenings/A%20-%20January%2020%2C%202023%20-%209:00%20PM%20-%2011:00%20PM%20-%20The%20Ray%20Theatre%2C%20Park%20City", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[model.ScreeningView](t, rec).ID)

	rec = do(e, http.MethodGet, "/screenings/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[map[string]string](t, rec)["kind"])
}

func TestFilmsAndCategoriesParseQuery(t *testing.T) {
	cat := &fakeCatalog{}
	e := catalogServer(cat)

	rec := do(e, http.MethodGet, "/films?all=true&shorts=false&ids[]=f1&titles[]=~a&categories[]=NEXT&tags[]=Drama", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, cat.films.All)
	require.NotNil(t, cat.films.Shorts)
	assert.False(t, *cat.films.Shorts)
	assert.Equal(t, []string{"f1"}, cat.films.IDs)

	rec = do(e, http.MethodGet, "/categories?all=1&titles[]=NEXT", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, cat.all)
	assert.Equal(t, []string{"NEXT"}, cat.titles)

	rec = do(e, http.MethodGet, "/program", "")
	assert.Equal(t, []string{"a", "b"}, decode[[]string](t, rec))
}

type fakeTickets struct {
	err      error
	id       string
	quantity int
	cleared  bool
}

func (f *fakeTickets) RefreshProgram(context.Context) ([]string, error) { return []string{"a"}, f.err }

func (f *fakeTickets) RefreshScreening(_ context.Context, id string) (catalog.Result, error) {
	f.id = id
	return catalog.Result{Index: -1, RefreshedProgram: true}, f.err
}

func (f *fakeTickets) Purchase(_ context.Context, id string, quantity int) (catalog.Result, error) {
	f.id, f.quantity = id, quantity
	return catalog.Result{
		Index:       3,
		Available:   true,
		View:        model.ScreeningView{ID: id},
		Reservation: &reservation.Result{Quantity: quantity, PriceCents: 5400, Purchased: true},
	}, f.err
}

func (f *fakeTickets) ClearCart(context.Context) error {
	f.cleared = true
	return f.err
}

type fakeScanner struct{ running bool }

func (s *fakeScanner) SetRunning(v bool)    { s.running = v }
func (s *fakeScanner) State() scanner.State { return scanner.State{Running: s.running} }

func sessionServer(t *fakeTickets, s *fakeScanner) *echo.Echo {
	h := NewSessionHandler(t, s)
	e := echo.New()
	e.POST("/program/refresh", h.RefreshProgram)
	e.POST("/screenings/:id/refresh", h.RefreshScreening)
	e.POST("/screenings/:id/purchase", h.Purchase)
	e.DELETE("/cart", h.ClearCart)
	e.PUT("/scanner/running/:value", h.SetScannerRunning)
	e.GET("/state", h.State)
	return e
}

func TestPurchaseEndpoint(t *testing.T) {
	tickets := &fakeTickets{}
	e := sessionServer(tickets, &fakeScanner{})

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/screenings/x/purchase", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/screenings/x/purchase?quantity=0", "").Code)

	rec := do(e, http.MethodPost, "/screenings/x/purchase?quantity=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "x", tickets.id)
	assert.Equal(t, 2, tickets.quantity)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, map[string]any{"quantity": float64(2), "priceCents": float64(5400)}, body["purchase"])

	tickets.err = apperr.Integrity{Err: service.ErrPurchaseFailed}
	rec = do(e, http.MethodPost, "/screenings/x/purchase?quantity=2", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRefreshAndCartEndpoints(t *testing.T) {
	tickets := &fakeTickets{}
	e := sessionServer(tickets, &fakeScanner{})

	rec := do(e, http.MethodPost, "/screenings/gone/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["available"])
	assert.Equal(t, float64(-1), body["index"])
	assert.NotContains(t, body, "purchase")

	rec = do(e, http.MethodDelete, "/cart", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, tickets.cleared)

	tickets.err = apperr.Timeout{Err: errors.New("page")}
	rec = do(e, http.MethodPost, "/program/refresh", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestScannerEndpoints(t *testing.T) {
	sc := &fakeScanner{running: true}
	e := sessionServer(&fakeTickets{}, sc)

	rec := do(e, http.MethodPut, "/scanner/running/false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sc.running)
	assert.False(t, decode[scanner.State](t, rec).Running)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPut, "/scanner/running/sometimes", "").Code)

	do(e, http.MethodPut, "/scanner/running/true", "")
	rec = do(e, http.MethodGet, "/state", "")
	assert.True(t, decode[scanner.State](t, rec).Running)
}

type fakePurchases struct {
	query repository.PurchaseQuery
}

func (f *fakePurchases) GetByID(_ context.Context, id uint64) (model.Purchase, error) {
	if id != 1 {
		return model.Purchase{}, repository.ErrPurchaseNotFound
	}
	return model.Purchase{ID: 1, Status: model.PurchaseStatusPurchased}, nil
}

func (f *fakePurchases) List(_ context.Context, q repository.PurchaseQuery) ([]model.Purchase, int64, error) {
	f.query = q
	return []model.Purchase{{ID: 1}}, 1, nil
}

func TestPurchaseLedgerEndpoints(t *testing.T) {
	p := &fakePurchases{}
	h := NewPurchaseHandler(p)
	e := echo.New()
	e.GET("/purchases", h.List)
	e.GET("/purchases/:id", h.Get)

	rec := do(e, http.MethodGet, "/purchases?status=rejected&page=2&page_size=500&screeningId=x", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, repository.PurchaseQuery{ScreeningID: "x", Status: model.PurchaseStatusRejected, Page: 2, PageSize: 100}, p.query)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), body["total"])

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/purchases?status=lost", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/purchases/1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/purchases/2", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/purchases/x", "").Code)
}

type fakeOperators struct{ ops []model.Operator }

func (f *fakeOperators) GetByEmail(_ context.Context, email string) (model.Operator, error) {
	for _, op := range f.ops {
		if op.Email == email {
			return op, nil
		}
	}
	return model.Operator{}, sql.ErrNoRows
}

func (f *fakeOperators) GetByID(_ context.Context, id uint64) (model.Operator, error) {
	for _, op := range f.ops {
		if op.ID == id {
			return op, nil
		}
	}
	return model.Operator{}, sql.ErrNoRows
}

type fakeTokens struct {
	live    map[string]uint64
	revoked []string
}

func (f *fakeTokens) StoreRefresh(_ context.Context, id uint64, hash string, _ time.Time) error {
	f.live[hash] = id
	return nil
}

func (f *fakeTokens) ValidateRefresh(_ context.Context, hash string, _ time.Time) (uint64, error) {
	id, ok := f.live[hash]
	if !ok {
		return 0, repository.ErrInvalidRefresh
	}
	return id, nil
}

func (f *fakeTokens) RevokeByHash(_ context.Context, hash string) error {
	delete(f.live, hash)
	f.revoked = append(f.revoked, hash)
	return nil
}

func authServer(t *testing.T) (*echo.Echo, *fakeTokens) {
	t.Helper()
	hash, err := utils.HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)
	ops := &fakeOperators{ops: []model.Operator{
		{ID: 1, Email: "ops@example.com", PasswordHash: hash, Role: model.RoleAdmin, IsActive: true},
		{ID: 2, Email: "old@example.com", PasswordHash: hash, Role: model.RoleAdmin},
	}}
	tokens := &fakeTokens{live: map[string]uint64{}}
	h := NewAuthHandler(AuthConfig{JWTSecret: "s", AccessTTL: time.Minute, RefreshTTL: time.Hour}, ops, tokens)
	e := echo.New()
	e.POST("/login", h.Login)
	e.POST("/refresh", h.Refresh)
	e.POST("/logout", h.Logout)
	e.GET("/me", h.Me, middleware.JWTAuth("s"))
	return e, tokens
}

func TestLoginRefreshLogout(t *testing.T) {
	e, tokens := authServer(t)

	rec := do(e, http.MethodPost, "/login", `{"email":" OPS@example.com ","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[authResp](t, rec)
	assert.Equal(t, uint64(1), login.Operator.ID)
	assert.NotEmpty(t, login.Access.Token)
	require.Len(t, tokens.live, 1)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+login.Access.Token)
	me := httptest.NewRecorder()
	e.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "ops@example.com", decode[operatorPart](t, me).Email)

	rec = do(e, http.MethodPost, "/refresh", `{"refresh_token":"`+login.Refresh.Token+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[authResp](t, rec)
	assert.NotEqual(t, login.Refresh.Token, rotated.Refresh.Token)
	assert.Len(t, tokens.revoked, 1)

	// The old refresh token is spent.
	rec = do(e, http.MethodPost, "/refresh", `{"refresh_token":"`+login.Refresh.Token+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPost, "/logout", `{"refresh_token":"`+rotated.Refresh.Token+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, tokens.live)
}

func TestLoginRejects(t *testing.T) {
	e, _ := authServer(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing fields", `{"email":""}`, http.StatusBadRequest},
		{"unknown email", `{"email":"who@example.com","password":"correct horse"}`, http.StatusUnauthorized},
		{"wrong password", `{"email":"ops@example.com","password":"wrong horse"}`, http.StatusUnauthorized},
		{"inactive operator", `{"email":"old@example.com","password":"correct horse"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(e, http.MethodPost, "/login", tt.body).Code)
		})
	}
}

type fakeFilms struct {
	listed   int
	searched string
}

func (f *fakeFilms) RefreshFilms(context.Context) ([]model.Film, error) {
	f.listed++
	return []model.Film{{ID: "abc"}, {ID: "def"}}, nil
}

func (f *fakeFilms) RefreshFilm(_ context.Context, id string, shorts bool) (model.Film, error) {
	return model.Film{ID: id, IsShorts: shorts}, nil
}

func (f *fakeFilms) RefreshFilmByTitle(_ context.Context, search string) (model.Film, error) {
	f.searched = search
	if search != "alpha" {
		return model.Film{}, apperr.NotFound{Err: errors.New(search)}
	}
	return model.Film{ID: "abc", Title: "Alpha"}, nil
}

func (f *fakeFilms) RefreshCategories(context.Context) ([]model.Category, error) {
	return []model.Category{}, nil
}

func TestFilmRefreshByTitle(t *testing.T) {
	films := &fakeFilms{}
	h := NewFilmHandler(films)
	e := echo.New()
	e.POST("/films/refresh", h.RefreshFilms)

	rec := do(e, http.MethodPost, "/films/refresh?titleSearch=alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", decode[model.Film](t, rec).ID)
	assert.Zero(t, films.listed)

	rec = do(e, http.MethodPost, "/films/refresh?titleSearch=zeta", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "zeta", films.searched)

	rec = do(e, http.MethodPost, "/films/refresh?titleSearch=%20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Film](t, rec), 2)
	assert.Equal(t, 1, films.listed)
}
