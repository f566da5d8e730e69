package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"racket/internal/auth"
	"racket/internal/events"
	"racket/internal/game"
	"racket/internal/ledger"
	"racket/internal/leaderboard"
	"racket/internal/market"
	"racket/internal/store/memstore"
)

type tokens map[string]string

func (t tokens) Verify(_ context.Context, token string) (auth.Identity, error) {
	id, ok := t[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{PlayerID: id}, nil
}

type logins struct{}

func (logins) Login(_ context.Context, email, password string) (auth.Session, error) {
	if email != "bea@example.com" || password != "pw" {
		return auth.Session{}, auth.ErrInvalidCredentials
	}
	return auth.Session{AccessToken: "t-buyer", RefreshToken: "r-buyer", User: auth.Identity{PlayerID: "buyer", Email: email}}, nil
}

func (logins) Refresh(_ context.Context, refreshToken string) (auth.Session, error) {
	if refreshToken != "r-buyer" {
		return auth.Session{}, auth.ErrInvalidCredentials
	}
	return auth.Session{AccessToken: "t-buyer", RefreshToken: "r-buyer-2", User: auth.Identity{PlayerID: "buyer"}}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    game.Code       `json:"code"`
}

type harness struct {
	srv   *httptest.Server
	store *memstore.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memstore.New()
	st.PutPlayer(game.Player{ID: "seller", Username: "sly"}, game.Account{Cash: 1_000})
	st.PutPlayer(game.Player{ID: "buyer", Username: "bea"}, game.Account{Cash: 600})
	st.PutPlayer(game.Player{ID: "boss", Username: "boss", IsAdmin: true}, game.Account{})
	now := func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }

	s := New(nil, Deps{
		Auth:        tokens{"t-seller": "seller", "t-buyer": "buyer", "t-boss": "boss"},
		Login:       logins{},
		Ledger:      ledger.NewService(st, nil),
		Market:      market.NewService(st, nil, market.WithClock(now)),
		Events:      events.NewScheduler(st, nil, now),
		Leaderboard: leaderboard.NewService(st, nil, 0, now),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, store: st}
}

func (h *harness) do(t *testing.T, method, path, token string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, env
}

func TestHealthAndAuth(t *testing.T) {
	h := newHarness(t)
	if code, env := h.do(t, http.MethodGet, "/healthz", "", nil); code != http.StatusOK || !env.Success {
		t.Fatalf("healthz: %d %+v", code, env)
	}
	code, env := h.do(t, http.MethodGet, "/v1/account", "", nil)
	if code != http.StatusUnauthorized || env.Success || env.Code != game.CodeUnauthorized {
		t.Fatalf("missing token: %d %+v", code, env)
	}
	if code, _ := h.do(t, http.MethodGet, "/v1/account", "nope", nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", code)
	}
	code, env = h.do(t, http.MethodGet, "/v1/account", "t-buyer", nil)
	var acct game.Account
	if err := json.Unmarshal(env.Data, &acct); err != nil || code != http.StatusOK || acct.Cash != 600 {
		t.Fatalf("account: %d %+v %v", code, acct, err)
	}
}

func TestListingPurchaseFlow(t *testing.T) {
	h := newHarness(t)
	code, env := h.do(t, http.MethodPost, "/v1/market/listings", "t-seller",
		map[string]any{"type": "item", "title": "crowbar", "price": 500}, "Idempotency-Key", "k1")
	if code != http.StatusCreated || !env.Success {
		t.Fatalf("create: %d %+v", code, env)
	}
	var created market.CreateListingResult
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Seller.Cash != 900 {
		t.Fatalf("listing fee not charged: %+v", created.Seller)
	}

	code, env = h.do(t, http.MethodPost, "/v1/market/listings", "t-seller",
		map[string]any{"type": "item", "title": "crowbar", "price": 500}, "Idempotency-Key", "k1")
	if code != http.StatusConflict || env.Code != game.CodeDuplicate {
		t.Fatalf("replayed create: %d %+v", code, env)
	}

	path := "/v1/market/listings/" + created.Listing.ID + "/buy"
	if code, env := h.do(t, http.MethodPost, path, "t-seller", nil); code != http.StatusBadRequest || env.Code != game.CodeSelfTrade {
		t.Fatalf("self trade: %d %+v", code, env)
	}
	code, env = h.do(t, http.MethodPost, path, "t-buyer", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("buy: %d %+v", code, env)
	}
	var bought market.PurchaseResult
	if err := json.Unmarshal(env.Data, &bought); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bought.Buyer.Cash != 100 || bought.Seller.Cash != 1_350 || bought.Listing.Status != game.ListingSold {
		t.Fatalf("unexpected purchase: %+v", bought)
	}
	if code, env := h.do(t, http.MethodPost, path, "t-buyer", nil); code != http.StatusConflict || env.Code != game.CodeInvalidState {
		t.Fatalf("second buy: %d %+v", code, env)
	}
	if code, env := h.do(t, http.MethodGet, "/v1/market/listings/missing", "t-buyer", nil); code != http.StatusNotFound || env.Code != game.CodeNotFound {
		t.Fatalf("missing listing: %d %+v", code, env)
	}
}

func TestBadJSONIsInvalidInput(t *testing.T) {
	h := newHarness(t)
	code, env := h.do(t, http.MethodPost, "/v1/account/deposit", "t-buyer", map[string]any{"amount": 10, "extra": true})
	if code != http.StatusBadRequest || env.Code != game.CodeInvalidInput {
		t.Fatalf("unknown field: %d %+v", code, env)
	}
	code, env = h.do(t, http.MethodPost, "/v1/account/deposit", "t-buyer", map[string]any{"amount": 100})
	var acct game.Account
	_ = json.Unmarshal(env.Data, &acct)
	if code != http.StatusOK || acct.Cash != 500 || acct.Bank != 100 {
		t.Fatalf("deposit: %d %+v", code, acct)
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)
	if err := h.store.UpsertEventDefinition(context.Background(), game.ScheduledEvent{
		Key:      "rush",
		Schedule: game.Schedule{Minute: 0, Hour: 18, Weekday: game.Any},
		Duration: time.Hour,
		Enabled:  true,
	}); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	if code, env := h.do(t, http.MethodPost, "/v1/admin/players/buyer/cash", "t-seller", map[string]any{"delta": 50}); code != http.StatusForbidden || env.Code != game.CodeUnauthorized {
		t.Fatalf("non-admin: %d %+v", code, env)
	}
	code, env := h.do(t, http.MethodPost, "/v1/admin/players/buyer/cash", "t-boss", map[string]any{"delta": 50})
	var acct game.Account
	_ = json.Unmarshal(env.Data, &acct)
	if code != http.StatusOK || acct.Cash != 650 {
		t.Fatalf("admin cash: %d %+v", code, acct)
	}

	if code, env := h.do(t, http.MethodPost, "/v1/admin/events/rush/start", "t-boss", nil); code != http.StatusOK || !env.Success {
		t.Fatalf("start: %d %+v", code, env)
	}
	participation := map[string]any{"player_id": "buyer", "first_action": true, "actions": 3, "cash_awarded": 40}
	if code, env := h.do(t, http.MethodPost, "/v1/admin/events/rush/participation", "t-seller", participation); code != http.StatusForbidden || env.Code != game.CodeUnauthorized {
		t.Fatalf("non-admin participation: %d %+v", code, env)
	}
	code, env = h.do(t, http.MethodPost, "/v1/admin/events/rush/participation", "t-boss", participation)
	var run game.EventRun
	_ = json.Unmarshal(env.Data, &run)
	if code != http.StatusOK || run.Stats != (game.RunStats{Participants: 1, Actions: 3, CashAwarded: 40}) {
		t.Fatalf("participation: %d %+v", code, run)
	}
	if code, env := h.do(t, http.MethodPost, "/v1/admin/events/rush/cancel", "t-boss", nil); code != http.StatusOK || !env.Success {
		t.Fatalf("cancel: %d %+v", code, env)
	}
	if code, env := h.do(t, http.MethodPost, "/v1/admin/events/rush/participation", "t-boss", participation); code != http.StatusConflict || env.Code != game.CodeInvalidState {
		t.Fatalf("participation after cancel: %d %+v", code, env)
	}
	if code, env := h.do(t, http.MethodPost, "/v1/admin/events/rush/cancel", "t-boss", nil); code != http.StatusConflict || env.Code != game.CodeInvalidState {
		t.Fatalf("second cancel: %d %+v", code, env)
	}
}

func TestLeaderboardFallsBack(t *testing.T) {
	h := newHarness(t)
	code, env := h.do(t, http.MethodGet, "/v1/leaderboard?metric=password&limit=2", "t-buyer", nil)
	var b leaderboard.Board
	if err := json.Unmarshal(env.Data, &b); err != nil || code != http.StatusOK {
		t.Fatalf("leaderboard: %d %v", code, err)
	}
	if b.Metric != leaderboard.DefaultGlobalMetric || len(b.Entries) != 2 || b.Entries[0].PlayerID != "seller" {
		t.Fatalf("unexpected board: %+v", b)
	}
}

func TestLoginAndRefresh(t *testing.T) {
	h := newHarness(t)
	code, env := h.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "bea@example.com", "password": "pw"})
	var sess auth.Session
	if err := json.Unmarshal(env.Data, &sess); err != nil || code != http.StatusOK || sess.AccessToken != "t-buyer" {
		t.Fatalf("login: %d %+v %v", code, sess, err)
	}
	if code, env := h.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "bea@example.com", "password": "nope"}); code != http.StatusUnauthorized || env.Code != game.CodeUnauthorized {
		t.Fatalf("bad password: %d %+v", code, env)
	}
	if code, env := h.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": "expired"}); code != http.StatusUnauthorized || env.Code != game.CodeUnauthorized {
		t.Fatalf("bad refresh token: %d %+v", code, env)
	}

	code, env = h.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": sess.RefreshToken})
	if err := json.Unmarshal(env.Data, &sess); err != nil || code != http.StatusOK || sess.RefreshToken != "r-buyer-2" {
		t.Fatalf("refresh: %d %+v %v", code, sess, err)
	}
}
