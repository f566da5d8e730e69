package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"racket/internal/game"
)

func provider(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		switch r.URL.Path {
		case "/auth/v1/user":
			calls.Add(1)
			if r.Header.Get("Authorization") != "Bearer good" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"id":"p-1","email":"vic@example.com"}`))
		case "/auth/v1/token":
			if r.URL.Query().Get("grant_type") == "refresh_token" && strings.Contains(readBody(r), "stale") {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"good","refresh_token":"r","expires_in":3600,"user":{"id":"p-1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readBody(r *http.Request) string {
	b, _ := io.ReadAll(r.Body)
	return string(b)
}

func TestVerify(t *testing.T) {
	var calls atomic.Int32
	srv := provider(t, &calls)
	c := NewSupabaseClient(srv.URL+"/", "anon")
	ctx := context.Background()

	id, err := c.Verify(ctx, "good")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.PlayerID != "p-1" || id.Email != "vic@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if _, err := c.Verify(ctx, "good"); err != nil || calls.Load() != 1 {
		t.Fatalf("second verify should hit the cache: calls=%d err=%v", calls.Load(), err)
	}

	_, err = c.Verify(ctx, "bad")
	if !errors.Is(err, ErrInvalidToken) || !errors.Is(err, game.ErrUnauthorized) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := c.Verify(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token should be rejected, got %v", err)
	}
}

func TestVerifyCacheExpires(t *testing.T) {
	var calls atomic.Int32
	srv := provider(t, &calls)
	c := NewSupabaseClient(srv.URL, "anon")
	clock := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	if _, err := c.Verify(context.Background(), "good"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	clock = clock.Add(defaultVerifyTTL)
	if _, err := c.Verify(context.Background(), "good"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expired entry should be re-verified, calls=%d", calls.Load())
	}
}

func TestLogin(t *testing.T) {
	var calls atomic.Int32
	srv := provider(t, &calls)
	s, err := NewSupabaseClient(srv.URL, "anon").Login(context.Background(), "vic@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.AccessToken != "good" || s.User.PlayerID != "p-1" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := provider(t, &calls)
	s, err := NewSupabaseClient(srv.URL, "anon").Refresh(context.Background(), "r")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if s.AccessToken != "good" || s.RefreshToken != "r" {
		t.Fatalf("unexpected session: %+v", s)
	}

	_, err = NewSupabaseClient(srv.URL, "anon").Refresh(context.Background(), "stale")
	if !errors.Is(err, ErrInvalidCredentials) || !errors.Is(err, game.ErrUnauthorized) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refused grant reported as a bad access token")
	}
}
