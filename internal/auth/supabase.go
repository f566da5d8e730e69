// Package auth resolves bearer tokens to player identities against a
// Supabase-compatible identity provider. The provider's user id is the
// player id.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"racket/internal/game"
)

var (
	// ErrInvalidToken is returned when the provider rejects an access token.
	ErrInvalidToken = fmt.Errorf("%w: invalid access token", game.ErrUnauthorized)
	// ErrInvalidCredentials is returned when a password or refresh grant is
	// refused.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", game.ErrUnauthorized)
)

type Identity struct {
	PlayerID string `json:"id"`
	Email    string `json:"email"`
}

type Verifier interface {
	Verify(ctx context.Context, accessToken string) (Identity, error)
}

type Session struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	TokenType    string   `json:"token_type"`
	User         Identity `json:"user"`
}

const (
	verifiedCacheSize = 4096
	defaultVerifyTTL  = time.Minute
)

type verified struct {
	id Identity
	at time.Time
}

type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	verified   *lru.Cache
	verifyTTL  time.Duration
	now        func() time.Time
}

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	cache, _ := lru.New(verifiedCacheSize)
	return &SupabaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		verified:  cache,
		verifyTTL: defaultVerifyTTL,
		now:       time.Now,
	}
}

func (c *SupabaseClient) Login(ctx context.Context, email, password string) (Session, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	var out Session
	if err := c.postJSON(ctx, "/auth/v1/token?grant_type=password", payload, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

func (c *SupabaseClient) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var out Session
	if err := c.postJSON(ctx, "/auth/v1/token?grant_type=refresh_token", map[string]string{"refresh_token": refreshToken}, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

// Verify resolves accessToken to an identity. Successful lookups are cached
// for a minute so a burst of requests costs one provider round trip.
func (c *SupabaseClient) Verify(ctx context.Context, accessToken string) (Identity, error) {
	if accessToken == "" {
		return Identity{}, ErrInvalidToken
	}
	if v, ok := c.verified.Get(accessToken); ok {
		if hit, ok := v.(verified); ok && c.now().Sub(hit.at) < c.verifyTTL {
			return hit.id, nil
		}
		c.verified.Remove(accessToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Identity{}, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Identity{}, fmt.Errorf("verify token status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("decode user: %w", err)
	}
	if id.PlayerID == "" {
		return Identity{}, ErrInvalidToken
	}
	c.verified.Add(accessToken, verified{id: id, at: c.now()})
	return id, nil
}

func (c *SupabaseClient) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidCredentials
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("supabase status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
