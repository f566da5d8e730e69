package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"racket/internal/auth"
	"racket/internal/events"
	"racket/internal/game"
	"racket/internal/leaderboard"
	"racket/internal/market"
)

// APIError is a failed Result envelope returned by the server.
type APIError struct {
	Status  int
	Code    game.Code
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server, as opposed to a
// transport failure.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.call(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, "", &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	var out auth.Session
	err := c.call(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": refreshToken,
	}, "", &out)
	return out, err
}

func (c *Client) Account(ctx context.Context, token string) (game.Account, error) {
	var out game.Account
	err := c.call(ctx, http.MethodGet, "/v1/account", token, nil, "", &out)
	return out, err
}

func (c *Client) Deposit(ctx context.Context, token string, amount int64) (game.Account, error) {
	var out game.Account
	err := c.call(ctx, http.MethodPost, "/v1/account/deposit", token, map[string]any{"amount": amount}, "", &out)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, token string, amount int64) (game.Account, error) {
	var out game.Account
	err := c.call(ctx, http.MethodPost, "/v1/account/withdraw", token, map[string]any{"amount": amount}, "", &out)
	return out, err
}

func (c *Client) Browse(ctx context.Context, token, listingType, district string, limit int) ([]game.Listing, error) {
	q := url.Values{}
	if listingType != "" {
		q.Set("type", listingType)
	}
	if district != "" {
		q.Set("district", district)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/market/listings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []game.Listing
	err := c.call(ctx, http.MethodGet, path, token, nil, "", &out)
	return out, err
}

func (c *Client) CreateListing(ctx context.Context, token string, in market.CreateListingInput, idem string) (market.CreateListingResult, error) {
	var out market.CreateListingResult
	err := c.call(ctx, http.MethodPost, "/v1/market/listings", token, in, idem, &out)
	return out, err
}

func (c *Client) Buy(ctx context.Context, token, listingID, idem string) (market.PurchaseResult, error) {
	var out market.PurchaseResult
	err := c.call(ctx, http.MethodPost, listingPath(listingID, "buy"), token, nil, idem, &out)
	return out, err
}

func (c *Client) CancelListing(ctx context.Context, token, listingID string) (market.CancelResult, error) {
	var out market.CancelResult
	err := c.call(ctx, http.MethodPost, listingPath(listingID, "cancel"), token, nil, "", &out)
	return out, err
}

func (c *Client) Offers(ctx context.Context, token, listingID string) ([]game.Offer, error) {
	var out []game.Offer
	err := c.call(ctx, http.MethodGet, listingPath(listingID, "offers"), token, nil, "", &out)
	return out, err
}

func (c *Client) MakeOffer(ctx context.Context, token, listingID string, amount int64) (game.Offer, error) {
	var out game.Offer
	err := c.call(ctx, http.MethodPost, listingPath(listingID, "offers"), token, map[string]any{"amount": amount}, "", &out)
	return out, err
}

func (c *Client) AcceptOffer(ctx context.Context, token, offerID string) (market.PurchaseResult, error) {
	var out market.PurchaseResult
	err := c.call(ctx, http.MethodPost, offerPath(offerID, "accept"), token, nil, "", &out)
	return out, err
}

// CloseOffer rejects (seller) or withdraws (buyer) an offer.
func (c *Client) CloseOffer(ctx context.Context, token, offerID, action string) (game.Offer, error) {
	if action != "reject" && action != "withdraw" {
		return game.Offer{}, fmt.Errorf("unknown offer action %q", action)
	}
	var out game.Offer
	err := c.call(ctx, http.MethodPost, offerPath(offerID, action), token, nil, "", &out)
	return out, err
}

func (c *Client) Events(ctx context.Context, token string) ([]game.ScheduledEvent, error) {
	var out []game.ScheduledEvent
	err := c.call(ctx, http.MethodGet, "/v1/events", token, nil, "", &out)
	return out, err
}

func (c *Client) Modifiers(ctx context.Context, token, district string) (game.ModifierSet, error) {
	var out game.ModifierSet
	err := c.call(ctx, http.MethodGet, "/v1/events/modifiers?district="+url.QueryEscape(district), token, nil, "", &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, token string, weekly bool, metric string, limit int) (leaderboard.Board, error) {
	path := "/v1/leaderboard"
	if weekly {
		path += "/weekly"
	}
	q := url.Values{}
	if metric != "" {
		q.Set("metric", metric)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out leaderboard.Board
	err := c.call(ctx, http.MethodGet, path, token, nil, "", &out)
	return out, err
}

func (c *Client) AdminCash(ctx context.Context, token, playerID string, delta int64) (game.Account, error) {
	var out game.Account
	err := c.call(ctx, http.MethodPost, "/v1/admin/players/"+url.PathEscape(playerID)+"/cash", token, map[string]any{"delta": delta}, "", &out)
	return out, err
}

// AdminEvent force-starts or cancels a world event.
func (c *Client) AdminEvent(ctx context.Context, token, key, action string) (game.EventRun, error) {
	if action != "start" && action != "cancel" {
		return game.EventRun{}, fmt.Errorf("unknown event action %q", action)
	}
	var out game.EventRun
	err := c.call(ctx, http.MethodPost, "/v1/admin/events/"+url.PathEscape(key)+"/"+action, token, nil, "", &out)
	return out, err
}

func (c *Client) AdminParticipation(ctx context.Context, token, key string, p events.Participation) (game.EventRun, error) {
	var out game.EventRun
	err := c.call(ctx, http.MethodPost, "/v1/admin/events/"+url.PathEscape(key)+"/participation", token, p, "", &out)
	return out, err
}

// Do sends a raw request and discards the payload.
func (c *Client) Do(ctx context.Context, method, path, token string, body json.RawMessage, idem string) error {
	var in any
	if len(body) > 0 {
		in = body
	}
	return c.call(ctx, method, path, token, in, idem, nil)
}

func listingPath(id, action string) string {
	return "/v1/market/listings/" + url.PathEscape(id) + "/" + action
}

func offerPath(id, action string) string {
	return "/v1/market/offers/" + url.PathEscape(id) + "/" + action
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    game.Code       `json:"code"`
}

func (c *Client) call(ctx context.Context, method, path, token string, in any, idem string, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
