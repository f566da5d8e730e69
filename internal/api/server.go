package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"racket/internal/auth"
	"racket/internal/events"
	"racket/internal/game"
	"racket/internal/ledger"
	"racket/internal/leaderboard"
	"racket/internal/market"
)

type contextKey string

const userContextKey contextKey = "user"

// LoginProvider exchanges credentials or a refresh token for a provider
// session. It is optional; without one the auth routes are not mounted.
type LoginProvider interface {
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Session, error)
}

type Deps struct {
	Auth        auth.Verifier
	Login       LoginProvider
	Ledger      *ledger.Service
	Market      *market.Service
	Events      *events.Scheduler
	Leaderboard *leaderboard.Service
}

type Server struct {
	log  *slog.Logger
	deps Deps
	mux  *chi.Mux
}

func New(logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:  logger,
		deps: deps,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, game.Ok(map[string]any{"ok": true}))
	})

	r.Route("/v1", func(r chi.Router) {
		if s.deps.Login != nil {
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/account", s.handleAccount)
			r.Post("/account/deposit", s.handleDeposit)
			r.Post("/account/withdraw", s.handleWithdraw)

			r.Get("/market/listings", s.handleBrowse)
			r.Post("/market/listings", s.handleCreateListing)
			r.Get("/market/listings/{id}", s.handleListing)
			r.Post("/market/listings/{id}/buy", s.handlePurchase)
			r.Post("/market/listings/{id}/cancel", s.handleCancelListing)
			r.Get("/market/listings/{id}/offers", s.handleOffers)
			r.Post("/market/listings/{id}/offers", s.handleMakeOffer)
			r.Post("/market/offers/{id}/accept", s.handleAcceptOffer)
			r.Post("/market/offers/{id}/reject", s.handleRejectOffer)
			r.Post("/market/offers/{id}/withdraw", s.handleWithdrawOffer)

			r.Get("/events", s.handleEvents)
			r.Get("/events/modifiers", s.handleModifiers)

			r.Get("/leaderboard", s.handleLeaderboard)
			r.Get("/leaderboard/weekly", s.handleWeeklyLeaderboard)

			r.Post("/admin/players/{id}/cash", s.handleAdminCash)
			r.Post("/admin/events/{key}/start", s.handleAdminEventStart)
			r.Post("/admin/events/{key}/cancel", s.handleAdminEventCancel)
			r.Post("/admin/events/{key}/participation", s.handleAdminParticipation)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, game.Fail[any](auth.ErrInvalidToken))
			return
		}
		id, err := s.deps.Auth.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, game.ErrUnauthorized) {
				writeJSON(w, http.StatusUnauthorized, game.Fail[any](err))
				return
			}
			s.log.Error("token verification failed", "err", err)
			writeJSON(w, http.StatusBadGateway, game.Result[any]{Error: "identity provider unavailable", Code: game.CodeInternal})
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func playerID(r *http.Request) string {
	id, _ := r.Context().Value(userContextKey).(auth.Identity)
	return id.PlayerID
}

// respond writes the Result envelope for (v, err) with a status derived from
// the error's code.
func respond[T any](s *Server, w http.ResponseWriter, r *http.Request, status int, v T, err error) {
	if err == nil {
		writeJSON(w, status, game.Ok(v))
		return
	}
	code := game.CodeOf(err)
	if code == game.CodeInternal {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err,
			"request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, game.Result[T]{Error: "internal error", Code: code})
		return
	}
	status = statusFor(code)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, game.Fail[T](err))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	respond[any](s, w, r, 0, nil, err)
}

func statusFor(code game.Code) int {
	switch code {
	case game.CodeInvalidInput, game.CodeInsufficientFunds, game.CodeSelfTrade:
		return http.StatusBadRequest
	case game.CodeUnauthorized:
		return http.StatusForbidden
	case game.CodeNotFound:
		return http.StatusNotFound
	case game.CodeInvalidState, game.CodeConflict, game.CodeDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return errors.Join(game.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil {
		return 0
	}
	return v
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
