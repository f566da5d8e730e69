package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"racket/internal/events"
	"racket/internal/game"
	"racket/internal/market"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.deps.Login.Login(r.Context(), strings.TrimSpace(in.Email), in.Password)
	respond(s, w, r, http.StatusOK, session, err)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.deps.Login.Refresh(r.Context(), strings.TrimSpace(in.RefreshToken))
	respond(s, w, r, http.StatusOK, session, err)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.deps.Ledger.Account(r.Context(), playerID(r))
	respond(s, w, r, http.StatusOK, acct, err)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var in amountRequest
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	acct, err := s.deps.Ledger.Deposit(r.Context(), playerID(r), in.Amount)
	respond(s, w, r, http.StatusOK, acct, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var in amountRequest
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	acct, err := s.deps.Ledger.Withdraw(r.Context(), playerID(r), in.Amount)
	respond(s, w, r, http.StatusOK, acct, err)
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listings, err := s.deps.Market.Browse(r.Context(), game.ListingFilter{
		Type:       game.ListingType(q.Get("type")),
		DistrictID: strings.TrimSpace(q.Get("district")),
		SellerID:   strings.TrimSpace(q.Get("seller")),
		Limit:      queryInt(r, "limit"),
	})
	respond(s, w, r, http.StatusOK, listings, err)
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var in market.CreateListingInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	in.SellerID = playerID(r)
	in.IdempotencyKey = idempotencyKey(r)
	res, err := s.deps.Market.Create(r.Context(), in)
	respond(s, w, r, http.StatusCreated, res, err)
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.deps.Market.Listing(r.Context(), chi.URLParam(r, "id"))
	respond(s, w, r, http.StatusOK, l, err)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Market.Purchase(r.Context(), chi.URLParam(r, "id"), playerID(r), idempotencyKey(r))
	respond(s, w, r, http.StatusOK, res, err)
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Market.Cancel(r.Context(), chi.URLParam(r, "id"), playerID(r))
	respond(s, w, r, http.StatusOK, res, err)
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.deps.Market.Offers(r.Context(), chi.URLParam(r, "id"), playerID(r))
	respond(s, w, r, http.StatusOK, offers, err)
}

func (s *Server) handleMakeOffer(w http.ResponseWriter, r *http.Request) {
	var in amountRequest
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.deps.Market.MakeOffer(r.Context(), chi.URLParam(r, "id"), playerID(r), in.Amount)
	respond(s, w, r, http.StatusCreated, o, err)
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Market.AcceptOffer(r.Context(), chi.URLParam(r, "id"), playerID(r))
	respond(s, w, r, http.StatusOK, res, err)
}

func (s *Server) handleRejectOffer(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Market.RejectOffer(r.Context(), chi.URLParam(r, "id"), playerID(r))
	respond(s, w, r, http.StatusOK, o, err)
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Market.WithdrawOffer(r.Context(), chi.URLParam(r, "id"), playerID(r))
	respond(s, w, r, http.StatusOK, o, err)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := s.deps.Events.Events(r.Context())
	respond(s, w, r, http.StatusOK, evs, err)
}

func (s *Server) handleModifiers(w http.ResponseWriter, r *http.Request) {
	mods, err := s.deps.Events.ActiveModifiers(r.Context(), strings.TrimSpace(r.URL.Query().Get("district")))
	respond(s, w, r, http.StatusOK, mods, err)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Leaderboard.Global(r.Context(), r.URL.Query().Get("metric"), queryInt(r, "limit"))
	respond(s, w, r, http.StatusOK, b, err)
}

func (s *Server) handleWeeklyLeaderboard(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Leaderboard.Weekly(r.Context(), r.URL.Query().Get("metric"), queryInt(r, "limit"))
	respond(s, w, r, http.StatusOK, b, err)
}

func (s *Server) handleAdminCash(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Delta int64 `json:"delta"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	acct, err := s.deps.Ledger.AdminAdjust(r.Context(), playerID(r), chi.URLParam(r, "id"), in.Delta)
	respond(s, w, r, http.StatusOK, acct, err)
}

func (s *Server) handleAdminEventStart(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Events.Start(r.Context(), playerID(r), chi.URLParam(r, "key"))
	respond(s, w, r, http.StatusOK, run, err)
}

func (s *Server) handleAdminEventCancel(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Events.Cancel(r.Context(), playerID(r), chi.URLParam(r, "key"))
	respond(s, w, r, http.StatusOK, run, err)
}

func (s *Server) handleAdminParticipation(w http.ResponseWriter, r *http.Request) {
	var in events.Participation
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	run, err := s.deps.Events.AdminRecordParticipation(r.Context(), playerID(r), chi.URLParam(r, "key"), in)
	respond(s, w, r, http.StatusOK, run, err)
}
