// Package market runs the player-to-player marketplace: listings, direct
// purchases, offers, cancellation and the expiry sweep. Money moves through
// the ledger helpers inside the same store transaction as the listing change.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"racket/internal/audit"
	"racket/internal/game"
	"racket/internal/ledger"
	"racket/internal/telemetry"
)

const (
	DefaultBrowseLimit = 20
	MaxBrowseLimit     = 100
)

type Service struct {
	store      game.Store
	audit      audit.Log
	log        *slog.Logger
	now        func() time.Time
	listingTTL time.Duration
	tracer     trace.Tracer
}

type Option func(*Service)

func WithAudit(l audit.Log) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithListingTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.listingTTL = d
		}
	}
}

func NewService(store game.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:      store,
		audit:      audit.Nop{},
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
		listingTTL: game.DefaultListingTTL,
		tracer:     telemetry.Tracer("market"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type CreateListingInput struct {
	SellerID       string           `json:"-"`
	Type           game.ListingType `json:"type"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Price          int64            `json:"price"`
	MinOffer       int64            `json:"min_offer"`
	DistrictID     string           `json:"district_id"`
	IdempotencyKey string           `json:"-"`
}

func (in CreateListingInput) validate() error {
	if err := game.ValidateListingType(in.Type); err != nil {
		return err
	}
	if err := game.ValidateListingText(in.Title, in.Description); err != nil {
		return err
	}
	if in.Price <= 0 {
		return fmt.Errorf("%w: price must be > 0", game.ErrInvalidInput)
	}
	if in.MinOffer < 0 || in.MinOffer > in.Price {
		return fmt.Errorf("%w: min offer must be between 0 and the price", game.ErrInvalidInput)
	}
	return nil
}

type CreateListingResult struct {
	Listing game.Listing `json:"listing"`
	Seller  game.Account `json:"seller"`
}

// Create charges the non-refundable listing fee and opens an active listing.
func (s *Service) Create(ctx context.Context, in CreateListingInput) (res CreateListingResult, err error) {
	ctx, span := s.tracer.Start(ctx, "market.Create")
	defer func() { endSpan(span, err) }()

	in.Type = game.ListingType(strings.ToLower(strings.TrimSpace(string(in.Type))))
	if err := in.validate(); err != nil {
		return CreateListingResult{}, err
	}
	now := s.now()
	fee := game.ListingFee(in.Price)

	err = s.store.InTx(ctx, func(tx game.Tx) error {
		if in.IdempotencyKey != "" {
			if err := tx.ClaimIdempotency(ctx, in.SellerID, in.IdempotencyKey, "market.create"); err != nil {
				return err
			}
		}
		accts, err := tx.LockAccounts(ctx, in.SellerID)
		if err != nil {
			return err
		}
		seller := accts[0]
		if in.DistrictID != "" {
			if err := requireDistrict(ctx, tx, in.DistrictID); err != nil {
				return err
			}
		}
		if err := ledger.DebitTx(ctx, tx, &seller, fee); err != nil {
			return err
		}
		l := game.Listing{
			ID:          uuid.NewString(),
			SellerID:    in.SellerID,
			Type:        in.Type,
			Title:       strings.TrimSpace(in.Title),
			Description: strings.TrimSpace(in.Description),
			Price:       in.Price,
			ListingFee:  fee,
			MinOffer:    in.MinOffer,
			DistrictID:  in.DistrictID,
			Status:      game.ListingActive,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.listingTTL),
		}
		if err := tx.InsertListing(ctx, l); err != nil {
			return err
		}
		res = CreateListingResult{Listing: l, Seller: seller}
		return nil
	})
	if err != nil {
		return CreateListingResult{}, err
	}
	span.SetAttributes(attribute.String("listing_id", res.Listing.ID))
	s.log.Info("listing created", "listing_id", res.Listing.ID, "seller", in.SellerID, "price", in.Price, "fee", fee)
	return res, nil
}

type PurchaseResult struct {
	Listing     game.Listing     `json:"listing"`
	Transaction game.Transaction `json:"transaction"`
	Buyer       game.Account     `json:"buyer"`
	Seller      game.Account     `json:"seller"`
}

// Purchase buys an active listing at its asking price.
func (s *Service) Purchase(ctx context.Context, listingID, buyerID, idempotencyKey string) (res PurchaseResult, err error) {
	ctx, span := s.tracer.Start(ctx, "market.Purchase", trace.WithAttributes(attribute.String("listing_id", listingID)))
	defer func() { endSpan(span, err) }()

	now := s.now()
	err = s.store.InTx(ctx, func(tx game.Tx) error {
		if idempotencyKey != "" {
			if err := tx.ClaimIdempotency(ctx, buyerID, idempotencyKey, "market.purchase"); err != nil {
				return err
			}
		}
		l, err := tx.LockListing(ctx, listingID)
		if err != nil {
			return err
		}
		if err := requireOpen(l, now); err != nil {
			return err
		}
		if l.SellerID == buyerID {
			return game.ErrSelfTrade
		}
		res, err = s.settle(ctx, tx, l, buyerID, l.Price, "", now)
		return err
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.afterSale(ctx, res)
	return res, nil
}

func requireDistrict(ctx context.Context, tx game.Tx, id string) error {
	_, err := tx.LockDistrict(ctx, id)
	if errors.Is(err, game.ErrNotFound) {
		return fmt.Errorf("%w: unknown district %q", game.ErrInvalidInput, id)
	}
	return err
}

func requireOpen(l game.Listing, now time.Time) error {
	if l.Status != game.ListingActive {
		return fmt.Errorf("%w: listing %s is %s", game.ErrInvalidState, l.ID, l.Status)
	}
	if l.Expired(now) {
		return fmt.Errorf("%w: listing %s has expired", game.ErrInvalidState, l.ID)
	}
	return nil
}

// settle moves price from buyer to seller minus the transaction fee and closes
// the listing. The listing must already be locked by tx.
func (s *Service) settle(ctx context.Context, tx game.Tx, l game.Listing, buyerID string, price int64, offerID string, now time.Time) (PurchaseResult, error) {
	buyer, seller, err := ledger.LockPair(ctx, tx, buyerID, l.SellerID)
	if err != nil {
		return PurchaseResult{}, err
	}
	fee := game.TransactionFee(price)
	// The minimum fee can exceed a small sale price; the seller then nets zero.
	fee = min(fee, price)
	if err := ledger.TransferTx(ctx, tx, &buyer, &seller, price, fee); err != nil {
		return PurchaseResult{}, err
	}

	closedAt := now
	l.Status = game.ListingSold
	l.BuyerID = buyerID
	l.SalePrice = price
	l.ClosedAt = &closedAt
	if err := tx.SaveListing(ctx, l); err != nil {
		return PurchaseResult{}, err
	}
	if _, err := tx.RejectPendingOffers(ctx, l.ID, offerID, now); err != nil {
		return PurchaseResult{}, err
	}

	record := game.Transaction{
		ID:         uuid.NewString(),
		ListingID:  l.ID,
		OfferID:    offerID,
		SellerID:   l.SellerID,
		BuyerID:    buyerID,
		Price:      price,
		Fee:        fee,
		ListingFee: l.ListingFee,
		Item:       game.ItemSnapshot{Type: l.Type, Title: l.Title, Description: l.Description},
		CreatedAt:  now,
	}
	if err := tx.InsertTransaction(ctx, record); err != nil {
		return PurchaseResult{}, err
	}
	if err := tx.AddWeeklyStat(ctx, game.WeeklyStat{PlayerID: l.SellerID, WeekStart: now, CashEarned: price - fee}); err != nil {
		return PurchaseResult{}, err
	}
	return PurchaseResult{Listing: l, Transaction: record, Buyer: buyer, Seller: seller}, nil
}

func (s *Service) afterSale(ctx context.Context, res PurchaseResult) {
	t := res.Transaction
	s.log.Info("listing sold", "listing_id", t.ListingID, "buyer", t.BuyerID, "seller", t.SellerID, "price", t.Price, "fee", t.Fee)
	err := s.audit.Record(ctx, audit.Entry{
		Kind:  audit.KindMarketSale,
		Actor: t.BuyerID,
		At:    t.CreatedAt,
		Data: map[string]any{
			"transaction_id": t.ID,
			"listing_id":     t.ListingID,
			"offer_id":       t.OfferID,
			"seller_id":      t.SellerID,
			"price":          t.Price,
			"fee":            t.Fee,
			"item_type":      string(t.Item.Type),
		},
	})
	if err != nil {
		s.log.Warn("audit record failed", "listing_id", t.ListingID, "err", err)
	}
}

type CancelResult struct {
	Listing game.Listing `json:"listing"`
	Refund  int64        `json:"refund"`
	Seller  game.Account `json:"seller"`
}

// Cancel closes the seller's active listing and refunds half the listing fee.
func (s *Service) Cancel(ctx context.Context, listingID, sellerID string) (res CancelResult, err error) {
	ctx, span := s.tracer.Start(ctx, "market.Cancel", trace.WithAttributes(attribute.String("listing_id", listingID)))
	defer func() { endSpan(span, err) }()

	now := s.now()
	lapsed := false
	err = s.store.InTx(ctx, func(tx game.Tx) error {
		l, err := tx.LockListing(ctx, listingID)
		if err != nil {
			return err
		}
		if l.SellerID != sellerID {
			return fmt.Errorf("%w: only the seller can cancel", game.ErrUnauthorized)
		}
		if l.Status != game.ListingActive {
			return fmt.Errorf("%w: listing %s is %s", game.ErrInvalidState, l.ID, l.Status)
		}
		// A lapsed listing expires here rather than waiting for the sweep,
		// so it never earns a cancel refund.
		if l.Expired(now) {
			lapsed = true
			return expireTx(ctx, tx, &l, now)
		}
		accts, err := tx.LockAccounts(ctx, sellerID)
		if err != nil {
			return err
		}
		seller := accts[0]
		refund := game.CancelRefund(l.ListingFee)
		if err := ledger.CreditTx(ctx, tx, &seller, refund); err != nil {
			return err
		}
		closedAt := now
		l.Status = game.ListingCancelled
		l.ClosedAt = &closedAt
		if err := tx.SaveListing(ctx, l); err != nil {
			return err
		}
		if _, err := tx.RejectPendingOffers(ctx, l.ID, "", now); err != nil {
			return err
		}
		res = CancelResult{Listing: l, Refund: refund, Seller: seller}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	if lapsed {
		s.log.Info("listing expired on cancel", "listing_id", listingID)
		return CancelResult{}, fmt.Errorf("%w: listing %s has expired", game.ErrInvalidState, listingID)
	}
	s.log.Info("listing cancelled", "listing_id", listingID, "refund", res.Refund)
	return res, nil
}

type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// SweepExpired moves every active listing past its expiry to expired. No fee
// is refunded. Each listing is re-checked under its lock, so a repeated sweep
// changes nothing.
func (s *Service) SweepExpired(ctx context.Context) (res SweepResult, err error) {
	ctx, span := s.tracer.Start(ctx, "market.SweepExpired")
	defer func() { endSpan(span, err) }()

	now := s.now()
	ids, err := s.store.ExpiredListingIDs(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	res.Scanned = len(ids)
	for _, id := range ids {
		changed, err := s.expire(ctx, id, now)
		if err != nil {
			res.Failed++
			s.log.Warn("listing expiry failed", "listing_id", id, "err", err)
			continue
		}
		if changed {
			res.Expired++
		}
	}
	span.SetAttributes(attribute.Int("expired", res.Expired))
	return res, nil
}

func (s *Service) expire(ctx context.Context, listingID string, now time.Time) (bool, error) {
	changed := false
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		l, err := tx.LockListing(ctx, listingID)
		if err != nil {
			return err
		}
		if l.Status != game.ListingActive || !l.Expired(now) {
			return nil
		}
		if err := expireTx(ctx, tx, &l, now); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// expireTx closes a locked active listing as expired with no refund and
// rejects its pending offers.
func expireTx(ctx context.Context, tx game.Tx, l *game.Listing, now time.Time) error {
	closedAt := now
	l.Status = game.ListingExpired
	l.ClosedAt = &closedAt
	if err := tx.SaveListing(ctx, *l); err != nil {
		return err
	}
	_, err := tx.RejectPendingOffers(ctx, l.ID, "", now)
	return err
}

func (s *Service) Listing(ctx context.Context, id string) (game.Listing, error) {
	return s.store.Listing(ctx, id)
}

// Browse lists active listings, newest first.
func (s *Service) Browse(ctx context.Context, f game.ListingFilter) ([]game.Listing, error) {
	if f.Type != "" {
		f.Type = game.ListingType(strings.ToLower(strings.TrimSpace(string(f.Type))))
		if err := game.ValidateListingType(f.Type); err != nil {
			return nil, err
		}
	}
	f.Limit = clampLimit(f.Limit)
	out, err := s.store.ActiveListings(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []game.Listing{}
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultBrowseLimit
	}
	return min(limit, MaxBrowseLimit)
}
