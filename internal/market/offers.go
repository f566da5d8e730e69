package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"racket/internal/game"
)

// MakeOffer records a buyer's offer on an active listing. A buyer holds one
// offer row per listing: resubmitting updates a pending offer and revives a
// withdrawn or rejected one.
func (s *Service) MakeOffer(ctx context.Context, listingID, buyerID string, amount int64) (game.Offer, error) {
	now := s.now()
	var out game.Offer
	err := s.store.InTx(ctx, func(tx game.Tx) error {
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
		if amount <= 0 || amount < l.MinOffer || amount > l.Price {
			return fmt.Errorf("%w: offer must be between %d and %d", game.ErrInvalidInput, max(l.MinOffer, 1), l.Price)
		}

		o, err := tx.OfferByBuyer(ctx, listingID, buyerID)
		switch {
		case errors.Is(err, game.ErrNotFound):
			out = game.Offer{
				ID:        uuid.NewString(),
				ListingID: listingID,
				BuyerID:   buyerID,
				Amount:    amount,
				Status:    game.OfferPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return tx.InsertOffer(ctx, out)
		case err != nil:
			return err
		}
		if o.Status == game.OfferAccepted {
			return fmt.Errorf("%w: offer %s was already accepted", game.ErrInvalidState, o.ID)
		}
		o.Amount = amount
		o.Status = game.OfferPending
		o.UpdatedAt = now
		out = o
		return tx.SaveOffer(ctx, o)
	})
	if err != nil {
		return game.Offer{}, err
	}
	s.log.Info("offer placed", "listing_id", listingID, "offer_id", out.ID, "buyer", buyerID, "amount", amount)
	return out, nil
}

// lockOffer locks the listing an offer belongs to and re-reads the offer
// under that lock.
func lockOffer(ctx context.Context, tx game.Tx, offerID string) (game.Offer, game.Listing, error) {
	o, err := tx.Offer(ctx, offerID)
	if err != nil {
		return game.Offer{}, game.Listing{}, err
	}
	l, err := tx.LockListing(ctx, o.ListingID)
	if err != nil {
		return game.Offer{}, game.Listing{}, err
	}
	o, err = tx.Offer(ctx, offerID)
	if err != nil {
		return game.Offer{}, game.Listing{}, err
	}
	return o, l, nil
}

func requirePending(o game.Offer) error {
	if o.Status != game.OfferPending {
		return fmt.Errorf("%w: offer %s is %s", game.ErrInvalidState, o.ID, o.Status)
	}
	return nil
}

func (s *Service) WithdrawOffer(ctx context.Context, offerID, buyerID string) (game.Offer, error) {
	return s.closeOffer(ctx, offerID, game.OfferWithdrawn, func(o game.Offer, _ game.Listing) error {
		if o.BuyerID != buyerID {
			return fmt.Errorf("%w: only the buyer can withdraw", game.ErrUnauthorized)
		}
		return nil
	})
}

func (s *Service) RejectOffer(ctx context.Context, offerID, sellerID string) (game.Offer, error) {
	return s.closeOffer(ctx, offerID, game.OfferRejected, func(_ game.Offer, l game.Listing) error {
		if l.SellerID != sellerID {
			return fmt.Errorf("%w: only the seller can reject", game.ErrUnauthorized)
		}
		return nil
	})
}

func (s *Service) closeOffer(ctx context.Context, offerID string, status game.OfferStatus, authorize func(game.Offer, game.Listing) error) (game.Offer, error) {
	now := s.now()
	var out game.Offer
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		o, l, err := lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if err := authorize(o, l); err != nil {
			return err
		}
		if err := requirePending(o); err != nil {
			return err
		}
		o.Status = status
		o.UpdatedAt = now
		out = o
		return tx.SaveOffer(ctx, o)
	})
	if err != nil {
		return game.Offer{}, err
	}
	s.log.Info("offer closed", "offer_id", offerID, "status", status)
	return out, nil
}

// AcceptOffer sells the listing to the offer's buyer at the offered amount,
// with the same fee and locking rules as Purchase.
func (s *Service) AcceptOffer(ctx context.Context, offerID, sellerID string) (res PurchaseResult, err error) {
	ctx, span := s.tracer.Start(ctx, "market.AcceptOffer", trace.WithAttributes(attribute.String("offer_id", offerID)))
	defer func() { endSpan(span, err) }()

	now := s.now()
	err = s.store.InTx(ctx, func(tx game.Tx) error {
		o, l, err := lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if l.SellerID != sellerID {
			return fmt.Errorf("%w: only the seller can accept", game.ErrUnauthorized)
		}
		if err := requirePending(o); err != nil {
			return err
		}
		if err := requireOpen(l, now); err != nil {
			return err
		}
		res, err = s.settle(ctx, tx, l, o.BuyerID, o.Amount, o.ID, now)
		if err != nil {
			return err
		}
		o.Status = game.OfferAccepted
		o.UpdatedAt = now
		return tx.SaveOffer(ctx, o)
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.afterSale(ctx, res)
	return res, nil
}

// Offers returns the offers on a listing visible to viewerID: the seller sees
// every offer, anyone else only their own.
func (s *Service) Offers(ctx context.Context, listingID, viewerID string) ([]game.Offer, error) {
	l, err := s.store.Listing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.Offers(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID == viewerID {
		if all == nil {
			all = []game.Offer{}
		}
		return all, nil
	}
	out := []game.Offer{}
	for _, o := range all {
		if o.BuyerID == viewerID {
			out = append(out, o)
		}
	}
	return out, nil
}
