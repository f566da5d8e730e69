package market

import (
	"context"
	"errors"
	"testing"

	"racket/internal/game"
	"racket/internal/ledger"
)

func TestOfferValidation(t *testing.T) {
	f := newFixture(t, map[string]int64{"seller": 1_000, "buyer": 1_000})
	ctx := context.Background()
	res, err := f.svc.Create(ctx, CreateListingInput{SellerID: "seller", Type: game.ListingItem, Title: "lockpick", Price: 500, MinOffer: 300})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := res.Listing.ID

	for _, amount := range []int64{0, 299, 501} {
		if _, err := f.svc.MakeOffer(ctx, id, "buyer", amount); !errors.Is(err, game.ErrInvalidInput) {
			t.Fatalf("amount %d: expected invalid input, got %v", amount, err)
		}
	}
	if _, err := f.svc.MakeOffer(ctx, id, "seller", 400); !errors.Is(err, game.ErrSelfTrade) {
		t.Fatalf("expected self trade, got %v", err)
	}
}

func TestOfferResubmitAndRevive(t *testing.T) {
	f := newFixture(t, map[string]int64{"seller": 1_000, "buyer": 1_000, "other": 0})
	ctx := context.Background()
	l := f.list(t, "seller", 500)

	first, err := f.svc.MakeOffer(ctx, l.ID, "buyer", 300)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	second, err := f.svc.MakeOffer(ctx, l.ID, "buyer", 350)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID || second.Amount != 350 || second.Status != game.OfferPending {
		t.Fatalf("resubmit should update the same row: %+v", second)
	}

	if _, err := f.svc.WithdrawOffer(ctx, first.ID, "other"); !errors.Is(err, game.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	withdrawn, err := f.svc.WithdrawOffer(ctx, first.ID, "buyer")
	if err != nil || withdrawn.Status != game.OfferWithdrawn {
		t.Fatalf("withdraw: %+v %v", withdrawn, err)
	}
	if _, err := f.svc.WithdrawOffer(ctx, first.ID, "buyer"); !errors.Is(err, game.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	revived, err := f.svc.MakeOffer(ctx, l.ID, "buyer", 320)
	if err != nil {
		t.Fatalf("revive: %v", err)
	}
	if revived.ID != first.ID || revived.Status != game.OfferPending {
		t.Fatalf("withdrawn offer should be revived: %+v", revived)
	}

	if _, err := f.svc.RejectOffer(ctx, first.ID, "buyer"); !errors.Is(err, game.ErrUnauthorized) {
		t.Fatalf("buyer cannot reject, got %v", err)
	}
	rejected, err := f.svc.RejectOffer(ctx, first.ID, "seller")
	if err != nil || rejected.Status != game.OfferRejected {
		t.Fatalf("reject: %+v %v", rejected, err)
	}

	mine, _ := f.svc.Offers(ctx, l.ID, "buyer")
	theirs, _ := f.svc.Offers(ctx, l.ID, "other")
	if len(mine) != 1 || len(theirs) != 0 {
		t.Fatalf("visibility mismatch: mine=%d theirs=%d", len(mine), len(theirs))
	}
}

func TestAcceptOfferSettlesAtOfferedAmount(t *testing.T) {
	f := newFixture(t, map[string]int64{"seller": 1_000, "alice": 1_000, "bob": 1_000})
	ctx := context.Background()
	l := f.list(t, "seller", 500)

	aliceOffer, err := f.svc.MakeOffer(ctx, l.ID, "alice", 400)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	bobOffer, err := f.svc.MakeOffer(ctx, l.ID, "bob", 350)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	if _, err := f.svc.AcceptOffer(ctx, aliceOffer.ID, "bob"); !errors.Is(err, game.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	res, err := f.svc.AcceptOffer(ctx, aliceOffer.ID, "seller")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Listing.Status != game.ListingSold || res.Listing.SalePrice != 400 || res.Transaction.OfferID != aliceOffer.ID {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.cash(t, "alice") != 600 || f.cash(t, "seller") != 900+350 || f.cash(t, "bob") != 1_000 {
		t.Fatalf("balances alice=%d seller=%d bob=%d", f.cash(t, "alice"), f.cash(t, "seller"), f.cash(t, "bob"))
	}

	offers, _ := f.svc.Offers(ctx, l.ID, "seller")
	status := map[string]game.OfferStatus{}
	for _, o := range offers {
		status[o.ID] = o.Status
	}
	if status[aliceOffer.ID] != game.OfferAccepted || status[bobOffer.ID] != game.OfferRejected {
		t.Fatalf("unexpected offer states: %+v", status)
	}

	if _, err := f.svc.MakeOffer(ctx, l.ID, "alice", 450); !errors.Is(err, game.ErrInvalidState) {
		t.Fatalf("offer on sold listing should be invalid state, got %v", err)
	}
	if _, err := f.svc.AcceptOffer(ctx, bobOffer.ID, "seller"); !errors.Is(err, game.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestAcceptOfferInsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t, map[string]int64{"seller": 1_000, "buyer": 400})
	ctx := context.Background()
	l := f.list(t, "seller", 500)

	o, err := f.svc.MakeOffer(ctx, l.ID, "buyer", 400)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if _, err := ledger.NewService(f.store, nil).Debit(ctx, "buyer", 1); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := f.svc.AcceptOffer(ctx, o.ID, "seller"); !errors.Is(err, game.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	got, _ := f.svc.Listing(ctx, l.ID)
	offers, _ := f.svc.Offers(ctx, l.ID, "seller")
	if got.Status != game.ListingActive || offers[0].Status != game.OfferPending {
		t.Fatalf("failed accept must leave state untouched: %s %s", got.Status, offers[0].Status)
	}
}
