package game

import (
	"context"
	"fmt"
	"time"
)

// Store is the transactional entity store shared by every subsystem.
//
// InTx runs fn inside one all-or-nothing transaction. Lock* methods on Tx take
// an exclusive row lock held until the transaction commits or rolls back.
// Missing rows are reported as ErrNotFound.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Player(ctx context.Context, id string) (Player, error)
	Account(ctx context.Context, playerID string) (Account, error)

	Listing(ctx context.Context, id string) (Listing, error)
	ActiveListings(ctx context.Context, filter ListingFilter) ([]Listing, error)
	ExpiredListingIDs(ctx context.Context, now time.Time) ([]string, error)
	Offers(ctx context.Context, listingID string) ([]Offer, error)

	Events(ctx context.Context) ([]ScheduledEvent, error)
	UpsertEventDefinition(ctx context.Context, ev ScheduledEvent) error
	ActiveRun(ctx context.Context, eventKey string) (EventRun, error)

	PlayersBelowEnergyCap(ctx context.Context) ([]string, error)
	PlayersWithHeat(ctx context.Context) ([]string, error)
	ProtectedPlayers(ctx context.Context) ([]string, error)
	OpenBusinesses(ctx context.Context) ([]string, error)
	Districts(ctx context.Context) ([]District, error)
	DistrictActivity(ctx context.Context, since time.Time) (map[string]DistrictActivity, error)
	Crews(ctx context.Context) ([]string, error)
	CrewMemberExperience(ctx context.Context, crewID string) (int64, error)
	PurgeWeeklyStats(ctx context.Context, before time.Time) (int64, error)
	PurgeSessions(ctx context.Context, now time.Time) (int64, error)
	PurgeIdempotencyKeys(ctx context.Context, before time.Time) (int64, error)

	Standings(ctx context.Context) ([]Standing, error)
	WeeklyStandings(ctx context.Context, weekStart time.Time) ([]WeeklyStanding, error)
}

type Tx interface {
	// LockAccounts locks the accounts of ids in ascending id order and
	// returns them in that order. Duplicate ids are collapsed.
	LockAccounts(ctx context.Context, ids ...string) ([]Account, error)
	SaveAccount(ctx context.Context, a Account) error

	Player(ctx context.Context, id string) (Player, error)
	LockPlayer(ctx context.Context, id string) (Player, error)
	SavePlayer(ctx context.Context, p Player) error

	LockListing(ctx context.Context, id string) (Listing, error)
	InsertListing(ctx context.Context, l Listing) error
	SaveListing(ctx context.Context, l Listing) error

	// Offer rows are guarded by their listing's lock.
	Offer(ctx context.Context, id string) (Offer, error)
	OfferByBuyer(ctx context.Context, listingID, buyerID string) (Offer, error)
	InsertOffer(ctx context.Context, o Offer) error
	SaveOffer(ctx context.Context, o Offer) error
	RejectPendingOffers(ctx context.Context, listingID, exceptOfferID string, now time.Time) (int64, error)

	InsertTransaction(ctx context.Context, t Transaction) error
	// ClaimIdempotency records (playerID, key) once; a second claim returns
	// ErrDuplicateRequest.
	ClaimIdempotency(ctx context.Context, playerID, key, action string) error
	// AddWeeklyStat adds delta's counters to the (player, week) row, creating
	// it on first write. BestHeistPayout is kept as a maximum.
	AddWeeklyStat(ctx context.Context, delta WeeklyStat) error

	LockEvent(ctx context.Context, key string) (ScheduledEvent, error)
	SaveEvent(ctx context.Context, ev ScheduledEvent) error
	ActiveRun(ctx context.Context, eventKey string) (EventRun, error)
	InsertRun(ctx context.Context, run EventRun) error
	SaveRun(ctx context.Context, run EventRun) error

	LockBusiness(ctx context.Context, id string) (Business, error)
	SaveBusiness(ctx context.Context, b Business) error
	LockDistrict(ctx context.Context, id string) (District, error)
	SaveDistrict(ctx context.Context, d District) error
	LockCrew(ctx context.Context, id string) (Crew, error)
	SaveCrew(ctx context.Context, c Crew) error
}

// RequireAdmin re-reads the caller's capability flag inside tx.
func RequireAdmin(ctx context.Context, tx Tx, playerID string) error {
	p, err := tx.Player(ctx, playerID)
	if err != nil {
		return err
	}
	if !p.IsAdmin {
		return fmt.Errorf("%w: %s is not an admin", ErrUnauthorized, playerID)
	}
	return nil
}
