package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"racket/internal/game"
)

type tx struct {
	q pgx.Tx
}

var _ game.Tx = (*tx)(nil)

func (t *tx) LockAccounts(ctx context.Context, ids ...string) ([]game.Account, error) {
	uniq := dedupeSorted(ids)
	rows, err := t.q.Query(ctx, `
		SELECT `+accountColumns+`
		FROM game.accounts
		WHERE player_id = ANY($1)
		ORDER BY player_id
		FOR UPDATE
	`, uniq)
	accounts, err := collect(rows, err, scanAccount)
	if err != nil {
		return nil, err
	}
	if len(accounts) != len(uniq) {
		got := make(map[string]bool, len(accounts))
		for _, a := range accounts {
			got[a.PlayerID] = true
		}
		for _, id := range uniq {
			if !got[id] {
				return nil, fmt.Errorf("%w: account %s", game.ErrNotFound, id)
			}
		}
	}
	return accounts, nil
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (t *tx) SaveAccount(ctx context.Context, a game.Account) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE game.accounts
		SET cash = $2, bank = $3, updated_at = now()
		WHERE player_id = $1
	`, a.PlayerID, a.Cash, a.Bank)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", game.ErrNotFound, a.PlayerID)
	}
	return nil
}

func (t *tx) Player(ctx context.Context, id string) (game.Player, error) {
	p, err := scanPlayer(t.q.QueryRow(ctx, `SELECT `+playerColumns+` FROM game.players WHERE id = $1`, id))
	return p, notFound(err, "player", id)
}

func (t *tx) LockPlayer(ctx context.Context, id string) (game.Player, error) {
	p, err := scanPlayer(t.q.QueryRow(ctx, `SELECT `+playerColumns+` FROM game.players WHERE id = $1 FOR UPDATE`, id))
	return p, notFound(err, "player", id)
}

func (t *tx) SavePlayer(ctx context.Context, p game.Player) error {
	_, err := t.q.Exec(ctx, `
		UPDATE game.players
		SET level = $2, experience = $3, respect = $4, heat = $5, energy = $6, max_energy = $7,
		    newbie_protected = $8, protected_until = $9, crew_id = $10, updated_at = now()
		WHERE id = $1
	`, p.ID, p.Level, p.Experience, p.Respect, p.Heat, p.Energy, p.MaxEnergy,
		p.NewbieProtected, p.ProtectedUntil, nullable(p.CrewID))
	return err
}

func (t *tx) LockListing(ctx context.Context, id string) (game.Listing, error) {
	l, err := scanListing(t.q.QueryRow(ctx, `SELECT `+listingColumns+` FROM market.listings WHERE id = $1 FOR UPDATE`, id))
	return l, notFound(err, "listing", id)
}

func (t *tx) InsertListing(ctx context.Context, l game.Listing) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO market.listings (
			id, seller_id, type, title, description, price, listing_fee, min_offer,
			district_id, status, buyer_id, sale_price, closed_at, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, l.ID, l.SellerID, string(l.Type), l.Title, l.Description, l.Price, l.ListingFee, l.MinOffer,
		nullable(l.DistrictID), string(l.Status), nullable(l.BuyerID), l.SalePrice, l.ClosedAt, l.CreatedAt, l.ExpiresAt)
	return err
}

func (t *tx) SaveListing(ctx context.Context, l game.Listing) error {
	_, err := t.q.Exec(ctx, `
		UPDATE market.listings
		SET status = $2, buyer_id = $3, sale_price = $4, closed_at = $5
		WHERE id = $1
	`, l.ID, string(l.Status), nullable(l.BuyerID), l.SalePrice, l.ClosedAt)
	return err
}

func (t *tx) Offer(ctx context.Context, id string) (game.Offer, error) {
	o, err := scanOffer(t.q.QueryRow(ctx, `SELECT `+offerColumns+` FROM market.offers WHERE id = $1`, id))
	return o, notFound(err, "offer", id)
}

func (t *tx) OfferByBuyer(ctx context.Context, listingID, buyerID string) (game.Offer, error) {
	o, err := scanOffer(t.q.QueryRow(ctx, `
		SELECT `+offerColumns+`
		FROM market.offers
		WHERE listing_id = $1 AND buyer_id = $2
	`, listingID, buyerID))
	return o, notFound(err, "offer", listingID+"/"+buyerID)
}

func (t *tx) InsertOffer(ctx context.Context, o game.Offer) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO market.offers (id, listing_id, buyer_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.ListingID, o.BuyerID, o.Amount, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: offer already exists for listing %s", game.ErrInvalidState, o.ListingID)
	}
	return err
}

func (t *tx) SaveOffer(ctx context.Context, o game.Offer) error {
	_, err := t.q.Exec(ctx, `
		UPDATE market.offers
		SET amount = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, o.ID, o.Amount, string(o.Status), o.UpdatedAt)
	return err
}

func (t *tx) RejectPendingOffers(ctx context.Context, listingID, exceptOfferID string, now time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE market.offers
		SET status = 'rejected', updated_at = $3
		WHERE listing_id = $1 AND status = 'pending' AND id <> $2
	`, listingID, exceptOfferID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *tx) InsertTransaction(ctx context.Context, tr game.Transaction) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO market.transactions (
			id, listing_id, offer_id, seller_id, buyer_id, price, fee, listing_fee,
			item_type, item_title, item_description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, tr.ID, tr.ListingID, nullable(tr.OfferID), tr.SellerID, tr.BuyerID, tr.Price, tr.Fee, tr.ListingFee,
		string(tr.Item.Type), tr.Item.Title, tr.Item.Description, tr.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: listing %s already has a transaction", game.ErrInvalidState, tr.ListingID)
	}
	return err
}

func (t *tx) ClaimIdempotency(ctx context.Context, playerID, key, action string) error {
	if key == "" {
		return fmt.Errorf("%w: idempotency key is required", game.ErrInvalidInput)
	}
	tag, err := t.q.Exec(ctx, `
		INSERT INTO game.idempotency_keys (player_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (player_id, key) DO NOTHING
	`, playerID, key, action)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return game.ErrDuplicateRequest
	}
	return nil
}

func (t *tx) AddWeeklyStat(ctx context.Context, d game.WeeklyStat) error {
	if d.PlayerID == "" {
		return errors.New("pgstore: weekly stat without player")
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO game.weekly_stats (
			player_id, week_start, cash_earned, heat_gained, best_heist_payout, heists_completed, xp_earned
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (player_id, week_start) DO UPDATE SET
			cash_earned = game.weekly_stats.cash_earned + EXCLUDED.cash_earned,
			heat_gained = game.weekly_stats.heat_gained + EXCLUDED.heat_gained,
			best_heist_payout = GREATEST(game.weekly_stats.best_heist_payout, EXCLUDED.best_heist_payout),
			heists_completed = game.weekly_stats.heists_completed + EXCLUDED.heists_completed,
			xp_earned = game.weekly_stats.xp_earned + EXCLUDED.xp_earned
	`, d.PlayerID, game.WeekStart(d.WeekStart), d.CashEarned, d.HeatGained, d.BestHeistPayout, d.HeistsCompleted, d.XPEarned)
	return err
}

func (t *tx) LockEvent(ctx context.Context, key string) (game.ScheduledEvent, error) {
	ev, err := scanEvent(t.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM game.world_events WHERE key = $1 FOR UPDATE`, key))
	if err != nil {
		return ev, notFound(err, "event", key)
	}
	ev.Modifiers, err = loadModifiers(ctx, t.q, key)
	return ev, err
}

// SaveEvent persists runtime state only; definitions are written through
// Store.UpsertEventDefinition.
func (t *tx) SaveEvent(ctx context.Context, ev game.ScheduledEvent) error {
	_, err := t.q.Exec(ctx, `
		UPDATE game.world_events
		SET enabled = $2, running = $3, next_trigger_at = $4, last_triggered_at = $5, updated_at = now()
		WHERE key = $1
	`, ev.Key, ev.Enabled, ev.Running, ev.NextTriggerAt, ev.LastTriggeredAt)
	return err
}

func (t *tx) ActiveRun(ctx context.Context, eventKey string) (game.EventRun, error) {
	return activeRun(ctx, t.q, eventKey)
}

func activeRun(ctx context.Context, q querier, eventKey string) (game.EventRun, error) {
	r, err := scanRun(q.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM game.world_event_runs
		WHERE event_key = $1 AND status = 'active'
	`, eventKey))
	return r, notFound(err, "active run", eventKey)
}

func (t *tx) InsertRun(ctx context.Context, r game.EventRun) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO game.world_event_runs (
			id, event_key, status, started_at, scheduled_end_at, ended_at, participants, actions, cash_awarded
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.EventKey, string(r.Status), r.StartedAt, r.ScheduledEndAt, r.EndedAt,
		r.Stats.Participants, r.Stats.Actions, r.Stats.CashAwarded)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: event %s already has an active run", game.ErrInvalidState, r.EventKey)
	}
	return err
}

func (t *tx) SaveRun(ctx context.Context, r game.EventRun) error {
	_, err := t.q.Exec(ctx, `
		UPDATE game.world_event_runs
		SET status = $2, ended_at = $3, participants = $4, actions = $5, cash_awarded = $6
		WHERE id = $1
	`, r.ID, string(r.Status), r.EndedAt, r.Stats.Participants, r.Stats.Actions, r.Stats.CashAwarded)
	return err
}

func (t *tx) LockBusiness(ctx context.Context, id string) (game.Business, error) {
	b, err := scanBusiness(t.q.QueryRow(ctx, `SELECT `+businessColumns+` FROM game.businesses WHERE id = $1 FOR UPDATE`, id))
	return b, notFound(err, "business", id)
}

func (t *tx) SaveBusiness(ctx context.Context, b game.Business) error {
	_, err := t.q.Exec(ctx, `
		UPDATE game.businesses
		SET open = $2, total_revenue = $3, total_expenses = $4, last_accrued_at = $5, updated_at = now()
		WHERE id = $1
	`, b.ID, b.Open, b.TotalRevenue, b.TotalExpenses, b.LastAccruedAt)
	return err
}

func (t *tx) LockDistrict(ctx context.Context, id string) (game.District, error) {
	d, err := scanDistrict(t.q.QueryRow(ctx, `SELECT `+districtColumns+` FROM game.districts WHERE id = $1 FOR UPDATE`, id))
	return d, notFound(err, "district", id)
}

func (t *tx) SaveDistrict(ctx context.Context, d game.District) error {
	_, err := t.q.Exec(ctx, `
		UPDATE game.districts
		SET crime_rate = $2, economy_level = $3, updated_at = now()
		WHERE id = $1
	`, d.ID, d.CrimeRate, d.EconomyLevel)
	return err
}

func (t *tx) LockCrew(ctx context.Context, id string) (game.Crew, error) {
	c, err := scanCrew(t.q.QueryRow(ctx, `SELECT `+crewColumns+` FROM game.crews WHERE id = $1 FOR UPDATE`, id))
	return c, notFound(err, "crew", id)
}

func (t *tx) SaveCrew(ctx context.Context, c game.Crew) error {
	_, err := t.q.Exec(ctx, `
		UPDATE game.crews
		SET level = $2, experience = $3, max_members = $4, updated_at = now()
		WHERE id = $1
	`, c.ID, c.Level, c.Experience, c.MaxMembers)
	return err
}
