package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"racket/internal/game"
)

const playerColumns = `
	id, username, level, experience, respect, heat, energy, max_energy,
	newbie_protected, protected_until, COALESCE(crew_id, ''), is_admin`

func scanPlayer(row pgx.Row) (game.Player, error) {
	var p game.Player
	err := row.Scan(&p.ID, &p.Username, &p.Level, &p.Experience, &p.Respect, &p.Heat, &p.Energy, &p.MaxEnergy,
		&p.NewbieProtected, &p.ProtectedUntil, &p.CrewID, &p.IsAdmin)
	return p, err
}

const accountColumns = `player_id, cash, bank, updated_at`

func scanAccount(row pgx.Row) (game.Account, error) {
	var a game.Account
	err := row.Scan(&a.PlayerID, &a.Cash, &a.Bank, &a.UpdatedAt)
	return a, err
}

const listingColumns = `
	id, seller_id, type, title, description, price, listing_fee, min_offer,
	COALESCE(district_id, ''), status, COALESCE(buyer_id, ''), sale_price,
	closed_at, created_at, expires_at`

func scanListing(row pgx.Row) (game.Listing, error) {
	var l game.Listing
	var typ, status string
	err := row.Scan(&l.ID, &l.SellerID, &typ, &l.Title, &l.Description, &l.Price, &l.ListingFee, &l.MinOffer,
		&l.DistrictID, &status, &l.BuyerID, &l.SalePrice,
		&l.ClosedAt, &l.CreatedAt, &l.ExpiresAt)
	l.Type = game.ListingType(typ)
	l.Status = game.ListingStatus(status)
	return l, err
}

const offerColumns = `id, listing_id, buyer_id, amount, status, created_at, updated_at`

func scanOffer(row pgx.Row) (game.Offer, error) {
	var o game.Offer
	var status string
	err := row.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.Amount, &status, &o.CreatedAt, &o.UpdatedAt)
	o.Status = game.OfferStatus(status)
	return o, err
}

const eventColumns = `
	key, name, minute, hour, weekday, duration_seconds, COALESCE(district_id, ''),
	enabled, running, next_trigger_at, last_triggered_at`

func scanEvent(row pgx.Row) (game.ScheduledEvent, error) {
	var ev game.ScheduledEvent
	var seconds int64
	err := row.Scan(&ev.Key, &ev.Name, &ev.Schedule.Minute, &ev.Schedule.Hour, &ev.Schedule.Weekday, &seconds,
		&ev.DistrictID, &ev.Enabled, &ev.Running, &ev.NextTriggerAt, &ev.LastTriggeredAt)
	ev.Duration = time.Duration(seconds) * time.Second
	return ev, err
}

func loadModifiers(ctx context.Context, q querier, eventKey string) ([]game.Modifier, error) {
	rows, err := q.Query(ctx, `
		SELECT key, op, value
		FROM game.world_event_modifiers
		WHERE event_key = $1
		ORDER BY position
	`, eventKey)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.Modifier, error) {
		var m game.Modifier
		var key, op string
		if err := row.Scan(&key, &op, &m.Value); err != nil {
			return m, err
		}
		m.Key = game.ModifierKey(key)
		m.Op = game.ModifierOp(op)
		return m, m.Validate()
	})
}

func replaceModifiers(ctx context.Context, q querier, eventKey string, mods []game.Modifier) error {
	if _, err := q.Exec(ctx, `DELETE FROM game.world_event_modifiers WHERE event_key = $1`, eventKey); err != nil {
		return err
	}
	for i, m := range mods {
		if _, err := q.Exec(ctx, `
			INSERT INTO game.world_event_modifiers (event_key, position, key, op, value)
			VALUES ($1, $2, $3, $4, $5)
		`, eventKey, i, string(m.Key), string(m.Op), m.Value); err != nil {
			return err
		}
	}
	return nil
}

const runColumns = `
	id, event_key, status, started_at, scheduled_end_at, ended_at,
	participants, actions, cash_awarded`

func scanRun(row pgx.Row) (game.EventRun, error) {
	var r game.EventRun
	var status string
	err := row.Scan(&r.ID, &r.EventKey, &status, &r.StartedAt, &r.ScheduledEndAt, &r.EndedAt,
		&r.Stats.Participants, &r.Stats.Actions, &r.Stats.CashAwarded)
	r.Status = game.RunStatus(status)
	return r, err
}

const businessColumns = `
	id, COALESCE(owner_id, ''), name, open, base_income, upgrade_level, efficiency_bonus,
	employee_count, hourly_cost, total_revenue, total_expenses, last_accrued_at`

func scanBusiness(row pgx.Row) (game.Business, error) {
	var b game.Business
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Open, &b.BaseIncome, &b.UpgradeLevel, &b.EfficiencyBonus,
		&b.EmployeeCount, &b.HourlyCost, &b.TotalRevenue, &b.TotalExpenses, &b.LastAccruedAt)
	return b, err
}

const districtColumns = `id, name, crime_rate, economy_level`

func scanDistrict(row pgx.Row) (game.District, error) {
	var d game.District
	err := row.Scan(&d.ID, &d.Name, &d.CrimeRate, &d.EconomyLevel)
	return d, err
}

const crewColumns = `id, name, level, experience, max_members`

func scanCrew(row pgx.Row) (game.Crew, error) {
	var c game.Crew
	err := row.Scan(&c.ID, &c.Name, &c.Level, &c.Experience, &c.MaxMembers)
	return c, err
}

// collect adapts a single-row scanner to pgx.CollectRows.
func collect[T any](rows pgx.Rows, err error, scan func(pgx.Row) (T, error)) ([]T, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		return scan(row)
	})
}
