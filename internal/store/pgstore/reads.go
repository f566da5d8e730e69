package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"racket/internal/game"
)

func (s *Store) Player(ctx context.Context, id string) (game.Player, error) {
	p, err := scanPlayer(s.db.QueryRow(ctx, `SELECT `+playerColumns+` FROM game.players WHERE id = $1`, id))
	return p, notFound(err, "player", id)
}

func (s *Store) Account(ctx context.Context, playerID string) (game.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM game.accounts WHERE player_id = $1`, playerID))
	return a, notFound(err, "account", playerID)
}

func (s *Store) Listing(ctx context.Context, id string) (game.Listing, error) {
	l, err := scanListing(s.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM market.listings WHERE id = $1`, id))
	return l, notFound(err, "listing", id)
}

func (s *Store) ActiveListings(ctx context.Context, f game.ListingFilter) ([]game.Listing, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+listingColumns+`
		FROM market.listings
		WHERE status = 'active'
		  AND ($1 = '' OR type = $1)
		  AND ($2 = '' OR district_id = $2)
		  AND ($3 = '' OR seller_id = $3)
		ORDER BY created_at DESC, id
		LIMIT $4
	`, string(f.Type), f.DistrictID, f.SellerID, limit)
	return collect(rows, err, scanListing)
}

func (s *Store) ExpiredListingIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM market.listings
		WHERE status = 'active' AND expires_at < $1
		ORDER BY id
	`, now)
	return collectStrings(rows, err)
}

func (s *Store) Offers(ctx context.Context, listingID string) ([]game.Offer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+offerColumns+`
		FROM market.offers
		WHERE listing_id = $1
		ORDER BY created_at, id
	`, listingID)
	return collect(rows, err, scanOffer)
}

func (s *Store) Events(ctx context.Context) ([]game.ScheduledEvent, error) {
	rows, err := s.db.Query(ctx, `SELECT `+eventColumns+` FROM game.world_events ORDER BY key`)
	events, err := collect(rows, err, scanEvent)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Modifiers, err = loadModifiers(ctx, s.db, events[i].Key)
		if err != nil {
			return nil, err
		}
	}
	return events, nil
}

// UpsertEventDefinition writes the catalog fields of ev. Runtime state is left
// alone, except that a changed schedule clears the cached next trigger.
func (s *Store) UpsertEventDefinition(ctx context.Context, ev game.ScheduledEvent) error {
	return pgx.BeginFunc(ctx, s.db, func(pgtx pgx.Tx) error {
		_, err := pgtx.Exec(ctx, `
			INSERT INTO game.world_events (key, name, minute, hour, weekday, duration_seconds, district_id, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (key) DO UPDATE SET
				name = EXCLUDED.name,
				next_trigger_at = CASE
					WHEN (game.world_events.minute, game.world_events.hour, game.world_events.weekday)
					   = (EXCLUDED.minute, EXCLUDED.hour, EXCLUDED.weekday)
					THEN game.world_events.next_trigger_at
					ELSE NULL
				END,
				minute = EXCLUDED.minute,
				hour = EXCLUDED.hour,
				weekday = EXCLUDED.weekday,
				duration_seconds = EXCLUDED.duration_seconds,
				district_id = EXCLUDED.district_id,
				enabled = EXCLUDED.enabled,
				updated_at = now()
		`, ev.Key, ev.Name, ev.Schedule.Minute, ev.Schedule.Hour, ev.Schedule.Weekday,
			int64(ev.Duration/time.Second), nullable(ev.DistrictID), ev.Enabled)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: district %s", game.ErrNotFound, ev.DistrictID)
		}
		if err != nil {
			return err
		}
		return replaceModifiers(ctx, pgtx, ev.Key, ev.Modifiers)
	})
}

func (s *Store) ActiveRun(ctx context.Context, eventKey string) (game.EventRun, error) {
	return activeRun(ctx, s.db, eventKey)
}

func (s *Store) PlayersBelowEnergyCap(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM game.players WHERE energy < max_energy ORDER BY id`)
	return collectStrings(rows, err)
}

func (s *Store) PlayersWithHeat(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM game.players WHERE heat > 0 ORDER BY id`)
	return collectStrings(rows, err)
}

func (s *Store) ProtectedPlayers(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM game.players WHERE newbie_protected ORDER BY id`)
	return collectStrings(rows, err)
}

func (s *Store) OpenBusinesses(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM game.businesses WHERE open AND owner_id IS NOT NULL ORDER BY id`)
	return collectStrings(rows, err)
}

func (s *Store) Districts(ctx context.Context) ([]game.District, error) {
	rows, err := s.db.Query(ctx, `SELECT `+districtColumns+` FROM game.districts ORDER BY id`)
	return collect(rows, err, scanDistrict)
}

func (s *Store) DistrictActivity(ctx context.Context, since time.Time) (map[string]game.DistrictActivity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT district_id, sum(crimes), sum(trades)
		FROM (
			SELECT district_id, count(*) AS crimes, 0::bigint AS trades
			FROM game.crime_log
			WHERE created_at >= $1
			GROUP BY district_id
			UNION ALL
			SELECT l.district_id, 0::bigint, count(*)
			FROM market.transactions t
			JOIN market.listings l ON l.id = t.listing_id
			WHERE t.created_at >= $1 AND l.district_id IS NOT NULL
			GROUP BY l.district_id
		) activity
		GROUP BY district_id
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]game.DistrictActivity{}
	for rows.Next() {
		var id string
		var a game.DistrictActivity
		if err := rows.Scan(&id, &a.Crimes, &a.Trades); err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, rows.Err()
}

func (s *Store) Crews(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM game.crews ORDER BY id`)
	return collectStrings(rows, err)
}

func (s *Store) CrewMemberExperience(ctx context.Context, crewID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(sum(experience), 0)::bigint
		FROM game.players
		WHERE crew_id = $1
	`, crewID).Scan(&total)
	return total, err
}

func (s *Store) PurgeWeeklyStats(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM game.weekly_stats WHERE week_start < $1`, game.WeekStart(before))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PurgeSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM game.sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PurgeIdempotencyKeys(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM game.idempotency_keys WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Standings(ctx context.Context) ([]game.Standing, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.username, COALESCE(a.cash, 0), COALESCE(a.bank, 0), p.experience, p.level, p.respect
		FROM game.players p
		LEFT JOIN game.accounts a ON a.player_id = p.id
	`)
	return collect(rows, err, func(row pgx.Row) (game.Standing, error) {
		var st game.Standing
		err := row.Scan(&st.PlayerID, &st.Username, &st.Cash, &st.Bank, &st.Experience, &st.Level, &st.Respect)
		return st, err
	})
}

func (s *Store) WeeklyStandings(ctx context.Context, weekStart time.Time) ([]game.WeeklyStanding, error) {
	rows, err := s.db.Query(ctx, `
		SELECT w.player_id, w.week_start, w.cash_earned, w.heat_gained, w.best_heist_payout,
		       w.heists_completed, w.xp_earned, p.username
		FROM game.weekly_stats w
		JOIN game.players p ON p.id = w.player_id
		WHERE w.week_start = $1
	`, game.WeekStart(weekStart))
	return collect(rows, err, func(row pgx.Row) (game.WeeklyStanding, error) {
		var ws game.WeeklyStanding
		err := row.Scan(&ws.PlayerID, &ws.WeekStart, &ws.CashEarned, &ws.HeatGained, &ws.BestHeistPayout,
			&ws.HeistsCompleted, &ws.XPEarned, &ws.Username)
		return ws, err
	})
}
