package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"racket/internal/game"
)

func (s *Store) Player(_ context.Context, id string) (game.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.players[id]
	if !ok {
		return game.Player{}, notFound("player", id)
	}
	return p, nil
}

func (s *Store) Account(_ context.Context, playerID string) (game.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.accounts[playerID]
	if !ok {
		return game.Account{}, notFound("account", playerID)
	}
	return a, nil
}

func (s *Store) Listing(_ context.Context, id string) (game.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.data.listings[id]
	if !ok {
		return game.Listing{}, notFound("listing", id)
	}
	return l, nil
}

func (s *Store) ActiveListings(_ context.Context, f game.ListingFilter) ([]game.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []game.Listing
	for _, l := range s.data.listings {
		if l.Status != game.ListingActive {
			continue
		}
		if f.Type != "" && l.Type != f.Type {
			continue
		}
		if f.DistrictID != "" && l.DistrictID != f.DistrictID {
			continue
		}
		if f.SellerID != "" && l.SellerID != f.SellerID {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ExpiredListingIDs(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, l := range s.data.listings {
		if l.Status == game.ListingActive && l.Expired(now) {
			out = append(out, l.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Offers(_ context.Context, listingID string) ([]game.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []game.Offer
	for _, o := range s.data.offers {
		if o.ListingID == listingID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Events(_ context.Context) ([]game.ScheduledEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]game.ScheduledEvent, 0, len(s.data.events))
	for _, ev := range s.data.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) UpsertEventDefinition(_ context.Context, ev game.ScheduledEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.DistrictID != "" {
		if _, ok := s.data.districts[ev.DistrictID]; !ok {
			return fmt.Errorf("%w: district %s", game.ErrNotFound, ev.DistrictID)
		}
	}
	if cur, ok := s.data.events[ev.Key]; ok {
		ev.Running = cur.Running
		ev.LastTriggeredAt = cur.LastTriggeredAt
		if cur.Schedule == ev.Schedule {
			ev.NextTriggerAt = cur.NextTriggerAt
		} else {
			ev.NextTriggerAt = nil
		}
	}
	s.data.events[ev.Key] = ev
	return nil
}

func (s *Store) ActiveRun(_ context.Context, eventKey string) (game.EventRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data.runs {
		if r.EventKey == eventKey && r.Status == game.RunActive {
			return r, nil
		}
	}
	return game.EventRun{}, notFound("active run", eventKey)
}

func (s *Store) playerIDs(keep func(game.Player) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, p := range s.data.players {
		if keep(p) {
			out = append(out, p.ID)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) PlayersBelowEnergyCap(context.Context) ([]string, error) {
	return s.playerIDs(func(p game.Player) bool { return p.Energy < p.MaxEnergy }), nil
}

func (s *Store) PlayersWithHeat(context.Context) ([]string, error) {
	return s.playerIDs(func(p game.Player) bool { return p.Heat > 0 }), nil
}

func (s *Store) ProtectedPlayers(context.Context) ([]string, error) {
	return s.playerIDs(func(p game.Player) bool { return p.NewbieProtected }), nil
}

func (s *Store) OpenBusinesses(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, b := range s.data.businesses {
		if b.Open && b.OwnerID != "" {
			out = append(out, b.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Districts(context.Context) ([]game.District, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]game.District, 0, len(s.data.districts))
	for _, d := range s.data.districts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DistrictActivity(_ context.Context, since time.Time) (map[string]game.DistrictActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]game.DistrictActivity{}
	for _, c := range s.data.crimes {
		if c.at.Before(since) {
			continue
		}
		a := out[c.districtID]
		a.Crimes++
		out[c.districtID] = a
	}
	for _, t := range s.data.txns {
		if t.CreatedAt.Before(since) {
			continue
		}
		l, ok := s.data.listings[t.ListingID]
		if !ok || l.DistrictID == "" {
			continue
		}
		a := out[l.DistrictID]
		a.Trades++
		out[l.DistrictID] = a
	}
	return out, nil
}

func (s *Store) Crews(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data.crews))
	for id := range s.data.crews {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) CrewMemberExperience(_ context.Context, crewID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, p := range s.data.players {
		if p.CrewID == crewID {
			total += p.Experience
		}
	}
	return total, nil
}

func (s *Store) PurgeWeeklyStats(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data.weekly {
		if k.week.Before(before) {
			delete(s.data.weekly, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, exp := range s.data.sessions {
		if !exp.After(now) {
			delete(s.data.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeIdempotencyKeys(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, at := range s.data.idem {
		if at.Before(before) {
			delete(s.data.idem, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Standings(context.Context) ([]game.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]game.Standing, 0, len(s.data.players))
	for _, p := range s.data.players {
		a := s.data.accounts[p.ID]
		out = append(out, game.Standing{
			PlayerID:   p.ID,
			Username:   p.Username,
			Cash:       a.Cash,
			Bank:       a.Bank,
			Experience: p.Experience,
			Level:      p.Level,
			Respect:    p.Respect,
		})
	}
	return out, nil
}

func (s *Store) WeeklyStandings(_ context.Context, weekStart time.Time) ([]game.WeeklyStanding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []game.WeeklyStanding
	for k, w := range s.data.weekly {
		if !k.week.Equal(weekStart) {
			continue
		}
		out = append(out, game.WeeklyStanding{WeeklyStat: w, Username: s.data.players[k.playerID].Username})
	}
	return out, nil
}
