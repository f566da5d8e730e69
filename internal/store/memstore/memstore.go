// Package memstore is an in-process game.Store. Row locks are per-row
// weighted semaphores so waits honour context cancellation; writes are staged
// on the transaction and applied under the store mutex at commit.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"racket/internal/game"
)

type weeklyKey struct {
	playerID string
	week     time.Time
}

type crimeRecord struct {
	districtID string
	at         time.Time
}

type idemKey struct {
	playerID string
	key      string
}

type tables struct {
	players    map[string]game.Player
	accounts   map[string]game.Account
	listings   map[string]game.Listing
	offers     map[string]game.Offer
	txns       []game.Transaction
	weekly     map[weeklyKey]game.WeeklyStat
	events     map[string]game.ScheduledEvent
	runs       map[string]game.EventRun
	businesses map[string]game.Business
	districts  map[string]game.District
	crews      map[string]game.Crew
	sessions   map[string]time.Time
	idem       map[idemKey]time.Time
	crimes     []crimeRecord
}

type Store struct {
	mu   sync.RWMutex
	data tables

	lockMu sync.Mutex
	locks  map[string]*semaphore.Weighted
}

var _ game.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		data: tables{
			players:    map[string]game.Player{},
			accounts:   map[string]game.Account{},
			listings:   map[string]game.Listing{},
			offers:     map[string]game.Offer{},
			weekly:     map[weeklyKey]game.WeeklyStat{},
			events:     map[string]game.ScheduledEvent{},
			runs:       map[string]game.EventRun{},
			businesses: map[string]game.Business{},
			districts:  map[string]game.District{},
			crews:      map[string]game.Crew{},
			sessions:   map[string]time.Time{},
			idem:       map[idemKey]time.Time{},
		},
		locks: map[string]*semaphore.Weighted{},
	}
}

func (s *Store) rowLock(key string) *semaphore.Weighted {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = semaphore.NewWeighted(1)
		s.locks[key] = l
	}
	return l
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	t := newTx(s)
	defer t.release()
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", game.ErrNotFound, kind, id)
}

// Seeding helpers. They write directly and are meant for setup code.

func (s *Store) PutPlayer(p game.Player, a game.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.PlayerID = p.ID
	s.data.players[p.ID] = p
	s.data.accounts[p.ID] = a
}

func (s *Store) PutBusiness(b game.Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.businesses[b.ID] = b
}

func (s *Store) PutDistrict(d game.District) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.districts[d.ID] = d
}

func (s *Store) PutCrew(c game.Crew) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.crews[c.ID] = c
}

func (s *Store) PutSession(id string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sessions[id] = expiresAt
}

func (s *Store) RecordCrime(districtID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.crimes = append(s.data.crimes, crimeRecord{districtID: districtID, at: at})
}

func (s *Store) PutWeeklyStat(w game.WeeklyStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.WeekStart = game.WeekStart(w.WeekStart)
	s.data.weekly[weeklyKey{w.PlayerID, w.WeekStart}] = w
}

// Inspection helpers.

func (s *Store) Transactions() []game.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]game.Transaction(nil), s.data.txns...)
}

func (s *Store) Runs(eventKey string) []game.EventRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []game.EventRun
	for _, r := range s.data.runs {
		if r.EventKey == eventKey {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *Store) WeeklyStat(playerID string, at time.Time) (game.WeeklyStat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.data.weekly[weeklyKey{playerID, game.WeekStart(at)}]
	return w, ok
}

func (s *Store) Business(id string) (game.Business, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data.businesses[id]
	return b, ok
}

func (s *Store) District(id string) (game.District, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data.districts[id]
	return d, ok
}

func (s *Store) Crew(id string) (game.Crew, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.crews[id]
	return c, ok
}

func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.sessions)
}
