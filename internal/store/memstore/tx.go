package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"racket/internal/game"
)

type tx struct {
	s    *Store
	held map[string]*semaphore.Weighted

	players    map[string]game.Player
	accounts   map[string]game.Account
	listings   map[string]game.Listing
	offers     map[string]game.Offer
	txns       []game.Transaction
	idem       map[idemKey]time.Time
	weekly     []game.WeeklyStat
	events     map[string]game.ScheduledEvent
	runs       map[string]game.EventRun
	businesses map[string]game.Business
	districts  map[string]game.District
	crews      map[string]game.Crew
}

func newTx(s *Store) *tx {
	return &tx{
		s:          s,
		held:       map[string]*semaphore.Weighted{},
		players:    map[string]game.Player{},
		accounts:   map[string]game.Account{},
		listings:   map[string]game.Listing{},
		offers:     map[string]game.Offer{},
		idem:       map[idemKey]time.Time{},
		events:     map[string]game.ScheduledEvent{},
		runs:       map[string]game.EventRun{},
		businesses: map[string]game.Business{},
		districts:  map[string]game.District{},
		crews:      map[string]game.Crew{},
	}
}

func (t *tx) lock(ctx context.Context, kind, id string) error {
	key := kind + ":" + id
	if _, ok := t.held[key]; ok {
		return nil
	}
	l := t.s.rowLock(key)
	if err := l.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	t.held[key] = l
	return nil
}

func (t *tx) mustHold(kind, id string) error {
	if _, ok := t.held[kind+":"+id]; !ok {
		return fmt.Errorf("memstore: write to %s %s without holding its lock", kind, id)
	}
	return nil
}

func (t *tx) release() {
	for key, l := range t.held {
		l.Release(1)
		delete(t.held, key)
	}
}

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	copyInto(s.data.players, t.players)
	copyInto(s.data.accounts, t.accounts)
	copyInto(s.data.listings, t.listings)
	copyInto(s.data.offers, t.offers)
	copyInto(s.data.events, t.events)
	copyInto(s.data.runs, t.runs)
	copyInto(s.data.businesses, t.businesses)
	copyInto(s.data.districts, t.districts)
	copyInto(s.data.crews, t.crews)
	s.data.txns = append(s.data.txns, t.txns...)
	for k, at := range t.idem {
		s.data.idem[k] = at
	}
	for _, d := range t.weekly {
		k := weeklyKey{d.PlayerID, game.WeekStart(d.WeekStart)}
		cur, ok := s.data.weekly[k]
		if !ok {
			cur = game.WeeklyStat{PlayerID: d.PlayerID, WeekStart: k.week}
		}
		cur.CashEarned += d.CashEarned
		cur.HeatGained += d.HeatGained
		cur.HeistsCompleted += d.HeistsCompleted
		cur.XPEarned += d.XPEarned
		cur.BestHeistPayout = max(cur.BestHeistPayout, d.BestHeistPayout)
		s.data.weekly[k] = cur
	}
}

func copyInto[V any](dst, src map[string]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func lookup[V any](s *Store, staged, committed map[string]V, id string) (V, bool) {
	if v, ok := staged[id]; ok {
		return v, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := committed[id]
	return v, ok
}

func (t *tx) LockAccounts(ctx context.Context, ids ...string) ([]game.Account, error) {
	uniq := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Strings(uniq)
	out := make([]game.Account, 0, len(uniq))
	for _, id := range uniq {
		if err := t.lock(ctx, "account", id); err != nil {
			return nil, err
		}
		a, ok := lookup(t.s, t.accounts, t.s.data.accounts, id)
		if !ok {
			return nil, notFound("account", id)
		}
		out = append(out, a)
	}
	return out, nil
}

func (t *tx) SaveAccount(_ context.Context, a game.Account) error {
	if err := t.mustHold("account", a.PlayerID); err != nil {
		return err
	}
	if a.Cash < 0 || a.Bank < 0 {
		return fmt.Errorf("memstore: negative balance for %s", a.PlayerID)
	}
	a.UpdatedAt = time.Now().UTC()
	t.accounts[a.PlayerID] = a
	return nil
}

func (t *tx) Player(_ context.Context, id string) (game.Player, error) {
	p, ok := lookup(t.s, t.players, t.s.data.players, id)
	if !ok {
		return game.Player{}, notFound("player", id)
	}
	return p, nil
}

func (t *tx) LockPlayer(ctx context.Context, id string) (game.Player, error) {
	if err := t.lock(ctx, "player", id); err != nil {
		return game.Player{}, err
	}
	return t.Player(ctx, id)
}

func (t *tx) SavePlayer(_ context.Context, p game.Player) error {
	if err := t.mustHold("player", p.ID); err != nil {
		return err
	}
	t.players[p.ID] = p
	return nil
}

func (t *tx) LockListing(ctx context.Context, id string) (game.Listing, error) {
	if err := t.lock(ctx, "listing", id); err != nil {
		return game.Listing{}, err
	}
	l, ok := lookup(t.s, t.listings, t.s.data.listings, id)
	if !ok {
		return game.Listing{}, notFound("listing", id)
	}
	return l, nil
}

func (t *tx) InsertListing(ctx context.Context, l game.Listing) error {
	if _, ok := lookup(t.s, t.listings, t.s.data.listings, l.ID); ok {
		return fmt.Errorf("memstore: duplicate listing %s", l.ID)
	}
	if err := t.lock(ctx, "listing", l.ID); err != nil {
		return err
	}
	t.listings[l.ID] = l
	return nil
}

func (t *tx) SaveListing(_ context.Context, l game.Listing) error {
	if err := t.mustHold("listing", l.ID); err != nil {
		return err
	}
	t.listings[l.ID] = l
	return nil
}

// mergedOffers returns committed offers overlaid with staged ones.
func (t *tx) mergedOffers(keep func(game.Offer) bool) []game.Offer {
	merged := map[string]game.Offer{}
	t.s.mu.RLock()
	for id, o := range t.s.data.offers {
		merged[id] = o
	}
	t.s.mu.RUnlock()
	copyInto(merged, t.offers)
	var out []game.Offer
	for _, o := range merged {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tx) Offer(_ context.Context, id string) (game.Offer, error) {
	o, ok := lookup(t.s, t.offers, t.s.data.offers, id)
	if !ok {
		return game.Offer{}, notFound("offer", id)
	}
	return o, nil
}

func (t *tx) OfferByBuyer(_ context.Context, listingID, buyerID string) (game.Offer, error) {
	found := t.mergedOffers(func(o game.Offer) bool {
		return o.ListingID == listingID && o.BuyerID == buyerID
	})
	if len(found) == 0 {
		return game.Offer{}, notFound("offer", listingID+"/"+buyerID)
	}
	return found[0], nil
}

func (t *tx) InsertOffer(ctx context.Context, o game.Offer) error {
	if err := t.mustHold("listing", o.ListingID); err != nil {
		return err
	}
	if _, err := t.OfferByBuyer(ctx, o.ListingID, o.BuyerID); err == nil {
		return fmt.Errorf("%w: offer already exists for listing %s", game.ErrInvalidState, o.ListingID)
	}
	t.offers[o.ID] = o
	return nil
}

func (t *tx) SaveOffer(_ context.Context, o game.Offer) error {
	if err := t.mustHold("listing", o.ListingID); err != nil {
		return err
	}
	t.offers[o.ID] = o
	return nil
}

func (t *tx) RejectPendingOffers(_ context.Context, listingID, exceptOfferID string, now time.Time) (int64, error) {
	if err := t.mustHold("listing", listingID); err != nil {
		return 0, err
	}
	pending := t.mergedOffers(func(o game.Offer) bool {
		return o.ListingID == listingID && o.Status == game.OfferPending && o.ID != exceptOfferID
	})
	for _, o := range pending {
		o.Status = game.OfferRejected
		o.UpdatedAt = now
		t.offers[o.ID] = o
	}
	return int64(len(pending)), nil
}

func (t *tx) InsertTransaction(_ context.Context, tr game.Transaction) error {
	if err := t.mustHold("listing", tr.ListingID); err != nil {
		return err
	}
	t.txns = append(t.txns, tr)
	return nil
}

func (t *tx) ClaimIdempotency(ctx context.Context, playerID, key, action string) error {
	if key == "" {
		return fmt.Errorf("%w: idempotency key is required", game.ErrInvalidInput)
	}
	k := idemKey{playerID, key}
	// The lock serialises concurrent claims of the same key.
	if err := t.lock(ctx, "idem", playerID+"/"+key); err != nil {
		return err
	}
	if _, ok := t.idem[k]; ok {
		return game.ErrDuplicateRequest
	}
	t.s.mu.RLock()
	_, ok := t.s.data.idem[k]
	t.s.mu.RUnlock()
	if ok {
		return game.ErrDuplicateRequest
	}
	t.idem[k] = time.Now().UTC()
	return nil
}

func (t *tx) AddWeeklyStat(_ context.Context, delta game.WeeklyStat) error {
	if delta.PlayerID == "" {
		return fmt.Errorf("memstore: weekly stat without player")
	}
	t.weekly = append(t.weekly, delta)
	return nil
}

func (t *tx) LockEvent(ctx context.Context, key string) (game.ScheduledEvent, error) {
	if err := t.lock(ctx, "event", key); err != nil {
		return game.ScheduledEvent{}, err
	}
	ev, ok := lookup(t.s, t.events, t.s.data.events, key)
	if !ok {
		return game.ScheduledEvent{}, notFound("event", key)
	}
	return ev, nil
}

func (t *tx) SaveEvent(_ context.Context, ev game.ScheduledEvent) error {
	if err := t.mustHold("event", ev.Key); err != nil {
		return err
	}
	t.events[ev.Key] = ev
	return nil
}

func (t *tx) ActiveRun(_ context.Context, eventKey string) (game.EventRun, error) {
	merged := map[string]game.EventRun{}
	t.s.mu.RLock()
	for id, r := range t.s.data.runs {
		if r.EventKey == eventKey {
			merged[id] = r
		}
	}
	t.s.mu.RUnlock()
	for id, r := range t.runs {
		if r.EventKey == eventKey {
			merged[id] = r
		}
	}
	for _, r := range merged {
		if r.Status == game.RunActive {
			return r, nil
		}
	}
	return game.EventRun{}, notFound("active run", eventKey)
}

func (t *tx) InsertRun(ctx context.Context, run game.EventRun) error {
	if err := t.mustHold("event", run.EventKey); err != nil {
		return err
	}
	if _, err := t.ActiveRun(ctx, run.EventKey); err == nil && run.Status == game.RunActive {
		return fmt.Errorf("%w: event %s already has an active run", game.ErrInvalidState, run.EventKey)
	}
	t.runs[run.ID] = run
	return nil
}

func (t *tx) SaveRun(_ context.Context, run game.EventRun) error {
	if err := t.mustHold("event", run.EventKey); err != nil {
		return err
	}
	t.runs[run.ID] = run
	return nil
}

func (t *tx) LockBusiness(ctx context.Context, id string) (game.Business, error) {
	if err := t.lock(ctx, "business", id); err != nil {
		return game.Business{}, err
	}
	b, ok := lookup(t.s, t.businesses, t.s.data.businesses, id)
	if !ok {
		return game.Business{}, notFound("business", id)
	}
	return b, nil
}

func (t *tx) SaveBusiness(_ context.Context, b game.Business) error {
	if err := t.mustHold("business", b.ID); err != nil {
		return err
	}
	t.businesses[b.ID] = b
	return nil
}

func (t *tx) LockDistrict(ctx context.Context, id string) (game.District, error) {
	if err := t.lock(ctx, "district", id); err != nil {
		return game.District{}, err
	}
	d, ok := lookup(t.s, t.districts, t.s.data.districts, id)
	if !ok {
		return game.District{}, notFound("district", id)
	}
	return d, nil
}

func (t *tx) SaveDistrict(_ context.Context, d game.District) error {
	if err := t.mustHold("district", d.ID); err != nil {
		return err
	}
	t.districts[d.ID] = d
	return nil
}

func (t *tx) LockCrew(ctx context.Context, id string) (game.Crew, error) {
	if err := t.lock(ctx, "crew", id); err != nil {
		return game.Crew{}, err
	}
	c, ok := lookup(t.s, t.crews, t.s.data.crews, id)
	if !ok {
		return game.Crew{}, notFound("crew", id)
	}
	return c, nil
}

func (t *tx) SaveCrew(_ context.Context, c game.Crew) error {
	if err := t.mustHold("crew", c.ID); err != nil {
		return err
	}
	t.crews[c.ID] = c
	return nil
}
