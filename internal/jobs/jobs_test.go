package jobs

import (
	"context"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"racket/internal/audit"
	"racket/internal/audit/mock"
	"racket/internal/game"
	"racket/internal/market"
	"racket/internal/store/memstore"
)

var t0 = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type staticMods game.ModifierSet

func (m staticMods) ActiveModifiers(context.Context, string) (game.ModifierSet, error) {
	return game.ModifierSet(m), nil
}

func player(t *testing.T, st *memstore.Store, id string) game.Player {
	t.Helper()
	p, err := st.Player(context.Background(), id)
	if err != nil {
		t.Fatalf("player %s: %v", id, err)
	}
	return p
}

func TestEnergyRegen(t *testing.T) {
	st := memstore.New()
	st.PutPlayer(game.Player{ID: "a", Energy: 97, MaxEnergy: 100}, game.Account{})
	st.PutPlayer(game.Player{ID: "b", Energy: 100, MaxEnergy: 100}, game.Account{})
	st.PutPlayer(game.Player{ID: "c", Energy: 50, MaxEnergy: 100}, game.Account{})

	sum, err := NewRunner(st, nil).EnergyRegen(context.Background(), t0)
	if err != nil {
		t.Fatalf("regen: %v", err)
	}
	if sum.Scanned != 2 || sum.Updated != 2 || sum.Total != 8 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if got := player(t, st, "a").Energy; got != 100 {
		t.Fatalf("energy should cap at 100, got %d", got)
	}
	if got := player(t, st, "c").Energy; got != 55 {
		t.Fatalf("energy = %d", got)
	}

	boosted := staticMods{game.ModEnergyRegen: {Key: game.ModEnergyRegen, Op: game.OpAdd, Value: 5}}
	if _, err := NewRunner(st, nil, WithModifiers(boosted)).EnergyRegen(context.Background(), t0); err != nil {
		t.Fatalf("regen: %v", err)
	}
	if got := player(t, st, "c").Energy; got != 65 {
		t.Fatalf("boosted energy = %d", got)
	}
}

func TestHourlyIncome(t *testing.T) {
	b := game.Business{BaseIncome: 1000, UpgradeLevel: 2, EfficiencyBonus: 10, EmployeeCount: 3, HourlyCost: 300}
	cases := []struct {
		name string
		b    game.Business
		mods game.ModifierSet
		want int64
	}{
		{"formula", b, nil, 1500},
		{"modifier", b, game.ModifierSet{game.ModBusinessIncome: {Key: game.ModBusinessIncome, Op: game.OpMultiply, Value: 1.5}}, 2400},
		{"floors fractional", game.Business{BaseIncome: 333, EfficiencyBonus: 1}, nil, 336},
		{"cost exceeds gross", game.Business{BaseIncome: 100, HourlyCost: 500}, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HourlyIncome(tc.b, tc.mods); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBusinessIncomeAccruesOncePerHour(t *testing.T) {
	st := memstore.New()
	st.PutBusiness(game.Business{ID: "bar", OwnerID: "p", Open: true, BaseIncome: 1000, HourlyCost: 200})
	st.PutBusiness(game.Business{ID: "shut", OwnerID: "p", Open: false, BaseIncome: 1000})
	st.PutBusiness(game.Business{ID: "orphan", Open: true, BaseIncome: 1000})
	r := NewRunner(st, nil)
	ctx := context.Background()

	sum, err := r.BusinessIncome(ctx, t0)
	if err != nil || sum.Scanned != 1 || sum.Updated != 1 || sum.Total != 800 {
		t.Fatalf("first run: %+v %v", sum, err)
	}
	sum, _ = r.BusinessIncome(ctx, t0.Add(59*time.Minute))
	if sum.Updated != 0 {
		t.Fatalf("re-run within the hour must not accrue: %+v", sum)
	}
	sum, _ = r.BusinessIncome(ctx, t0.Add(150*time.Minute))
	if sum.Total != 1600 {
		t.Fatalf("two elapsed hours should accrue 1600, got %+v", sum)
	}
	b, _ := st.Business("bar")
	if b.TotalRevenue != 2400 || b.TotalExpenses != 600 || !b.LastAccruedAt.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("unexpected business: %+v", b)
	}

	later := t0.Add(200 * time.Hour)
	sum, _ = r.BusinessIncome(ctx, later)
	if sum.Total != 24*800 {
		t.Fatalf("catch-up should cap at 24h, got %d", sum.Total)
	}
	b, _ = st.Business("bar")
	if !b.LastAccruedAt.Equal(later) {
		t.Fatalf("capped accrual should move to now: %s", b.LastAccruedAt)
	}
	if shut, _ := st.Business("shut"); shut.TotalRevenue != 0 {
		t.Fatalf("closed business accrued")
	}
}

func TestHeatDecay(t *testing.T) {
	st := memstore.New()
	st.PutPlayer(game.Player{ID: "a", Heat: 3}, game.Account{})
	st.PutPlayer(game.Player{ID: "b", Heat: 12}, game.Account{})
	ctx := context.Background()

	sum, err := NewRunner(st, nil).HeatDecay(ctx, t0)
	if err != nil || sum.Updated != 2 || sum.Total != 8 {
		t.Fatalf("decay: %+v %v", sum, err)
	}
	if player(t, st, "a").Heat != 0 || player(t, st, "b").Heat != 7 {
		t.Fatalf("heat a=%d b=%d", player(t, st, "a").Heat, player(t, st, "b").Heat)
	}

	doubled := staticMods{game.ModHeatDecay: {Key: game.ModHeatDecay, Op: game.OpMultiply, Value: 2}}
	if _, err := NewRunner(st, nil, WithModifiers(doubled)).HeatDecay(ctx, t0); err != nil {
		t.Fatalf("decay: %v", err)
	}
	if got := player(t, st, "b").Heat; got != 0 {
		t.Fatalf("doubled decay should floor at 0, got %d", got)
	}
}

func TestNewbieProtection(t *testing.T) {
	st := memstore.New()
	past, future := t0.Add(-time.Hour), t0.Add(time.Hour)
	st.PutPlayer(game.Player{ID: "veteran", Level: 10, NewbieProtected: true, ProtectedUntil: &future}, game.Account{})
	st.PutPlayer(game.Player{ID: "expired", Level: 2, NewbieProtected: true, ProtectedUntil: &past}, game.Account{})
	st.PutPlayer(game.Player{ID: "fresh", Level: 3, NewbieProtected: true, ProtectedUntil: &future}, game.Account{})

	sum, err := NewRunner(st, nil).NewbieProtection(context.Background(), t0)
	if err != nil || sum.Scanned != 3 || sum.Updated != 2 {
		t.Fatalf("expiry: %+v %v", sum, err)
	}
	if player(t, st, "veteran").NewbieProtected || player(t, st, "expired").NewbieProtected {
		t.Fatalf("protection should be cleared")
	}
	if !player(t, st, "fresh").NewbieProtected {
		t.Fatalf("fresh player lost protection")
	}
}

func TestBlendScore(t *testing.T) {
	cases := []struct{ prev, cur, want float64 }{
		{50, 0, 35},
		{100, 200, 100},
		{10, 33.333, 17},
		{0, 0, 0},
		{-5, 10, 3},
	}
	for _, tc := range cases {
		if got := BlendScore(tc.prev, tc.cur); got != tc.want {
			t.Fatalf("BlendScore(%v, %v) = %v, want %v", tc.prev, tc.cur, got, tc.want)
		}
	}
}

func TestDistrictStats(t *testing.T) {
	st := memstore.New()
	st.PutDistrict(game.District{ID: "docks", CrimeRate: 50, EconomyLevel: 50})
	for range 3 {
		st.RecordCrime("docks", t0.Add(-time.Hour))
	}
	st.RecordCrime("docks", t0.Add(-48*time.Hour))

	sum, err := NewRunner(st, nil).DistrictStats(context.Background(), t0)
	if err != nil || sum.Updated != 1 {
		t.Fatalf("district stats: %+v %v", sum, err)
	}
	d, _ := st.District("docks")
	if d.CrimeRate != 36.8 || d.EconomyLevel != 35 {
		t.Fatalf("unexpected district: %+v", d)
	}
}

func TestLevelCrew(t *testing.T) {
	c := LevelCrew(game.Crew{ID: "c", Level: 1, MaxMembers: 10}, 2500)
	if c.Level != 3 || c.MaxMembers != 14 || c.Experience != 2500 {
		t.Fatalf("unexpected crew: %+v", c)
	}
	c = LevelCrew(game.Crew{ID: "c", Level: 49, MaxMembers: 10}, 10_000_000)
	if c.Level != 50 || c.MaxMembers != 12 {
		t.Fatalf("level must cap at 50: %+v", c)
	}
}

func TestCrewStats(t *testing.T) {
	st := memstore.New()
	st.PutCrew(game.Crew{ID: "c1", Name: "Syndicate", Level: 1, MaxMembers: 10})
	st.PutPlayer(game.Player{ID: "a", CrewID: "c1", Experience: 600}, game.Account{})
	st.PutPlayer(game.Player{ID: "b", CrewID: "c1", Experience: 700}, game.Account{})
	r := NewRunner(st, nil)

	sum, err := r.CrewStats(context.Background(), t0)
	if err != nil || sum.Updated != 1 || sum.Total != 1 {
		t.Fatalf("crew stats: %+v %v", sum, err)
	}
	c, _ := st.Crew("c1")
	if c.Experience != 1300 || c.Level != 2 || c.MaxMembers != 12 {
		t.Fatalf("unexpected crew: %+v", c)
	}
	if sum, _ := r.CrewStats(context.Background(), t0); sum.Updated != 0 {
		t.Fatalf("second run should be a no-op: %+v", sum)
	}
}

func TestHourlyBundleWritesOneAuditEntry(t *testing.T) {
	st := memstore.New()
	st.PutPlayer(game.Player{ID: "seller", Username: "seller"}, game.Account{Cash: 1_000})
	now := t0
	mkt := market.NewService(st, nil, market.WithClock(func() time.Time { return now }), market.WithListingTTL(time.Hour))
	if _, err := mkt.Create(context.Background(), market.CreateListingInput{SellerID: "seller", Type: game.ListingItem, Title: "crowbar", Price: 500}); err != nil {
		t.Fatalf("create: %v", err)
	}
	now = t0.Add(2 * time.Hour)

	ctrl := gomock.NewController(t)
	sink := mock.NewMockLog(ctrl)
	sink.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) error {
		if e.Kind != audit.KindJobsHourly || !e.At.Equal(now) {
			t.Errorf("unexpected entry: %+v", e)
		}
		if jobs, ok := e.Data["jobs"].([]JobSummary); !ok || len(jobs) != 5 {
			t.Errorf("unexpected jobs payload: %#v", e.Data["jobs"])
		}
		return nil
	}).Times(1)

	r := NewRunner(st, nil, WithAudit(sink), WithSweeper(mkt))
	out, err := r.Hourly(context.Background(), now)
	if err != nil {
		t.Fatalf("hourly: %v", err)
	}
	var expiry JobSummary
	for _, s := range out {
		if s.Job == "listing_expiry" {
			expiry = s
		}
	}
	if expiry.Updated != 1 {
		t.Fatalf("listing should have expired: %+v", expiry)
	}
}

func TestBundleSurvivesJobError(t *testing.T) {
	st := memstore.New()
	out, err := NewRunner(st, nil).Hourly(context.Background(), t0)
	if err != nil {
		t.Fatalf("bundle should not fail: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("all jobs should report: %d", len(out))
	}
	for _, s := range out {
		if s.Job == "listing_expiry" && s.Error == "" {
			t.Fatalf("missing sweeper should be reported on the job")
		}
	}
}

func TestDailyBundle(t *testing.T) {
	st := memstore.New()
	st.PutWeeklyStat(game.WeeklyStat{PlayerID: "a", WeekStart: t0.AddDate(0, 0, -7*13), CashEarned: 10})
	st.PutWeeklyStat(game.WeeklyStat{PlayerID: "a", WeekStart: t0, CashEarned: 10})
	st.PutSession("old", t0.Add(-time.Minute))
	st.PutSession("live", t0.Add(time.Hour))

	ctrl := gomock.NewController(t)
	sink := mock.NewMockLog(ctrl)
	sink.EXPECT().Record(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	out, err := NewRunner(st, nil, WithAudit(sink)).Daily(context.Background(), t0)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	got := map[string]int{}
	for _, s := range out {
		got[s.Job] = s.Updated
	}
	if got["weekly_retention"] != 1 || got["session_purge"] != 1 {
		t.Fatalf("unexpected purges: %+v", got)
	}
	if _, ok := st.WeeklyStat("a", t0); !ok || st.SessionCount() != 1 {
		t.Fatalf("live rows purged")
	}
}
