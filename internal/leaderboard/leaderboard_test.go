package leaderboard

import (
	"context"
	"testing"
	"time"

	"racket/internal/game"
	"racket/internal/store/memstore"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func seed() *memstore.Store {
	st := memstore.New()
	st.PutPlayer(game.Player{ID: "a", Username: "ace", Experience: 100, Level: 3, Respect: 5}, game.Account{Cash: 500, Bank: 500})
	st.PutPlayer(game.Player{ID: "b", Username: "bex", Experience: 300, Level: 5, Respect: 1}, game.Account{Cash: 1_000})
	st.PutPlayer(game.Player{ID: "c", Username: "cat", Experience: 300, Level: 5, Respect: 9}, game.Account{Cash: 200, Bank: 800})
	st.PutPlayer(game.Player{ID: "d", Username: "dom", Experience: 50, Level: 1}, game.Account{Cash: 2_000})
	return st
}

func ids(b Board) []string {
	out := make([]string, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = e.PlayerID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMetricFallback(t *testing.T) {
	cases := map[string]string{
		"":                   DefaultGlobalMetric,
		"CASH":               "cash",
		" respect ":          "respect",
		"cash; DROP TABLE x": DefaultGlobalMetric,
		"cash_earned":        DefaultGlobalMetric,
	}
	for in, want := range cases {
		if got := GlobalMetric(in); got != want {
			t.Fatalf("GlobalMetric(%q) = %q, want %q", in, got, want)
		}
	}
	if got := WeeklyMetric("net_worth"); got != DefaultWeeklyMetric {
		t.Fatalf("weekly fallback = %q", got)
	}
	if got := WeeklyMetric("xp_earned"); got != "xp_earned" {
		t.Fatalf("weekly metric = %q", got)
	}
}

func TestGlobalRanking(t *testing.T) {
	svc := NewService(seed(), nil, 0, func() time.Time { return now })
	ctx := context.Background()

	b, err := svc.Global(ctx, "net_worth", 0)
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	// d=2000; b and c tie at 1000 and on experience, so id breaks it; a=1000 with less xp.
	if want := []string{"d", "b", "c", "a"}; !equal(ids(b), want) {
		t.Fatalf("order = %v, want %v", ids(b), want)
	}
	for i, e := range b.Entries {
		if e.Rank != i+1 {
			t.Fatalf("ranks must be sequential: %+v", b.Entries)
		}
	}
	if b.Total != 4 || b.Entries[0].Value != 2_000 {
		t.Fatalf("unexpected board: %+v", b)
	}

	b, _ = svc.Global(ctx, "bogus", 2)
	if b.Metric != DefaultGlobalMetric || len(b.Entries) != 2 {
		t.Fatalf("fallback board: %+v", b)
	}
	b, _ = svc.Global(ctx, "respect", 1_000)
	if want := []string{"c", "a", "b", "d"}; !equal(ids(b), want) {
		t.Fatalf("respect order = %v", ids(b))
	}
}

func TestWeeklyRanking(t *testing.T) {
	st := seed()
	week := game.WeekStart(now)
	st.PutWeeklyStat(game.WeeklyStat{PlayerID: "a", WeekStart: week, CashEarned: 700, XPEarned: 5})
	st.PutWeeklyStat(game.WeeklyStat{PlayerID: "c", WeekStart: week, CashEarned: 900})
	st.PutWeeklyStat(game.WeeklyStat{PlayerID: "b", WeekStart: week, CashEarned: 700})
	st.PutWeeklyStat(game.WeeklyStat{PlayerID: "d", WeekStart: week.AddDate(0, 0, -7), CashEarned: 9_999})
	svc := NewService(st, nil, 0, func() time.Time { return now })

	b, err := svc.Weekly(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if b.Metric != "cash_earned" || b.Total != 3 || !b.WeekStart.Equal(week) {
		t.Fatalf("unexpected board: %+v", b)
	}
	if want := []string{"c", "a"}; !equal(ids(b), want) {
		t.Fatalf("order = %v, want %v", ids(b), want)
	}
	if b.Entries[1].Username != "ace" {
		t.Fatalf("username missing: %+v", b.Entries[1])
	}
}

func TestCacheTTL(t *testing.T) {
	st := seed()
	clock := now
	svc := NewService(st, nil, DefaultCacheTTL, func() time.Time { return clock })
	ctx := context.Background()

	first, _ := svc.Global(ctx, "cash", 1)
	st.PutPlayer(game.Player{ID: "e", Username: "eve"}, game.Account{Cash: 50_000})

	cached, _ := svc.Global(ctx, "cash", 1)
	if cached.Entries[0].PlayerID != first.Entries[0].PlayerID {
		t.Fatalf("expected cached board within ttl")
	}

	clock = clock.Add(DefaultCacheTTL)
	fresh, _ := svc.Global(ctx, "cash", 1)
	if fresh.Entries[0].PlayerID != "e" {
		t.Fatalf("expected refresh after ttl, got %+v", fresh.Entries)
	}

	st.PutPlayer(game.Player{ID: "f", Username: "fox"}, game.Account{Cash: 90_000})
	svc.Invalidate()
	if b, _ := svc.Global(ctx, "cash", 1); b.Entries[0].PlayerID != "f" {
		t.Fatalf("invalidate should drop cached boards")
	}
}
