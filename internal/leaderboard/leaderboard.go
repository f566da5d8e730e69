// Package leaderboard ranks players by allow-listed metrics. Metric names
// never reach the store; each maps to a typed extractor, and unknown names
// fall back to the board's default.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"racket/internal/game"
)

const (
	DefaultGlobalMetric = "net_worth"
	DefaultWeeklyMetric = "cash_earned"
	DefaultLimit        = 10
	MaxLimit            = 100
	DefaultCacheTTL     = 30 * time.Second
	cacheSize           = 256
)

var globalMetrics = map[string]func(game.Standing) int64{
	"net_worth":  func(s game.Standing) int64 { return s.Cash + s.Bank },
	"cash":       func(s game.Standing) int64 { return s.Cash },
	"bank":       func(s game.Standing) int64 { return s.Bank },
	"experience": func(s game.Standing) int64 { return s.Experience },
	"level":      func(s game.Standing) int64 { return int64(s.Level) },
	"respect":    func(s game.Standing) int64 { return s.Respect },
}

var weeklyMetrics = map[string]func(game.WeeklyStat) int64{
	"cash_earned":       func(w game.WeeklyStat) int64 { return w.CashEarned },
	"heat_gained":       func(w game.WeeklyStat) int64 { return w.HeatGained },
	"best_heist_payout": func(w game.WeeklyStat) int64 { return w.BestHeistPayout },
	"heists_completed":  func(w game.WeeklyStat) int64 { return w.HeistsCompleted },
	"xp_earned":         func(w game.WeeklyStat) int64 { return w.XPEarned },
}

// GlobalMetric resolves name against the global allow-list.
func GlobalMetric(name string) string {
	return resolve(name, globalMetrics, DefaultGlobalMetric)
}

// WeeklyMetric resolves name against the weekly allow-list.
func WeeklyMetric(name string) string {
	return resolve(name, weeklyMetrics, DefaultWeeklyMetric)
}

func resolve[T any](name string, allowed map[string]T, fallback string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := allowed[name]; ok {
		return name
	}
	return fallback
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

type Entry struct {
	Rank       int    `json:"rank"`
	PlayerID   string `json:"player_id"`
	Username   string `json:"username"`
	Value      int64  `json:"value"`
	Experience int64  `json:"experience,omitempty"`
}

type Board struct {
	Metric    string     `json:"metric"`
	Entries   []Entry    `json:"entries"`
	Total     int        `json:"total"`
	WeekStart *time.Time `json:"week_start,omitempty"`
}

type cachedBoard struct {
	board Board
	at    time.Time
}

type Service struct {
	store game.Store
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
	log   *slog.Logger
}

func NewService(store game.Store, logger *slog.Logger, ttl time.Duration, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if ttl < 0 {
		ttl = 0
	}
	cache, _ := lru.New(cacheSize)
	return &Service{store: store, cache: cache, ttl: ttl, now: now, log: logger}
}

func (s *Service) cached(key string) (Board, bool) {
	if s.ttl == 0 {
		return Board{}, false
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return Board{}, false
	}
	c, ok := v.(cachedBoard)
	if !ok || s.now().Sub(c.at) >= s.ttl {
		s.cache.Remove(key)
		return Board{}, false
	}
	return c.board, true
}

func (s *Service) remember(key string, b Board) {
	if s.ttl > 0 {
		s.cache.Add(key, cachedBoard{board: b, at: s.now()})
	}
}

// Global ranks every player by metric descending, then experience
// descending, then player id. Ranks run 1..n without ties.
func (s *Service) Global(ctx context.Context, metric string, limit int) (Board, error) {
	metric = GlobalMetric(metric)
	limit = clampLimit(limit)
	key := fmt.Sprintf("global:%s:%d", metric, limit)
	if b, ok := s.cached(key); ok {
		return b, nil
	}

	rows, err := s.store.Standings(ctx)
	if err != nil {
		return Board{}, err
	}
	value := globalMetrics[metric]
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if va, vb := value(a), value(b); va != vb {
			return va > vb
		}
		if a.Experience != b.Experience {
			return a.Experience > b.Experience
		}
		return a.PlayerID < b.PlayerID
	})

	b := Board{Metric: metric, Total: len(rows), Entries: make([]Entry, 0, min(limit, len(rows)))}
	for i, r := range rows {
		if i == limit {
			break
		}
		b.Entries = append(b.Entries, Entry{
			Rank:       i + 1,
			PlayerID:   r.PlayerID,
			Username:   r.Username,
			Value:      value(r),
			Experience: r.Experience,
		})
	}
	s.remember(key, b)
	return b, nil
}

// Weekly ranks the current ISO week's stats by metric descending, then
// player id, and reports how many players were ranked.
func (s *Service) Weekly(ctx context.Context, metric string, limit int) (Board, error) {
	metric = WeeklyMetric(metric)
	limit = clampLimit(limit)
	week := game.WeekStart(s.now())
	key := fmt.Sprintf("weekly:%s:%d:%d", metric, limit, week.Unix())
	if b, ok := s.cached(key); ok {
		return b, nil
	}

	rows, err := s.store.WeeklyStandings(ctx, week)
	if err != nil {
		return Board{}, err
	}
	value := weeklyMetrics[metric]
	sort.Slice(rows, func(i, j int) bool {
		va, vb := value(rows[i].WeeklyStat), value(rows[j].WeeklyStat)
		if va != vb {
			return va > vb
		}
		return rows[i].PlayerID < rows[j].PlayerID
	})

	b := Board{Metric: metric, Total: len(rows), WeekStart: &week, Entries: make([]Entry, 0, min(limit, len(rows)))}
	for i, r := range rows {
		if i == limit {
			break
		}
		b.Entries = append(b.Entries, Entry{
			Rank:     i + 1,
			PlayerID: r.PlayerID,
			Username: r.Username,
			Value:    value(r.WeeklyStat),
		})
	}
	s.remember(key, b)
	return b, nil
}

// Invalidate drops every cached board.
func (s *Service) Invalidate() {
	s.cache.Purge()
	s.log.Debug("leaderboard cache purged")
}
