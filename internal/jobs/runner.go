// Package jobs holds the periodic maintenance jobs and the hourly and daily
// bundles that compose them. Every job is a function of now over the store;
// row failures are counted in the job's summary and never abort a bundle.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"racket/internal/audit"
	"racket/internal/game"
	"racket/internal/market"
	"racket/internal/telemetry"
)

const (
	DefaultWorkers         = 8
	DefaultEnergyIncrement = 5
)

// JobSummary reports one job run. Total is the job's aggregate quantity
// (energy granted, income accrued, heat removed, rows purged).
type JobSummary struct {
	Job     string `json:"job"`
	Scanned int    `json:"scanned"`
	Updated int    `json:"updated"`
	Failed  int    `json:"failed"`
	Total   int64  `json:"total"`
	Error   string `json:"error,omitempty"`
}

// ModifierSource yields the gameplay modifiers in force for a district; the
// empty district selects global modifiers only.
type ModifierSource interface {
	ActiveModifiers(ctx context.Context, districtID string) (game.ModifierSet, error)
}

type Sweeper interface {
	SweepExpired(ctx context.Context) (market.SweepResult, error)
}

type Runner struct {
	store           game.Store
	mods            ModifierSource
	sweeper         Sweeper
	audit           audit.Log
	log             *slog.Logger
	tracer          trace.Tracer
	workers         int64
	energyIncrement int32
}

type Option func(*Runner)

func WithModifiers(m ModifierSource) Option { return func(r *Runner) { r.mods = m } }
func WithSweeper(s Sweeper) Option          { return func(r *Runner) { r.sweeper = s } }
func WithAudit(a audit.Log) Option          { return func(r *Runner) { r.audit = a } }

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = int64(n)
		}
	}
}

func WithEnergyIncrement(n int32) Option {
	return func(r *Runner) {
		if n > 0 {
			r.energyIncrement = n
		}
	}
}

func NewRunner(store game.Store, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:           store,
		audit:           audit.Nop{},
		log:             logger,
		tracer:          telemetry.Tracer("jobs"),
		workers:         DefaultWorkers,
		energyIncrement: DefaultEnergyIncrement,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) modifiers(ctx context.Context, districtID string) game.ModifierSet {
	if r.mods == nil {
		return game.ModifierSet{}
	}
	set, err := r.mods.ActiveModifiers(ctx, districtID)
	if err != nil {
		r.log.Warn("modifier lookup failed, using none", "district", districtID, "err", err)
		return game.ModifierSet{}
	}
	return set
}

// rowFunc updates one row and reports whether it changed and by how much.
type rowFunc func(ctx context.Context, id string) (changed bool, amount int64, err error)

// forEach fans ids out over at most r.workers goroutines. Row errors are
// counted; only context cancellation stops the scan.
func (r *Runner) forEach(ctx context.Context, job string, ids []string, fn rowFunc) (JobSummary, error) {
	sum := JobSummary{Job: job, Scanned: len(ids)}
	var updated, failed atomic.Int64
	var total atomic.Int64

	sem := semaphore.NewWeighted(r.workers)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			changed, amount, err := fn(gctx, id)
			if err != nil {
				failed.Add(1)
				r.log.Warn("job row failed", "job", job, "id", id, "err", err)
				return nil
			}
			if changed {
				updated.Add(1)
				total.Add(amount)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	sum.Updated = int(updated.Load())
	sum.Failed = int(failed.Load())
	sum.Total = total.Load()
	return sum, err
}

type job struct {
	name string
	run  func(ctx context.Context, now time.Time) (JobSummary, error)
}

func (r *Runner) runBundle(ctx context.Context, kind string, now time.Time, jobs []job) (out []JobSummary, err error) {
	ctx, span := r.tracer.Start(ctx, kind)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	out = make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		started := time.Now()
		sum, err := j.run(ctx, now)
		sum.Job = j.name
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			sum.Error = err.Error()
			r.log.Error("job failed", "job", j.name, "err", err)
		} else {
			r.log.Info("job complete", "job", j.name, "scanned", sum.Scanned, "updated", sum.Updated,
				"failed", sum.Failed, "total", sum.Total, "took", time.Since(started).String())
		}
		out = append(out, sum)
	}
	span.SetAttributes(attribute.Int("jobs", len(out)))

	entry := audit.Entry{
		Kind:  kind,
		Actor: "system",
		At:    now,
		Data:  map[string]any{"jobs": out},
	}
	if err := r.audit.Record(ctx, entry); err != nil {
		r.log.Warn("audit record failed", "kind", kind, "err", err)
	}
	return out, nil
}

// Hourly runs business income, heat decay, newbie protection expiry,
// district stats and the listing expiry sweep, then writes one audit entry.
func (r *Runner) Hourly(ctx context.Context, now time.Time) ([]JobSummary, error) {
	return r.runBundle(ctx, audit.KindJobsHourly, now, []job{
		{"business_income", r.BusinessIncome},
		{"heat_decay", r.HeatDecay},
		{"newbie_protection", r.NewbieProtection},
		{"district_stats", r.DistrictStats},
		{"listing_expiry", r.ListingExpiry},
	})
}

// Daily runs crew stats and the retention purges, then writes one audit entry.
func (r *Runner) Daily(ctx context.Context, now time.Time) ([]JobSummary, error) {
	return r.runBundle(ctx, audit.KindJobsDaily, now, []job{
		{"crew_stats", r.CrewStats},
		{"weekly_retention", r.WeeklyRetention},
		{"session_purge", r.SessionPurge},
		{"idempotency_purge", r.IdempotencyPurge},
	})
}
