// Package events drives scheduled world events: activation on a compact
// minute/hour/weekday schedule, timed deactivation, admin overrides and the
// aggregation of active gameplay modifiers.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"racket/internal/game"
	"racket/internal/telemetry"
)

type Scheduler struct {
	store  game.Store
	log    *slog.Logger
	now    func() time.Time
	tracer trace.Tracer
}

func NewScheduler(store game.Store, logger *slog.Logger, now func() time.Time) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{store: store, log: logger, now: now, tracer: telemetry.Tracer("events")}
}

type TickSummary struct {
	Ended       int `json:"ended"`
	Started     int `json:"started"`
	Initialised int `json:"initialised"`
	Failed      int `json:"failed"`
}

// Tick ends every run past its scheduled end, then starts every enabled idle
// event whose next trigger has passed. Each event is re-checked under its row
// lock, so calling Tick again for the same instant changes nothing.
func (s *Scheduler) Tick(ctx context.Context) (sum TickSummary, err error) {
	ctx, span := s.tracer.Start(ctx, "events.Tick")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	now := s.now()
	evs, err := s.store.Events(ctx)
	if err != nil {
		return TickSummary{}, err
	}

	for _, ev := range evs {
		if !ev.Running {
			continue
		}
		ended, err := s.endIfDue(ctx, ev.Key, now)
		if err != nil {
			sum.Failed++
			s.log.Warn("event end failed", "event", ev.Key, "err", err)
			continue
		}
		if ended {
			sum.Ended++
		}
	}

	// Reload so events ended above can start again in the same tick.
	evs, err = s.store.Events(ctx)
	if err != nil {
		return sum, err
	}
	for _, ev := range evs {
		if !ev.Enabled || ev.Running {
			continue
		}
		outcome, err := s.startIfDue(ctx, ev.Key, now)
		if err != nil {
			sum.Failed++
			s.log.Warn("event start failed", "event", ev.Key, "err", err)
			continue
		}
		switch outcome {
		case startStarted:
			sum.Started++
		case startInitialised:
			sum.Initialised++
		}
	}
	span.SetAttributes(attribute.Int("started", sum.Started), attribute.Int("ended", sum.Ended))
	return sum, nil
}

func (s *Scheduler) endIfDue(ctx context.Context, key string, now time.Time) (bool, error) {
	ended := false
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		ev, err := tx.LockEvent(ctx, key)
		if err != nil {
			return err
		}
		if !ev.Running {
			return nil
		}
		run, err := tx.ActiveRun(ctx, key)
		switch {
		case errors.Is(err, game.ErrNotFound):
			// Running flag without a run; clear it.
			ev.Running = false
			ended = true
			return tx.SaveEvent(ctx, ev)
		case err != nil:
			return err
		}
		if now.Before(run.ScheduledEndAt) {
			return nil
		}
		if _, err := finishRun(ctx, tx, &ev, run, game.RunCompleted, now); err != nil {
			return err
		}
		ended = true
		return nil
	})
	if ended {
		s.log.Info("world event ended", "event", key)
	}
	return ended, err
}

func finishRun(ctx context.Context, tx game.Tx, ev *game.ScheduledEvent, run game.EventRun, status game.RunStatus, now time.Time) (game.EventRun, error) {
	endedAt := now
	run.Status = status
	run.EndedAt = &endedAt
	if err := tx.SaveRun(ctx, run); err != nil {
		return game.EventRun{}, err
	}
	ev.Running = false
	return run, tx.SaveEvent(ctx, *ev)
}

type startOutcome int

const (
	startSkipped startOutcome = iota
	startStarted
	startInitialised
)

func (s *Scheduler) startIfDue(ctx context.Context, key string, now time.Time) (startOutcome, error) {
	outcome := startSkipped
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		ev, err := tx.LockEvent(ctx, key)
		if err != nil {
			return err
		}
		if !ev.Enabled || ev.Running {
			return nil
		}
		if ev.NextTriggerAt == nil {
			next, ok := NextTrigger(ev.Schedule, now)
			if !ok {
				return fmt.Errorf("%w: event %s has an unsatisfiable schedule", game.ErrInvalidInput, key)
			}
			ev.NextTriggerAt = &next
			outcome = startInitialised
			return tx.SaveEvent(ctx, ev)
		}
		if ev.NextTriggerAt.After(now) {
			return nil
		}
		if _, err := beginRun(ctx, tx, &ev, now); err != nil {
			return err
		}
		outcome = startStarted
		return nil
	})
	if outcome == startStarted && err == nil {
		s.log.Info("world event started", "event", key)
	}
	return outcome, err
}

// beginRun opens a run on a locked idle event. The next trigger is computed
// strictly after the run's scheduled end.
func beginRun(ctx context.Context, tx game.Tx, ev *game.ScheduledEvent, now time.Time) (game.EventRun, error) {
	if _, err := tx.ActiveRun(ctx, ev.Key); err == nil {
		return game.EventRun{}, fmt.Errorf("%w: event %s already has an active run", game.ErrInvalidState, ev.Key)
	} else if !errors.Is(err, game.ErrNotFound) {
		return game.EventRun{}, err
	}
	run := game.EventRun{
		ID:             uuid.NewString(),
		EventKey:       ev.Key,
		Status:         game.RunActive,
		StartedAt:      now,
		ScheduledEndAt: now.Add(ev.Duration),
	}
	if err := tx.InsertRun(ctx, run); err != nil {
		return game.EventRun{}, err
	}
	triggered := now
	ev.Running = true
	ev.LastTriggeredAt = &triggered
	if next, ok := NextTrigger(ev.Schedule, run.ScheduledEndAt); ok {
		ev.NextTriggerAt = &next
	} else {
		ev.NextTriggerAt = nil
	}
	return run, tx.SaveEvent(ctx, *ev)
}

// Start force-starts an event on behalf of an admin. Starting a running event
// is a no-op that returns its active run.
func (s *Scheduler) Start(ctx context.Context, adminID, key string) (game.EventRun, error) {
	now := s.now()
	var out game.EventRun
	started := false
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		if err := game.RequireAdmin(ctx, tx, adminID); err != nil {
			return err
		}
		ev, err := tx.LockEvent(ctx, key)
		if err != nil {
			return err
		}
		if ev.Running {
			out, err = tx.ActiveRun(ctx, key)
			return err
		}
		out, err = beginRun(ctx, tx, &ev, now)
		started = err == nil
		return err
	})
	if err != nil {
		return game.EventRun{}, err
	}
	if started {
		s.log.Info("world event force-started", "event", key, "admin", adminID)
	}
	return out, nil
}

// Cancel ends an event's active run early on behalf of an admin.
func (s *Scheduler) Cancel(ctx context.Context, adminID, key string) (game.EventRun, error) {
	now := s.now()
	var out game.EventRun
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		if err := game.RequireAdmin(ctx, tx, adminID); err != nil {
			return err
		}
		ev, err := tx.LockEvent(ctx, key)
		if err != nil {
			return err
		}
		run, err := tx.ActiveRun(ctx, key)
		if errors.Is(err, game.ErrNotFound) {
			return fmt.Errorf("%w: event %s is not running", game.ErrInvalidState, key)
		}
		if err != nil {
			return err
		}
		out, err = finishRun(ctx, tx, &ev, run, game.RunCancelled, now)
		return err
	})
	if err != nil {
		return game.EventRun{}, err
	}
	s.log.Info("world event cancelled", "event", key, "admin", adminID)
	return out, nil
}

// Participation is one player's contribution to an active run.
type Participation struct {
	PlayerID    string `json:"player_id"`
	FirstAction bool   `json:"first_action"`
	Actions     int64  `json:"actions"`
	CashAwarded int64  `json:"cash_awarded"`
}

// RecordParticipation accumulates stats on the event's active run.
func (s *Scheduler) RecordParticipation(ctx context.Context, key string, p Participation) (game.EventRun, error) {
	return s.recordParticipation(ctx, key, p, nil)
}

// AdminRecordParticipation is RecordParticipation on behalf of an admin, used
// to report activity from systems outside this process.
func (s *Scheduler) AdminRecordParticipation(ctx context.Context, adminID, key string, p Participation) (game.EventRun, error) {
	return s.recordParticipation(ctx, key, p, func(tx game.Tx) error {
		return game.RequireAdmin(ctx, tx, adminID)
	})
}

func (s *Scheduler) recordParticipation(ctx context.Context, key string, p Participation, authorize func(game.Tx) error) (game.EventRun, error) {
	if p.Actions < 0 || p.CashAwarded < 0 {
		return game.EventRun{}, fmt.Errorf("%w: participation counters must be >= 0", game.ErrInvalidInput)
	}
	var out game.EventRun
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		if authorize != nil {
			if err := authorize(tx); err != nil {
				return err
			}
		}
		if _, err := tx.LockEvent(ctx, key); err != nil {
			return err
		}
		run, err := tx.ActiveRun(ctx, key)
		if errors.Is(err, game.ErrNotFound) {
			return fmt.Errorf("%w: event %s is not running", game.ErrInvalidState, key)
		}
		if err != nil {
			return err
		}
		if p.FirstAction {
			run.Stats.Participants++
		}
		run.Stats.Actions += p.Actions
		run.Stats.CashAwarded += p.CashAwarded
		out = run
		return tx.SaveRun(ctx, run)
	})
	return out, err
}

// ActiveModifiers merges the modifiers of running events that are global or
// scoped to districtID. Events are applied in trigger order, so the most
// recently started event wins a key both define.
func (s *Scheduler) ActiveModifiers(ctx context.Context, districtID string) (game.ModifierSet, error) {
	evs, err := s.store.Events(ctx)
	if err != nil {
		return nil, err
	}
	running := make([]game.ScheduledEvent, 0, len(evs))
	for _, ev := range evs {
		if !ev.Running {
			continue
		}
		if ev.DistrictID != "" && ev.DistrictID != districtID {
			continue
		}
		running = append(running, ev)
	}
	sort.SliceStable(running, func(i, j int) bool {
		a, b := triggeredAt(running[i]), triggeredAt(running[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return running[i].Key < running[j].Key
	})
	set := game.ModifierSet{}
	for _, ev := range running {
		set.Merge(ev.Modifiers)
	}
	return set, nil
}

func triggeredAt(ev game.ScheduledEvent) time.Time {
	if ev.LastTriggeredAt == nil {
		return time.Time{}
	}
	return *ev.LastTriggeredAt
}

func (s *Scheduler) Events(ctx context.Context) ([]game.ScheduledEvent, error) {
	return s.store.Events(ctx)
}
