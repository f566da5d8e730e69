package events

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"racket/internal/game"
)

// Catalog is the YAML declaration of the world events a deployment runs.
type Catalog struct {
	Events []CatalogEvent `yaml:"events"`
}

type CatalogEvent struct {
	Key        string          `yaml:"key"`
	Name       string          `yaml:"name"`
	Schedule   CatalogSchedule `yaml:"schedule"`
	Duration   string          `yaml:"duration"`
	DistrictID string          `yaml:"district"`
	Disabled   bool            `yaml:"disabled"`
	Modifiers  []game.Modifier `yaml:"modifiers"`
}

type CatalogSchedule struct {
	Minute  string `yaml:"minute"`
	Hour    string `yaml:"hour"`
	Weekday string `yaml:"weekday"`
}

func LoadCatalog(path string) ([]game.ScheduledEvent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) ([]game.ScheduledEvent, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("event catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Events))
	out := make([]game.ScheduledEvent, 0, len(c.Events))
	for i, ce := range c.Events {
		ev, err := ce.toEvent()
		if err != nil {
			return nil, fmt.Errorf("event catalog entry %d: %w", i, err)
		}
		if seen[ev.Key] {
			return nil, fmt.Errorf("%w: duplicate event key %q", game.ErrInvalidInput, ev.Key)
		}
		seen[ev.Key] = true
		out = append(out, ev)
	}
	return out, nil
}

func (ce CatalogEvent) toEvent() (game.ScheduledEvent, error) {
	key := strings.TrimSpace(ce.Key)
	if key == "" {
		return game.ScheduledEvent{}, fmt.Errorf("%w: event key is required", game.ErrInvalidInput)
	}
	sched, err := game.ParseSchedule(ce.Schedule.Minute, ce.Schedule.Hour, ce.Schedule.Weekday)
	if err != nil {
		return game.ScheduledEvent{}, err
	}
	dur, err := time.ParseDuration(ce.Duration)
	if err != nil || dur <= 0 {
		return game.ScheduledEvent{}, fmt.Errorf("%w: event %s duration %q", game.ErrInvalidInput, key, ce.Duration)
	}
	mods := make([]game.Modifier, 0, len(ce.Modifiers))
	for _, m := range ce.Modifiers {
		nm, err := game.NewModifier(string(m.Key), string(m.Op), m.Value)
		if err != nil {
			return game.ScheduledEvent{}, err
		}
		mods = append(mods, nm)
	}
	name := ce.Name
	if name == "" {
		name = key
	}
	return game.ScheduledEvent{
		Key:        key,
		Name:       name,
		Schedule:   sched,
		Duration:   dur,
		Modifiers:  mods,
		DistrictID: strings.TrimSpace(ce.DistrictID),
		Enabled:    !ce.Disabled,
	}, nil
}

// SyncCatalog upserts every definition. Runtime state (running flag, last
// trigger) survives; the next trigger is reset only when the schedule moved.
func SyncCatalog(ctx context.Context, store game.Store, evs []game.ScheduledEvent) error {
	for _, ev := range evs {
		if err := store.UpsertEventDefinition(ctx, ev); err != nil {
			return fmt.Errorf("sync event %s: %w", ev.Key, err)
		}
	}
	return nil
}
