package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"racket/internal/game"
	"racket/internal/store/memstore"
)

func TestParseCatalog(t *testing.T) {
	evs, err := ParseCatalog([]byte(`
events:
  - key: friday_rush
    schedule: { minute: "0", hour: "18", weekday: friday }
    duration: 4h
    modifiers:
      - { key: business_income, op: MUL, value: 1.5 }
  - key: nightly
    name: Nightly
    district: docks
    disabled: true
    schedule: { hour: "2" }
    duration: 30m
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events", len(evs))
	}
	rush := evs[0]
	if rush.Name != "friday_rush" || !rush.Enabled || rush.Duration != 4*time.Hour {
		t.Fatalf("unexpected event: %+v", rush)
	}
	if rush.Schedule != (game.Schedule{Minute: 0, Hour: 18, Weekday: int(time.Friday)}) {
		t.Fatalf("schedule = %+v", rush.Schedule)
	}
	if len(rush.Modifiers) != 1 || rush.Modifiers[0].Op != game.OpMultiply {
		t.Fatalf("modifiers = %+v", rush.Modifiers)
	}
	nightly := evs[1]
	if nightly.Enabled || nightly.DistrictID != "docks" || nightly.Schedule.Minute != game.Any || nightly.Schedule.Weekday != game.Any {
		t.Fatalf("unexpected event: %+v", nightly)
	}
}

func TestParseCatalogRejects(t *testing.T) {
	cases := map[string]string{
		"missing key":      "events:\n  - duration: 1h\n",
		"bad duration":     "events:\n  - key: a\n    duration: soon\n",
		"zero duration":    "events:\n  - key: a\n    duration: 0s\n",
		"bad hour":         "events:\n  - key: a\n    duration: 1h\n    schedule: { hour: \"25\" }\n",
		"unknown modifier": "events:\n  - key: a\n    duration: 1h\n    modifiers: [{ key: luck, op: mul, value: 2 }]\n",
		"duplicate key":    "events:\n  - key: a\n    duration: 1h\n  - key: a\n    duration: 2h\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(doc)); !errors.Is(err, game.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestLoadShippedCatalog(t *testing.T) {
	evs, err := LoadCatalog("../../config/world_events.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(evs) == 0 {
		t.Fatalf("shipped catalog is empty")
	}
}

func TestSyncShippedCatalogNeedsDistricts(t *testing.T) {
	evs, err := LoadCatalog("../../config/world_events.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()

	bare := memstore.New()
	err = SyncCatalog(ctx, bare, evs)
	if !errors.Is(err, game.ErrNotFound) || !strings.Contains(err.Error(), "docks_blackout") {
		t.Fatalf("expected not found naming docks_blackout, got %v", err)
	}

	st := memstore.New()
	for _, d := range game.SeedDistricts {
		st.PutDistrict(d)
	}
	if err := SyncCatalog(ctx, st, evs); err != nil {
		t.Fatalf("sync against seeded districts: %v", err)
	}
	synced, err := st.Events(ctx)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(synced) != len(evs) {
		t.Fatalf("synced %d of %d events", len(synced), len(evs))
	}
}
