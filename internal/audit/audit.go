// Package audit is the append-only analytics sink. The engine writes to it
// and never reads back.
package audit

import (
	"context"
	"time"
)

const (
	KindMarketSale = "market.sale"
	KindJobsHourly = "jobs.hourly"
	KindJobsDaily  = "jobs.daily"
)

type Entry struct {
	Kind  string         `json:"kind"`
	Actor string         `json:"actor,omitempty"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

//go:generate go run go.uber.org/mock/mockgen -destination=mock/log.go -package=mock racket/internal/audit Log
type Log interface {
	Record(ctx context.Context, e Entry) error
}

type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
