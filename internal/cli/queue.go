package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"racket/internal/game"
)

// PendingWrite is an idempotent request that failed in transit and waits in
// ~/.rk/queue.json for `rk sync`.
type PendingWrite struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	QueuedAt       time.Time       `json:"queued_at"`
}

func LoadQueue() ([]PendingWrite, error) {
	path, err := stateFile("queue.json")
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(raw) == 0) {
		return []PendingWrite{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []PendingWrite
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func SaveQueue(writes []PendingWrite) error {
	return writeState("queue.json", writes)
}

func Enqueue(w PendingWrite) error {
	if w.IdempotencyKey == "" {
		return errors.New("only writes with an idempotency key can be queued")
	}
	writes, err := LoadQueue()
	if err != nil {
		return err
	}
	return SaveQueue(append(writes, w))
}

type ReplayResult struct {
	Replayed  int
	Rejected  []error
	Remaining []PendingWrite
}

// Replay resends queued writes in order. A write the server already applied
// (duplicate idempotency key) counts as replayed; other server rejections are
// dropped and reported; transport failures stay queued.
func (c *Client) Replay(ctx context.Context, token string, writes []PendingWrite) ReplayResult {
	var res ReplayResult
	for _, w := range writes {
		err := c.Do(ctx, w.Method, w.Path, token, w.Body, w.IdempotencyKey)
		var apiErr *APIError
		switch {
		case err == nil:
			res.Replayed++
		case errors.As(err, &apiErr) && apiErr.Code == game.CodeDuplicate:
			res.Replayed++
		case errors.As(err, &apiErr):
			res.Rejected = append(res.Rejected, err)
		default:
			res.Remaining = append(res.Remaining, w)
		}
	}
	return res
}
