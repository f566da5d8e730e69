package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const defaultQueueSize = 4096

// SQLiteLog appends entries to a local SQLite file from a single writer
// goroutine. Record never blocks: when the queue is full the entry is dropped
// and counted.
type SQLiteLog struct {
	db  *sql.DB
	log *slog.Logger

	ch   chan Entry
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends on ch against close(ch).
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	written atomic.Uint64
}

type Stats struct {
	Written       uint64 `json:"written"`
	Dropped       uint64 `json:"dropped"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
}

func OpenSQLite(path string, queueSize int, logger *slog.Logger) (*SQLiteLog, error) {
	if path == "" {
		return nil, fmt.Errorf("empty audit db path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteLog{db: db, log: logger, ch: make(chan Entry, queueSize)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			actor TEXT NOT NULL,
			at TEXT NOT NULL,
			data_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_kind_at ON audit_log(kind, at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteLog) Record(_ context.Context, e Entry) error {
	if s == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteLog) Stats() Stats {
	return Stats{
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
	}
}

// Close drains queued entries and closes the database.
func (s *SQLiteLog) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteLog) loop() {
	insert, err := s.db.Prepare(`INSERT INTO audit_log(kind, actor, at, data_json) VALUES(?, ?, ?, ?)`)
	if err != nil {
		s.log.Error("prepare audit insert failed", "err", err)
		for range s.ch {
			s.dropped.Add(1)
		}
		return
	}
	defer insert.Close()

	for e := range s.ch {
		data := []byte("{}")
		if len(e.Data) > 0 {
			if b, err := json.Marshal(e.Data); err == nil {
				data = b
			}
		}
		if _, err := insert.Exec(e.Kind, e.Actor, e.At.UTC().Format(time.RFC3339Nano), string(data)); err != nil {
			s.dropped.Add(1)
			s.log.Warn("audit write failed", "kind", e.Kind, "err", err)
			continue
		}
		s.written.Add(1)
	}
}
