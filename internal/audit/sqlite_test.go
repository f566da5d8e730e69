package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSQLiteLogWritesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.sqlite")
	s, err := OpenSQLite(path, 16, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	if err := s.Record(ctx, Entry{Kind: KindMarketSale, Actor: "buyer", At: at, Data: map[string]any{"price": 500}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record(ctx, Entry{Kind: KindJobsHourly, At: at}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if st := s.Stats(); st.Written != 2 || st.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	// Closed logs swallow writes.
	if err := s.Record(ctx, Entry{Kind: KindJobsDaily}); err != nil {
		t.Fatalf("record after close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(1) FROM audit_log`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows=%d want=2", n)
	}
	var data string
	if err := db.QueryRow(`SELECT data_json FROM audit_log WHERE kind = ?`, KindMarketSale).Scan(&data); err != nil {
		t.Fatalf("select: %v", err)
	}
	if data != `{"price":500}` {
		t.Fatalf("data_json=%s", data)
	}
}

func TestSQLiteLogDropsWhenFull(t *testing.T) {
	s := &SQLiteLog{ch: make(chan Entry, 1)}
	ctx := context.Background()
	_ = s.Record(ctx, Entry{Kind: "a"})
	_ = s.Record(ctx, Entry{Kind: "b"})
	_ = s.Record(ctx, Entry{Kind: "c"})

	st := s.Stats()
	if st.Dropped != 2 {
		t.Fatalf("Dropped=%d want=2", st.Dropped)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteLogRecordDuringClose(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.sqlite"), 8, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if err := s.Record(ctx, Entry{Kind: KindMarketSale}); err != nil {
					t.Errorf("record: %v", err)
					return
				}
			}
		}()
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()

	st := s.Stats()
	if st.QueueDepth != 0 {
		t.Fatalf("entries left in queue after close: %d", st.QueueDepth)
	}
	if st.Written+st.Dropped > 8*200 {
		t.Fatalf("accounted for more entries than recorded: %+v", st)
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	if _, err := OpenSQLite("", 0, nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
