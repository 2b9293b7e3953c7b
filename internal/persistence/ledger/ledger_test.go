package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTemp(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sub", "ledger.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestLedger_PriorLoads(t *testing.T) {
	l, _ := openTemp(t)
	ctx := context.Background()

	n, err := l.PriorLoads(ctx, "grid-1", "S:abc:G1")
	if err != nil || n != 0 {
		t.Fatalf("fresh ledger: n=%d err=%v", n, err)
	}
	for i := 0; i < 2; i++ {
		if err := l.RecordLoad(ctx, LoadRecord{Checksum: "S:abc:G1", OriginGridID: "grid-1", CallerID: "alice", Format: "server_bound", GridID: "live-1"}); err != nil {
			t.Fatalf("RecordLoad: %v", err)
		}
	}
	_ = l.RecordLoad(ctx, LoadRecord{Checksum: "S:def:G1", OriginGridID: "grid-1", CallerID: "alice"})

	if n, _ := l.PriorLoads(ctx, "grid-1", "S:abc:G1"); n != 2 {
		t.Fatalf("prior loads=%d want 2", n)
	}
	if n, _ := l.PriorLoads(ctx, "grid-2", "S:abc:G1"); n != 0 {
		t.Fatalf("other origin counted: %d", n)
	}
}

func TestLedger_ListsNewestFirst(t *testing.T) {
	l, _ := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"Tug", "Barge", "Skiff"} {
		if err := l.RecordSave(ctx, SaveRecord{Checksum: name, OriginGridID: "g", OwnerID: "alice", ShipName: name, At: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("RecordSave: %v", err)
		}
	}
	_ = l.RecordSave(ctx, SaveRecord{Checksum: "x", OwnerID: "bob", ShipName: "Other"})

	saves, err := l.Saves(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("Saves: %v", err)
	}
	if len(saves) != 2 || saves[0].ShipName != "Skiff" || saves[1].ShipName != "Barge" {
		t.Fatalf("unexpected saves: %+v", saves)
	}
	if !saves[0].At.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("time not preserved: %v", saves[0].At)
	}

	_ = l.RecordLoad(ctx, LoadRecord{Checksum: "a", OriginGridID: "g1", Migrated: true})
	_ = l.RecordLoad(ctx, LoadRecord{Checksum: "b", OriginGridID: "g2"})
	loads, err := l.Loads(ctx, "", 0)
	if err != nil || len(loads) != 2 || loads[0].Checksum != "b" || !loads[1].Migrated {
		t.Fatalf("loads=%+v err=%v", loads, err)
	}
	only, _ := l.Loads(ctx, "g1", 10)
	if len(only) != 1 || only[0].Checksum != "a" {
		t.Fatalf("filtered loads=%+v", only)
	}
}

func TestLedger_SchemaVersion(t *testing.T) {
	l, path := openTemp(t)
	_ = l.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var v string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v != "1" {
		t.Fatalf("schema_version=%q", v)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
