// Package ledger records ship saves and loads in SQLite so repeated loads of the same
// saved ship can be detected.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Ledger struct {
	db *sql.DB
}

type SaveRecord struct {
	Checksum     string
	OriginGridID string
	OwnerID      string
	ShipName     string
	At           time.Time
}

type LoadRecord struct {
	Checksum     string
	OriginGridID string
	CallerID     string
	ShipName     string
	Format       string
	Migrated     bool
	GridID       string // live grid the ship was rebuilt on
	At           time.Time
}

func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
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
	return &Ledger{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS saves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			checksum TEXT NOT NULL,
			origin_grid_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			ship_name TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_owner ON saves(owner_id, saved_at);`,
		`CREATE TABLE IF NOT EXISTS loads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			checksum TEXT NOT NULL,
			origin_grid_id TEXT NOT NULL,
			caller_id TEXT NOT NULL,
			ship_name TEXT NOT NULL,
			format TEXT NOT NULL,
			migrated INTEGER NOT NULL,
			grid_id TEXT NOT NULL,
			loaded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_loads_origin ON loads(origin_grid_id, checksum);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (l *Ledger) RecordSave(ctx context.Context, r SaveRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO saves(checksum,origin_grid_id,owner_id,ship_name,saved_at) VALUES(?,?,?,?,?)`,
		r.Checksum, r.OriginGridID, r.OwnerID, r.ShipName, stamp(r.At))
	if err != nil {
		return fmt.Errorf("ledger: record save: %w", err)
	}
	return nil
}

func (l *Ledger) RecordLoad(ctx context.Context, r LoadRecord) error {
	migrated := 0
	if r.Migrated {
		migrated = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO loads(checksum,origin_grid_id,caller_id,ship_name,format,migrated,grid_id,loaded_at) VALUES(?,?,?,?,?,?,?,?)`,
		r.Checksum, r.OriginGridID, r.CallerID, r.ShipName, r.Format, migrated, r.GridID, stamp(r.At))
	if err != nil {
		return fmt.Errorf("ledger: record load: %w", err)
	}
	return nil
}

// PriorLoads counts successful loads of the same saved ship.
func (l *Ledger) PriorLoads(ctx context.Context, originGridID, checksum string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loads WHERE origin_grid_id=? AND checksum=?`, originGridID, checksum).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: prior loads: %w", err)
	}
	return n, nil
}

// Loads lists the most recent loads, newest first. An empty origin lists all of them.
func (l *Ledger) Loads(ctx context.Context, originGridID string, limit int) ([]LoadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT checksum,origin_grid_id,caller_id,ship_name,format,migrated,grid_id,loaded_at FROM loads`
	args := []any{}
	if originGridID != "" {
		q += ` WHERE origin_grid_id=?`
		args = append(args, originGridID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: loads: %w", err)
	}
	defer rows.Close()
	var out []LoadRecord
	for rows.Next() {
		var (
			r        LoadRecord
			migrated int
			at       string
		)
		if err := rows.Scan(&r.Checksum, &r.OriginGridID, &r.CallerID, &r.ShipName, &r.Format, &migrated, &r.GridID, &at); err != nil {
			return nil, err
		}
		r.Migrated = migrated != 0
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Saves lists the most recent saves of one owner, newest first.
func (l *Ledger) Saves(ctx context.Context, ownerID string, limit int) ([]SaveRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT checksum,origin_grid_id,owner_id,ship_name,saved_at FROM saves WHERE owner_id=? ORDER BY id DESC LIMIT ?`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: saves: %w", err)
	}
	defer rows.Close()
	var out []SaveRecord
	for rows.Next() {
		var (
			r  SaveRecord
			at string
		)
		if err := rows.Scan(&r.Checksum, &r.OriginGridID, &r.OwnerID, &r.ShipName, &at); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}
