package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "key-value store",
		SQL: `
CREATE TABLE IF NOT EXISTS kv (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`,
	},
	{
		Version:     2,
		Description: "write revision counter for change detection",
		SQL: `
CREATE TABLE meta (
    name   TEXT PRIMARY KEY,
    value  INTEGER NOT NULL
);
INSERT INTO meta (name, value) VALUES ('revision', 0);`,
	},
	{
		Version:     3,
		Description: "export history",
		SQL: `
CREATE TABLE exports (
    id           INTEGER PRIMARY KEY,
    path         TEXT NOT NULL,
    total_items  INTEGER NOT NULL,
    total_price  REAL NOT NULL,
    currency     TEXT NOT NULL,
    exported_at  DATETIME NOT NULL
);`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables WAL mode and a busy
// timeout so the TUI, the CLI and the bridge can share one file, and runs
// any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// KV is an opaque key-value store over the kv table. Every Set bumps a
// global revision so readers can tell that somebody wrote.
type KV struct {
	db *sql.DB
}

// NewKV wraps an open database.
func NewKV(db *sql.DB) *KV {
	return &KV{db: db}
}

// Get returns the stored values for keys (missing keys are absent from the
// map) together with the revision they were read at.
func (kv *KV) Get(ctx context.Context, keys ...string) (map[string]string, int64, error) {
	tx, err := kv.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		var v string
		err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", k).Scan(&v)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("get %q: %w", k, err)
		}
		values[k] = v
	}

	var rev int64
	if err := tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = 'revision'").Scan(&rev); err != nil {
		return nil, 0, fmt.Errorf("read revision: %w", err)
	}
	return values, rev, tx.Commit()
}

// Set writes all values in one transaction and returns the new revision.
// Either every key is written or none is.
func (kv *KV) Set(ctx context.Context, values map[string]string) (int64, error) {
	tx, err := kv.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, err := tx.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, values[k])
		if err != nil {
			return 0, fmt.Errorf("set %q: %w", k, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE meta SET value = value + 1 WHERE name = 'revision'"); err != nil {
		return 0, fmt.Errorf("bump revision: %w", err)
	}
	var rev int64
	if err := tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = 'revision'").Scan(&rev); err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rev, nil
}

// Revision returns the current write revision.
func (kv *KV) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := kv.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = 'revision'").Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}
