// Package sqlite provides SQLite-based persistent storage for Quill.
// Uses WAL mode for concurrent reads and crash-safe writes. The DB type
// implements the domain store interfaces (SessionSource, ProfileSource,
// StreakStore, XPLedger).
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/quillworks/quill/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
// Deployment defaults fill profile fields users have not overridden.
type DB struct {
	db       *sql.DB
	defaults domain.Profile
}

// Defaults configures the deployment-wide economy constants applied to
// users without explicit profile rows.
type Defaults struct {
	Timezone         string
	MinStreakMinutes int
	MaxFreezes       int
	FreezeCostXP     int64
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string, defaults Defaults) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if defaults.Timezone == "" {
		defaults.Timezone = "UTC"
	}
	d := &DB{
		db: db,
		defaults: domain.Profile{
			Timezone:         defaults.Timezone,
			MinStreakMinutes: defaults.MinStreakMinutes,
			MaxFreezes:       defaults.MaxFreezes,
			FreezeCostXP:     defaults.FreezeCostXP,
		},
	}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Raw work sessions. Append-only: the streak core only reads.
		`CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			started_at       INTEGER NOT NULL,
			duration_seconds INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_time ON sessions(user_id, started_at)`,

		// Per-user settings; missing rows fall back to deployment defaults.
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id            TEXT PRIMARY KEY,
			timezone           TEXT NOT NULL,
			min_streak_minutes INTEGER NOT NULL,
			max_freezes        INTEGER NOT NULL,
			freeze_cost_xp     INTEGER NOT NULL
		)`,

		// Streak state: one row per user, created with zeros on first use.
		`CREATE TABLE IF NOT EXISTS streak_state (
			user_id        TEXT PRIMARY KEY,
			current_streak INTEGER NOT NULL DEFAULT 0,
			longest_streak INTEGER NOT NULL DEFAULT 0,
			last_event_day TEXT NOT NULL DEFAULT ''
		)`,

		// Freeze bank. The cap lives in the profile; guarded UPDATEs
		// enforce 0 <= freeze_count <= max.
		`CREATE TABLE IF NOT EXISTS freeze_bank (
			user_id      TEXT PRIMARY KEY,
			freeze_count INTEGER NOT NULL DEFAULT 0
		)`,

		// Freeze usage ledger: one row per protected day. Audit only.
		`CREATE TABLE IF NOT EXISTS freeze_usage (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			day     TEXT NOT NULL,
			used_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_freeze_usage_user ON freeze_usage(user_id, day)`,

		// XP ledger: signed amounts, balance = SUM(amount). The idem_key
		// uniqueness is what makes debits retry-safe.
		`CREATE TABLE IF NOT EXISTS xp_ledger (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL,
			amount      INTEGER NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			idem_key    TEXT,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_user ON xp_ledger(user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_xp_idem ON xp_ledger(idem_key) WHERE idem_key IS NOT NULL`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func unixOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}
