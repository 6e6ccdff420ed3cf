package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/quillworks/quill/internal/domain"
)

// ─── Session Log (domain.SessionSource) ─────────────────────────────────────

// InsertSession appends one work session to the log. Corrupt durations are
// stored as received; the aggregator treats them as zero-contribution, and
// rejecting them here would drop the audit trail of a buggy client.
func (d *DB) InsertSession(s domain.Session) error {
	_, err := d.db.Exec(
		`INSERT INTO sessions (id, user_id, started_at, duration_seconds) VALUES (?, ?, ?, ?)`,
		s.ID, s.UserID, s.StartedAt.Unix(), s.DurationSeconds,
	)
	return err
}

// SessionsIn returns sessions with started_at in [from, to), ordered by time.
func (d *DB) SessionsIn(userID string, from, to time.Time) ([]domain.Session, error) {
	rows, err := d.db.Query(
		`SELECT id, user_id, started_at, duration_seconds
		 FROM sessions
		 WHERE user_id = ? AND started_at >= ? AND started_at < ?
		 ORDER BY started_at`,
		userID, from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		var startedAt int64
		if err := rows.Scan(&s.ID, &s.UserID, &startedAt, &s.DurationSeconds); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(startedAt, 0).UTC()
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ─── Profiles (domain.ProfileSource) ────────────────────────────────────────

// Profile returns the user's settings, falling back to deployment defaults
// for users without a profile row.
func (d *DB) Profile(userID string) (domain.Profile, error) {
	p := d.defaults
	p.UserID = userID

	row := d.db.QueryRow(
		`SELECT timezone, min_streak_minutes, max_freezes, freeze_cost_xp
		 FROM profiles WHERE user_id = ?`, userID,
	)
	err := row.Scan(&p.Timezone, &p.MinStreakMinutes, &p.MaxFreezes, &p.FreezeCostXP)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// UpsertProfile stores per-user overrides.
func (d *DB) UpsertProfile(p domain.Profile) error {
	_, err := d.db.Exec(
		`INSERT INTO profiles (user_id, timezone, min_streak_minutes, max_freezes, freeze_cost_xp)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			timezone=excluded.timezone,
			min_streak_minutes=excluded.min_streak_minutes,
			max_freezes=excluded.max_freezes,
			freeze_cost_xp=excluded.freeze_cost_xp`,
		p.UserID, p.Timezone, p.MinStreakMinutes, p.MaxFreezes, p.FreezeCostXP,
	)
	return err
}

// ListUserIDs returns every user known to any table the sweep cares about.
func (d *DB) ListUserIDs() ([]string, error) {
	rows, err := d.db.Query(
		`SELECT user_id FROM profiles
		 UNION SELECT user_id FROM streak_state
		 UNION SELECT DISTINCT user_id FROM sessions
		 ORDER BY user_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─── Streak State (domain.StreakStore) ──────────────────────────────────────

// StreakState loads the user's streak record, zeros if none exists yet.
func (d *DB) StreakState(userID string) (domain.StreakState, error) {
	s := domain.StreakState{UserID: userID}
	row := d.db.QueryRow(
		`SELECT current_streak, longest_streak, last_event_day
		 FROM streak_state WHERE user_id = ?`, userID,
	)
	err := row.Scan(&s.CurrentStreak, &s.LongestStreak, &s.LastEventDay)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return domain.StreakState{}, err
	}
	return s, nil
}

// SaveStreakState upserts the streak record.
func (d *DB) SaveStreakState(s domain.StreakState) error {
	_, err := d.db.Exec(
		`INSERT INTO streak_state (user_id, current_streak, longest_streak, last_event_day)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			current_streak=excluded.current_streak,
			longest_streak=excluded.longest_streak,
			last_event_day=excluded.last_event_day`,
		s.UserID, s.CurrentStreak, s.LongestStreak, s.LastEventDay,
	)
	return err
}

// ResetStreak zeroes current_streak. longest_streak and last_event_day are
// untouched: one is a high-water mark, the other audit signal.
func (d *DB) ResetStreak(userID string) error {
	_, err := d.db.Exec(
		`INSERT INTO streak_state (user_id, current_streak) VALUES (?, 0)
		 ON CONFLICT(user_id) DO UPDATE SET current_streak=0`,
		userID,
	)
	return err
}

// ─── Freeze Bank ────────────────────────────────────────────────────────────

// FreezeBank assembles the bank view: stored count plus the profile's
// economy constants.
func (d *DB) FreezeBank(userID string) (domain.FreezeBank, error) {
	p, err := d.Profile(userID)
	if err != nil {
		return domain.FreezeBank{}, err
	}
	bank := domain.FreezeBank{
		UserID:       userID,
		MaxFreezes:   p.MaxFreezes,
		FreezeCostXP: p.FreezeCostXP,
	}

	row := d.db.QueryRow(`SELECT freeze_count FROM freeze_bank WHERE user_id = ?`, userID)
	err = row.Scan(&bank.FreezeCount)
	if err == sql.ErrNoRows {
		return bank, nil
	}
	if err != nil {
		return domain.FreezeBank{}, err
	}
	return bank, nil
}

// UseFreezes atomically decrements the bank by n. The guarded UPDATE makes
// "check then decrement" one statement: zero rows affected means the bank
// could not cover n, and nothing changed.
func (d *DB) UseFreezes(userID string, n int) error {
	if n <= 0 {
		return domain.ErrAmountNotPositive
	}
	res, err := d.db.Exec(
		`UPDATE freeze_bank SET freeze_count = freeze_count - ?
		 WHERE user_id = ? AND freeze_count >= ?`,
		n, userID, n,
	)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return domain.ErrInsufficientFreezes
	}
	return nil
}

// PurchaseFreezes debits cost XP and credits n freezes as one transaction.
// Either both happen or neither does. A replayed idemKey is a silent no-op
// so a double-tapped purchase charges once.
func (d *DB) PurchaseFreezes(userID string, n int, cost int64, idemKey string) error {
	if n <= 0 || cost < 0 {
		return domain.ErrAmountNotPositive
	}
	p, err := d.Profile(userID)
	if err != nil {
		return err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if idemKey != "" {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM xp_ledger WHERE idem_key = ?`, idemKey).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil // already applied
		}
	}

	var balance int64
	if err := tx.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM xp_ledger WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return err
	}
	if balance < cost {
		return domain.ErrInsufficientXP
	}

	if _, err := tx.Exec(`INSERT OR IGNORE INTO freeze_bank (user_id, freeze_count) VALUES (?, 0)`, userID); err != nil {
		return err
	}
	res, err := tx.Exec(
		`UPDATE freeze_bank SET freeze_count = freeze_count + ?
		 WHERE user_id = ? AND freeze_count + ? <= ?`,
		n, userID, n, p.MaxFreezes,
	)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return domain.ErrFreezeLimitExceeded
	}

	key := sql.NullString{String: idemKey, Valid: idemKey != ""}
	if _, err := tx.Exec(
		`INSERT INTO xp_ledger (user_id, amount, reason, idem_key, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		userID, -cost, fmt.Sprintf("freeze_purchase x%d", n), key, time.Now().Unix(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// AppendFreezeUsage records one protected day in the audit ledger.
func (d *DB) AppendFreezeUsage(u domain.FreezeUsage) error {
	_, err := d.db.Exec(
		`INSERT INTO freeze_usage (user_id, day, used_at) VALUES (?, ?, ?)`,
		u.UserID, u.Day, unixOrNow(u.UsedAt),
	)
	return err
}

// FreezeUsageDays returns the most recent protected days, newest first.
func (d *DB) FreezeUsageDays(userID string, limit int) ([]domain.FreezeUsage, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := d.db.Query(
		`SELECT user_id, day, used_at FROM freeze_usage
		 WHERE user_id = ? ORDER BY day DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []domain.FreezeUsage
	for rows.Next() {
		var u domain.FreezeUsage
		var usedAt int64
		if err := rows.Scan(&u.UserID, &u.Day, &usedAt); err != nil {
			return nil, err
		}
		u.UsedAt = time.Unix(usedAt, 0).UTC()
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

// ─── XP Ledger (domain.XPLedger) ────────────────────────────────────────────

// Balance returns the user's XP balance (sum of all ledger amounts).
func (d *DB) Balance(userID string) (int64, error) {
	var balance int64
	err := d.db.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM xp_ledger WHERE user_id = ?`, userID,
	).Scan(&balance)
	return balance, err
}

// CreditXP awards XP. Positive amounts only.
func (d *DB) CreditXP(userID string, amount int64, reason string) error {
	if amount <= 0 {
		return domain.ErrAmountNotPositive
	}
	_, err := d.db.Exec(
		`INSERT INTO xp_ledger (user_id, amount, reason, recorded_at) VALUES (?, ?, ?, ?)`,
		userID, amount, reason, time.Now().Unix(),
	)
	return err
}

// Debit spends XP atomically; a replayed idemKey is a no-op. Fails with
// ErrInsufficientXP and no ledger row when the balance cannot cover it.
func (d *DB) Debit(userID string, amount int64, idemKey, reason string) error {
	if amount <= 0 {
		return domain.ErrAmountNotPositive
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if idemKey != "" {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM xp_ledger WHERE idem_key = ?`, idemKey).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
	}

	var balance int64
	if err := tx.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM xp_ledger WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return err
	}
	if balance < amount {
		return domain.ErrInsufficientXP
	}

	key := sql.NullString{String: idemKey, Valid: idemKey != ""}
	if _, err := tx.Exec(
		`INSERT INTO xp_ledger (user_id, amount, reason, idem_key, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		userID, -amount, reason, key, time.Now().Unix(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
