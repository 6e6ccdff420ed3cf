package domain

import "time"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// SessionSource reads the append-only work-session log.
// Implementations must be pure reads — safe to call repeatedly and
// concurrently.
type SessionSource interface {
	// SessionsIn returns sessions with StartedAt in [from, to).
	SessionsIn(userID string, from, to time.Time) ([]Session, error)
}

// ProfileSource supplies per-user settings (timezone, thresholds, economy
// constants). Unknown users resolve to deployment defaults rather than an
// error so a first session can precede profile setup.
type ProfileSource interface {
	Profile(userID string) (Profile, error)
	ListUserIDs() ([]string, error)
}

// XPLedger is the economy boundary. Debit must be atomic and idempotent
// under retry: a repeated call with the same idempotency key is a no-op.
type XPLedger interface {
	Balance(userID string) (int64, error)
	Debit(userID string, amount int64, idemKey, reason string) error
}

// CelebrationSink receives fire-and-forget celebration signals.
// Emit must never block the caller.
type CelebrationSink interface {
	Emit(c Celebration)
}

// StreakStore abstracts persistence for streak state, the freeze bank, and
// the freeze usage ledger. Guarded mutations live here so that "check then
// write" happens against the store's own view, not a stale caller copy.
type StreakStore interface {
	StreakState(userID string) (StreakState, error)
	SaveStreakState(s StreakState) error
	ResetStreak(userID string) error

	FreezeBank(userID string) (FreezeBank, error)
	// UseFreezes atomically decrements the bank by n.
	// Returns ErrInsufficientFreezes with no partial decrement.
	UseFreezes(userID string, n int) error
	// PurchaseFreezes debits cost XP and credits n freezes in one
	// transaction. Returns ErrInsufficientXP or ErrFreezeLimitExceeded
	// with no partial effect. idemKey dedupes client retries.
	PurchaseFreezes(userID string, n int, cost int64, idemKey string) error

	AppendFreezeUsage(u FreezeUsage) error
	FreezeUsageDays(userID string, limit int) ([]FreezeUsage, error)
}
