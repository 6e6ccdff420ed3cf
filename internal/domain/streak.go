// Package domain holds the pure types of the Quill streak engine.
// No infrastructure dependencies — services and stores depend on this
// package, never the other way around.
package domain

import "time"

// ─── Sessions & Profiles ────────────────────────────────────────────────────

// Session is one raw work session from the activity log.
// Append-only input: this core never mutates or deletes sessions.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// Profile carries the per-user settings the streak engine needs.
type Profile struct {
	UserID           string `json:"user_id"`
	Timezone         string `json:"timezone"` // IANA name, e.g. "Europe/Berlin"
	MinStreakMinutes int    `json:"min_streak_minutes"`
	MaxFreezes       int    `json:"max_freezes"`
	FreezeCostXP     int64  `json:"freeze_cost_xp"`
}

// ThresholdSeconds converts the qualifying minimum to seconds.
func (p Profile) ThresholdSeconds() int64 {
	return int64(p.MinStreakMinutes) * 60
}

// ─── Streak State ───────────────────────────────────────────────────────────

// StreakState is the persisted per-user streak record.
// CurrentStreak only moves up through recomputation and only drops to 0
// through the nightly sweep or an explicit reset. LongestStreak is a
// high-water mark and never decreases.
type StreakState struct {
	UserID        string `json:"user_id"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	LastEventDay  string `json:"last_event_day"` // day-key, "" if none yet
}

// DailyTotal is the aggregated work duration for one local calendar day.
// Derived on demand, never persisted.
type DailyTotal struct {
	UserID       string `json:"user_id"`
	Day          string `json:"day"` // day-key
	TotalSeconds int64  `json:"total_seconds"`
}

// ─── Freeze Economy ─────────────────────────────────────────────────────────

// FreezeBank is the per-user freeze balance.
// Invariant: 0 ≤ FreezeCount ≤ MaxFreezes after every operation.
type FreezeBank struct {
	UserID       string `json:"user_id"`
	FreezeCount  int    `json:"freeze_count"`
	MaxFreezes   int    `json:"max_freezes"`
	FreezeCostXP int64  `json:"freeze_cost_xp"`
}

// CanCover reports whether the bank can absorb lostDays without a purchase.
func (b FreezeBank) CanCover(lostDays int) bool {
	return b.FreezeCount >= lostDays
}

// FreezeUsage records one day a freeze protected the streak. Audit only.
type FreezeUsage struct {
	UserID string    `json:"user_id"`
	Day    string    `json:"day"` // day-key the freeze covered
	UsedAt time.Time `json:"used_at"`
}

// ─── Recovery Protocol ──────────────────────────────────────────────────────

// RecoveryChoice names a terminal branch of the recovery state machine.
type RecoveryChoice string

const (
	RecoveryUseFreeze      RecoveryChoice = "use_freeze"
	RecoveryPurchaseAndUse RecoveryChoice = "purchase_and_use"
	RecoveryReset          RecoveryChoice = "reset"
	RecoveryDismiss        RecoveryChoice = "dismiss"
)

// GapPresentation is what the client shows when a streak gap is detected.
// All amounts are precomputed so the UI renders guards without re-deriving.
type GapPresentation struct {
	UserID        string `json:"user_id"`
	LostDays      int    `json:"lost_days"`
	CurrentStreak int    `json:"current_streak"`
	FreezeCount   int    `json:"freeze_count"`
	FreezesToBuy  int    `json:"freezes_to_buy"` // 0 when the bank already covers the gap
	PurchaseCost  int64  `json:"purchase_cost"`  // XP, 0 when nothing to buy
	XPBalance     int64  `json:"xp_balance"`
	CanUseFreeze  bool   `json:"can_use_freeze"`
	CanAfford     bool   `json:"can_afford"`
	WouldExceed   bool   `json:"would_exceed_limit"`
}

// RecoveryOutcome reports what a resolved recovery did.
type RecoveryOutcome struct {
	Choice        RecoveryChoice `json:"choice"`
	FreezesUsed   int            `json:"freezes_used"`
	XPSpent       int64          `json:"xp_spent"`
	CurrentStreak int            `json:"current_streak"`
}

// ─── Celebration Signal ─────────────────────────────────────────────────────

// CelebrationKind tags the fire-and-forget signal consumed by UI/trophies.
type CelebrationKind string

const (
	CelebrationStreakAdvanced  CelebrationKind = "streak_advanced"
	CelebrationStreakProtected CelebrationKind = "streak_protected"
)

// Celebration is emitted on streak milestones; never awaited.
type Celebration struct {
	UserID        string          `json:"user_id"`
	Kind          CelebrationKind `json:"kind"`
	CurrentStreak int             `json:"current_streak"`
	FreezesUsed   int             `json:"freezes_used,omitempty"`
	At            time.Time       `json:"at"`
}
