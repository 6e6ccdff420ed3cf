package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Guard violations
// are distinct values so callers can render specific, actionable messages.

var (
	// Freeze economy guards
	ErrInsufficientFreezes = errors.New("not enough freezes to cover the gap")
	ErrInsufficientXP      = errors.New("insufficient XP to purchase freezes")
	ErrFreezeLimitExceeded = errors.New("purchase would exceed the freeze cap")

	// Recovery protocol
	ErrNoGap          = errors.New("no streak gap to recover")
	ErrUnknownChoice  = errors.New("unknown recovery choice")
	ErrGuardViolation = errors.New("recovery guard not satisfied")

	// Lookups
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidTimezone = errors.New("timezone is not a valid IANA name")
	ErrInvalidDayKey   = errors.New("day-key must be YYYY-MM-DD")

	// Sweep authorization
	ErrSweepUnauthorized = errors.New("sweep trigger rejected: missing or invalid secret")

	// XP ledger
	ErrAmountNotPositive = errors.New("ledger amount must be positive")
)
