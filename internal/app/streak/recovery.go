package streak

import (
	"fmt"

	"github.com/quillworks/quill/internal/app/daykey"
	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/infra/metrics"
)

// The recovery protocol is a four-branch state machine:
//
//	Presented → { UsedFreeze, PurchasedAndUsed, Reset, Dismissed }
//
// All branches are terminal. Each performs its mutation as one guarded
// operation; a failed guard leaves every piece of state untouched.

// DetectGap checks whether the user has unprotected missed days between the
// last streak event and today. Days already covered by a nightly freeze are
// not lost. Returns ErrNoGap when the streak needs no repair.
func (s *Service) DetectGap(userID string) (*domain.GapPresentation, error) {
	_, loc, err := s.userContext(userID)
	if err != nil {
		return nil, err
	}

	state, err := s.store.StreakState(userID)
	if err != nil {
		return nil, err
	}
	if state.LastEventDay == "" || state.CurrentStreak == 0 {
		return nil, domain.ErrNoGap
	}

	last, err := daykey.Parse(state.LastEventDay)
	if err != nil {
		return nil, err
	}
	today := daykey.At(s.Now(), loc)

	lost := daykey.Diff(last, today) - 1
	if lost <= 0 {
		return nil, domain.ErrNoGap
	}

	// Subtract days the nightly sweep already froze over.
	protected, err := s.protectedDaysBetween(userID, last, today)
	if err != nil {
		return nil, err
	}
	lost -= protected
	if lost <= 0 {
		return nil, domain.ErrNoGap
	}

	bank, err := s.store.FreezeBank(userID)
	if err != nil {
		return nil, err
	}
	balance, err := s.xp.Balance(userID)
	if err != nil {
		return nil, fmt.Errorf("xp balance for %s: %w", userID, err)
	}

	gap := &domain.GapPresentation{
		UserID:        userID,
		LostDays:      lost,
		CurrentStreak: state.CurrentStreak,
		FreezeCount:   bank.FreezeCount,
		XPBalance:     balance,
		CanUseFreeze:  bank.CanCover(lost),
	}
	if !gap.CanUseFreeze {
		gap.FreezesToBuy = lost - bank.FreezeCount
		gap.PurchaseCost = int64(gap.FreezesToBuy) * bank.FreezeCostXP
		gap.CanAfford = balance >= gap.PurchaseCost
		gap.WouldExceed = bank.FreezeCount+gap.FreezesToBuy > bank.MaxFreezes
	}
	return gap, nil
}

// protectedDaysBetween counts freeze-usage days strictly inside (last, today).
func (s *Service) protectedDaysBetween(userID string, last, today daykey.Key) (int, error) {
	usages, err := s.store.FreezeUsageDays(userID, s.lookback)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, u := range usages {
		day := daykey.Key(u.Day)
		if daykey.Diff(last, day) > 0 && daykey.Diff(day, today) > 0 {
			count++
		}
	}
	return count, nil
}

// Resolve executes one terminal branch of the recovery state machine.
// idemKey dedupes a double-tapped purchase; it is ignored by the other
// branches.
func (s *Service) Resolve(userID string, choice domain.RecoveryChoice, idemKey string) (*domain.RecoveryOutcome, error) {
	switch choice {
	case domain.RecoveryUseFreeze:
		return s.resolveUseFreeze(userID)
	case domain.RecoveryPurchaseAndUse:
		return s.resolvePurchaseAndUse(userID, idemKey)
	case domain.RecoveryReset:
		return s.resolveReset(userID)
	case domain.RecoveryDismiss:
		// No state change; the gap is re-presented on the next trigger.
		metrics.Recoveries.WithLabelValues(string(domain.RecoveryDismiss)).Inc()
		return &domain.RecoveryOutcome{Choice: domain.RecoveryDismiss}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownChoice, choice)
	}
}

func (s *Service) resolveUseFreeze(userID string) (*domain.RecoveryOutcome, error) {
	gap, err := s.DetectGap(userID)
	if err != nil {
		return nil, err
	}
	if !gap.CanUseFreeze {
		return nil, domain.ErrInsufficientFreezes
	}

	if err := s.store.UseFreezes(userID, gap.LostDays); err != nil {
		return nil, err
	}
	if err := s.recordProtectedDays(userID, gap.LostDays); err != nil {
		return nil, err
	}

	s.emitProtected(userID, gap)
	metrics.Recoveries.WithLabelValues(string(domain.RecoveryUseFreeze)).Inc()
	return &domain.RecoveryOutcome{
		Choice:        domain.RecoveryUseFreeze,
		FreezesUsed:   gap.LostDays,
		CurrentStreak: gap.CurrentStreak,
	}, nil
}

func (s *Service) resolvePurchaseAndUse(userID, idemKey string) (*domain.RecoveryOutcome, error) {
	gap, err := s.DetectGap(userID)
	if err != nil {
		return nil, err
	}
	// This branch exists for the shortfall case only; a covered gap takes
	// the plain freeze branch.
	if gap.CanUseFreeze || gap.FreezesToBuy <= 0 {
		return nil, domain.ErrGuardViolation
	}
	if gap.WouldExceed {
		return nil, domain.ErrFreezeLimitExceeded
	}
	if !gap.CanAfford {
		return nil, domain.ErrInsufficientXP
	}

	if err := s.store.PurchaseFreezes(userID, gap.FreezesToBuy, gap.PurchaseCost, idemKey); err != nil {
		return nil, err
	}
	metrics.FreezesPurchased.Add(float64(gap.FreezesToBuy))
	if err := s.store.UseFreezes(userID, gap.LostDays); err != nil {
		return nil, err
	}
	if err := s.recordProtectedDays(userID, gap.LostDays); err != nil {
		return nil, err
	}

	s.emitProtected(userID, gap)
	metrics.Recoveries.WithLabelValues(string(domain.RecoveryPurchaseAndUse)).Inc()
	return &domain.RecoveryOutcome{
		Choice:        domain.RecoveryPurchaseAndUse,
		FreezesUsed:   gap.LostDays,
		XPSpent:       gap.PurchaseCost,
		CurrentStreak: gap.CurrentStreak,
	}, nil
}

func (s *Service) resolveReset(userID string) (*domain.RecoveryOutcome, error) {
	if err := s.store.ResetStreak(userID); err != nil {
		return nil, err
	}
	metrics.Recoveries.WithLabelValues(string(domain.RecoveryReset)).Inc()
	return &domain.RecoveryOutcome{Choice: domain.RecoveryReset}, nil
}

// recordProtectedDays appends one usage row per repaired day, skipping days
// the sweep already covered.
func (s *Service) recordProtectedDays(userID string, lostDays int) error {
	_, loc, err := s.userContext(userID)
	if err != nil {
		return err
	}
	state, err := s.store.StreakState(userID)
	if err != nil {
		return err
	}
	last, err := daykey.Parse(state.LastEventDay)
	if err != nil {
		return err
	}
	today := daykey.At(s.Now(), loc)

	covered := make(map[string]bool)
	usages, err := s.store.FreezeUsageDays(userID, s.lookback)
	if err != nil {
		return err
	}
	for _, u := range usages {
		covered[u.Day] = true
	}

	now := s.Now()
	remaining := lostDays
	for d := last.Add(1); remaining > 0 && daykey.Diff(d, today) > 0; d = d.Add(1) {
		if covered[string(d)] {
			continue
		}
		if err := s.store.AppendFreezeUsage(domain.FreezeUsage{UserID: userID, Day: string(d), UsedAt: now}); err != nil {
			return err
		}
		metrics.FreezesConsumed.Inc()
		remaining--
	}
	return nil
}

func (s *Service) emitProtected(userID string, gap *domain.GapPresentation) {
	s.celebrate.Emit(domain.Celebration{
		UserID:        userID,
		Kind:          domain.CelebrationStreakProtected,
		CurrentStreak: gap.CurrentStreak,
		FreezesUsed:   gap.LostDays,
		At:            s.Now(),
	})
}
