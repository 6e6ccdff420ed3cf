// Package streak implements the streak consistency engine: the convergent
// client-triggered recomputation, the freeze economy, and the interactive
// recovery protocol. The stored counter is never trusted downward — this
// package only moves it up; the nightly sweep only moves it to zero. The
// two commute, so no lock is held across them.
package streak

import (
	"fmt"
	"sync"
	"time"

	"github.com/quillworks/quill/internal/app/activity"
	"github.com/quillworks/quill/internal/app/daykey"
	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/infra/metrics"
)

// DefaultLookbackDays bounds the recomputation scan window.
const DefaultLookbackDays = 30

// Service coordinates streak state, the freeze bank, and celebrations.
type Service struct {
	store     domain.StreakStore
	agg       *activity.Aggregator
	profiles  domain.ProfileSource
	xp        domain.XPLedger
	celebrate domain.CelebrationSink
	lookback  int

	// Now is the clock; tests pin it.
	Now func() time.Time

	mu         sync.Mutex
	recomputed map[string]string // userID → last client session served
}

// NewService wires a streak service.
func NewService(store domain.StreakStore, agg *activity.Aggregator, profiles domain.ProfileSource, xp domain.XPLedger, celebrate domain.CelebrationSink, lookbackDays int) *Service {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &Service{
		store:      store,
		agg:        agg,
		profiles:   profiles,
		xp:         xp,
		celebrate:  celebrate,
		lookback:   lookbackDays,
		Now:        time.Now,
		recomputed: make(map[string]string),
	}
}

// userContext resolves the profile and timezone for a user.
func (s *Service) userContext(userID string) (domain.Profile, *time.Location, error) {
	p, err := s.profiles.Profile(userID)
	if err != nil {
		return domain.Profile{}, nil, fmt.Errorf("profile for %s: %w", userID, err)
	}
	loc, err := daykey.LoadLocation(p.Timezone)
	if err != nil {
		return domain.Profile{}, nil, err
	}
	return p, loc, nil
}

// Recompute derives the authoritative streak from raw history and corrects
// the stored counter upward only. It is idempotent and convergent: calling
// it twice yields the same value, and it never decreases the stored streak.
// A repeated call with the same clientSessionID is a no-op (the once-per-
// client-session guard); an empty clientSessionID always scans.
//
// Returns the (possibly updated) state and whether a correction was written.
func (s *Service) Recompute(userID, clientSessionID string) (domain.StreakState, bool, error) {
	if clientSessionID != "" {
		s.mu.Lock()
		seen := s.recomputed[userID] == clientSessionID
		s.mu.Unlock()
		if seen {
			state, err := s.store.StreakState(userID)
			return state, false, err
		}
	}

	p, loc, err := s.userContext(userID)
	if err != nil {
		return domain.StreakState{}, false, err
	}

	today := daykey.At(s.Now(), loc)
	yesterday := today.Add(-1)

	qualifying, err := s.agg.QualifyingDays(userID, p, loc, today, s.lookback)
	if err != nil {
		return domain.StreakState{}, false, err
	}

	calculated, anchor := walkStreak(qualifying, today, yesterday)

	state, err := s.store.StreakState(userID)
	if err != nil {
		return domain.StreakState{}, false, err
	}

	updated := false
	if calculated > state.CurrentStreak {
		state.CurrentStreak = calculated
		if calculated > state.LongestStreak {
			state.LongestStreak = calculated
		}
		state.LastEventDay = string(anchor)
		if err := s.store.SaveStreakState(state); err != nil {
			return domain.StreakState{}, false, fmt.Errorf("save corrected streak: %w", err)
		}
		updated = true
		metrics.RecomputeCorrections.Inc()
		s.celebrate.Emit(domain.Celebration{
			UserID:        userID,
			Kind:          domain.CelebrationStreakAdvanced,
			CurrentStreak: state.CurrentStreak,
			At:            s.Now(),
		})
	}

	// Mark the guard only after a successful scan so failures can retry.
	if clientSessionID != "" {
		s.mu.Lock()
		s.recomputed[userID] = clientSessionID
		s.mu.Unlock()
	}

	return state, updated, nil
}

// walkStreak counts consecutive qualifying days ending at today or
// yesterday. qualifying must be sorted ascending. Returns the count and the
// most recent qualifying day (the streak's anchor); count 0 means the
// streak is broken at present.
func walkStreak(qualifying []daykey.Key, today, yesterday daykey.Key) (int, daykey.Key) {
	if len(qualifying) == 0 {
		return 0, ""
	}

	anchor := qualifying[len(qualifying)-1]
	if anchor != today && anchor != yesterday {
		return 0, anchor
	}

	count := 1
	mostRecent := anchor
	for i := len(qualifying) - 2; i >= 0; i-- {
		if !daykey.AreConsecutive(qualifying[i], anchor) {
			break
		}
		count++
		anchor = qualifying[i]
	}
	return count, mostRecent
}

// Summary is the read model behind GET /streak and `quill status`.
type Summary struct {
	State      domain.StreakState      `json:"state"`
	Bank       domain.FreezeBank       `json:"bank"`
	Today      domain.DailyTotal       `json:"today"`
	Qualifies  bool                    `json:"qualifies_today"`
	PendingGap *domain.GapPresentation `json:"pending_gap,omitempty"`
}

// Summarize assembles the user's current streak view.
func (s *Service) Summarize(userID string) (Summary, error) {
	p, loc, err := s.userContext(userID)
	if err != nil {
		return Summary{}, err
	}

	state, err := s.store.StreakState(userID)
	if err != nil {
		return Summary{}, err
	}
	bank, err := s.store.FreezeBank(userID)
	if err != nil {
		return Summary{}, err
	}

	today := daykey.At(s.Now(), loc)
	total, err := s.agg.DailyTotal(userID, today, loc)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		State:     state,
		Bank:      bank,
		Today:     domain.DailyTotal{UserID: userID, Day: string(today), TotalSeconds: total},
		Qualifies: activity.Qualifies(total, p),
	}

	if gap, err := s.DetectGap(userID); err == nil {
		sum.PendingGap = gap
	} else if err != domain.ErrNoGap {
		return Summary{}, err
	}
	return sum, nil
}
