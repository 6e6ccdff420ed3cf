// Package activity aggregates raw work sessions into per-day totals.
// Pure reads over the append-only session log — no side effects, safe to
// call repeatedly and concurrently.
package activity

import (
	"fmt"
	"sort"
	"time"

	"github.com/quillworks/quill/internal/app/daykey"
	"github.com/quillworks/quill/internal/domain"
)

// Aggregator sums session durations keyed by local calendar day.
type Aggregator struct {
	sessions domain.SessionSource
}

// NewAggregator creates an aggregator over the given session source.
func NewAggregator(sessions domain.SessionSource) *Aggregator {
	return &Aggregator{sessions: sessions}
}

// DailyTotal returns the summed duration of sessions whose start instant
// falls inside the UTC bounds of day in loc. No rows is 0, not an error.
// Corrupt durations (negative) contribute zero instead of poisoning the sum.
func (a *Aggregator) DailyTotal(userID string, day daykey.Key, loc *time.Location) (int64, error) {
	start, end := daykey.BoundsUTC(day, loc)

	rows, err := a.sessions.SessionsIn(userID, start, end)
	if err != nil {
		return 0, fmt.Errorf("sessions for %s on %s: %w", userID, day, err)
	}

	var total int64
	for _, s := range rows {
		if s.DurationSeconds < 0 {
			continue
		}
		total += s.DurationSeconds
	}
	return total, nil
}

// Qualifies reports whether a day's total meets the user's threshold.
func Qualifies(totalSeconds int64, p domain.Profile) bool {
	return totalSeconds >= p.ThresholdSeconds()
}

// QualifyingDays scans the lookback window ending at endDay (inclusive) and
// returns the day-keys whose totals meet the threshold, in chronological
// order. One query covers the whole window; sessions are bucketed by the
// day-key of their start instant, so both occurrences of a repeated
// fall-back hour land in the same bucket.
func (a *Aggregator) QualifyingDays(userID string, p domain.Profile, loc *time.Location, endDay daykey.Key, lookbackDays int) ([]daykey.Key, error) {
	firstDay := endDay.Add(-(lookbackDays - 1))
	start, _ := daykey.BoundsUTC(firstDay, loc)
	_, end := daykey.BoundsUTC(endDay, loc)

	rows, err := a.sessions.SessionsIn(userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("sessions for %s in window: %w", userID, err)
	}

	totals := make(map[daykey.Key]int64)
	for _, s := range rows {
		if s.DurationSeconds < 0 {
			continue
		}
		totals[daykey.At(s.StartedAt, loc)] += s.DurationSeconds
	}

	threshold := p.ThresholdSeconds()
	var days []daykey.Key
	for day, total := range totals {
		if total >= threshold {
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}
