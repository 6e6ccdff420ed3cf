// Package daykey projects instants onto local calendar days.
// A Key is a "YYYY-MM-DD" string naming one calendar day in some IANA
// timezone. All arithmetic is calendar-based: day distances are computed on
// midday-anchored dates so DST transitions (23h/25h days) never bias them.
package daykey

import (
	"fmt"
	"time"

	"github.com/quillworks/quill/internal/domain"
)

// Key identifies one local calendar day, formatted YYYY-MM-DD.
type Key string

const layout = "2006-01-02"

// At returns the day-key for an instant in the given location.
// For a fixed location the mapping is deterministic and non-decreasing as
// the instant increases; two instants an hour apart can share a key across
// a fall-back transition, and that is correct.
func At(t time.Time, loc *time.Location) Key {
	return Key(t.In(loc).Format(layout))
}

// Parse validates a day-key string.
func Parse(s string) (Key, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidDayKey, s)
	}
	// Reject normalized inputs like 2024-02-31.
	if t.Format(layout) != s {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidDayKey, s)
	}
	return Key(s), nil
}

// LoadLocation resolves an IANA timezone name.
func LoadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, name)
	}
	return loc, nil
}

// date splits a key. Keys are produced by At/Parse, so a malformed key here
// is a programming error; it degrades to the zero date rather than panicking.
func (k Key) date() (year int, month time.Month, day int) {
	t, err := time.Parse(layout, string(k))
	if err != nil {
		return 1, time.January, 1
	}
	return t.Date()
}

// BoundsUTC returns the half-open UTC interval [start, end) covering local
// midnight-to-midnight of k in loc. On DST transition days the interval is
// 23 or 25 hours long (or shifted, where midnight itself is skipped); the
// local day is whatever the wall clock says it is.
func BoundsUTC(k Key, loc *time.Location) (start, end time.Time) {
	y, m, d := k.date()
	start = time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
	end = time.Date(y, m, d+1, 0, 0, 0, 0, loc).UTC()
	return start, end
}

// noon anchors a key at 12:00 UTC. Midday is never skipped or repeated by a
// DST rule, so differences of noons are exact multiples of 24h.
func (k Key) noon() time.Time {
	y, m, d := k.date()
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// Diff returns the signed count of calendar days from a to b.
// Diff("2024-03-09", "2024-03-10") == 1 even when one of the two local days
// lasted 23 hours.
func Diff(a, b Key) int {
	return int(b.noon().Sub(a.noon()) / (24 * time.Hour))
}

// AreConsecutive reports whether b is exactly the calendar day after a.
func AreConsecutive(a, b Key) bool {
	return Diff(a, b) == 1
}

// Add returns the key n calendar days after k (n may be negative).
func (k Key) Add(n int) Key {
	y, m, d := k.date()
	return Key(time.Date(y, m, d+n, 12, 0, 0, 0, time.UTC).Format(layout))
}

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }
