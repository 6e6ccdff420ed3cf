// Package sweep implements the nightly reconciliation job: one scheduled
// pass over all users applying the decay/freeze policy to yesterday.
// The job never increments a streak — it preserves, freeze-protects, or
// resets. Users are independent, so the pass runs on a worker pool and a
// failure for one user never touches the next.
package sweep

import (
	"context"
	"crypto/subtle"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quillworks/quill/internal/app/activity"
	"github.com/quillworks/quill/internal/app/daykey"
	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/infra/metrics"
)

// Outcome labels for one user's sweep.
const (
	OutcomeQualified = "qualified" // yesterday met the threshold, no action
	OutcomeProtected = "protected" // freeze consumed, streak preserved
	OutcomeReset     = "reset"     // no freeze left, streak zeroed
	OutcomeIdle      = "idle"      // no streak to decay or protect
)

// DefaultWorkers is the pool size when config leaves it unset.
const DefaultWorkers = 8

// Job is the nightly reconciliation sweep.
type Job struct {
	store    domain.StreakStore
	agg      *activity.Aggregator
	profiles domain.ProfileSource
	secret   string
	workers  int
	log      *logrus.Logger

	// Now is the clock; tests pin it.
	Now func() time.Time
}

// New wires a sweep job. secret guards Run; an empty secret disables the
// job entirely (every trigger is rejected).
func New(store domain.StreakStore, agg *activity.Aggregator, profiles domain.ProfileSource, secret string, workers int, log *logrus.Logger) *Job {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = logrus.New()
	}
	return &Job{
		store:    store,
		agg:      agg,
		profiles: profiles,
		secret:   secret,
		workers:  workers,
		log:      log,
		Now:      time.Now,
	}
}

// Result is the aggregate report of one sweep run. Per-user detail stays in
// the logs; callers only get counts.
type Result struct {
	UsersProcessed int `json:"users_processed"`
	Qualified      int `json:"qualified"`
	Protected      int `json:"protected"`
	Reset          int `json:"reset"`
	Idle           int `json:"idle"`
	Failed         int `json:"failed"`
}

// Run executes one full sweep. The secret must match or no work happens.
// A failure to list users aborts the whole run (retry on the next trigger);
// per-user failures are logged, counted, and swallowed.
func (j *Job) Run(ctx context.Context, secret string) (Result, error) {
	if j.secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(j.secret)) != 1 {
		metrics.SweepUnauthorized.Inc()
		j.log.Warn("sweep trigger rejected: invalid secret")
		return Result{}, domain.ErrSweepUnauthorized
	}

	started := j.Now()
	userIDs, err := j.profiles.ListUserIDs()
	if err != nil {
		return Result{}, err
	}

	var qualified, protected, reset, idle, failed atomic.Int64

	ids := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < j.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range ids {
				outcome, err := j.sweepUser(userID)
				if err != nil {
					failed.Add(1)
					metrics.SweepUserFailures.Inc()
					j.log.WithFields(logrus.Fields{
						"user_id": userID,
						"cause":   err.Error(),
					}).Error("sweep: user skipped")
					continue
				}
				metrics.SweepUsersProcessed.WithLabelValues(outcome).Inc()
				switch outcome {
				case OutcomeQualified:
					qualified.Add(1)
				case OutcomeProtected:
					protected.Add(1)
				case OutcomeReset:
					reset.Add(1)
				case OutcomeIdle:
					idle.Add(1)
				}
			}
		}()
	}

feed:
	for _, id := range userIDs {
		select {
		case ids <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(ids)
	wg.Wait()

	res := Result{
		UsersProcessed: len(userIDs),
		Qualified:      int(qualified.Load()),
		Protected:      int(protected.Load()),
		Reset:          int(reset.Load()),
		Idle:           int(idle.Load()),
		Failed:         int(failed.Load()),
	}
	metrics.SweepDuration.Observe(j.Now().Sub(started).Seconds())
	j.log.WithFields(logrus.Fields{
		"users":     res.UsersProcessed,
		"qualified": res.Qualified,
		"protected": res.Protected,
		"reset":     res.Reset,
		"failed":    res.Failed,
	}).Info("sweep complete")
	return res, ctx.Err()
}

// sweepUser applies the decay/freeze policy to one user's yesterday.
func (j *Job) sweepUser(userID string) (string, error) {
	p, err := j.profiles.Profile(userID)
	if err != nil {
		return "", err
	}
	loc, err := daykey.LoadLocation(p.Timezone)
	if err != nil {
		return "", err
	}

	yesterday := daykey.At(j.Now(), loc).Add(-1)

	total, err := j.agg.DailyTotal(userID, yesterday, loc)
	if err != nil {
		return "", err
	}
	if activity.Qualifies(total, p) {
		// The increment for a qualifying day belongs to the recompute
		// path; the sweep is strictly decay/freeze.
		return OutcomeQualified, nil
	}

	state, err := j.store.StreakState(userID)
	if err != nil {
		return "", err
	}
	if state.CurrentStreak == 0 {
		// Nothing to protect and nothing to reset; spending a freeze
		// here would drain the bank for no benefit.
		return OutcomeIdle, nil
	}

	bank, err := j.store.FreezeBank(userID)
	if err != nil {
		return "", err
	}
	if bank.FreezeCount > 0 {
		if err := j.store.UseFreezes(userID, 1); err != nil {
			return "", err
		}
		usage := domain.FreezeUsage{UserID: userID, Day: string(yesterday), UsedAt: j.Now()}
		if err := j.store.AppendFreezeUsage(usage); err != nil {
			return "", err
		}
		metrics.FreezesConsumed.Inc()
		return OutcomeProtected, nil
	}

	if err := j.store.ResetStreak(userID); err != nil {
		return "", err
	}
	metrics.StreakResets.Inc()
	return OutcomeReset, nil
}
