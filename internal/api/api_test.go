package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quillworks/quill/internal/api"
	"github.com/quillworks/quill/internal/app/activity"
	"github.com/quillworks/quill/internal/app/streak"
	"github.com/quillworks/quill/internal/app/sweep"
	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/infra/signal"
	"github.com/quillworks/quill/internal/infra/sqlite"
)

const testSweepSecret = "sweep-secret"

// now is the pinned clock for every API test: 2024-06-10 12:00 UTC.
var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db  *sqlite.DB
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.Open(t.TempDir(), sqlite.Defaults{
		Timezone:         "UTC",
		MinStreakMinutes: 25,
		MaxFreezes:       5,
		FreezeCostXP:     50,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	agg := activity.NewAggregator(db)
	hub := signal.NewHub()
	svc := streak.NewService(db, agg, db, db, hub, 30)
	svc.Now = func() time.Time { return now }
	job := sweep.New(db, agg, db, testSweepSecret, 2, log)
	job.Now = func() time.Time { return now }

	server := api.NewServer(db, svc, job, hub, log)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &fixture{db: db, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no error object: %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

// logDay inserts a qualifying session on the given day (offset from today).
func (f *fixture) logDay(t *testing.T, userID string, daysAgo int) {
	t.Helper()
	started := now.AddDate(0, 0, -daysAgo).Add(-2 * time.Hour)
	err := f.db.InsertSession(domain.Session{
		ID:              fmt.Sprintf("s-%s-%d", userID, daysAgo),
		UserID:          userID,
		StartedAt:       started,
		DurationSeconds: 1800,
	})
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
}

// ═══ Health ═════════════════════════════════════════════════════════════════

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "GET", "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

// ═══ Sessions & Summary ═════════════════════════════════════════════════════

func TestLogSessionAndSummary(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/api/users/ada/sessions", map[string]interface{}{
		"started_at":       now.Add(-1 * time.Hour).Format(time.RFC3339),
		"duration_seconds": 1800,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	if body["id"] == "" || body["id"] == nil {
		t.Error("expected a generated session id")
	}

	resp, body = f.do(t, "GET", "/api/users/ada/streak", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["qualifies_today"] != true {
		t.Errorf("expected qualifies_today true, got %v", body["qualifies_today"])
	}
	today, _ := body["today"].(map[string]interface{})
	if today["total_seconds"] != float64(1800) {
		t.Errorf("expected today total 1800, got %v", today["total_seconds"])
	}
}

func TestLogSessionRejectsBadPayload(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/api/users/ada/sessions", map[string]interface{}{
		"started_at":       now.Format(time.RFC3339),
		"duration_seconds": -5,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "validation_failed" {
		t.Errorf("expected validation_failed, got %q", code)
	}
}

func TestPutProfileRejectsUnknownTimezone(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "PUT", "/api/users/ada/profile", map[string]interface{}{
		"timezone":           "Nowhere/Void",
		"min_streak_minutes": 25,
		"max_freezes":        5,
		"freeze_cost_xp":     50,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "invalid_timezone" {
		t.Errorf("expected invalid_timezone, got %q", code)
	}
}

func TestPutProfileRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "PUT", "/api/users/ada/profile", map[string]interface{}{
		"timezone":           "Asia/Tokyo",
		"min_streak_minutes": 40,
		"max_freezes":        3,
		"freeze_cost_xp":     80,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	p, err := f.db.Profile("ada")
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if p.Timezone != "Asia/Tokyo" || p.MinStreakMinutes != 40 {
		t.Errorf("profile not persisted: %+v", p)
	}
}

// ═══ Recompute ══════════════════════════════════════════════════════════════

func TestRecomputeCorrectsUpward(t *testing.T) {
	f := newFixture(t)
	f.logDay(t, "ada", 0)
	f.logDay(t, "ada", 1)
	f.logDay(t, "ada", 2)

	resp, body := f.do(t, "POST", "/api/users/ada/streak/recompute", map[string]interface{}{
		"client_session_id": "launch-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["updated"] != true {
		t.Errorf("expected updated true, got %v", body["updated"])
	}
	state, _ := body["state"].(map[string]interface{})
	if state["current_streak"] != float64(3) {
		t.Errorf("expected streak 3, got %v", state["current_streak"])
	}

	// Same client session: guarded, no rescan, still reports current state.
	resp, body = f.do(t, "POST", "/api/users/ada/streak/recompute", map[string]interface{}{
		"client_session_id": "launch-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["updated"] != false {
		t.Errorf("expected updated false on replay, got %v", body["updated"])
	}
}

func TestRecomputeAcceptsEmptyBody(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/api/users/ada/streak/recompute", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	state, _ := body["state"].(map[string]interface{})
	if state["current_streak"] != float64(0) {
		t.Errorf("expected streak 0, got %v", state["current_streak"])
	}
}

// ═══ Recovery ═══════════════════════════════════════════════════════════════

func TestRecoveryNotFoundWithoutGap(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "GET", "/api/users/ada/recovery", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "no_gap" {
		t.Errorf("expected no_gap, got %q", code)
	}
}

// seedGap installs a 2-day gap: streak of 4 last advanced 3 days ago.
func (f *fixture) seedGap(t *testing.T, userID string) {
	t.Helper()
	last := now.AddDate(0, 0, -3).Format("2006-01-02")
	err := f.db.SaveStreakState(domain.StreakState{
		UserID:        userID,
		CurrentStreak: 4,
		LongestStreak: 4,
		LastEventDay:  last,
	})
	if err != nil {
		t.Fatalf("seed streak: %v", err)
	}
}

func TestRecoveryPresentation(t *testing.T) {
	f := newFixture(t)
	f.seedGap(t, "ada")

	resp, body := f.do(t, "GET", "/api/users/ada/recovery", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["lost_days"] != float64(2) {
		t.Errorf("expected 2 lost days, got %v", body["lost_days"])
	}
	if body["can_use_freeze"] != false {
		t.Errorf("expected can_use_freeze false with empty bank, got %v", body["can_use_freeze"])
	}
}

func TestRecoveryUseFreeze(t *testing.T) {
	f := newFixture(t)
	f.seedGap(t, "ada")
	if err := f.db.CreditXP("ada", 100, "test_grant"); err != nil {
		t.Fatalf("credit xp: %v", err)
	}
	if err := f.db.PurchaseFreezes("ada", 2, 100, "seed-buy"); err != nil {
		t.Fatalf("seed freezes: %v", err)
	}

	resp, body := f.do(t, "POST", "/api/users/ada/recovery", map[string]interface{}{
		"choice": "use_freeze",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["freezes_used"] != float64(2) {
		t.Errorf("expected 2 freezes used, got %v", body["freezes_used"])
	}
	if body["current_streak"] != float64(4) {
		t.Errorf("expected streak preserved at 4, got %v", body["current_streak"])
	}

	bank, err := f.db.FreezeBank("ada")
	if err != nil {
		t.Fatalf("load bank: %v", err)
	}
	if bank.FreezeCount != 0 {
		t.Errorf("expected empty bank after recovery, got %d", bank.FreezeCount)
	}
}

func TestRecoveryUseFreezeGuard(t *testing.T) {
	f := newFixture(t)
	f.seedGap(t, "ada") // empty bank, 2 lost days

	resp, body := f.do(t, "POST", "/api/users/ada/recovery", map[string]interface{}{
		"choice": "use_freeze",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "insufficient_freezes" {
		t.Errorf("expected insufficient_freezes, got %q", code)
	}
}

func TestRecoveryPurchaseWithoutXP(t *testing.T) {
	f := newFixture(t)
	f.seedGap(t, "ada")

	resp, body := f.do(t, "POST", "/api/users/ada/recovery", map[string]interface{}{
		"choice":          "purchase_and_use",
		"idempotency_key": "buy-1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "insufficient_xp" {
		t.Errorf("expected insufficient_xp, got %q", code)
	}
}

func TestRecoveryRejectsUnknownChoice(t *testing.T) {
	f := newFixture(t)
	f.seedGap(t, "ada")

	resp, body := f.do(t, "POST", "/api/users/ada/recovery", map[string]interface{}{
		"choice": "bargain",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "validation_failed" {
		t.Errorf("expected validation_failed, got %q", code)
	}
}

// ═══ Sweep Trigger ══════════════════════════════════════════════════════════

func TestSweepRejectsBadSecret(t *testing.T) {
	f := newFixture(t)

	req, _ := http.NewRequest("POST", f.srv.URL+"/internal/sweep", nil)
	req.Header.Set("X-Sweep-Secret", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("trigger sweep: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSweepRunsWithSecret(t *testing.T) {
	f := newFixture(t)
	f.seedGap(t, "ada") // active streak, nothing logged yesterday, no freezes

	req, _ := http.NewRequest("POST", f.srv.URL+"/internal/sweep", nil)
	req.Header.Set("X-Sweep-Secret", testSweepSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("trigger sweep: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result sweep.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.UsersProcessed != 1 {
		t.Errorf("expected 1 user processed, got %d", result.UsersProcessed)
	}
	if result.Reset != 1 {
		t.Errorf("expected 1 reset, got %d", result.Reset)
	}

	state, err := f.db.StreakState("ada")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.CurrentStreak != 0 {
		t.Errorf("expected streak reset to 0, got %d", state.CurrentStreak)
	}
	if state.LongestStreak != 4 {
		t.Errorf("expected longest preserved at 4, got %d", state.LongestStreak)
	}
}

// ═══ Celebrations (SSE) ═════════════════════════════════════════════════════

func TestCelebrationStream(t *testing.T) {
	f := newFixture(t)
	f.logDay(t, "ada", 0)
	f.logDay(t, "ada", 1)

	req, _ := http.NewRequest("GET", f.srv.URL+"/api/users/ada/celebrations", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	// Give the handler a moment to subscribe before emitting.
	time.Sleep(50 * time.Millisecond)
	f.do(t, "POST", "/api/users/ada/streak/recompute", nil)

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	event := string(buf[:n])
	if !bytes.Contains([]byte(event), []byte("streak_advanced")) {
		t.Errorf("expected streak_advanced event, got %q", event)
	}
}
