package health_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quillworks/quill/internal/health"
	"github.com/quillworks/quill/internal/infra/sqlite"
)

func testDB(t *testing.T) (*sqlite.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir, sqlite.Defaults{
		Timezone:         "UTC",
		MinStreakMinutes: 25,
		MaxFreezes:       5,
		FreezeCostXP:     50,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dir
}

func TestCheckerHealthyWithOpenDB(t *testing.T) {
	db, dir := testDB(t)
	c := health.NewChecker(db, dir)

	// Run one round manually through the public loop entry.
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // loop exits right after the initial round
	c.Run(ctx)

	if !c.IsHealthy() {
		t.Errorf("expected healthy checker, got statuses %+v", c.Statuses())
	}
	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %s unhealthy: %s", s.Name, s.Error)
		}
	}
}

func TestCheckerReportsClosedDB(t *testing.T) {
	db, dir := testDB(t)
	db.Close()
	c := health.NewChecker(db, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx)

	if c.IsHealthy() {
		t.Error("expected unhealthy checker after closing the database")
	}
}

func TestMissingDataDirIsNotAnError(t *testing.T) {
	db, _ := testDB(t)
	c := health.NewChecker(db, filepath.Join(t.TempDir(), "not-created-yet"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx)

	if !c.IsHealthy() {
		t.Errorf("expected lazily-created data dir to pass, got %+v", c.Statuses())
	}
}
