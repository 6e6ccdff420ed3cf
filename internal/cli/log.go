package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/quillworks/quill/internal/daemon"
	"github.com/quillworks/quill/internal/domain"
)

func init() {
	logCmd.Flags().StringVar(&logUser, "user", "", "User ID (defaults to $QUILL_USER)")
	logCmd.Flags().IntVar(&logMinutes, "minutes", 0, "Session length in minutes (required)")
	logCmd.MarkFlagRequired("minutes")
	rootCmd.AddCommand(logCmd)
}

var (
	logUser    string
	logMinutes int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Record a finished work session ending now",
	RunE:  runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	if logMinutes <= 0 {
		return fmt.Errorf("session length must be positive, got %d minutes", logMinutes)
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	userID := resolveUser(logUser)
	duration := time.Duration(logMinutes) * time.Minute
	sess := domain.Session{
		ID:              uuid.New().String(),
		UserID:          userID,
		StartedAt:       time.Now().Add(-duration),
		DurationSeconds: int64(duration.Seconds()),
	}
	if err := d.DB.InsertSession(sess); err != nil {
		return err
	}

	// Refresh the streak right away so the session counts immediately.
	state, updated, err := d.Streaks.Recompute(userID, "")
	if err != nil {
		return err
	}

	fmt.Printf("Logged %dm for %s\n", logMinutes, userID)
	if updated {
		fmt.Printf("Streak advanced to %d day(s)!\n", state.CurrentStreak)
	} else {
		fmt.Printf("Current streak: %d day(s)\n", state.CurrentStreak)
	}
	return nil
}
