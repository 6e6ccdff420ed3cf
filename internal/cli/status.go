package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/quillworks/quill/internal/daemon"
)

func init() {
	statusCmd.Flags().StringVar(&statusUser, "user", "", "User ID (defaults to $QUILL_USER)")
	rootCmd.AddCommand(statusCmd)
}

var statusUser string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current streak, freeze bank, and today's progress",
	RunE:  runStatus,
}

// resolveUser picks the user ID from the flag, then $QUILL_USER, then a
// fixed single-user default.
func resolveUser(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("QUILL_USER"); env != "" {
		return env
	}
	return "default"
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	userID := resolveUser(statusUser)
	sum, err := d.Streaks.Summarize(userID)
	if err != nil {
		return err
	}

	fmt.Printf("User:           %s\n", userID)
	fmt.Printf("Current streak: %d day(s)\n", sum.State.CurrentStreak)
	fmt.Printf("Longest streak: %d day(s)\n", sum.State.LongestStreak)
	if sum.State.LastEventDay != "" {
		fmt.Printf("Last counted:   %s\n", sum.State.LastEventDay)
	}
	fmt.Printf("Today:          %dm logged", sum.Today.TotalSeconds/60)
	if sum.Qualifies {
		fmt.Printf(" (qualifies)\n")
	} else {
		fmt.Printf("\n")
	}
	fmt.Printf("Freezes:        %d / %d\n", sum.Bank.FreezeCount, sum.Bank.MaxFreezes)

	if gap := sum.PendingGap; gap != nil {
		fmt.Printf("\nStreak at risk: %d missed day(s) since %s\n", gap.LostDays, sum.State.LastEventDay)
		if gap.CanUseFreeze {
			fmt.Printf("  You have enough freezes to recover.\n")
		} else if gap.FreezesToBuy > 0 {
			fmt.Printf("  Recovery needs %d more freeze(s) — %d XP (balance %d).\n",
				gap.FreezesToBuy, gap.PurchaseCost, gap.XPBalance)
		}
	}

	return nil
}
