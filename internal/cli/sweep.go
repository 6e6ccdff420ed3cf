package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/quillworks/quill/internal/daemon"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the nightly reconciliation once, in-process",
	Long: `Run the nightly streak reconciliation against the local database.
Requires sweep.secret to be set in config; the configured secret is used
directly, so no HTTP round-trip is involved.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if d.Config.Sweep.Secret == "" {
		return fmt.Errorf("sweep is disabled: set sweep.secret in config.toml")
	}

	result, err := d.Sweeper.Run(context.Background(), d.Config.Sweep.Secret)
	if err != nil {
		return err
	}

	fmt.Printf("Swept %d user(s): %d qualified, %d protected, %d reset, %d idle, %d failed\n",
		result.UsersProcessed, result.Qualified, result.Protected, result.Reset, result.Idle, result.Failed)
	return nil
}
