package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"metalwatch/internal/app"
)

var (
	pruneLogsDays int
	pruneDataDays int
	pruneDryRun   bool

	verifyLimit int
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Apply database schema migrations",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		return getApp().Migrate(cmd.Context(), direction)
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete collection logs and data rows past their retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneLogsDays < 0 || pruneDataDays < 0 {
			return fmt.Errorf("--logs-days and --data-days cannot be negative")
		}
		return getApp().Prune(cmd.Context(), app.PruneOptions{
			LogsDays: pruneLogsDays,
			DataDays: pruneDataDays,
			DryRun:   pruneDryRun,
		})
	},
}

var verifyAuditCmd = &cobra.Command{
	Use:   "verify-audit",
	Short: "Re-read stored report blobs and check their SHA-256 digests",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().VerifyAudit(cmd.Context(), verifyLimit)
	},
}

func init() {
	pruneCmd.Flags().IntVar(&pruneLogsDays, "logs-days", 0, "Keep collection logs for this many days (defaults to config)")
	pruneCmd.Flags().IntVar(&pruneDataDays, "data-days", 0, "Keep data rows for this many days (defaults to config)")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Print the cut-off times without deleting")

	verifyAuditCmd.Flags().IntVar(&verifyLimit, "limit", 100, "Number of most recent blobs to verify")
}
