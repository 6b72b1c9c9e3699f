package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"metalwatch/internal/app"
)

var (
	showLimit  int
	showMarket string
	showMetal  string

	logsSource string
	logsStatus string
	logsLimit  int
)

var showCmd = &cobra.Command{
	Use:       "show [latest|recent|warehouse|etf|audit]",
	Short:     "Display stored quotes, warehouse records, ETF holdings or audit blobs",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"latest", "recent", "warehouse", "etf", "audit"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Market: showMarket,
			Metal:  showMetal,
			Limit:  showLimit,
		}
		if len(args) == 1 {
			opts.What = args[0]
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Display collection log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if logsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Logs(cmd.Context(), app.LogsOptions{
			Source: logsSource,
			Status: logsStatus,
			Limit:  logsLimit,
		})
	},
}

var debugRawCmd = &cobra.Command{
	Use:   "debug-raw <market> <metal>",
	Short: "Print the raw payload and mapping behind the newest quote of a series",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DebugRaw(cmd.Context(), args[0], args[1])
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showMarket, "market", "", "Filter recent quotes by market")
	showCmd.Flags().StringVar(&showMetal, "metal", "", "Filter recent quotes by metal")

	logsCmd.Flags().StringVar(&logsSource, "source", "", "Filter by collector name, e.g. warehouse or price:Comex")
	logsCmd.Flags().StringVar(&logsStatus, "status", "", "Filter by status (success|fail)")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "Number of entries to display")
}
