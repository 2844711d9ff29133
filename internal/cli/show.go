package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"staking-reward-report/internal/app"
)

var (
	showLimit   int
	showAddress string
	showRuns    bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored reward rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Address: showAddress,
			Limit:   showLimit,
			Runs:    showRuns,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showAddress, "address", "", "Only show rows for this account")
	showCmd.Flags().BoolVar(&showRuns, "runs", false, "List report runs instead of rows")
}
