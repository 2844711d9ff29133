package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"staking-reward-report/internal/app"
	"staking-reward-report/internal/config"
)

var (
	reportFrom     string
	reportTo       string
	reportAccounts []string
	reportOutput   string
	reportWorkers  int
	reportChart    bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate reward reports for the configured accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReportOptions{
			Accounts:  reportAccounts,
			OutputDir: reportOutput,
			Workers:   reportWorkers,
		}

		var err error
		if opts.From, err = parseFlagTime("from", reportFrom); err != nil {
			return err
		}
		if opts.To, err = parseFlagTime("to", reportTo); err != nil {
			return err
		}
		if reportWorkers < 0 {
			return fmt.Errorf("--workers cannot be negative")
		}
		if cmd.Flags().Changed("chart") {
			opts.Chart = &reportChart
		}

		return getApp().Report(cmd.Context(), opts)
	},
}

func parseFlagTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := config.ParseTime(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return &t, nil
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "Start of the window (YYYY-MM-DD or RFC3339, inclusive)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "End of the window (YYYY-MM-DD or RFC3339, exclusive)")
	reportCmd.Flags().StringSliceVar(&reportAccounts, "account", nil, "Only report these configured addresses (repeatable)")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "Directory for generated files (overrides report.output_dir)")
	reportCmd.Flags().IntVar(&reportWorkers, "workers", 0, "Concurrent chain lookups per account (overrides concurrency.workers)")
	reportCmd.Flags().BoolVar(&reportChart, "chart", false, "Also render a PNG chart per account")
}
