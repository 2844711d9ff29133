package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"staking-reward-report/internal/app"
	"staking-reward-report/internal/config"
	"staking-reward-report/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
	closeLog  func() error
)

var rootCmd = &cobra.Command{
	Use:          "rewardreport",
	Short:        "Generate per-account staking reward reports",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd == versionCmd {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger, closeFn, err := logging.NewLogger(cfg.Logging)
		if err != nil {
			return err
		}
		closeLog = closeFn
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if closeLog != nil {
		if cerr := closeLog(); cerr != nil {
			fmt.Fprintln(os.Stderr, cerr)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
