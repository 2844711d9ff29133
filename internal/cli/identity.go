package cli

import (
	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity <address>",
	Short: "Resolve the on-chain identity and nominations of an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Identity(cmd.Context(), args[0], cmd.OutOrStdout())
	},
}
