// Package cli implements the cloudloader command tree.
package cli

import (
	"github.com/spf13/cobra"

	"cloudloader/internal/config"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(commit, date string) error {
	return newRootCmd(commit, date).Execute()
}

func newRootCmd(commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloudloader",
		Short: "Activation backend for the Cloud Loader client",
		Long: `Cloud Loader activation backend.

Serves key activation, device validation and the role-gated payload script,
with durable storage and a volatile fallback when the store is unreachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./cloudloader.yaml and ./config.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newKeysCmd())
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newMonitorCmd())
	cmd.AddCommand(newHashPasswordCmd())
	cmd.AddCommand(newVersionCmd(commit, date))

	return cmd
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
