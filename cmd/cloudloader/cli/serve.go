package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cloudloader/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the activation server",
		Example: `  cloudloader serve
  cloudloader serve --config /etc/cloudloader/config.yaml
  LOADER_STORAGE_DRIVER=redis cloudloader serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	application, err := app.NewApplication(cfgFile)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}
