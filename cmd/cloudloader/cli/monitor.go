package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cloudloader/internal/infrastructure"
	"cloudloader/internal/monitor"
)

func newMonitorCmd() *cobra.Command {
	var (
		url     string
		webhook string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll the health endpoint and alert on outages",
		Long: `Poll the public health endpoint at a fixed interval. After the configured
number of consecutive failures one alert is logged and posted to the webhook;
a second alert is sent when the server recovers.`,
		Example: `  cloudloader monitor --url https://loader.example.com/api/health
  LOADER_MONITOR_WEBHOOK_URL=https://hooks.example.com/x cloudloader monitor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if url != "" {
				cfg.Monitor.URL = url
			}
			if webhook != "" {
				cfg.Monitor.WebhookURL = webhook
			}

			logger, err := infrastructure.InitializeLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer infrastructure.CloseLogFile()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return monitor.New(cfg.Monitor, logger).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Health endpoint to poll (overrides monitor.url)")
	cmd.Flags().StringVar(&webhook, "webhook", "", "Webhook that receives alerts (overrides monitor.webhook_url)")

	return cmd
}
