package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cloudloader/internal/services"
	"cloudloader/internal/storage"
)

func newDevicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Inspect and toggle activated devices",
	}

	cmd.AddCommand(newDevicesListCmd())
	cmd.AddCommand(newDevicesSetActiveCmd("deactivate", "Revoke a device grant without deleting it", false))
	cmd.AddCommand(newDevicesSetActiveCmd("reactivate", "Restore a revoked device grant", true))

	return cmd
}

func newDevicesListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List device grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, svc services.AdminService, b storage.Backend) error {
				resp, err := svc.ListDevices(ctx, b)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), resp)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "FINGERPRINT\tNICKNAME\tROLE\tACTIVE\tUSES\tLAST SEEN")
				for _, g := range resp.Devices {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
						g.Fingerprint, g.Nickname, g.Role, g.Active, g.UsageCount, g.LastSeenAt.Format(time.RFC3339))
				}
				w.Flush()
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d devices, %d active\n", resp.Stats.Total, resp.Stats.Active)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newDevicesSetActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <fingerprint>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, svc services.AdminService, b storage.Backend) error {
				resp, err := svc.SetDeviceActive(ctx, b, args[0], active)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Device %s active=%t\n", resp.Device.Fingerprint, resp.Device.Active)
				return nil
			})
		},
	}
}
