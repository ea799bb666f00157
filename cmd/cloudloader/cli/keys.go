package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cloudloader/internal/license"
	"cloudloader/internal/services"
	"cloudloader/internal/storage"
	"cloudloader/pkg/contracts/domain"
)

const cliTimeout = 30 * time.Second

var errNoDurable = errors.New("the memory driver has no durable store to manage; set storage.driver to sqlite, postgres or redis")

// openStore opens and migrates the configured durable backend
func openStore(ctx context.Context) (storage.Durable, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	d, err := storage.OpenDurable(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	if d == nil {
		return nil, errNoDurable
	}
	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Storage.Driver, err)
	}
	return d, nil
}

// withAdmin runs fn against the durable store with a fresh admin service
func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, svc services.AdminService, b storage.Backend) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
	defer cancel()

	d, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fn(ctx, services.NewAdminService(license.NewLocker(), logger), d)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage activation keys",
		Long:  "Generate, list and reset activation keys in the durable store.",
	}

	cmd.AddCommand(newKeysGenerateCmd())
	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysResetCmd())

	return cmd
}

// ---------- keys generate ----------

func newKeysGenerateCmd() *cobra.Command {
	var (
		role       string
		count      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate new activation keys",
		Example: `  cloudloader keys generate --role premium --count 10
  cloudloader keys generate --role coder`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, svc services.AdminService, b storage.Backend) error {
				resp, err := svc.GenerateKeys(ctx, b, role, count)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Generated %d %s keys:\n", len(resp.Codes), resp.Role)
				for _, code := range resp.Codes {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", code)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Role of the new keys (required)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of keys to generate")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("role")

	return cmd
}

// ---------- keys list ----------

func newKeysListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activation keys grouped by role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, svc services.AdminService, b storage.Backend) error {
				inv, err := svc.ListKeys(ctx, b)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), inv)
				}
				printInventory(cmd.OutOrStdout(), inv)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printInventory(out io.Writer, inv *domain.KeyInventory) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tROLE\tUSES LEFT\tACTIVE\tDEVICE")
	for _, role := range domain.Roles {
		for _, k := range inv.Keys[role] {
			device := "-"
			if k.BoundDevice != "" {
				device = license.HashFingerprint(k.BoundDevice)
			}
			uses := fmt.Sprintf("%d", k.UsesRemaining)
			if role.Unlimited() {
				uses = "unlimited"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", k.Code, k.Role, uses, k.Active, device)
		}
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d keys, %d active, %d used\n", inv.Total, inv.Active, inv.Used)
}

// ---------- keys reset ----------

func newKeysResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <code>",
		Short: "Restore a key to its initial budget and unbind it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, svc services.AdminService, b storage.Backend) error {
				resp, err := svc.ResetKey(ctx, b, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Key %s reset (%s)\n", resp.Key.Code, resp.Key.Role)
				return nil
			})
		},
	}
}
