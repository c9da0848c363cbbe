package cli

import (
	"context"
	"fmt"
	"time"

	"multilang-bots/internal/platform"
	"multilang-bots/internal/webhook"

	"github.com/spf13/cobra"
)

// WebhookCmd returns the webhook command
func WebhookCmd() *cobra.Command {
	var (
		action   string
		tenantID int64
		baseURL  string
	)

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage tenant webhook registrations",
		Long: `Register or inspect tenant webhooks on the bot platform.

Actions:
  list       show active tenants and their webhook URLs
  setup      register the webhook for one tenant (--tenant, --base-url)
  setup-all  register webhooks for every active tenant (--base-url)
  info       show webhook diagnostics for one tenant (--tenant)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			d, err := connect(cfg, logger)
			if err != nil {
				return err
			}
			defer d.close()

			clients := platform.NewClientCache(cfg.Platform.APIBase, logger)
			admin := webhook.NewAdmin(d.tenants, clients, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			switch action {
			case "list":
				return webhookList(ctx, d, baseURL)

			case "setup":
				if tenantID == 0 {
					return fmt.Errorf("--tenant is required for action %q", action)
				}
				if baseURL == "" {
					return fmt.Errorf("--base-url is required for action %q", action)
				}
				url, err := admin.Register(ctx, tenantID, baseURL)
				if err != nil {
					return err
				}
				fmt.Printf("Webhook registered for tenant %d: %s\n", tenantID, url)
				return nil

			case "setup-all":
				if baseURL == "" {
					return fmt.Errorf("--base-url is required for action %q", action)
				}
				results, err := admin.RegisterAll(ctx, baseURL)
				if err != nil {
					return err
				}
				ok := 0
				for _, r := range results {
					if r.Err != nil {
						fmt.Printf("FAIL  %-6d %-30s %v\n", r.TenantID, r.TenantName, r.Err)
						continue
					}
					fmt.Printf("OK    %-6d %-30s %s\n", r.TenantID, r.TenantName, r.URL)
					ok++
				}
				fmt.Printf("\n%d/%d webhook(s) registered\n", ok, len(results))
				return nil

			case "info":
				if tenantID == 0 {
					return fmt.Errorf("--tenant is required for action %q", action)
				}
				info, err := admin.Info(ctx, tenantID)
				if err != nil {
					return err
				}
				fmt.Printf("Tenant:          %d\n", tenantID)
				fmt.Printf("URL:             %s\n", orDash(info.URL))
				fmt.Printf("Pending updates: %d\n", info.PendingUpdateCount)
				if info.LastErrorMessage != "" {
					fmt.Printf("Last error:      %s (at %s)\n",
						info.LastErrorMessage,
						time.Unix(info.LastErrorDate, 0).Format("2006-01-02 15:04:05"))
				}
				return nil

			default:
				return fmt.Errorf("unknown action %q (expected list, setup, setup-all or info)", action)
			}
		},
	}

	cmd.Flags().StringVar(&action, "action", "list", "Action: list, setup, setup-all or info")
	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "Tenant ID (for setup and info)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Public base URL, e.g. https://bots.example.com")

	return cmd
}

// webhookList 打印活跃租户及其 webhook 地址
func webhookList(ctx context.Context, d *deps, baseURL string) error {
	tenants, err := d.tenants.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active tenants: %w", err)
	}

	fmt.Printf("%-6s %-30s %-28s %s\n", "ID", "NAME", "TOKEN", "WEBHOOK URL")
	for _, t := range tenants {
		token := "-"
		url := "-"
		if t.HasBotToken() {
			token = t.MaskedToken()
			if baseURL != "" {
				url = webhook.WebhookURL(baseURL, t.ID)
			}
		}
		fmt.Printf("%-6d %-30s %-28s %s\n", t.ID, t.Name, token, url)
	}
	fmt.Printf("\n%d active tenant(s)\n", len(tenants))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
