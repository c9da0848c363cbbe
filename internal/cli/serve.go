package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"multilang-bots/internal/notify"
	"multilang-bots/internal/payment"
	"multilang-bots/internal/platform"
	"multilang-bots/internal/runtime"
	"multilang-bots/internal/state"
	"multilang-bots/internal/webhook"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP server",
		Long: `Serve POST /bot/webhook/{tenant_id}/ for all active tenants.

Webhook mode runtimes do not poll; every update is dispatched to the
tenant's handler inside the HTTP request. The legacy POST /bot/webhook/
route dispatches to the first registered tenant.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if addr != "" {
				cfg.Webhook.Addr = addr
			}

			d, err := connect(cfg, logger)
			if err != nil {
				return err
			}
			defer d.close()

			tenants, err := d.tenants.ListActive(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list active tenants: %w", err)
			}

			clients := platform.NewClientCache(cfg.Platform.APIBase, logger)
			states := state.NewStore(d.redisDB, cfg.State.KeyPrefix, cfg.State.TTL, logger)
			payments := payment.NewService(d.orders, logger)
			router := notify.NewRouter(clients, cfg.Bot.SendRetries, logger)

			registry := webhook.NewRegistry()
			registered := 0
			for _, tenant := range tenants {
				if !tenant.HasBotToken() {
					logger.Warn("Tenant has no bot token, skipping",
						zap.Int64("tenant_id", tenant.ID),
						zap.String("tenant_name", tenant.Name),
					)
					continue
				}
				client := clients.Get(tenant.BotToken)
				handler := runtime.NewWizardHandler(states, client, d.orders, payments, router, logger)
				rt := runtime.New(tenant, client, handler, cfg.Platform.PollTimeout, cfg.Bot.RetryBackoff, logger)
				registry.Register(rt)
				registered++
			}
			if registered == 0 {
				return errors.New("no tenants with bot tokens to serve")
			}

			httpRouter := webhook.NewRouter(logger)
			httpRouter.RegisterBotRoutes(webhook.NewDispatcher(registry, logger))

			server := webhook.NewServer(cfg.Webhook.Addr, httpRouter, logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			logger.Info("Webhook server started",
				zap.String("addr", cfg.Webhook.Addr),
				zap.Int("tenants", registered),
			)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if err := server.Stop(shutdownCtx); err != nil {
				return fmt.Errorf("failed to stop server: %w", err)
			}

			logger.Info("Webhook server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides WEBHOOK_ADDR)")

	return cmd
}
