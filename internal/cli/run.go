package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"multilang-bots/internal/config"
	"multilang-bots/internal/domain"
	"multilang-bots/internal/notify"
	"multilang-bots/internal/payment"
	"multilang-bots/internal/platform"
	"multilang-bots/internal/runtime"
	"multilang-bots/internal/state"
	"multilang-bots/internal/supervisor"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// guardSignature 进程表扫描用的命令行特征
const guardSignature = "multilang-bots run"

// RunCmd returns the run command
func RunCmd() *cobra.Command {
	var (
		tenantID   int64
		listOnly   bool
		autoReload bool
		noReload   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run tenant bots with long polling",
		Long: `Start long-polling runtimes for active tenants.

Without --tenant every active tenant with a bot token is started;
more than one active tenant selects subprocess isolation, a single
tenant runs in-process. --auto-reload wraps the run in a file watcher
that restarts the child on source changes (development only).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if listOnly {
				return runList(cfg, logger)
			}

			// 开发模式：watcher 作为外层进程不持有实例锁，
			// 锁由 "run --no-reload" 子进程获取
			if autoReload && !noReload {
				return runWatcher(tenantID, logger)
			}

			// 单实例守卫：PID 锁 + 进程表扫描去重
			guard := supervisor.NewGuard(cfg.Bot.LockDir, guardSignature, logger)
			if err := guard.Acquire(tenantID); err != nil {
				if errors.Is(err, supervisor.ErrAlreadyRunning) {
					fmt.Fprintln(os.Stderr, err)
				}
				return err
			}
			defer guard.Release(tenantID)

			return runSupervisor(cmd.Context(), cfg, tenantID, logger)
		},
	}

	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "Run a single tenant by ID (0 = all active tenants)")
	cmd.Flags().BoolVar(&listOnly, "list", false, "List registered tenants and exit")
	cmd.Flags().BoolVar(&autoReload, "auto-reload", false, "Restart on source file changes (development)")
	cmd.Flags().BoolVar(&noReload, "no-reload", false, "Disable auto-reload (set on watcher children)")

	return cmd
}

// runList 打印租户注册表（令牌脱敏）
func runList(cfg *config.Config, logger *zap.Logger) error {
	d, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	tenants, err := d.tenants.ListAll(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	fmt.Printf("%-6s %-30s %-8s %-28s %s\n", "ID", "NAME", "ACTIVE", "TOKEN", "CHANNEL")
	for _, t := range tenants {
		channel := "-"
		if t.CompanyOrdersChannelID.Valid {
			channel = t.CompanyOrdersChannelID.String
		}
		token := "-"
		if t.HasBotToken() {
			token = t.MaskedToken()
		}
		fmt.Printf("%-6d %-30s %-8t %-28s %s\n", t.ID, t.Name, t.Active, token, channel)
	}
	fmt.Printf("\n%d tenant(s)\n", len(tenants))
	return nil
}

// runWatcher 文件监视模式：变更防抖后重启子进程
func runWatcher(tenantID int64, logger *zap.Logger) error {
	childArgs := []string{"run", "--no-reload"}
	if tenantID > 0 {
		childArgs = append(childArgs, fmt.Sprintf("--tenant=%d", tenantID))
	}

	watcher := supervisor.NewWatcher([]string{"internal", "cmd"}, childArgs, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return watcher.Run(ctx)
}

// runSupervisor 正常模式：按活跃租户数选择线程或子进程隔离
func runSupervisor(parent context.Context, cfg *config.Config, tenantID int64, logger *zap.Logger) error {
	d, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	var tenants []*domain.Tenant
	if tenantID > 0 {
		tenant, err := d.tenants.Get(context.Background(), tenantID)
		if err != nil {
			return fmt.Errorf("failed to load tenant %d: %w", tenantID, err)
		}
		tenants = []*domain.Tenant{tenant}
	} else {
		tenants, err = d.tenants.ListActive(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list active tenants: %w", err)
		}
	}
	if len(tenants) == 0 {
		return errors.New("no active tenants to run")
	}

	clients := platform.NewClientCache(cfg.Platform.APIBase, logger)
	states := state.NewStore(d.redisDB, cfg.State.KeyPrefix, cfg.State.TTL, logger)
	payments := payment.NewService(d.orders, logger)
	router := notify.NewRouter(clients, cfg.Bot.SendRetries, logger)

	factory := func(tenant *domain.Tenant) *runtime.BotRuntime {
		client := clients.Get(tenant.BotToken)
		handler := runtime.NewWizardHandler(states, client, d.orders, payments, router, logger)
		return runtime.New(tenant, client, handler, cfg.Platform.PollTimeout, cfg.Bot.RetryBackoff, logger)
	}

	// 指定单租户或仅一个活跃租户时在进程内跑，多租户用子进程隔离
	mode := supervisor.ModeThreads
	if tenantID == 0 && len(tenants) > 1 {
		mode = supervisor.ModeSubprocess
	}

	sup := supervisor.New(factory, cfg.Bot.StopGrace, logger)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sup.Start(ctx, tenants, mode); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	sup.Monitor(ctx)
	sup.Stop()

	logger.Info("Supervisor stopped")
	return nil
}
