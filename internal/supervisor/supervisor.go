package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"multilang-bots/internal/domain"
	"multilang-bots/internal/runtime"

	"go.uber.org/zap"
)

// Mode 运行模式
type Mode string

const (
	// ModeThreads 所有租户运行时共享一个进程（goroutine 隔离）
	ModeThreads Mode = "threads"
	// ModeSubprocess 每个租户一个子进程
	// 多租户时使用：单个租户的崩溃或阻塞不会波及其他租户
	ModeSubprocess Mode = "subprocess"
)

// RuntimeFactory 为一个租户构造运行时（凭证在此一次性绑定）
type RuntimeFactory func(tenant *domain.Tenant) *runtime.BotRuntime

// childProcess 子进程模式下的租户句柄
type childProcess struct {
	tenant *domain.Tenant
	cmd    *exec.Cmd
	done   chan struct{} // cmd.Wait 返回后关闭
}

// Supervisor 机器人进程/线程监督器
// 保证每个配置了有效凭证的活跃租户恰有一个存活运行时。
// 句柄（goroutine 或子进程）随本次 Start 创建、随 Stop 销毁，绝不跨调用复用。
type Supervisor struct {
	factory    RuntimeFactory
	stopGrace  time.Duration
	childArgsF func(tenantID int64) []string // 子进程模式的自身重执行参数
	logger     *zap.Logger

	mu       sync.Mutex
	runtimes map[int64]*runtime.BotRuntime
	children map[int64]*childProcess
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// New 创建监督器
func New(factory RuntimeFactory, stopGrace time.Duration, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		factory:   factory,
		stopGrace: stopGrace,
		childArgsF: func(tenantID int64) []string {
			return []string{"run", fmt.Sprintf("--tenant=%d", tenantID), "--no-reload"}
		},
		logger:   logger,
		runtimes: make(map[int64]*runtime.BotRuntime),
		children: make(map[int64]*childProcess),
	}
}

// Start 为每个租户启动一个运行时
// 凭证缺失的租户跳过并告警，不会让整个启动失败
func (s *Supervisor) Start(ctx context.Context, tenants []*domain.Tenant, mode Mode) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	started := 0
	for _, tenant := range tenants {
		if !tenant.HasBotToken() {
			s.logger.Warn("Tenant has no bot token configured, skipping",
				zap.Int64("tenant_id", tenant.ID),
				zap.String("tenant_name", tenant.Name),
			)
			continue
		}

		var err error
		switch mode {
		case ModeSubprocess:
			err = s.startChild(tenant)
		default:
			s.startThread(ctx, tenant)
		}
		if err != nil {
			s.logger.Error("Failed to start tenant runtime",
				zap.Int64("tenant_id", tenant.ID),
				zap.Error(err),
			)
			continue
		}
		started++
	}

	if started == 0 {
		cancel()
		return fmt.Errorf("no tenant runtimes were started")
	}

	s.logger.Info("Supervisor started",
		zap.Int("runtimes", started),
		zap.String("mode", string(mode)),
	)
	return nil
}

// startThread 线程模式：一个 goroutine 跑一个运行时
func (s *Supervisor) startThread(ctx context.Context, tenant *domain.Tenant) {
	rt := s.factory(tenant)

	s.mu.Lock()
	s.runtimes[tenant.ID] = rt
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := rt.Run(ctx); err != nil {
			s.logger.Error("Runtime exited with error",
				zap.Int64("tenant_id", tenant.ID),
				zap.Error(err),
			)
		}
	}()

	s.logger.Info("Started runtime thread", zap.Int64("tenant_id", tenant.ID))
}

// startChild 子进程模式：重新执行自身，作用域收窄到单租户
func (s *Supervisor) startChild(tenant *domain.Tenant) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	cmd := exec.Command(exe, s.childArgsF(tenant.ID)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start subprocess: %w", err)
	}

	child := &childProcess{
		tenant: tenant,
		cmd:    cmd,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.children[tenant.ID] = child
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := cmd.Wait()
		close(child.done)

		s.mu.Lock()
		delete(s.children, tenant.ID)
		s.mu.Unlock()

		exitCode := 0
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		if err != nil {
			s.logger.Warn("Tenant subprocess exited",
				zap.Int64("tenant_id", tenant.ID),
				zap.Int("exit_code", exitCode),
				zap.Error(err),
			)
		} else {
			s.logger.Info("Tenant subprocess exited",
				zap.Int64("tenant_id", tenant.ID),
				zap.Int("exit_code", exitCode),
			)
		}
	}()

	s.logger.Info("Started tenant subprocess",
		zap.Int64("tenant_id", tenant.ID),
		zap.Int("pid", cmd.Process.Pid),
	)
	return nil
}

// Monitor 周期检查运行时存活状态，阻塞直到全部退出或 ctx 取消
func (s *Supervisor) Monitor(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.aliveCount() == 0 {
				s.logger.Warn("All tenant runtimes have stopped")
				return
			}
		}
	}
}

// aliveCount 存活运行时数量
func (s *Supervisor) aliveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.children)
	for _, rt := range s.runtimes {
		if rt.Running() {
			n++
		}
	}
	return n
}

// Stop 优雅停止全部运行时
// 先设置协作停止标志，等待宽限期，到期后强制终止残留子进程
func (s *Supervisor) Stop() {
	s.logger.Info("Stopping all tenant runtimes")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	for _, rt := range s.runtimes {
		rt.Stop()
	}
	var children []*childProcess
	for _, child := range s.children {
		children = append(children, child)
	}
	s.mu.Unlock()

	for _, child := range children {
		if err := child.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Debug("SIGTERM failed", zap.Int64("tenant_id", child.tenant.ID), zap.Error(err))
		}
	}

	// 宽限期内等待自然退出
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.stopGrace):
		for _, child := range children {
			select {
			case <-child.done:
			default:
				s.logger.Warn("Force killing tenant subprocess",
					zap.Int64("tenant_id", child.tenant.ID),
				)
				_ = child.cmd.Process.Kill()
			}
		}
		<-done
	}

	s.mu.Lock()
	s.runtimes = make(map[int64]*runtime.BotRuntime)
	s.children = make(map[int64]*childProcess)
	s.mu.Unlock()

	s.logger.Info("All tenant runtimes stopped")
}
