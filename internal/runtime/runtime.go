package runtime

import (
	"context"
	"sync"
	"time"

	"multilang-bots/internal/domain"
	"multilang-bots/internal/platform"

	"go.uber.org/zap"
)

// UpdateHandler 处理一条入站更新
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, tenant *domain.Tenant, update *platform.Update) error
}

// BotRuntime 单个租户的机器人运行时
// 凭证在构造时绑定且不可变更；多租户共享一个运行时对象并换凭证是并发不安全的，
// 每个租户必须持有独立实例（需要隔离时由 supervisor 拆分到子进程）。
type BotRuntime struct {
	tenant      *domain.Tenant
	client      *platform.Client
	handler     UpdateHandler
	pollTimeout int
	backoff     time.Duration
	logger      *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}

	mu      sync.Mutex
	running bool
	offset  int64
}

// New 创建机器人运行时
func New(tenant *domain.Tenant, client *platform.Client, handler UpdateHandler, pollTimeout int, backoff time.Duration, logger *zap.Logger) *BotRuntime {
	return &BotRuntime{
		tenant:      tenant,
		client:      client,
		handler:     handler,
		pollTimeout: pollTimeout,
		backoff:     backoff,
		logger: logger.With(
			zap.Int64("tenant_id", tenant.ID),
			zap.String("tenant_name", tenant.Name),
		),
		stopCh: make(chan struct{}),
	}
}

// TenantID 所属租户
func (r *BotRuntime) TenantID() int64 {
	return r.tenant.ID
}

// Running 轮询循环是否存活
func (r *BotRuntime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run 启动长轮询循环，阻塞直到 Stop 或 ctx 取消
// 先清除可能遗留的 webhook 注册，然后循环拉取更新；
// 循环内的任何异常只会记录并退避后继续，不会让整个 supervisor 崩溃。
func (r *BotRuntime) Run(ctx context.Context) error {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.logger.Info("Starting bot runtime")

	// 轮询模式与 webhook 互斥，先清掉旧注册
	if err := r.client.DeleteWebhook(ctx); err != nil {
		r.logger.Warn("Failed to clear webhook registration", zap.Error(err))
	}
	// 短暂停顿，确保平台侧注册已清除
	if !r.sleep(ctx, 500*time.Millisecond) {
		return nil
	}

	for {
		select {
		case <-r.stopCh:
			r.logger.Info("Bot runtime stopped")
			return nil
		case <-ctx.Done():
			r.logger.Info("Bot runtime context cancelled")
			return nil
		default:
		}

		updates, err := r.client.GetUpdates(ctx, r.offset, r.pollTimeout)
		if err != nil {
			if ctx.Err() != nil || r.stopped() {
				return nil
			}
			// 凭证失效或网络异常：记录并退避重试，而不是退出
			r.logger.Error("Polling error, retrying after backoff",
				zap.Duration("backoff", r.backoff),
				zap.Error(err),
			)
			if !r.sleep(ctx, r.backoff) {
				return nil
			}
			continue
		}

		for i := range updates {
			update := &updates[i]
			if update.UpdateID >= r.offset {
				r.offset = update.UpdateID + 1
			}
			r.handleOne(ctx, update)
		}
	}
}

// HandleWebhookUpdate webhook 模式入口：同步处理一条更新
func (r *BotRuntime) HandleWebhookUpdate(ctx context.Context, update *platform.Update) error {
	return r.handler.HandleUpdate(ctx, r.tenant, update)
}

// Stop 设置协作停止标志；幂等
func (r *BotRuntime) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// handleOne 处理单条更新；处理器 panic 只记录不扩散
func (r *BotRuntime) handleOne(ctx context.Context, update *platform.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Update handler panicked",
				zap.Int64("update_id", update.UpdateID),
				zap.Any("panic", rec),
			)
		}
	}()

	if err := r.handler.HandleUpdate(ctx, r.tenant, update); err != nil {
		r.logger.Error("Update handler failed",
			zap.Int64("update_id", update.UpdateID),
			zap.Error(err),
		)
	}
}

func (r *BotRuntime) stopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// sleep 可中断休眠；返回 false 表示已请求停止
func (r *BotRuntime) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-r.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
