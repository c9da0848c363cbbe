package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"multilang-bots/internal/domain"
	"multilang-bots/internal/platform"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeliveryResult 单个目的频道的投递结果
type DeliveryResult struct {
	Kind       string `json:"kind"`    // "company" | "B2B" | "B2C"
	ChannelID  string `json:"channel_id,omitempty"`
	Configured bool   `json:"configured"` // false = 频道未配置（不算失败）
	Sent       bool   `json:"sent"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}

// Summary 一次订单事件的全部投递结果
type Summary struct {
	EventID string           `json:"event_id"` // 日志关联用
	OrderID int64            `json:"order_id"`
	Results []DeliveryResult `json:"results"`
}

// Delivered 成功投递数
func (s *Summary) Delivered() int {
	n := 0
	for _, r := range s.Results {
		if r.Sent {
			n++
		}
	}
	return n
}

// Router 订单事件通知路由
// 路由规则：租户的公司频道（若已配置）总是尝试；
// 另按订单客户分类尝试分支的 B2B 或 B2C 频道之一。
// 单个频道的失败只记录在结果里，不会中断其余投递。
type Router struct {
	clients   *platform.ClientCache
	retries   int
	retryWait time.Duration
	logger    *zap.Logger
}

// NewRouter 创建通知路由
func NewRouter(clients *platform.ClientCache, retries int, logger *zap.Logger) *Router {
	if retries <= 0 {
		retries = 3
	}
	return &Router{
		clients:   clients,
		retries:   retries,
		retryWait: time.Second,
		logger:    logger,
	}
}

// NotifyOrderCreated 新订单通知：公司频道 + 分类对应的分支频道
func (r *Router) NotifyOrderCreated(ctx context.Context, tenant *domain.Tenant, branch *domain.Branch, order *domain.Order) *Summary {
	message := formatOrderMessage(tenant, branch, order)
	summary := &Summary{EventID: uuid.NewString(), OrderID: order.ID}

	client := r.clients.Get(tenant.BotToken)
	if client == nil {
		r.logger.Warn("Tenant has no bot token, skipping notifications",
			zap.Int64("tenant_id", tenant.ID),
			zap.Int64("order_id", order.ID),
		)
		return summary
	}

	// 1. 公司频道（总是尝试，若已配置）
	summary.Results = append(summary.Results,
		r.deliver(ctx, client, "company", channelOf(tenant.CompanyOrdersChannelID.Valid, tenant.CompanyOrdersChannelID.String), message))

	// 2. 分支频道：按客户分类二选一
	if branch != nil {
		if order.IsAgency {
			summary.Results = append(summary.Results,
				r.deliver(ctx, client, "B2B", channelOf(branch.B2BOrdersChannelID.Valid, branch.B2BOrdersChannelID.String), message))
		} else {
			summary.Results = append(summary.Results,
				r.deliver(ctx, client, "B2C", channelOf(branch.B2COrdersChannelID.Valid, branch.B2COrdersChannelID.String), message))
		}
	}

	r.logSummary("order created", summary)
	return summary
}

// NotifyStatusChange 订单状态变更通知（仅发公司频道）
func (r *Router) NotifyStatusChange(ctx context.Context, tenant *domain.Tenant, order *domain.Order, oldStatus string) *Summary {
	message := formatStatusMessage(order, oldStatus)
	summary := &Summary{EventID: uuid.NewString(), OrderID: order.ID}

	client := r.clients.Get(tenant.BotToken)
	if client == nil {
		return summary
	}

	summary.Results = append(summary.Results,
		r.deliver(ctx, client, "company", channelOf(tenant.CompanyOrdersChannelID.Valid, tenant.CompanyOrdersChannelID.String), message))

	r.logSummary("status change", summary)
	return summary
}

// deliver 向单个频道投递，含重试；频道未配置时仅做记录
func (r *Router) deliver(ctx context.Context, client *platform.Client, kind, channelID, message string) DeliveryResult {
	result := DeliveryResult{Kind: kind, ChannelID: channelID}

	if channelID == "" {
		result.Error = kind + " channel not configured"
		return result
	}
	result.Configured = true

	sent, attempts, err := r.send(ctx, client, channelID, message)
	result.Sent = sent
	result.Attempts = attempts
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// send 发送消息，平台错误最多重试 retries 次；终态错误立即放弃
func (r *Router) send(ctx context.Context, client *platform.Client, channelID, message string) (bool, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		_, err := client.SendMessage(ctx, channelID, message)
		if err == nil {
			return true, attempt, nil
		}
		lastErr = err

		var apiErr *platform.APIError
		if errors.As(err, &apiErr) && apiErr.Terminal() {
			r.logger.Error("Terminal platform error, giving up",
				zap.String("channel_id", channelID),
				zap.Error(err),
			)
			return false, attempt, err
		}

		r.logger.Warn("Send attempt failed",
			zap.String("channel_id", channelID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.retries),
			zap.Error(err),
		)

		if attempt < r.retries {
			select {
			case <-ctx.Done():
				return false, attempt, ctx.Err()
			case <-time.After(r.retryWait):
			}
		}
	}
	return false, r.retries, lastErr
}

func (r *Router) logSummary(event string, summary *Summary) {
	fields := []zap.Field{
		zap.String("event_id", summary.EventID),
		zap.Int64("order_id", summary.OrderID),
		zap.Int("delivered", summary.Delivered()),
		zap.Int("destinations", len(summary.Results)),
	}
	for _, res := range summary.Results {
		fields = append(fields, zap.Bool(res.Kind+"_sent", res.Sent))
	}
	r.logger.Info(fmt.Sprintf("Notification fan-out finished: %s", event), fields...)
}

func channelOf(valid bool, id string) string {
	if !valid {
		return ""
	}
	return id
}
