package webhook

import (
	"context"
	"fmt"
	"strings"

	"multilang-bots/internal/platform"
	"multilang-bots/internal/repository"

	"go.uber.org/zap"
)

// Admin webhook 管理操作（独立于轮询 supervisor）
// 为租户注册 webhook 地址、查询诊断信息
type Admin struct {
	tenants repository.TenantsRepo
	clients *platform.ClientCache
	logger  *zap.Logger
}

// NewAdmin 创建 webhook 管理器
func NewAdmin(tenants repository.TenantsRepo, clients *platform.ClientCache, logger *zap.Logger) *Admin {
	return &Admin{
		tenants: tenants,
		clients: clients,
		logger:  logger,
	}
}

// WebhookURL 租户的 webhook 地址
func WebhookURL(baseURL string, tenantID int64) string {
	return fmt.Sprintf("%s/bot/webhook/%d/", strings.TrimRight(baseURL, "/"), tenantID)
}

// Register 为单个租户注册 webhook，返回注册的地址
func (a *Admin) Register(ctx context.Context, tenantID int64, baseURL string) (string, error) {
	tenant, err := a.tenants.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !tenant.HasBotToken() {
		return "", fmt.Errorf("tenant %d has no bot token configured", tenantID)
	}

	url := WebhookURL(baseURL, tenantID)
	client := a.clients.Get(tenant.BotToken)
	if err := client.SetWebhook(ctx, url); err != nil {
		return "", fmt.Errorf("failed to set webhook for tenant %d: %w", tenantID, err)
	}

	a.logger.Info("Webhook registered",
		zap.Int64("tenant_id", tenantID),
		zap.String("url", url),
	)
	return url, nil
}

// RegisterResult 批量注册的单租户结果
type RegisterResult struct {
	TenantID   int64
	TenantName string
	URL        string
	Err        error
}

// RegisterAll 为所有活跃租户注册 webhook
// 单个租户的失败只记录在结果里，不会中断其余注册
func (a *Admin) RegisterAll(ctx context.Context, baseURL string) ([]RegisterResult, error) {
	tenants, err := a.tenants.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]RegisterResult, 0, len(tenants))
	for _, tenant := range tenants {
		result := RegisterResult{TenantID: tenant.ID, TenantName: tenant.Name}
		result.URL, result.Err = a.Register(ctx, tenant.ID, baseURL)
		results = append(results, result)
	}
	return results, nil
}

// Info 获取租户的 webhook 诊断信息（积压更新数、最近错误）
func (a *Admin) Info(ctx context.Context, tenantID int64) (*platform.WebhookInfo, error) {
	tenant, err := a.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.HasBotToken() {
		return nil, fmt.Errorf("tenant %d has no bot token configured", tenantID)
	}

	client := a.clients.Get(tenant.BotToken)
	info, err := client.GetWebhookInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook info for tenant %d: %w", tenantID, err)
	}
	return info, nil
}
