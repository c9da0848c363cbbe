package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// APIError 平台返回的业务错误
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform API error: %s (code: %d)", e.Description, e.Code)
}

// Terminal 是否为不可重试的终态错误（目标会话不存在、凭证失效等）
// 网络抖动和限流按可重试处理
func (e *APIError) Terminal() bool {
	if e.Code == 401 || e.Code == 404 {
		return true
	}
	if e.Code == 400 && strings.Contains(strings.ToLower(e.Description), "chat not found") {
		return true
	}
	return false
}

// Client 消息平台 Bot API 客户端
// 凭证在创建后不可变更：多租户场景下每个租户持有独立的 Client 实例
type Client struct {
	httpClient *resty.Client
	token      string
	logger     *zap.Logger
}

// NewClient 创建平台客户端
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(35 * time.Second). // 长轮询请求可能挂起至超时
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		token:      token,
		logger:     logger,
	}
}

// call 调用一个 Bot API 方法并解析统一响应包装
func (c *Client) call(ctx context.Context, method string, body any, result any) error {
	var response apiResponse
	_, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&response).
		SetError(&response).
		Post(fmt.Sprintf("/bot%s/%s", c.token, method))

	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}

	if !response.OK {
		return &APIError{
			Code:        response.ErrorCode,
			Description: response.Description,
		}
	}

	if result != nil && len(response.Result) > 0 {
		if err := json.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
		}
	}

	return nil
}

// SendMessage 发送一条 HTML 格式消息到指定会话/频道
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*Message, error) {
	body := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetUpdates 长轮询拉取更新
// offset 为上次处理的 update_id + 1；调用阻塞至有新更新或超时
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message", "callback_query"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// DeleteWebhook 清除已注册的 webhook（切换回轮询模式前必须调用）
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]any{}, nil)
}

// SetWebhook 注册 webhook 地址
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	return c.call(ctx, "setWebhook", map[string]any{"url": url}, nil)
}

// GetWebhookInfo 获取 webhook 诊断信息（积压更新数、最近错误）
func (c *Client) GetWebhookInfo(ctx context.Context) (*WebhookInfo, error) {
	var info WebhookInfo
	if err := c.call(ctx, "getWebhookInfo", map[string]any{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
