package platform

import (
	"sync"

	"go.uber.org/zap"
)

// ClientCache 按凭证缓存平台客户端，避免每次发送都重建连接
// 凭证轮换时调用 Clear 使旧客户端失效
type ClientCache struct {
	baseURL string
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientCache 创建客户端缓存
func NewClientCache(baseURL string, logger *zap.Logger) *ClientCache {
	return &ClientCache{
		baseURL: baseURL,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Get 获取（或创建）指定凭证的客户端；空凭证返回 nil
func (c *ClientCache) Get(token string) *Client {
	if token == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[token]; ok {
		return client
	}

	client := NewClient(c.baseURL, token, c.logger)
	c.clients[token] = client

	suffix := token
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	c.logger.Info("Created platform client",
		zap.String("token_suffix", suffix),
	)

	return client
}

// Clear 清除指定凭证的缓存客户端
func (c *ClientCache) Clear(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, token)
}

// ClearAll 清空全部缓存客户端
func (c *ClientCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = make(map[string]*Client)
}
