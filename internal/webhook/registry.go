package webhook

import (
	"sync"

	"multilang-bots/internal/runtime"
)

// Registry 已注册的租户运行时表（webhook 分发目标）
type Registry struct {
	mu        sync.RWMutex
	runtimes  map[int64]*runtime.BotRuntime
	defaultID int64
}

// NewRegistry 创建运行时注册表
func NewRegistry() *Registry {
	return &Registry{
		runtimes: make(map[int64]*runtime.BotRuntime),
	}
}

// Register 注册一个租户运行时；首个注册成为兼容旧端点的默认运行时
func (r *Registry) Register(rt *runtime.BotRuntime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runtimes) == 0 {
		r.defaultID = rt.TenantID()
	}
	r.runtimes[rt.TenantID()] = rt
}

// Get 按租户查找运行时
func (r *Registry) Get(tenantID int64) (*runtime.BotRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[tenantID]
	return rt, ok
}

// Default 旧版单租户端点使用的默认运行时
func (r *Registry) Default() (*runtime.BotRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[r.defaultID]
	return rt, ok
}
