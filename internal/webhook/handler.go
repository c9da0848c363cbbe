package webhook

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"multilang-bots/internal/platform"
	"multilang-bots/internal/runtime"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterBotRoutes 注册 webhook 分发路由
func (r *Router) RegisterBotRoutes(d *Dispatcher) {
	// POST /bot/webhook/{tenant_id}/
	r.mux.HandleFunc("/bot/webhook/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/bot/webhook/"), "/")
		if rest == "" {
			// 兼容旧版单租户端点
			d.HandleDefault(w, req)
			return
		}
		tenantID, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		d.HandleTenant(w, req, tenantID)
	})

	r.mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Dispatcher 入站 webhook 调用分发器
// 把平台更新路由到对应租户的运行时，同步处理后快速返回
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
}

// NewDispatcher 创建分发器
func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

// HandleTenant 多租户端点：POST /bot/webhook/{tenant_id}/
func (d *Dispatcher) HandleTenant(w http.ResponseWriter, req *http.Request, tenantID int64) {
	rt, ok := d.registry.Get(tenantID)
	if !ok {
		d.logger.Warn("Webhook for unregistered tenant",
			zap.Int64("tenant_id", tenantID),
		)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	d.dispatch(w, req, tenantID, rt)
}

// HandleDefault 旧版单租户端点：POST /bot/webhook/
func (d *Dispatcher) HandleDefault(w http.ResponseWriter, req *http.Request) {
	rt, ok := d.registry.Default()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	d.dispatch(w, req, rt.TenantID(), rt)
}

func (d *Dispatcher) dispatch(w http.ResponseWriter, req *http.Request, tenantID int64, rt *runtime.BotRuntime) {
	var update platform.Update
	if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
		d.logger.Warn("Malformed webhook payload",
			zap.Int64("tenant_id", tenantID),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := rt.HandleWebhookUpdate(req.Context(), &update); err != nil {
		// 处理失败不回传给平台：平台会按自己的策略重投
		d.logger.Error("Webhook update handling failed",
			zap.Int64("tenant_id", tenantID),
			zap.Int64("update_id", update.UpdateID),
			zap.Error(err),
		)
	}
	w.WriteHeader(http.StatusOK)
}
