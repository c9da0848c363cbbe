package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"multilang-bots/internal/domain"
	"multilang-bots/internal/platform"
	"multilang-bots/internal/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingHandler 记录收到的更新
type recordingHandler struct {
	mu      sync.Mutex
	updates []*platform.Update
}

func (h *recordingHandler) HandleUpdate(ctx context.Context, tenant *domain.Tenant, update *platform.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

func setupDispatch(t *testing.T, tenantIDs ...int64) (*Router, map[int64]*recordingHandler) {
	registry := NewRegistry()
	handlers := make(map[int64]*recordingHandler)

	for _, id := range tenantIDs {
		tenant := &domain.Tenant{ID: id, Name: "Tenant", BotToken: "123:abc"}
		handler := &recordingHandler{}
		rt := runtime.New(tenant, nil, handler, 25, time.Second, zap.NewNop())
		registry.Register(rt)
		handlers[id] = handler
	}

	router := NewRouter(zap.NewNop())
	router.RegisterBotRoutes(NewDispatcher(registry, zap.NewNop()))
	return router, handlers
}

const updateJSON = `{"update_id":7,"message":{"message_id":1,"text":"hello","from":{"id":100},"chat":{"id":100}}}`

func TestDispatch_ToRegisteredTenant(t *testing.T) {
	router, handlers := setupDispatch(t, 1, 2)

	req := httptest.NewRequest(http.MethodPost, "/bot/webhook/2/", strings.NewReader(updateJSON))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, handlers[1].count())
	assert.Equal(t, 1, handlers[2].count())
}

func TestDispatch_UnregisteredTenant(t *testing.T) {
	router, _ := setupDispatch(t, 1)

	req := httptest.NewRequest(http.MethodPost, "/bot/webhook/99/", strings.NewReader(updateJSON))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatch_LegacyDefaultRoute(t *testing.T) {
	router, handlers := setupDispatch(t, 5, 6)

	// 旧版端点路由到第一个注册的租户
	req := httptest.NewRequest(http.MethodPost, "/bot/webhook/", strings.NewReader(updateJSON))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, handlers[5].count())
	assert.Equal(t, 0, handlers[6].count())
}

func TestDispatch_MalformedPayload(t *testing.T) {
	router, handlers := setupDispatch(t, 1)

	req := httptest.NewRequest(http.MethodPost, "/bot/webhook/1/", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, handlers[1].count())
}

func TestDispatch_MethodNotAllowed(t *testing.T) {
	router, _ := setupDispatch(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/bot/webhook/1/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDispatch_NonNumericTenant(t *testing.T) {
	router, _ := setupDispatch(t, 1)

	req := httptest.NewRequest(http.MethodPost, "/bot/webhook/abc/", strings.NewReader(updateJSON))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	router, _ := setupDispatch(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
