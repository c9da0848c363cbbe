package runtime

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"multilang-bots/internal/domain"
	"multilang-bots/internal/notify"
	"multilang-bots/internal/payment"
	"multilang-bots/internal/platform"
	"multilang-bots/internal/repository"
	"multilang-bots/internal/state"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memOrdersRepo struct {
	mu     sync.Mutex
	orders map[int64]*domain.Order
}

func (f *memOrdersRepo) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	snapshot := *order
	return &snapshot, nil
}

func (f *memOrdersRepo) WithOrderLock(ctx context.Context, orderID int64, fn func(order *domain.Order) error) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	working := *order
	if err := fn(&working); err != nil {
		return nil, err
	}
	f.orders[orderID] = &working
	snapshot := working
	return &snapshot, nil
}

type wizardFixture struct {
	handler *WizardHandler
	states  *state.Store
	repo    *memOrdersRepo
	tenant  *domain.Tenant
	sent    *sendCounter
}

// sendCounter 统计平台收到的 sendMessage 调用
type sendCounter struct {
	mu sync.Mutex
	n  int
}

func (c *sendCounter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *sendCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func setupWizard(t *testing.T, orders ...*domain.Order) *wizardFixture {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	states := state.NewStore(client, "bot:state:", 24*time.Hour, zap.NewNop())

	sent := &sendCounter{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent.inc()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	t.Cleanup(srv.Close)

	repo := &memOrdersRepo{orders: make(map[int64]*domain.Order)}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}

	clients := platform.NewClientCache(srv.URL, zap.NewNop())
	payments := payment.NewService(repo, zap.NewNop())
	router := notify.NewRouter(clients, 1, zap.NewNop())

	tenant := &domain.Tenant{
		ID:                     1,
		Name:                   "Tarjima Plus",
		BotToken:               "123:abc",
		CompanyOrdersChannelID: sql.NullString{String: "-100", Valid: true},
		Branches: []*domain.Branch{{
			ID:                 10,
			TenantID:           1,
			Name:               "Chilonzor",
			B2COrdersChannelID: sql.NullString{String: "-200", Valid: true},
		}},
	}

	handler := NewWizardHandler(states, clients.Get(tenant.BotToken), repo, payments, router, zap.NewNop())
	return &wizardFixture{handler: handler, states: states, repo: repo, tenant: tenant, sent: sent}
}

func message(userID int64, text string) *platform.Update {
	return &platform.Update{
		UpdateID: 1,
		Message: &platform.Message{
			MessageID: 1,
			Text:      text,
			From:      &platform.User{ID: userID},
			Chat:      platform.Chat{ID: userID},
		},
	}
}

func callback(userID int64, data string) *platform.Update {
	return &platform.Update{
		UpdateID: 2,
		CallbackQuery: &platform.CallbackQuery{
			ID:      "cb1",
			Data:    data,
			From:    &platform.User{ID: userID},
			Message: &platform.Message{MessageID: 2, Chat: platform.Chat{ID: userID}},
		},
	}
}

func TestWizard_StartClearsState(t *testing.T) {
	f := setupWizard(t)
	ctx := context.Background()

	require.NoError(t, f.states.Mutate(ctx, 1, 100, func(s *state.ConversationState) {
		s.SelectedProductID = 7
	}))

	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, message(100, "/start")))

	st, err := f.states.Get(ctx, 1, 100)
	require.NoError(t, err)
	assert.Zero(t, st.SelectedProductID)
	// 欢迎消息已发送并记入待清理列表
	assert.Equal(t, 1, f.sent.count())
}

func TestWizard_CallbackSelectsProduct(t *testing.T) {
	f := setupWizard(t)
	ctx := context.Background()

	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, callback(100, "product:3")))
	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, callback(100, "language:2")))

	st, err := f.states.Get(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.SelectedProductID)
	assert.Equal(t, int64(2), st.SelectedLanguageID)
}

func TestWizard_NumericTextSetsCopyNumber(t *testing.T) {
	f := setupWizard(t)
	ctx := context.Background()

	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, message(100, "4")))

	st, err := f.states.Get(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, st.CopyNumber)
}

func TestWizard_PaymentFlow(t *testing.T) {
	f := setupWizard(t, &domain.Order{ID: 5, TenantID: 1, BranchID: 10, TotalPrice: 100000, Status: domain.StatusPending})
	ctx := context.Background()

	// 选择待收款订单后，数字输入按收款金额入账
	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, callback(100, "pay:5")))
	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, message(100, "30000")))

	order, err := f.repo.GetOrder(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), order.Received)
	assert.Equal(t, domain.StatusPending, order.Status)

	st, err := f.states.Get(ctx, 1, 100)
	require.NoError(t, err)
	assert.Zero(t, st.PendingPaymentOrderID)
}

func TestWizard_FullPaymentNotifiesStatusChange(t *testing.T) {
	f := setupWizard(t, &domain.Order{ID: 5, TenantID: 1, BranchID: 10, TotalPrice: 100000, Status: domain.StatusPending})
	ctx := context.Background()

	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, callback(100, "pay:5")))
	before := f.sent.count()
	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, message(100, "100000")))

	order, err := f.repo.GetOrder(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentConfirmed, order.Status)

	// 状态变更通知（公司频道）+ 用户回执
	assert.Equal(t, before+2, f.sent.count())
}

func TestWizard_ConfirmOrderFansOutAndClearsState(t *testing.T) {
	f := setupWizard(t, &domain.Order{ID: 5, TenantID: 1, BranchID: 10, TotalPrice: 100000, Status: domain.StatusPending})
	ctx := context.Background()

	require.NoError(t, f.states.Mutate(ctx, 1, 100, func(s *state.ConversationState) {
		s.CurrentOrderID = 5
	}))

	before := f.sent.count()
	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, callback(100, "confirm:5")))

	// 公司频道 + B2C 频道 + 用户回执
	assert.Equal(t, before+3, f.sent.count())

	st, err := f.states.Get(ctx, 1, 100)
	require.NoError(t, err)
	assert.Zero(t, st.CurrentOrderID)
}

func TestWizard_DocumentUpload(t *testing.T) {
	f := setupWizard(t)
	ctx := context.Background()

	update := &platform.Update{
		UpdateID: 3,
		Message: &platform.Message{
			MessageID: 3,
			From:      &platform.User{ID: 100},
			Chat:      platform.Chat{ID: 100},
			Document:  &platform.File{FileID: "doc-1", FileName: "passport.pdf"},
		},
	}
	require.NoError(t, f.handler.HandleUpdate(ctx, f.tenant, update))

	st, err := f.states.Get(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, st.UploadedFileIDs)
}
