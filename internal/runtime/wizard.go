package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"multilang-bots/internal/domain"
	"multilang-bots/internal/notify"
	"multilang-bots/internal/payment"
	"multilang-bots/internal/platform"
	"multilang-bots/internal/repository"
	"multilang-bots/internal/state"

	"go.uber.org/zap"
)

// WizardHandler 下单向导的状态持久化处理器
// 每一步把用户选择写穿到跨进程状态存储，因此同一段会话
// 可以被任意 worker（线程、子进程或 webhook 请求）接续处理。
// 对话文案与完整菜单属于上层 CRUD 应用，不在本服务内。
type WizardHandler struct {
	states   *state.Store
	client   *platform.Client
	orders   repository.OrdersRepo
	payments *payment.Service
	router   *notify.Router
	logger   *zap.Logger
}

// NewWizardHandler 创建向导处理器
// orders/payments/router 可以为 nil（纯向导模式，不处理收款回调）
func NewWizardHandler(states *state.Store, client *platform.Client,
	orders repository.OrdersRepo, payments *payment.Service, router *notify.Router,
	logger *zap.Logger) *WizardHandler {
	return &WizardHandler{
		states:   states,
		client:   client,
		orders:   orders,
		payments: payments,
		router:   router,
		logger:   logger,
	}
}

// HandleUpdate 处理一条入站更新
func (h *WizardHandler) HandleUpdate(ctx context.Context, tenant *domain.Tenant, update *platform.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, tenant, update.CallbackQuery)
	}
	if update.Message != nil {
		return h.handleMessage(ctx, tenant, update.Message)
	}
	return nil
}

func (h *WizardHandler) handleMessage(ctx context.Context, tenant *domain.Tenant, msg *platform.Message) error {
	if msg.From == nil {
		return nil
	}
	userID := msg.From.ID

	switch {
	case strings.HasPrefix(msg.Text, "/start"):
		// 新会话：清空上一次向导残留
		if err := h.states.Clear(ctx, tenant.ID, userID); err != nil {
			return fmt.Errorf("failed to clear state: %w", err)
		}
		return h.reply(ctx, tenant, userID, msg.Chat.ID,
			"Welcome! Send your documents to start a new order.")

	case msg.Document != nil:
		if err := h.states.AddFileID(ctx, tenant.ID, userID, msg.Document.FileID); err != nil {
			return err
		}
		return h.reply(ctx, tenant, userID, msg.Chat.ID,
			fmt.Sprintf("File received: %s", msg.Document.FileName))

	case len(msg.Photo) > 0:
		// 取最大尺寸的照片
		photo := msg.Photo[len(msg.Photo)-1]
		if err := h.states.AddFileID(ctx, tenant.ID, userID, photo.FileID); err != nil {
			return err
		}
		return h.reply(ctx, tenant, userID, msg.Chat.ID, "Photo received.")

	case msg.Text != "":
		n, err := strconv.ParseInt(strings.TrimSpace(msg.Text), 10, 64)
		if err != nil || n <= 0 {
			return nil
		}

		// 有待收款订单时数字输入按收款金额处理，否则按份数处理
		st, err := h.states.Get(ctx, tenant.ID, userID)
		if err != nil {
			return err
		}
		if st.PendingPaymentOrderID != 0 && h.payments != nil {
			return h.recordPayment(ctx, tenant, userID, msg.Chat.ID, st.PendingPaymentOrderID, n)
		}
		return h.states.Mutate(ctx, tenant.ID, userID, func(s *state.ConversationState) {
			s.CopyNumber = int(n)
		})
	}

	return nil
}

// handleCallback 按钮回调：回调数据形如 "category:3" / "product:7" / "language:2"
func (h *WizardHandler) handleCallback(ctx context.Context, tenant *domain.Tenant, cb *platform.CallbackQuery) error {
	if cb.From == nil {
		return nil
	}
	userID := cb.From.ID

	kind, rawID, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return nil
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil
	}

	// 订单提交：触发新订单通知并结束本次会话
	if kind == "confirm" {
		var chatID int64
		if cb.Message != nil {
			chatID = cb.Message.Chat.ID
		}
		return h.confirmOrder(ctx, tenant, userID, chatID, id)
	}

	return h.states.Mutate(ctx, tenant.ID, userID, func(s *state.ConversationState) {
		switch kind {
		case "category":
			s.SelectedCategoryID = id
		case "product":
			s.SelectedProductID = id
		case "language":
			s.SelectedLanguageID = id
		case "order":
			s.CurrentOrderID = id
		case "pay":
			s.PendingPaymentOrderID = id
		case "receipt":
			s.PendingReceiptOrderID = id
		default:
			h.logger.Debug("Unknown callback kind", zap.String("data", cb.Data))
		}
	})
}

// confirmOrder 订单提交回调：公司频道 + 客户分类频道扇出通知，然后清空会话
func (h *WizardHandler) confirmOrder(ctx context.Context, tenant *domain.Tenant, userID, chatID, orderID int64) error {
	if h.orders == nil || h.router == nil {
		return nil
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return h.reply(ctx, tenant, userID, chatID, "Order not found.")
		}
		return fmt.Errorf("failed to load order %d: %w", orderID, err)
	}

	h.router.NotifyOrderCreated(ctx, tenant, branchOf(tenant, order.BranchID), order)

	if err := h.states.Clear(ctx, tenant.ID, userID); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return h.reply(ctx, tenant, userID, chatID,
		fmt.Sprintf("Order #%d confirmed. Total: %d UZS.", order.ID, order.TotalDue()))
}

// recordPayment 收款金额输入：走付款台账行级锁，付清时发状态变更通知
func (h *WizardHandler) recordPayment(ctx context.Context, tenant *domain.Tenant, userID, chatID, orderID, amount int64) error {
	var oldStatus string
	if h.orders != nil {
		if prev, err := h.orders.GetOrder(ctx, orderID); err == nil {
			oldStatus = prev.Status
		}
	}

	res, err := h.payments.RecordPayment(ctx, payment.RecordRequest{
		OrderID: orderID,
		Amount:  &amount,
		Actor:   payment.Actor{ID: userID, Role: payment.RoleStaff},
	})

	var payErr *payment.PaymentError
	if errors.As(err, &payErr) {
		// 校验失败对用户可见，会话保持待收款状态以便重新输入
		return h.reply(ctx, tenant, userID, chatID, payErr.Reason)
	}
	if err != nil {
		return fmt.Errorf("failed to record payment for order %d: %w", orderID, err)
	}

	if clearErr := h.states.Mutate(ctx, tenant.ID, userID, func(s *state.ConversationState) {
		s.PendingPaymentOrderID = 0
	}); clearErr != nil {
		return clearErr
	}

	if h.router != nil && h.orders != nil && res.Status != oldStatus {
		if order, err := h.orders.GetOrder(ctx, orderID); err == nil {
			h.router.NotifyStatusChange(ctx, tenant, order, oldStatus)
		}
	}

	return h.reply(ctx, tenant, userID, chatID,
		fmt.Sprintf("Payment recorded: %d UZS received, %d UZS remaining (%d%%).",
			res.Received, res.Remaining, res.PaymentPercentage))
}

// reply 发送回复并把消息 ID 记入状态（用于后续清理）
// 发送失败只记日志：用户侧的失败会在下一次交互中透明重试
func (h *WizardHandler) reply(ctx context.Context, tenant *domain.Tenant, userID, chatID int64, text string) error {
	if h.client == nil || chatID == 0 {
		return nil
	}
	msg, err := h.client.SendMessage(ctx, strconv.FormatInt(chatID, 10), text)
	if err != nil {
		h.logger.Warn("Failed to send reply",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
		return nil
	}
	return h.states.AddMessageID(ctx, tenant.ID, userID, msg.MessageID)
}

// branchOf 按订单归属查找分支，找不到时返回 nil（只发公司频道）
func branchOf(tenant *domain.Tenant, branchID int64) *domain.Branch {
	for _, b := range tenant.Branches {
		if b.ID == branchID {
			return b
		}
	}
	return nil
}
