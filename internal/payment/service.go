package payment

import (
	"context"
	"fmt"

	"multilang-bots/internal/domain"
	"multilang-bots/internal/repository"

	"go.uber.org/zap"
)

// PaymentError 校验类错误（与订单不存在的 repository.ErrNotFound 区分）
// 返回该错误时订单状态没有发生任何变化
type PaymentError struct {
	Reason string
}

func (e *PaymentError) Error() string {
	return "payment error: " + e.Reason
}

// Actor 执行付款操作的员工
type Actor struct {
	ID   int64
	Role string
}

// 员工角色
const (
	RoleStaff = "staff"
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// Elevated 是否为高权限角色（强制确认与重置仅限高权限）
func (a Actor) Elevated() bool {
	return a.Role == RoleOwner || a.Role == RoleAdmin
}

// Result 一次付款操作后的订单金额快照
type Result struct {
	OrderID              int64  `json:"order_id"`
	Received             int64  `json:"received"`
	Remaining            int64  `json:"remaining"`
	TotalDue             int64  `json:"total_due"`
	ExtraFee             int64  `json:"extra_fee"`
	IsFullyPaid          bool   `json:"is_fully_paid"`
	PaymentAcceptedFully bool   `json:"payment_accepted_fully"`
	Status               string `json:"status"`
	PaymentPercentage    int    `json:"payment_percentage"` // 上限 100
}

// RecordRequest 付款记录请求
type RecordRequest struct {
	OrderID     int64
	Amount      *int64 // 本次收款金额，>= 0；允许超付，超出部分只在 remaining 中收敛
	AcceptFully bool   // 整单确认收款
	ForceAccept bool   // 未付清时仍强制确认（仅高权限）
	ExtraFee    *int64 // 追加附加费，> 0
	Actor       Actor
}

// Service 付款台账服务
// 订单金额字段的唯一修改入口；同一订单上的并发调用在行级锁下全序执行。
type Service struct {
	orders repository.OrdersRepo
	logger *zap.Logger
}

// NewService 创建付款台账服务
func NewService(orders repository.OrdersRepo, logger *zap.Logger) *Service {
	return &Service{
		orders: orders,
		logger: logger,
	}
}

// RecordPayment 记录一次付款动作（收款 / 附加费 / 整单确认）
// 所有修改在同一行级锁事务内完成，要么全部生效要么全部回滚
func (s *Service) RecordPayment(ctx context.Context, req RecordRequest) (*Result, error) {
	// 锁外先做纯校验，校验失败不开启事务
	if req.Amount != nil && *req.Amount < 0 {
		return nil, &PaymentError{Reason: "amount cannot be negative"}
	}
	if req.ExtraFee != nil && *req.ExtraFee <= 0 {
		return nil, &PaymentError{Reason: "extra fee must be positive"}
	}
	if req.ForceAccept && !req.Actor.Elevated() {
		return nil, &PaymentError{Reason: "force_accept requires an elevated role"}
	}
	if req.Amount == nil && req.ExtraFee == nil && !req.AcceptFully {
		return nil, &PaymentError{Reason: "nothing to record"}
	}

	order, err := s.orders.WithOrderLock(ctx, req.OrderID, func(order *domain.Order) error {
		if req.ExtraFee != nil {
			order.ExtraFee += *req.ExtraFee
		}
		if req.Amount != nil {
			order.Received += *req.Amount
		}

		if req.AcceptFully {
			if order.Received < order.TotalDue() && !req.ForceAccept {
				return &PaymentError{
					Reason: fmt.Sprintf("received %d is less than total due %d, use force_accept to override",
						order.Received, order.TotalDue()),
				}
			}
			// 强制确认未付清订单时，把 received 提升到 total_due 保持合计一致
			if order.Received < order.TotalDue() {
				order.Received = order.TotalDue()
			}
			order.PaymentAcceptedFully = true
			order.Status = domain.StatusPaymentConfirmed
		} else if req.Amount != nil && order.IsFullyPaid() {
			// 普通收款正好付清时自动推进状态
			order.Status = domain.StatusPaymentConfirmed
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment recorded",
		zap.Int64("order_id", order.ID),
		zap.Int64("received", order.Received),
		zap.Int64("remaining", order.Remaining()),
		zap.String("status", order.Status),
		zap.Int64("actor_id", req.Actor.ID),
	)

	return resultFrom(order), nil
}

// AddExtraFee 追加附加费（金额必须为正），与收款走同一行级锁
func (s *Service) AddExtraFee(ctx context.Context, orderID, amount int64, actor Actor) (*Result, error) {
	return s.RecordPayment(ctx, RecordRequest{
		OrderID:  orderID,
		ExtraFee: &amount,
		Actor:    actor,
	})
}

// ResetPayment 清零付款数据（仅高权限）
// 收款归零、取消整单确认、状态回到初始，全部在同一行级锁内完成
func (s *Service) ResetPayment(ctx context.Context, orderID int64, actor Actor) (*Result, error) {
	if !actor.Elevated() {
		return nil, &PaymentError{Reason: "reset_payment requires an elevated role"}
	}

	order, err := s.orders.WithOrderLock(ctx, orderID, func(order *domain.Order) error {
		order.Received = 0
		order.PaymentAcceptedFully = false
		order.Status = domain.StatusPending
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("Payment reset",
		zap.Int64("order_id", order.ID),
		zap.Int64("actor_id", actor.ID),
	)

	return resultFrom(order), nil
}

func resultFrom(order *domain.Order) *Result {
	return &Result{
		OrderID:              order.ID,
		Received:             order.Received,
		Remaining:            order.Remaining(),
		TotalDue:             order.TotalDue(),
		ExtraFee:             order.ExtraFee,
		IsFullyPaid:          order.IsFullyPaid(),
		PaymentAcceptedFully: order.PaymentAcceptedFully,
		Status:               order.Status,
		PaymentPercentage:    order.PaymentPercentage(),
	}
}
