package repository

import (
	"context"
	"database/sql"
	"fmt"

	"multilang-bots/internal/domain"

	"go.uber.org/zap"
)

// OrdersRepo 订单仓库（仅本服务关心的字段）
// 金额字段的修改必须经过 WithOrderLock，保证同一订单上的并发调用全序执行
type OrdersRepo interface {
	// GetOrder 读取订单；不存在时返回 ErrNotFound
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	// WithOrderLock 在行级排他锁下执行 fn 并持久化金额字段；
	// fn 返回错误时整体回滚，订单状态不发生任何变化
	WithOrderLock(ctx context.Context, orderID int64, fn func(order *domain.Order) error) (*domain.Order, error)
}

// PostgresOrdersRepo 订单仓库 PostgreSQL 实现
type PostgresOrdersRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresOrdersRepo 创建订单仓库
func NewPostgresOrdersRepo(db *sql.DB, logger *zap.Logger) *PostgresOrdersRepo {
	return &PostgresOrdersRepo{
		db:     db,
		logger: logger,
	}
}

const orderColumns = `
	o.id,
	o.center_id,
	o.branch_id,
	COALESCE(o.customer_name, ''),
	COALESCE(o.customer_phone, ''),
	o.is_agency,
	COALESCE(o.product_name, ''),
	o.total_pages,
	o.copy_number,
	COALESCE(o.description, ''),
	o.total_price,
	o.extra_fee,
	o.received,
	o.payment_accepted_fully,
	o.status,
	o.created_at
`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	order := &domain.Order{}
	err := row.Scan(
		&order.ID,
		&order.TenantID,
		&order.BranchID,
		&order.CustomerName,
		&order.CustomerPhone,
		&order.IsAgency,
		&order.ProductName,
		&order.TotalPages,
		&order.CopyNumber,
		&order.Description,
		&order.TotalPrice,
		&order.ExtraFee,
		&order.Received,
		&order.PaymentAcceptedFully,
		&order.Status,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *PostgresOrdersRepo) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.id = $1
	`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	return order, nil
}

// WithOrderLock 行级锁下的订单金额变更
// 锁仅覆盖本事务，不会跨消息平台调用持有
func (r *PostgresOrdersRepo) WithOrderLock(ctx context.Context, orderID int64, fn func(order *domain.Order) error) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.id = $1
		FOR UPDATE
	`

	order, err := scanOrder(tx.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if err := fn(order); err != nil {
		return nil, err
	}

	update := `
		UPDATE orders
		SET extra_fee = $2,
		    received = $3,
		    payment_accepted_fully = $4,
		    status = $5
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		order.ID,
		order.ExtraFee,
		order.Received,
		order.PaymentAcceptedFully,
		order.Status,
	); err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order update: %w", err)
	}

	r.logger.Debug("Order money fields updated",
		zap.Int64("order_id", order.ID),
		zap.Int64("received", order.Received),
		zap.String("status", order.Status),
	)

	return order, nil
}
