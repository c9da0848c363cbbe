package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"multilang-bots/internal/domain"

	"go.uber.org/zap"
)

// ErrNotFound 记录不存在（与校验错误区分）
var ErrNotFound = errors.New("not found")

// TenantsRepo 租户注册表（只读）
type TenantsRepo interface {
	// ListActive 返回所有配置了机器人凭证的活跃租户（含分支）
	ListActive(ctx context.Context) ([]*domain.Tenant, error)
	// ListAll 返回所有租户（用于 --list 展示）
	ListAll(ctx context.Context) ([]*domain.Tenant, error)
	// Get 获取单个租户；不存在时返回 ErrNotFound
	Get(ctx context.Context, tenantID int64) (*domain.Tenant, error)
}

// PostgresTenantsRepo 租户仓库 PostgreSQL 实现
type PostgresTenantsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresTenantsRepo 创建租户仓库
func NewPostgresTenantsRepo(db *sql.DB, logger *zap.Logger) *PostgresTenantsRepo {
	return &PostgresTenantsRepo{
		db:     db,
		logger: logger,
	}
}

const tenantColumns = `
	id,
	name,
	COALESCE(owner, ''),
	COALESCE(bot_token, ''),
	company_orders_channel_id,
	is_active
`

func (r *PostgresTenantsRepo) ListActive(ctx context.Context) ([]*domain.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM translation_centers
		WHERE is_active = TRUE
		  AND bot_token IS NOT NULL
		  AND bot_token <> ''
		ORDER BY id
	`
	return r.queryTenants(ctx, query)
}

func (r *PostgresTenantsRepo) ListAll(ctx context.Context) ([]*domain.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM translation_centers
		ORDER BY id
	`
	return r.queryTenants(ctx, query)
}

// Get 获取单个租户
func (r *PostgresTenantsRepo) Get(ctx context.Context, tenantID int64) (*domain.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM translation_centers
		WHERE id = $1
	`

	tenant := &domain.Tenant{}
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Owner,
		&tenant.BotToken,
		&tenant.CompanyOrdersChannelID,
		&tenant.Active,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenant %d: %w", tenantID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query tenant: %w", err)
	}

	if err := r.loadBranches(ctx, tenant); err != nil {
		return nil, err
	}

	return tenant, nil
}

func (r *PostgresTenantsRepo) queryTenants(ctx context.Context, query string) ([]*domain.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		tenant := &domain.Tenant{}
		if err := rows.Scan(
			&tenant.ID,
			&tenant.Name,
			&tenant.Owner,
			&tenant.BotToken,
			&tenant.CompanyOrdersChannelID,
			&tenant.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}

	for _, tenant := range tenants {
		if err := r.loadBranches(ctx, tenant); err != nil {
			return nil, err
		}
	}

	return tenants, nil
}

// loadBranches 加载租户的分支及其通知频道
func (r *PostgresTenantsRepo) loadBranches(ctx context.Context, tenant *domain.Tenant) error {
	query := `
		SELECT
			id,
			center_id,
			name,
			b2c_orders_channel_id,
			b2b_orders_channel_id,
			is_active
		FROM branches
		WHERE center_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, tenant.ID)
	if err != nil {
		return fmt.Errorf("failed to query branches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		branch := &domain.Branch{}
		if err := rows.Scan(
			&branch.ID,
			&branch.TenantID,
			&branch.Name,
			&branch.B2COrdersChannelID,
			&branch.B2BOrdersChannelID,
			&branch.Active,
		); err != nil {
			return fmt.Errorf("failed to scan branch: %w", err)
		}
		tenant.Branches = append(tenant.Branches, branch)
	}
	return rows.Err()
}
