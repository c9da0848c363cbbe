package domain

import (
	"database/sql"
	"strings"
)

// Tenant 租户领域模型（对应 translation_centers 表）
// 每个租户拥有独立的机器人凭证和订单通知频道
type Tenant struct {
	// 主键
	ID int64 `db:"id"`

	// 基本信息
	Name  string `db:"name"`  // VARCHAR(255), NOT NULL
	Owner string `db:"owner"` // VARCHAR(255), nullable

	// 机器人凭证（活跃租户间唯一；运行时创建后不可变更）
	BotToken string `db:"bot_token"` // VARCHAR(255), nullable

	// 公司订单频道（可选，所有订单通知都会发送到该频道）
	CompanyOrdersChannelID sql.NullString `db:"company_orders_channel_id"`

	// 状态
	Active bool `db:"is_active"`

	// 分支机构（含分支级通知频道）
	Branches []*Branch `db:"-"`
}

// Branch 分支机构（对应 branches 表）
type Branch struct {
	ID       int64  `db:"id"`
	TenantID int64  `db:"center_id"`
	Name     string `db:"name"`

	// 分支级订单频道：按客户分类二选一路由
	B2COrdersChannelID sql.NullString `db:"b2c_orders_channel_id"` // 个人客户
	B2BOrdersChannelID sql.NullString `db:"b2b_orders_channel_id"` // 机构客户

	Active bool `db:"is_active"`
}

// HasBotToken 是否配置了机器人凭证
func (t *Tenant) HasBotToken() bool {
	return strings.TrimSpace(t.BotToken) != ""
}

// MaskedToken 脱敏凭证（用于 --list 展示，不泄露完整密钥）
func (t *Tenant) MaskedToken() string {
	if t.BotToken == "" {
		return ""
	}
	runes := []rune(t.BotToken)
	if len(runes) <= 23 {
		return string(runes[:len(runes)/2]) + "..."
	}
	return string(runes[:15]) + "..." + string(runes[len(runes)-8:])
}
