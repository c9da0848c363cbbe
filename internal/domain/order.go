package domain

import "time"

// 订单状态（状态机：pending → payment_received → payment_confirmed → in_progress → ready → completed）
const (
	StatusPending          = "pending"           // 初始状态
	StatusPaymentReceived  = "payment_received"  // 已上传付款凭证
	StatusPaymentConfirmed = "payment_confirmed" // 付款已确认
	StatusInProgress       = "in_progress"
	StatusReady            = "ready"
	StatusCompleted        = "completed"
	StatusCancelled        = "cancelled"
)

// Order 订单领域模型（仅包含本服务关心的字段）
// 金额单位为最小货币单位（整数 UZS），金额字段只允许通过 payment 包修改
type Order struct {
	// 主键
	ID int64 `db:"id"`

	// 归属
	TenantID int64 `db:"center_id"`
	BranchID int64 `db:"branch_id"`

	// 客户信息
	CustomerName  string `db:"customer_name"`
	CustomerPhone string `db:"customer_phone"`
	IsAgency      bool   `db:"is_agency"` // true = B2B（机构客户），false = B2C（个人客户）

	// 订单内容
	ProductName string `db:"product_name"`
	TotalPages  int    `db:"total_pages"`
	CopyNumber  int    `db:"copy_number"`
	Description string `db:"description"`

	// 金额字段（不变式：remaining = max(0, total_due - received)，除非 payment_accepted_fully）
	TotalPrice           int64 `db:"total_price"` // 派生价格
	ExtraFee             int64 `db:"extra_fee"`   // 附加费，>= 0
	Received             int64 `db:"received"`    // 累计已收，>= 0，单调递增
	PaymentAcceptedFully bool  `db:"payment_accepted_fully"`

	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

// TotalDue 应付总额
func (o *Order) TotalDue() int64 {
	return o.TotalPrice + o.ExtraFee
}

// Remaining 剩余应付（永不为负；整单确认后为 0）
func (o *Order) Remaining() int64 {
	if o.PaymentAcceptedFully {
		return 0
	}
	remaining := o.TotalDue() - o.Received
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsFullyPaid 是否已付清
func (o *Order) IsFullyPaid() bool {
	return o.PaymentAcceptedFully || o.Received >= o.TotalDue()
}

// PaymentPercentage 付款进度百分比（上限 100）
func (o *Order) PaymentPercentage() int {
	if o.PaymentAcceptedFully {
		return 100
	}
	total := o.TotalDue()
	if total <= 0 {
		return 0
	}
	pct := int(o.Received * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// CustomerType 客户分类标签（用于通知格式化与频道路由）
func (o *Order) CustomerType() string {
	if o.IsAgency {
		return "B2B"
	}
	return "B2C"
}
