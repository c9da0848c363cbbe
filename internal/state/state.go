package state

// ConversationState 一个终端用户的下单向导状态
// 由 Store 跨进程共享；同一字段的并发写为 last-write-wins。
// 金额数据绝不放在这里，金额只经过 payment 包。
type ConversationState struct {
	// 当前订单引用
	CurrentOrderID int64 `json:"current_order_id,omitempty"`

	// 向导中已选择的条目
	SelectedCategoryID int64 `json:"selected_category_id,omitempty"`
	SelectedProductID  int64 `json:"selected_product_id,omitempty"`
	SelectedLanguageID int64 `json:"selected_language_id,omitempty"`
	CopyNumber         int   `json:"copy_number,omitempty"`
	TotalPages         int   `json:"total_pages,omitempty"`

	// 已上传文件
	UploadedFileIDs []string `json:"uploaded_file_ids,omitempty"`

	// 已发出的消息（用于后续清理）
	MessageIDs               []int64 `json:"message_ids,omitempty"`
	TotalsMessageID          int64   `json:"totals_message_id,omitempty"`
	LastInstructionMessageID int64   `json:"last_instruction_message_id,omitempty"`

	// 待付款/待回执订单引用
	PendingPaymentOrderID int64 `json:"pending_payment_order_id,omitempty"`
	PendingReceiptOrderID int64 `json:"pending_receipt_order_id,omitempty"`

	// 自由扩展字段
	Extra map[string]any `json:"extra,omitempty"`
}

// Get 读取扩展字段
func (s *ConversationState) Get(key string) (any, bool) {
	if s.Extra == nil {
		return nil, false
	}
	v, ok := s.Extra[key]
	return v, ok
}

// HasFiles 是否已有上传文件
func (s *ConversationState) HasFiles() bool {
	return len(s.UploadedFileIDs) > 0
}
