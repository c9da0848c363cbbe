package notify

import (
	"fmt"
	"strings"

	"multilang-bots/internal/domain"
)

// 状态标记
var statusMarks = map[string]string{
	domain.StatusPending:          "🟡",
	domain.StatusPaymentReceived:  "🟠",
	domain.StatusPaymentConfirmed: "🟣",
	domain.StatusInProgress:       "🔵",
	domain.StatusReady:            "🟢",
	domain.StatusCompleted:        "✅",
	domain.StatusCancelled:        "❌",
}

func statusMark(status string) string {
	if mark, ok := statusMarks[status]; ok {
		return mark
	}
	return "⚪"
}

// formatOrderMessage 新订单通知正文（HTML）
func formatOrderMessage(tenant *domain.Tenant, branch *domain.Branch, order *domain.Order) string {
	customerType := "👤 B2C"
	if order.IsAgency {
		customerType = "🏢 B2B"
	}

	branchName := "N/A"
	if branch != nil {
		branchName = branch.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>📋 New Order #%d</b>\n", order.ID)
	fmt.Fprintf(&b, "%s | %s %s\n\n", customerType, statusMark(order.Status), order.Status)
	fmt.Fprintf(&b, "<b>Customer:</b> %s\n", orDefault(order.CustomerName))
	fmt.Fprintf(&b, "<b>Phone:</b> %s\n", orDefault(order.CustomerPhone))
	fmt.Fprintf(&b, "<b>Branch:</b> %s\n\n", branchName)
	fmt.Fprintf(&b, "<b>Product:</b> %s\n", orDefault(order.ProductName))
	fmt.Fprintf(&b, "<b>Pages:</b> %d\n", order.TotalPages)
	fmt.Fprintf(&b, "<b>Copies:</b> %d\n", order.CopyNumber)
	fmt.Fprintf(&b, "<b>Total Price:</b> %d UZS\n", order.TotalPrice)

	if order.Description != "" {
		desc := order.Description
		if len(desc) > 200 {
			desc = desc[:200]
		}
		fmt.Fprintf(&b, "\n<b>Notes:</b> %s\n", desc)
	}

	fmt.Fprintf(&b, "\n<i>Created: %s</i>", order.CreatedAt.Format("2006-01-02 15:04"))
	return b.String()
}

// formatStatusMessage 状态变更通知正文（HTML）
func formatStatusMessage(order *domain.Order, oldStatus string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>📝 Order #%d Status Update</b>\n\n", order.ID)
	fmt.Fprintf(&b, "%s <b>New Status:</b> %s\n", statusMark(order.Status), order.Status)
	if oldStatus != "" {
		fmt.Fprintf(&b, "<i>Previous: %s</i>\n", oldStatus)
	}
	fmt.Fprintf(&b, "\n<b>Customer:</b> %s", orDefault(order.CustomerName))
	return b.String()
}

func orDefault(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
