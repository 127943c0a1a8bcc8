package tables

import (
	"fmt"
	"strings"
	"time"
)

// ReceiptOrder is one source-order reference on a consolidated
// receipt, with the order's total as settled.
type ReceiptOrder struct {
	OrderID string `json:"order_id"`
	Total   int64  `json:"total"`
}

// Receipt is the consolidated settlement record for one session. Its
// total is the sum of the current totals of every attached order at
// settlement time.
type Receipt struct {
	ReceiptID  string         `json:"receipt_id"`
	SessionID  string         `json:"session_id"`
	TableID    string         `json:"table_id"`
	SettledAt  int64          `json:"settled_at"`
	PaymentRef string         `json:"payment_ref"`
	Orders     []ReceiptOrder `json:"orders"`
	Lines      []LineItem     `json:"lines"`
	Total      int64          `json:"total"`
}

const receiptWidth = 40

// RenderReceipt formats a consolidated receipt for a line printer.
func RenderReceipt(r *Receipt) string {
	var b strings.Builder
	rule := strings.Repeat("-", receiptWidth)

	center := func(s string) {
		pad := (receiptWidth - len(s)) / 2
		if pad < 0 {
			pad = 0
		}
		b.WriteString(strings.Repeat(" ", pad))
		b.WriteString(s)
		b.WriteByte('\n')
	}
	row := func(left string, amount int64) {
		right := fmt.Sprintf("%d", amount)
		gap := receiptWidth - len(left) - len(right)
		if gap < 1 {
			gap = 1
		}
		b.WriteString(left)
		b.WriteString(strings.Repeat(" ", gap))
		b.WriteString(right)
		b.WriteByte('\n')
	}

	center("CONSOLIDATED RECEIPT")
	center("table " + r.TableID)
	b.WriteString(rule)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "receipt  %s\n", r.ReceiptID)
	fmt.Fprintf(&b, "session  %s\n", r.SessionID)
	fmt.Fprintf(&b, "settled  %s\n", time.Unix(r.SettledAt, 0).UTC().Format("2006-01-02 15:04:05"))
	b.WriteString(rule)
	b.WriteByte('\n')

	for _, item := range r.Lines {
		row(fmt.Sprintf("%dx %s", item.Quantity, item.Name), item.Price*int64(item.Quantity))
	}
	b.WriteString(rule)
	b.WriteByte('\n')

	fmt.Fprintf(&b, "orders settled: %d\n", len(r.Orders))
	for _, o := range r.Orders {
		row("  "+o.OrderID, o.Total)
	}
	b.WriteString(rule)
	b.WriteByte('\n')

	row("TOTAL", r.Total)
	fmt.Fprintf(&b, "paid via %s\n", r.PaymentRef)
	return b.String()
}
