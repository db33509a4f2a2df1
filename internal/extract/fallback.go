package extract

import (
	"fmt"
	"strings"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

// FallbackText reconstructs a plain-text invoice rendering from structured
// fields. Used when the stored source document cannot be retrieved so the
// viewer never shows a blank page.
func FallbackText(inv *entity.Invoice) string {
	var b strings.Builder

	b.WriteString("INVOICE")
	if inv.InvoiceNumber != "" {
		b.WriteString(" # " + inv.InvoiceNumber)
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	if inv.BillFrom != nil && inv.BillFrom.Name != "" {
		writeParty(&b, "FROM", inv.BillFrom)
	} else if inv.Vendor != "" {
		b.WriteString("FROM: " + inv.Vendor + "\n\n")
	}
	if inv.BillTo != nil && inv.BillTo.Name != "" {
		writeParty(&b, "BILL TO", inv.BillTo)
	}

	writeField(&b, "Invoice Date", inv.InvoiceDate)
	writeField(&b, "Due Date", inv.DueDate)
	writeField(&b, "Payment Terms", inv.PaymentTerms)
	writeField(&b, "PO Number", inv.PONumber)
	b.WriteString("\n")

	if len(inv.Items) > 0 {
		b.WriteString(fmt.Sprintf("%-30s %8s %12s %12s\n", "ITEM", "QTY", "RATE", "AMOUNT"))
		b.WriteString(strings.Repeat("-", 66) + "\n")
		for _, item := range inv.Items {
			b.WriteString(fmt.Sprintf("%-30s %8d %12.2f %12.2f\n",
				truncate(item.Description, 30), item.Quantity, item.UnitPrice, item.Amount))
		}
		b.WriteString(strings.Repeat("-", 66) + "\n")
	}

	if inv.Subtotal != 0 {
		b.WriteString(fmt.Sprintf("%51s %12.2f\n", "Subtotal:", inv.Subtotal))
	}
	if inv.Tax != 0 {
		b.WriteString(fmt.Sprintf("%51s %12.2f\n", "Tax:", inv.Tax))
	}
	b.WriteString(fmt.Sprintf("%51s %12.2f %s\n", "Balance Due:", inv.Amount, inv.Currency))

	return b.String()
}

func writeParty(b *strings.Builder, label string, contact *entity.ContactInfo) {
	b.WriteString(label + ": " + contact.Name + "\n")
	if contact.Address != "" {
		b.WriteString("  " + contact.Address + "\n")
	}
	if contact.Email != "" {
		b.WriteString("  " + contact.Email + "\n")
	}
	b.WriteString("\n")
}

func writeField(b *strings.Builder, label, value string) {
	if value != "" {
		b.WriteString(label + ": " + value + "\n")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
