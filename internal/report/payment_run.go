// Package report builds spreadsheet exports of the invoice lifecycle for
// the finance team.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

// PaymentRunWriter exports payable and paid invoices as an xlsx workbook
type PaymentRunWriter struct {
	logger *zap.Logger
}

// NewPaymentRunWriter creates a payment run writer
func NewPaymentRunWriter(logger *zap.Logger) *PaymentRunWriter {
	return &PaymentRunWriter{logger: logger}
}

var paymentRunHeader = []string{
	"Invoice ID", "Invoice #", "Vendor", "Amount", "Currency", "Status",
	"Payment Method", "Scheduled Date", "Discount %", "Transaction ID", "Paid At",
}

// Write renders the payment run for the given invoices to w. Rows keep the
// caller's ordering; payable before paid is the convention upstream.
func (prw *PaymentRunWriter) Write(w io.Writer, invoices []*entity.Invoice) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Payment Run"
	f.SetSheetName(f.GetSheetName(0), sheet)

	for col, title := range paymentRunHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to address header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(paymentRunHeader), 1)
		_ = f.SetCellStyle(sheet, "A1", last, headerStyle)
	}

	for i, inv := range invoices {
		row := i + 2
		values := []any{
			inv.ID,
			inv.InvoiceNumber,
			inv.Vendor,
			inv.Amount,
			inv.Currency,
			inv.Status.String(),
			inv.PaymentMethod,
			formatDate(inv.ScheduledDate),
			inv.EarlyPayDiscount,
			inv.TransactionID,
			formatDate(inv.PaidAt),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("failed to address cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to write row %d: %w", row, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	prw.logger.Info("payment run exported", zap.Int("invoices", len(invoices)))
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
