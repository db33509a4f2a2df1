package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

func TestPaymentRunWrite(t *testing.T) {
	paidAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	scheduled := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC)

	invoices := []*entity.Invoice{
		{
			ID:            "INV-AB12CD34",
			InvoiceNumber: "INV-2026-0042",
			Vendor:        "Widgets Inc.",
			Amount:        1650,
			Currency:      "USD",
			Status:        entity.StatusScheduled,
			PaymentMethod: "ACH",
			ScheduledDate: &scheduled,
		},
		{
			ID:            "INV-EF56GH78",
			InvoiceNumber: "INV-2026-0043",
			Vendor:        "Gadgets Co.",
			Amount:        880,
			Currency:      "USD",
			Status:        entity.StatusPaid,
			PaymentMethod: "ACH",
			TransactionID: "TXN-20260830-AB12CD34",
			PaidAt:        &paidAt,
		},
	}

	var buf bytes.Buffer
	writer := NewPaymentRunWriter(zap.NewNop())
	require.NoError(t, writer.Write(&buf, invoices))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Payment Run")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Invoice ID", rows[0][0])
	assert.Equal(t, "Transaction ID", rows[0][9])

	assert.Equal(t, "INV-AB12CD34", rows[1][0])
	assert.Equal(t, "scheduled", rows[1][5])
	assert.Equal(t, "2026-09-06", rows[1][7])

	assert.Equal(t, "Gadgets Co.", rows[2][2])
	assert.Equal(t, "TXN-20260830-AB12CD34", rows[2][9])
	assert.Equal(t, "2026-08-30", rows[2][10])
}

func TestPaymentRunEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPaymentRunWriter(zap.NewNop()).Write(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Payment Run")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
