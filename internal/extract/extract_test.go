package extract

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

func TestExtractPDFErrors(t *testing.T) {
	e := NewExtractor(zap.NewNop())

	t.Run("missing file", func(t *testing.T) {
		_, err := e.ExtractPDF(filepath.Join(t.TempDir(), "nope.pdf"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "file not found")
	})

	t.Run("oversized file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.pdf")
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), MaxFileSize+1), 0o644))

		_, err := e.ExtractPDF(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "file too large")
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.pdf")
		require.NoError(t, os.WriteFile(path, []byte("not a pdf at all"), 0o644))

		_, err := e.ExtractPDF(path)
		require.Error(t, err)
	})
}

func TestFallbackText(t *testing.T) {
	inv := &entity.Invoice{
		ID:            "INV-AB12CD34",
		InvoiceNumber: "INV-2026-0042",
		Vendor:        "Widgets Inc.",
		Currency:      "USD",
		Amount:        1650,
		Subtotal:      1500,
		Tax:           150,
		InvoiceDate:   "2026-01-15",
		DueDate:       "2026-02-14",
		PaymentTerms:  "Net 30",
		PONumber:      "PO-2026-001",
		BillFrom: &entity.ContactInfo{
			Name:    "Widgets Inc.",
			Address: "1234 Innovation Drive, Suite 500",
			Email:   "ap@widgets-inc.com",
		},
		BillTo: &entity.ContactInfo{Name: "FinOps Lab"},
		Items: []entity.LineItem{
			{Description: "WidgetA", Quantity: 10, UnitPrice: 100, Amount: 1000},
			{Description: "WidgetB", Quantity: 5, UnitPrice: 100, Amount: 500},
		},
	}

	text := FallbackText(inv)

	assert.Contains(t, text, "INVOICE # INV-2026-0042")
	assert.Contains(t, text, "FROM: Widgets Inc.")
	assert.Contains(t, text, "BILL TO: FinOps Lab")
	assert.Contains(t, text, "Payment Terms: Net 30")
	assert.Contains(t, text, "WidgetA")
	assert.Contains(t, text, "Balance Due:")
	assert.Contains(t, text, "1650.00 USD")
}

func TestFallbackTextMinimalInvoice(t *testing.T) {
	inv := &entity.Invoice{Vendor: "Acme Corp", Amount: 99.5, Currency: "USD"}

	text := FallbackText(inv)

	assert.Contains(t, text, "INVOICE\n")
	assert.Contains(t, text, "FROM: Acme Corp")
	assert.Contains(t, text, "99.50 USD")
	assert.NotContains(t, text, "Subtotal")
	assert.NotContains(t, text, "BILL TO")
}
