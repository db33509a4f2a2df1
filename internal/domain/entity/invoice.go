package entity

import "time"

// ContactInfo is a vendor or customer contact block on an invoice
type ContactInfo struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Entity  string `json:"entity,omitempty"`
}

// LineItem represents one invoice line
type LineItem struct {
	SKU         string  `json:"sku,omitempty"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
}

// FieldCorrection records a validation-stage correction to an extracted field.
// The presence of a key in Invoice.Corrections marks that field's value as
// validation-corrected rather than AI-extracted.
type FieldCorrection struct {
	Original  any    `json:"original"`
	Corrected any    `json:"corrected"`
	Reason    string `json:"reason"`
}

// SourceType identifies how an invoice entered the system
const (
	SourceText = "text"
	SourcePDF  = "pdf"
)

// Invoice is the central invoice record moving through the lifecycle buckets
type Invoice struct {
	ID            string       `json:"id"`
	Vendor        string       `json:"vendor"`
	InvoiceNumber string       `json:"invoice_number"`
	InvoiceDate   string       `json:"invoice_date,omitempty"`
	DueDate       string       `json:"due_date,omitempty"`
	Currency      string       `json:"currency"`
	Amount        float64      `json:"amount"`
	Subtotal      float64      `json:"subtotal,omitempty"`
	Tax           float64      `json:"tax,omitempty"`
	PaymentTerms  string       `json:"payment_terms,omitempty"`
	PONumber      string       `json:"po_number,omitempty"`
	BillFrom      *ContactInfo `json:"bill_from,omitempty"`
	BillTo        *ContactInfo `json:"bill_to,omitempty"`
	Items         []LineItem   `json:"items"`

	Status Status `json:"status"`

	// Extraction metadata
	Confidence  int                        `json:"confidence,omitempty"`
	Flags       []string                   `json:"flags,omitempty"`
	Corrections map[string]FieldCorrection `json:"corrections,omitempty"`

	// Source provenance
	SourceType       string `json:"source_type,omitempty"`
	SourcePath       string `json:"source_path,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	RawText          string `json:"raw_text,omitempty"`

	// Approval chain, empty until routed
	ApprovalChain   []ApproverStep `json:"approval_chain,omitempty"`
	CurrentApprover int            `json:"current_approver_index"`

	// Triage provenance
	TriageRoute    Route   `json:"triage_route,omitempty"`
	RiskScore      float64 `json:"risk_score,omitempty"`
	AutoApproved   bool    `json:"auto_approved,omitempty"`
	ApprovalMethod string  `json:"approval_method,omitempty"`

	// Rejection provenance
	RejectedBy      string `json:"rejected_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	// Payment
	PaymentMethod    string     `json:"payment_method,omitempty"`
	ScheduledDate    *time.Time `json:"scheduled_date,omitempty"`
	EarlyPayDiscount int        `json:"early_pay_discount,omitempty"`
	TransactionID    string     `json:"transaction_id,omitempty"`

	// Lifecycle timestamps
	CreatedAt       time.Time  `json:"created_at"`
	RoutedAt        *time.Time `json:"routed_at,omitempty"`
	FullyApprovedAt *time.Time `json:"fully_approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`

	History *ProcessingHistory `json:"processing_history,omitempty"`
}

// Clone returns a deep copy of the invoice. The lifecycle store hands out
// clones so callers can never mutate bucket state behind its back.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	cp := *inv

	cp.Items = append([]LineItem(nil), inv.Items...)
	cp.Flags = append([]string(nil), inv.Flags...)
	cp.ApprovalChain = append([]ApproverStep(nil), inv.ApprovalChain...)

	if inv.BillFrom != nil {
		bf := *inv.BillFrom
		cp.BillFrom = &bf
	}
	if inv.BillTo != nil {
		bt := *inv.BillTo
		cp.BillTo = &bt
	}
	if inv.Corrections != nil {
		cp.Corrections = make(map[string]FieldCorrection, len(inv.Corrections))
		for k, v := range inv.Corrections {
			cp.Corrections[k] = v
		}
	}
	if inv.ScheduledDate != nil {
		d := *inv.ScheduledDate
		cp.ScheduledDate = &d
	}
	if inv.RoutedAt != nil {
		t := *inv.RoutedAt
		cp.RoutedAt = &t
	}
	if inv.FullyApprovedAt != nil {
		t := *inv.FullyApprovedAt
		cp.FullyApprovedAt = &t
	}
	if inv.RejectedAt != nil {
		t := *inv.RejectedAt
		cp.RejectedAt = &t
	}
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		cp.PaidAt = &t
	}
	cp.History = inv.History.Clone()
	return &cp
}

// ItemTotal returns the sum of line item amounts. The record-level amount is
// expected to match within rounding tolerance; a mismatch is a validation
// concern, not a structural error.
func (inv *Invoice) ItemTotal() float64 {
	var sum float64
	for _, it := range inv.Items {
		sum += it.Amount
	}
	return sum
}
