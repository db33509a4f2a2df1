package protocol

import "github.com/finops-lab/invoiceflow/internal/domain/entity"

// ExtractionData is the agent_response payload for the ingestion sub-stage:
// every field an AP clerk would manually key from an invoice.
type ExtractionData struct {
	InvoiceNumber string `json:"invoice_number"`
	InvoiceDate   string `json:"invoice_date,omitempty"`
	DueDate       string `json:"due_date,omitempty"`

	Vendor   string  `json:"vendor"`
	Amount   float64 `json:"amount"`
	Subtotal float64 `json:"subtotal,omitempty"`
	Tax      float64 `json:"tax,omitempty"`
	Currency string  `json:"currency"`

	PaymentTerms string `json:"payment_terms,omitempty"`
	PONumber     string `json:"po_number,omitempty"`

	BillFrom *entity.ContactInfo `json:"bill_from,omitempty"`
	BillTo   *entity.ContactInfo `json:"bill_to,omitempty"`

	Items []entity.LineItem `json:"items"`

	Confidence int      `json:"confidence"`
	Flags      []string `json:"flags,omitempty"`
}

// InventoryCheck is the stock check result for a single invoice item
type InventoryCheck struct {
	Requested int  `json:"requested"`
	InStock   int  `json:"in_stock"`
	Available bool `json:"available"`
}

// ValidationData is the agent_response payload for the validation sub-stage.
// InventoryCheck is keyed by item name on the wire; consumers normalize it
// into an ordered flat list for display.
type ValidationData struct {
	IsValid        bool                              `json:"is_valid"`
	Errors         []string                          `json:"errors"`
	Warnings       []string                          `json:"warnings"`
	InventoryCheck map[string]InventoryCheck         `json:"inventory_check"`
	Corrections    map[string]entity.FieldCorrection `json:"corrections,omitempty"`
}

// ApprovalData is the agent_response payload for the approval sub-stage
type ApprovalData struct {
	Approved       bool         `json:"approved"`
	Reason         string       `json:"reason"`
	RequiresReview bool         `json:"requires_review"`
	RiskScore      float64      `json:"risk_score"`
	Route          entity.Route `json:"route"`
	RedFlags       []string     `json:"red_flags,omitempty"`
	ReasoningChain []string     `json:"reasoning_chain,omitempty"`
}

// PaymentData is the agent_response payload for the payment sub-stage
type PaymentData struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Stage1Result is the result payload of a stage1_complete event
type Stage1Result struct {
	Status           string                            `json:"status"`
	InvoiceID        string                            `json:"invoice_id"`
	InvoiceStatus    string                            `json:"invoice_status"`
	InvoiceData      *ExtractionData                   `json:"invoice_data"`
	ValidationResult *ValidationData                   `json:"validation_result"`
	Corrections      map[string]entity.FieldCorrection `json:"corrections,omitempty"`
	WorkflowState    map[string]any                    `json:"workflow_state,omitempty"`
	NextAction       string                            `json:"next_action"`
	Message          string                            `json:"message,omitempty"`
	SourceType       string                            `json:"source_type,omitempty"`
	SourcePath       string                            `json:"source_path,omitempty"`
	OriginalFilename string                            `json:"original_filename,omitempty"`
	AuditTrail       []entity.AuditEvent               `json:"audit_trail,omitempty"`
}

// Stage2Result is the result payload of a stage2_complete event
type Stage2Result struct {
	Route         entity.Route        `json:"route"`
	InvoiceStatus string              `json:"invoice_status"`
	AuditTrail    []entity.AuditEvent `json:"audit_trail,omitempty"`
}

// CompleteResult is the result payload of a terminal complete event for the
// payment stage
type CompleteResult struct {
	Status        string              `json:"status"`
	PaymentResult *PaymentData        `json:"payment_result"`
	AuditTrail    []entity.AuditEvent `json:"audit_trail,omitempty"`
}
