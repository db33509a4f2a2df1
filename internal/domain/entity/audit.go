package entity

// AuditEventType identifies a domain event in an invoice's audit trail
type AuditEventType string

const (
	AuditInvoiceReceived    AuditEventType = "invoice_received"
	AuditAIProcessing       AuditEventType = "ai_processing"
	AuditValidationComplete AuditEventType = "validation_complete"
	AuditApprovalRouted     AuditEventType = "approval_routed"
	AuditApprovalDecision   AuditEventType = "approval_decision"
	AuditPaymentInitiated   AuditEventType = "payment_initiated"
	AuditPaymentComplete    AuditEventType = "payment_complete"
	AuditPaymentRejected    AuditEventType = "payment_rejected"
	AuditPaymentFailed      AuditEventType = "payment_failed"
)

// IsValid returns true if the event type is one of the defined constants
func (t AuditEventType) IsValid() bool {
	switch t {
	case AuditInvoiceReceived,
		AuditAIProcessing,
		AuditValidationComplete,
		AuditApprovalRouted,
		AuditApprovalDecision,
		AuditPaymentInitiated,
		AuditPaymentComplete,
		AuditPaymentRejected,
		AuditPaymentFailed:
		return true
	default:
		return false
	}
}

// AuditEvent is a single audit trail entry for invoice lifecycle tracking.
// Actor identifies who acted: "system", "ai:<stage>", or "human:<identity>".
type AuditEvent struct {
	Type        AuditEventType `json:"event_type"`
	Timestamp   string         `json:"timestamp"`
	Actor       string         `json:"actor"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}
