package entity

import "time"

// ApproverStatus represents the decision state of one approval chain step
type ApproverStatus string

const (
	ApproverPending  ApproverStatus = "pending"
	ApproverApproved ApproverStatus = "approved"
	ApproverRejected ApproverStatus = "rejected"
)

// ApproverStep is one link in an invoice's approval chain. Steps are created
// when the chain is computed for an invoice amount and are immutable once the
// invoice leaves the routed bucket.
type ApproverStep struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Role      string         `json:"role"`
	Threshold float64        `json:"threshold"`
	Order     int            `json:"order"`
	Final     bool           `json:"is_final"`
	Status    ApproverStatus `json:"status"`

	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}
