package entity

// Status represents an invoice lifecycle status
type Status string

const (
	// Inbox statuses
	StatusReadyForApproval Status = "ready_for_approval"
	StatusNeedsReview      Status = "needs_review"
	StatusRejected         Status = "rejected"

	// Routed statuses
	StatusPendingApproval  Status = "pending_approval"
	StatusApprovalRejected Status = "approval_rejected"

	// Payable statuses
	StatusAutoApproved Status = "auto_approved"
	StatusReadyToPay   Status = "ready_to_pay"
	StatusScheduled    Status = "scheduled"

	// Paid statuses
	StatusPaid          Status = "paid"
	StatusPaymentFailed Status = "payment_failed"
)

var validStatuses = map[Status]bool{
	StatusReadyForApproval: true,
	StatusNeedsReview:      true,
	StatusRejected:         true,
	StatusPendingApproval:  true,
	StatusApprovalRejected: true,
	StatusAutoApproved:     true,
	StatusReadyToPay:       true,
	StatusScheduled:        true,
	StatusPaid:             true,
	StatusPaymentFailed:    true,
}

var terminalStatuses = map[Status]bool{
	StatusRejected:         true,
	StatusApprovalRejected: true,
	StatusPaid:             true,
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known lifecycle status
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// IsTerminal returns true if no further lifecycle transitions are allowed
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// Route is the approval stage's triage classification of an invoice
type Route string

const (
	RouteAutoApprove Route = "auto_approve"
	RouteAutoReject  Route = "auto_reject"
	RouteToHuman     Route = "route_to_human"
)

// String returns the string representation of the route
func (r Route) String() string {
	return string(r)
}

// Status maps a triage route to the invoice status it produces
func (r Route) Status() Status {
	switch r {
	case RouteAutoApprove:
		return StatusAutoApproved
	case RouteAutoReject:
		return StatusRejected
	default:
		return StatusPendingApproval
	}
}
