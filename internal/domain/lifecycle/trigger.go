package lifecycle

// Trigger represents a store operation that may move an invoice between buckets
type Trigger string

const (
	TriggerRoute       Trigger = "ROUTE"
	TriggerAutoApprove Trigger = "AUTO_APPROVE"
	TriggerAutoReject  Trigger = "AUTO_REJECT"
	TriggerApprove     Trigger = "APPROVE"
	TriggerReject      Trigger = "REJECT"
	TriggerSchedule    Trigger = "SCHEDULE"
	TriggerPay         Trigger = "PAY"
	TriggerFailPayment Trigger = "FAIL_PAYMENT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
