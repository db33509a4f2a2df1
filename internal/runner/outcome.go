package runner

import (
	"encoding/json"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// OutcomeKind tags the variant of a stage outcome
type OutcomeKind string

const (
	OutcomeIngestionComplete OutcomeKind = "ingestion_complete"
	OutcomeApprovalComplete  OutcomeKind = "approval_complete"
	OutcomePaymentComplete   OutcomeKind = "payment_complete"
	OutcomeRejected          OutcomeKind = "rejected"
	OutcomeError             OutcomeKind = "error"
)

// StageOutcome is the terminal result of one runner session. Exactly one of
// the payload pointers is set, matching Kind; Rejected and Error outcomes
// carry only Reason and Stage.
type StageOutcome struct {
	Kind OutcomeKind

	Stage1  *protocol.Stage1Result
	Stage2  *protocol.Stage2Result
	Payment *protocol.CompleteResult

	// Status is the invoice status derived from an approval outcome's route
	Status entity.Status

	Reason string
	Stage  string

	InvoiceID      string
	ProcessingTime float64
	TokenTotal     entity.TokenCount
}

// Failed reports whether the outcome ended the session without a stage result
func (o StageOutcome) Failed() bool {
	return o.Kind == OutcomeRejected || o.Kind == OutcomeError
}

// outcomeOf builds a stage outcome from a terminal event. The second return
// is false for non-terminal events.
func outcomeOf(e protocol.Event) (StageOutcome, bool) {
	if !e.Terminal() {
		return StageOutcome{}, false
	}

	o := StageOutcome{
		InvoiceID:      e.InvoiceID,
		ProcessingTime: e.ProcessingTime,
	}
	if e.TokenUsage != nil {
		o.TokenTotal = *e.TokenUsage
	}

	switch e.Kind {
	case protocol.KindStage1Complete:
		o.Kind = OutcomeIngestionComplete
		var res protocol.Stage1Result
		if err := json.Unmarshal(e.Result, &res); err == nil {
			o.Stage1 = &res
			if o.InvoiceID == "" {
				o.InvoiceID = res.InvoiceID
			}
		}

	case protocol.KindStage2Complete:
		o.Kind = OutcomeApprovalComplete
		var res protocol.Stage2Result
		if err := json.Unmarshal(e.Result, &res); err == nil {
			o.Stage2 = &res
			o.Status = res.Route.Status()
		}

	case protocol.KindComplete:
		o.Kind = OutcomePaymentComplete
		var res protocol.CompleteResult
		if err := json.Unmarshal(e.Result, &res); err == nil {
			o.Payment = &res
		}

	case protocol.KindRejected:
		o.Kind = OutcomeRejected
		o.Reason = e.Message
		o.Stage = e.Stage

	case protocol.KindError:
		o.Kind = OutcomeError
		o.Reason = e.Message
		o.Stage = e.Stage
	}
	return o, true
}
