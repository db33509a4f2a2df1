package runner

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// StageSelector names which processing stage a session drives
type StageSelector string

const (
	SelectIngestion StageSelector = "ingestion"
	SelectApproval  StageSelector = "approval"
	SelectPayment   StageSelector = "payment"
)

// ErrChannelLost is the fixed diagnostic reported when the streaming channel
// cannot open or drops before a terminal event arrives
const ErrChannelLost = "connection to processing service lost"

// Request describes one stage invocation for one invoice
type Request struct {
	InvoiceID string
	Stage     StageSelector

	// RawInvoice is the triggering payload for the ingestion stage: invoice
	// text or a stored file path. Unused for approval and payment.
	RawInvoice string

	// Payment stages carry human-approval provenance as channel parameters
	// so the remote agent can authorize without re-deriving it
	ApprovedBy    string
	InvoiceStatus string
}

// Channel is one ordered streaming connection to a stage agent
type Channel interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a channel scoped to a stage and invoice
type Dialer interface {
	Dial(ctx context.Context, req Request) (Channel, error)
}

// Result pairs a session's terminal outcome with the derived state folded
// from every event that arrived before it
type Result struct {
	Outcome StageOutcome
	State   DerivedState
	Elapsed float64
}

// Session runs stage invocations over channels from a dialer. A session is
// safe for concurrent Run calls on distinct invoices; stages for the same
// invoice must be run one at a time.
type Session struct {
	dialer Dialer
	logger *zap.Logger
	now    func() time.Time
}

// NewSession creates a session
func NewSession(dialer Dialer, logger *zap.Logger) *Session {
	return &Session{
		dialer: dialer,
		logger: logger,
		now:    time.Now,
	}
}

// ingestRequest is the payload sent over a freshly opened ingestion channel
type ingestRequest struct {
	RawInvoice string `json:"raw_invoice"`
	InvoiceID  string `json:"invoice_id,omitempty"`
}

// Run drives one stage to its terminal outcome. Transport failures surface as
// an error outcome rather than a Go error so the caller always receives a
// disposition; the caller decides whether to re-invoke. Cancelling ctx closes
// the channel and stops folding; events in flight after cancellation are
// dropped.
func (s *Session) Run(ctx context.Context, req Request) Result {
	log := s.logger.With(
		zap.String("invoice_id", req.InvoiceID),
		zap.String("stage", string(req.Stage)),
	)

	ch, err := s.dialer.Dial(ctx, req)
	if err != nil {
		log.Error("channel open failed", zap.Error(err))
		return Result{Outcome: transportOutcome(req)}
	}
	defer ch.Close()

	start := s.now()

	if req.Stage == SelectIngestion {
		payload, err := json.Marshal(ingestRequest{
			RawInvoice: req.RawInvoice,
			InvoiceID:  req.InvoiceID,
		})
		if err == nil {
			err = ch.Send(ctx, payload)
		}
		if err != nil {
			log.Error("sending invoice payload failed", zap.Error(err))
			return Result{Outcome: transportOutcome(req)}
		}
	}

	state := NewDerivedState()
	for {
		data, err := ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("session cancelled", zap.Error(ctx.Err()))
				return Result{
					Outcome: StageOutcome{
						Kind:      OutcomeError,
						Reason:    "session cancelled",
						Stage:     string(req.Stage),
						InvoiceID: req.InvoiceID,
					},
					State:   state,
					Elapsed: s.elapsed(start),
				}
			}
			log.Error("channel dropped before terminal event", zap.Error(err))
			res := Result{Outcome: transportOutcome(req), State: state, Elapsed: s.elapsed(start)}
			return res
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			log.Warn("skipping malformed event", zap.Error(err))
			continue
		}

		state = Fold(state, ev, s.elapsed(start))

		if ev.Terminal() {
			outcome, _ := outcomeOf(ev)
			if outcome.InvoiceID == "" {
				outcome.InvoiceID = req.InvoiceID
			}
			log.Info("session finished",
				zap.String("outcome", string(outcome.Kind)),
				zap.Int("events_logged", len(state.Logs)),
			)
			return Result{Outcome: outcome, State: state, Elapsed: s.elapsed(start)}
		}
	}
}

func (s *Session) elapsed(start time.Time) float64 {
	return math.Round(s.now().Sub(start).Seconds()*10) / 10
}

func transportOutcome(req Request) StageOutcome {
	return StageOutcome{
		Kind:      OutcomeError,
		Reason:    ErrChannelLost,
		Stage:     string(req.Stage),
		InvoiceID: req.InvoiceID,
	}
}
