// Package protocol defines the stage event vocabulary exchanged over a
// workflow streaming channel. Events are single JSON objects with an "event"
// discriminator and a unix-seconds timestamp, delivered in order with no
// gaps; exactly one terminal event ends a session.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

// Kind identifies the type of a stage event
type Kind string

const (
	KindConnected      Kind = "connected"
	KindStageStart     Kind = "stage_start"
	KindStageComplete  Kind = "stage_complete"
	KindAgentCall      Kind = "agent_call"
	KindAgentResponse  Kind = "agent_response"
	KindSelfCorrection Kind = "self_correction"
	KindTokenUsage     Kind = "token_usage"
	KindStateUpdate    Kind = "state_update"
	KindLog            Kind = "log"
	KindStage1Complete Kind = "stage1_complete"
	KindStage2Complete Kind = "stage2_complete"
	KindComplete       Kind = "complete"
	KindRejected       Kind = "rejected"
	KindError          Kind = "error"
)

// StageResult is the outcome tag a stage_complete event carries
type StageResult string

const (
	ResultComplete StageResult = "complete"
	ResultWarning  StageResult = "warning"
	ResultFailed   StageResult = "failed"
	ResultSkipped  StageResult = "skipped"
	ResultPending  StageResult = "pending"
)

// Event is one protocol message. A single struct with a discriminator keeps
// the wire format flat; which fields are populated depends on Kind.
type Event struct {
	Kind      Kind    `json:"event"`
	Timestamp float64 `json:"timestamp"`

	// connected / error / rejected
	Message string `json:"message,omitempty"`

	// stage-scoped events
	Stage       string      `json:"stage,omitempty"`
	Description string      `json:"description,omitempty"`
	Status      StageResult `json:"status,omitempty"`
	NextStage   string      `json:"next_stage,omitempty"`

	// agent_call
	Model       string  `json:"model,omitempty"`
	Mode        string  `json:"mode,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`

	// agent_response / stage_complete payload, shape depends on stage
	Data json.RawMessage `json:"data,omitempty"`

	// self_correction
	Attempt int    `json:"attempt,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// log
	Level string `json:"level,omitempty"`

	// token_usage
	Usage *entity.TokenCount `json:"usage,omitempty"`
	Total *entity.TokenCount `json:"total,omitempty"`

	// state_update
	State map[string]any `json:"state,omitempty"`

	// terminal events
	Result         json.RawMessage    `json:"result,omitempty"`
	ProcessingTime float64            `json:"processing_time,omitempty"`
	TokenUsage     *entity.TokenCount `json:"token_usage,omitempty"`
	InvoiceID      string             `json:"invoice_id,omitempty"`
}

// Known returns true if the event kind is part of the protocol vocabulary.
// Unrecognized kinds are ignored by consumers for forward compatibility.
func (e Event) Known() bool {
	switch e.Kind {
	case KindConnected, KindStageStart, KindStageComplete, KindAgentCall,
		KindAgentResponse, KindSelfCorrection, KindTokenUsage, KindStateUpdate,
		KindLog, KindStage1Complete, KindStage2Complete, KindComplete,
		KindRejected, KindError:
		return true
	default:
		return false
	}
}

// Terminal returns true if the event ends a streaming session
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindStage1Complete, KindStage2Complete, KindComplete, KindRejected, KindError:
		return true
	default:
		return false
	}
}

// Decode parses a wire message into an Event. A decode error means the
// payload is malformed; consumers log and skip it rather than aborting.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("malformed event: %w", err)
	}
	if e.Kind == "" {
		return Event{}, fmt.Errorf("malformed event: missing event kind")
	}
	return e, nil
}

// Encode serializes the event for the wire
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.Kind, err)
	}
	return data, nil
}

// New creates an event of the given kind stamped with the current time
func New(kind Kind) Event {
	return Event{Kind: kind, Timestamp: now()}
}

// NewLog creates a log event
func NewLog(level, message, stage string) Event {
	e := New(KindLog)
	e.Level = level
	e.Message = message
	e.Stage = stage
	return e
}

// NewStageStart creates a stage_start event for a sub-stage
func NewStageStart(stage, description string) Event {
	e := New(KindStageStart)
	e.Stage = stage
	e.Description = description
	return e
}

// NewStageComplete creates a stage_complete event with an outcome tag
func NewStageComplete(stage string, status StageResult, data any) Event {
	e := New(KindStageComplete)
	e.Stage = stage
	e.Status = status
	if data != nil {
		e.Data, _ = json.Marshal(data)
	}
	return e
}

// NewError creates a terminal error event
func NewError(message, stage string) Event {
	e := New(KindError)
	e.Message = message
	e.Stage = stage
	return e
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
