// Package pipeline produces the staged event streams behind the three
// workflow websocket endpoints. Stage 1 runs ingestion and validation and
// lands the invoice in the inbox; stage 2 runs approval triage against a
// stored invoice; stage 3 executes payment. Each stage emits protocol
// events to a Sink and commits its outcome to the lifecycle store.
package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/agent"
	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
	"github.com/finops-lab/invoiceflow/internal/store"
)

// Sink receives the events a stage produces, in order. The websocket
// handler implements it by writing frames to the client.
type Sink interface {
	Emit(ctx context.Context, e protocol.Event) error
}

// Ingestion extracts structured invoice data from raw text
type Ingestion interface {
	Extract(ctx context.Context, invoiceText string) (*agent.ExtractionOutcome, error)
	Model() string
}

// Validation checks extracted data against inventory and business rules
type Validation interface {
	Validate(ctx context.Context, data *protocol.ExtractionData) (*agent.ValidationOutcome, error)
	Model() string
}

// Approval triages an invoice into a routing decision
type Approval interface {
	Triage(ctx context.Context, data *protocol.ExtractionData, validation *protocol.ValidationData) (*agent.TriageOutcome, error)
	Model() string
}

// Pipeline wires the agents, the payment gateway and the lifecycle store
// into the three streaming stages.
type Pipeline struct {
	ingestion  Ingestion
	validation Validation
	approval   Approval
	gateway    agent.PaymentGateway
	store      *store.Store
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a pipeline
func New(ingestion Ingestion, validation Validation, approval Approval, gateway agent.PaymentGateway, st *store.Store, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		ingestion:  ingestion,
		validation: validation,
		approval:   approval,
		gateway:    gateway,
		store:      st,
		logger:     logger,
		now:        time.Now,
	}
}

// emitter tracks one stage run: it forwards events to the sink and
// accumulates the processing history that gets committed to the store. The
// first sink error sticks and turns later emits into no-ops, so a stage can
// emit freely and check err at its commit points.
type emitter struct {
	sink  Sink
	now   func() time.Time
	start time.Time
	hist  *entity.ProcessingHistory
	total entity.TokenCount
	err   error
}

func newEmitter(sink Sink, now func() time.Time, rawInput string) *emitter {
	h := &entity.ProcessingHistory{RawInput: rawInput}
	for i := range h.StageStatus {
		h.StageStatus[i] = entity.StagePending
	}
	return &emitter{sink: sink, now: now, start: now(), hist: h}
}

// elapsed is the seconds since the stage started, rounded to 0.1
func (em *emitter) elapsed() float64 {
	return math.Round(em.now().Sub(em.start).Seconds()*10) / 10
}

func (em *emitter) emit(ctx context.Context, e protocol.Event) {
	if em.err != nil {
		return
	}
	em.err = em.sink.Emit(ctx, e)
}

func (em *emitter) log(ctx context.Context, level, message, stage string) {
	em.hist.Logs = append(em.hist.Logs, entity.LogEntry{
		Elapsed: em.elapsed(),
		Level:   level,
		Message: message,
		Stage:   stage,
	})
	em.emit(ctx, protocol.NewLog(level, message, stage))
}

func (em *emitter) stageStart(ctx context.Context, stage, description string) {
	em.setStage(stage, entity.StageRunning)
	em.emit(ctx, protocol.NewStageStart(stage, description))
}

func (em *emitter) stageComplete(ctx context.Context, stage string, status protocol.StageResult, data any, nextStage string) {
	switch status {
	case protocol.ResultComplete:
		em.setStage(stage, entity.StageComplete)
	case protocol.ResultWarning:
		em.setStage(stage, entity.StageWarning)
	case protocol.ResultFailed:
		em.setStage(stage, entity.StageFailed)
	}
	e := protocol.NewStageComplete(stage, status, data)
	e.NextStage = nextStage
	em.emit(ctx, e)
}

func (em *emitter) agentCall(ctx context.Context, stage, model string) {
	e := protocol.New(protocol.KindAgentCall)
	e.Stage = stage
	e.Model = model
	e.Mode = "json"
	em.emit(ctx, e)
}

func (em *emitter) agentResponse(ctx context.Context, stage string, data any) {
	e := protocol.New(protocol.KindAgentResponse)
	e.Stage = stage
	e.Data = mustJSON(data)
	em.emit(ctx, e)
}

func (em *emitter) tokenUsage(ctx context.Context, stage string, usage entity.TokenCount) {
	em.total = em.total.Add(usage)
	em.hist.TokenUsage.Total = em.total
	if em.hist.TokenUsage.ByStage == nil {
		em.hist.TokenUsage.ByStage = make(map[string]entity.TokenCount)
	}
	em.hist.TokenUsage.ByStage[stage] = em.hist.TokenUsage.ByStage[stage].Add(usage)

	e := protocol.New(protocol.KindTokenUsage)
	e.Stage = stage
	u, t := usage, em.total
	e.Usage = &u
	e.Total = &t
	em.emit(ctx, e)
}

func (em *emitter) stateUpdate(ctx context.Context, state map[string]any) {
	snap := make(map[string]any, len(state))
	for k, v := range state {
		snap[k] = v
	}
	em.hist.WorkflowState = snap

	e := protocol.New(protocol.KindStateUpdate)
	e.State = snap
	em.emit(ctx, e)
}

func (em *emitter) setStage(stage string, status entity.StageStatus) {
	if i := entity.StageIndex(stage); i >= 0 {
		em.hist.StageStatus[i] = status
	}
}

func (em *emitter) audit(ev entity.AuditEvent) {
	em.hist.AuditTrail = append(em.hist.AuditTrail, ev)
}

// fail emits a failed stage_complete and a terminal error event
func (em *emitter) fail(ctx context.Context, stage, message string) {
	em.log(ctx, "error", message, stage)
	em.stageComplete(ctx, stage, protocol.ResultFailed, nil, "")
	em.emit(ctx, protocol.NewError(message, stage))
}

func (em *emitter) history() *entity.ProcessingHistory {
	em.hist.ProcessingTime = em.elapsed()
	return em.hist
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
