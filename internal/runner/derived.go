// Package runner drives one stage of invoice processing over a streaming
// channel and folds the event sequence into derived, observable state.
package runner

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// InventoryLine is one normalized inventory check row. The agent reports
// inventory as a map keyed by item name; consumers want an ordered flat list.
type InventoryLine struct {
	Item      string `json:"item"`
	Requested int    `json:"requested"`
	InStock   int    `json:"in_stock"`
	Available bool   `json:"available"`
}

// ValidationResult is the validation agent's output with the inventory map
// normalized into a sorted line list
type ValidationResult struct {
	IsValid     bool                              `json:"is_valid"`
	Errors      []string                          `json:"errors"`
	Warnings    []string                          `json:"warnings"`
	Inventory   []InventoryLine                   `json:"inventory"`
	Corrections map[string]entity.FieldCorrection `json:"corrections,omitempty"`
}

// DerivedState is everything a session has learned from the events folded so
// far. It is a value type; Fold returns a new state and never mutates its
// input, so any intermediate state can be inspected or discarded safely.
type DerivedState struct {
	Logs        []entity.LogEntry
	StageStatus [entity.StageCount]entity.StageStatus

	Extraction *protocol.ExtractionData
	Validation *ValidationResult
	Approval   *protocol.ApprovalData
	Payment    *protocol.PaymentData

	Corrections map[string]entity.FieldCorrection

	TokenUsage    entity.TokenUsage
	WorkflowState map[string]any
	AuditTrail    []entity.AuditEvent
}

// NewDerivedState returns the state a session starts from, with every stage
// slot at pending. The zero DerivedState leaves the slots empty, which reads
// as no status at all to anything rendering them.
func NewDerivedState() DerivedState {
	var s DerivedState
	for i := range s.StageStatus {
		s.StageStatus[i] = entity.StagePending
	}
	return s
}

// Fold applies one event to the derived state and returns the result. Elapsed
// is the seconds since the session started, stamped onto any log entry the
// event produces. Events with an unrecognized kind are ignored.
func Fold(s DerivedState, e protocol.Event, elapsed float64) DerivedState {
	switch e.Kind {
	case protocol.KindConnected:
		s = s.withLog(elapsed, "info", e.Message, "")

	case protocol.KindStageStart:
		s = s.withStageStatus(e.Stage, entity.StageRunning)
		s = s.withLog(elapsed, "info", fmt.Sprintf("Starting %s: %s", e.Stage, e.Description), e.Stage)

	case protocol.KindStageComplete:
		s = s.withStageStatus(e.Stage, stageStatusFor(e.Status))
		s = s.withLog(elapsed, levelFor(e.Status), fmt.Sprintf("Stage %s finished: %s", e.Stage, e.Status), e.Stage)
		if e.Stage == entity.StagePayment && len(e.Data) > 0 {
			var pd protocol.PaymentData
			if err := json.Unmarshal(e.Data, &pd); err == nil {
				s.Payment = &pd
			}
		}

	case protocol.KindAgentCall:
		s = s.withLog(elapsed, "info", fmt.Sprintf("Calling %s (%s)", e.Model, e.Mode), e.Stage)

	case protocol.KindAgentResponse:
		s = s.withAgentResponse(e)

	case protocol.KindSelfCorrection:
		s = s.withLog(elapsed, "warning",
			fmt.Sprintf("Self-correction attempt %d: %s", e.Attempt, e.Reason), e.Stage)

	case protocol.KindTokenUsage:
		s = s.withTokenUsage(e)

	case protocol.KindStateUpdate:
		s = s.withWorkflowState(e.State)

	case protocol.KindLog:
		s = s.withLog(elapsed, e.Level, e.Message, e.Stage)

	case protocol.KindStage1Complete:
		s = s.withStage1Result(e)

	case protocol.KindStage2Complete:
		s = s.withStage2Result(e)

	case protocol.KindComplete:
		s = s.withCompleteResult(e)

	case protocol.KindRejected:
		s = s.withLog(elapsed, "error", fmt.Sprintf("Rejected at %s: %s", e.Stage, e.Message), e.Stage)
		s = s.failRunning()

	case protocol.KindError:
		s = s.withLog(elapsed, "error", e.Message, e.Stage)
		s = s.failRunning()
	}
	return s
}

func (s DerivedState) withLog(elapsed float64, level, message, stage string) DerivedState {
	logs := make([]entity.LogEntry, len(s.Logs), len(s.Logs)+1)
	copy(logs, s.Logs)
	s.Logs = append(logs, entity.LogEntry{
		Elapsed: elapsed,
		Level:   level,
		Message: message,
		Stage:   stage,
	})
	return s
}

func (s DerivedState) withStageStatus(stage string, status entity.StageStatus) DerivedState {
	if i := entity.StageIndex(stage); i >= 0 {
		s.StageStatus[i] = status
	}
	return s
}

// failRunning marks any still-running sub-stage as failed so a terminal
// rejection or error never leaves a slot stuck at running.
func (s DerivedState) failRunning() DerivedState {
	for i, st := range s.StageStatus {
		if st == entity.StageRunning {
			s.StageStatus[i] = entity.StageFailed
		}
	}
	return s
}

// withAgentResponse replaces the current stage's snapshot wholesale. A payload
// that fails to decode is dropped; the previous snapshot stays in place.
func (s DerivedState) withAgentResponse(e protocol.Event) DerivedState {
	switch e.Stage {
	case entity.StageIngestion:
		var ext protocol.ExtractionData
		if err := json.Unmarshal(e.Data, &ext); err == nil {
			s.Extraction = &ext
		}
	case entity.StageValidation:
		var vd protocol.ValidationData
		if err := json.Unmarshal(e.Data, &vd); err == nil {
			s.Validation = normalizeValidation(vd)
		}
	case entity.StageApproval:
		var ad protocol.ApprovalData
		if err := json.Unmarshal(e.Data, &ad); err == nil {
			s.Approval = &ad
		}
	case entity.StagePayment:
		var pd protocol.PaymentData
		if err := json.Unmarshal(e.Data, &pd); err == nil {
			s.Payment = &pd
		}
	}
	return s
}

// normalizeValidation flattens the agent's inventory map into lines sorted by
// item name so repeated folds of the same payload produce identical state
func normalizeValidation(vd protocol.ValidationData) *ValidationResult {
	vr := &ValidationResult{
		IsValid:     vd.IsValid,
		Errors:      vd.Errors,
		Warnings:    vd.Warnings,
		Corrections: vd.Corrections,
	}
	if len(vd.InventoryCheck) > 0 {
		vr.Inventory = make([]InventoryLine, 0, len(vd.InventoryCheck))
		for item, chk := range vd.InventoryCheck {
			vr.Inventory = append(vr.Inventory, InventoryLine{
				Item:      item,
				Requested: chk.Requested,
				InStock:   chk.InStock,
				Available: chk.Available,
			})
		}
		sort.Slice(vr.Inventory, func(i, j int) bool {
			return vr.Inventory[i].Item < vr.Inventory[j].Item
		})
	}
	return vr
}

// withTokenUsage overwrites the cumulative total with the latest figure and
// adds the incremental count into the per-stage map
func (s DerivedState) withTokenUsage(e protocol.Event) DerivedState {
	if e.Total != nil {
		s.TokenUsage.Total = *e.Total
	}
	if e.Usage != nil && e.Stage != "" {
		byStage := make(map[string]entity.TokenCount, len(s.TokenUsage.ByStage)+1)
		for k, v := range s.TokenUsage.ByStage {
			byStage[k] = v
		}
		byStage[e.Stage] = byStage[e.Stage].Add(*e.Usage)
		s.TokenUsage.ByStage = byStage
	}
	return s
}

// withWorkflowState replaces the workflow state snapshot and, when the
// snapshot carries an audit trail, replaces the trail wholesale. The remote
// agent sends the full trail each time, so last writer wins; appending would
// duplicate entries.
func (s DerivedState) withWorkflowState(state map[string]any) DerivedState {
	if state == nil {
		return s
	}
	snapshot := make(map[string]any, len(state))
	for k, v := range state {
		snapshot[k] = v
	}
	s.WorkflowState = snapshot
	if trail := decodeAuditTrail(state["audit_trail"]); trail != nil {
		s.AuditTrail = trail
	}
	return s
}

func (s DerivedState) withStage1Result(e protocol.Event) DerivedState {
	var res protocol.Stage1Result
	if err := json.Unmarshal(e.Result, &res); err != nil {
		return s
	}
	if res.InvoiceData != nil {
		s.Extraction = res.InvoiceData
	}
	if res.ValidationResult != nil {
		s.Validation = normalizeValidation(*res.ValidationResult)
	}
	if len(res.Corrections) > 0 {
		s.Corrections = res.Corrections
	}
	if len(res.AuditTrail) > 0 {
		s.AuditTrail = res.AuditTrail
	}
	if e.TokenUsage != nil {
		s.TokenUsage.Total = *e.TokenUsage
	}
	return s
}

func (s DerivedState) withStage2Result(e protocol.Event) DerivedState {
	var res protocol.Stage2Result
	if err := json.Unmarshal(e.Result, &res); err != nil {
		return s
	}
	if len(res.AuditTrail) > 0 {
		s.AuditTrail = res.AuditTrail
	}
	if res.Route == entity.RouteAutoReject {
		// a rejection-logging payment call still ran
		s = s.withStageStatus(entity.StagePayment, entity.StageFailed)
	}
	if e.TokenUsage != nil {
		s.TokenUsage.Total = *e.TokenUsage
	}
	return s
}

func (s DerivedState) withCompleteResult(e protocol.Event) DerivedState {
	var res protocol.CompleteResult
	if err := json.Unmarshal(e.Result, &res); err != nil {
		return s
	}
	if res.PaymentResult != nil {
		s.Payment = res.PaymentResult
	}
	if len(res.AuditTrail) > 0 {
		s.AuditTrail = res.AuditTrail
	}
	if e.TokenUsage != nil {
		s.TokenUsage.Total = *e.TokenUsage
	}
	return s
}

func decodeAuditTrail(v any) []entity.AuditEvent {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var trail []entity.AuditEvent
	if err := json.Unmarshal(raw, &trail); err != nil {
		return nil
	}
	return trail
}

func stageStatusFor(r protocol.StageResult) entity.StageStatus {
	switch r {
	case protocol.ResultComplete:
		return entity.StageComplete
	case protocol.ResultWarning:
		return entity.StageWarning
	case protocol.ResultFailed:
		return entity.StageFailed
	case protocol.ResultSkipped:
		return entity.StageSkipped
	default:
		return entity.StagePending
	}
}

func levelFor(r protocol.StageResult) string {
	switch r {
	case protocol.ResultWarning:
		return "warning"
	case protocol.ResultFailed:
		return "error"
	default:
		return "info"
	}
}

// History converts the derived state of one finished session into a
// processing history suitable for merging into an invoice record
func (s DerivedState) History(processingTime float64, rawInput string) *entity.ProcessingHistory {
	return &entity.ProcessingHistory{
		Logs:           append([]entity.LogEntry(nil), s.Logs...),
		StageStatus:    s.StageStatus,
		TokenUsage:     s.TokenUsage,
		ProcessingTime: processingTime,
		RawInput:       rawInput,
		WorkflowState:  s.WorkflowState,
		AuditTrail:     append([]entity.AuditEvent(nil), s.AuditTrail...),
	}
}
