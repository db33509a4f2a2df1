package entity

import "time"

// Stage names for the four processing sub-stages, in pipeline order.
// StageIndex maps a stage name to its slot in a stage-status array.
const (
	StageIngestion  = "ingestion"
	StageValidation = "validation"
	StageApproval   = "approval"
	StagePayment    = "payment"

	StageCount = 4
)

// StageIndex returns the stage-status slot for a stage name, or -1 if the
// name is not a known sub-stage.
func StageIndex(stage string) int {
	switch stage {
	case StageIngestion:
		return 0
	case StageValidation:
		return 1
	case StageApproval:
		return 2
	case StagePayment:
		return 3
	default:
		return -1
	}
}

// StageStatus represents the progress of one processing sub-stage
type StageStatus string

const (
	StagePending  StageStatus = "pending"
	StageRunning  StageStatus = "running"
	StageComplete StageStatus = "complete"
	StageWarning  StageStatus = "warning"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
)

// LogEntry is one diagnostic line captured during processing
type LogEntry struct {
	Elapsed float64 `json:"elapsed"`
	Level   string  `json:"level"`
	Message string  `json:"message"`
	Stage   string  `json:"stage,omitempty"`
}

// TokenCount holds token accounting for one or more model calls
type TokenCount struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the field-by-field sum of two token counts
func (tc TokenCount) Add(other TokenCount) TokenCount {
	return TokenCount{
		PromptTokens:     tc.PromptTokens + other.PromptTokens,
		CompletionTokens: tc.CompletionTokens + other.CompletionTokens,
		TotalTokens:      tc.TotalTokens + other.TotalTokens,
	}
}

// TokenUsage aggregates token accounting across stages
type TokenUsage struct {
	Total   TokenCount            `json:"total"`
	ByStage map[string]TokenCount `json:"by_stage,omitempty"`
}

// ProcessingHistory accumulates observability data across workflow stages.
// It is created at stage 1 and grown by merging each later stage's history;
// entries are never deleted.
type ProcessingHistory struct {
	Logs           []LogEntry                `json:"logs"`
	StageStatus    [StageCount]StageStatus   `json:"stage_status"`
	TokenUsage     TokenUsage                `json:"token_usage"`
	ProcessingTime float64                   `json:"processing_time"`
	RawInput       string                    `json:"raw_input,omitempty"`
	WorkflowState  map[string]any            `json:"workflow_state,omitempty"`
	AuditTrail     []AuditEvent              `json:"audit_trail,omitempty"`
	MergedAt       *time.Time                `json:"merged_at,omitempty"`
}

// Clone returns a deep copy of the history
func (h *ProcessingHistory) Clone() *ProcessingHistory {
	if h == nil {
		return nil
	}
	cp := *h
	cp.Logs = append([]LogEntry(nil), h.Logs...)
	cp.AuditTrail = append([]AuditEvent(nil), h.AuditTrail...)
	if h.TokenUsage.ByStage != nil {
		cp.TokenUsage.ByStage = make(map[string]TokenCount, len(h.TokenUsage.ByStage))
		for k, v := range h.TokenUsage.ByStage {
			cp.TokenUsage.ByStage[k] = v
		}
	}
	if h.WorkflowState != nil {
		cp.WorkflowState = make(map[string]any, len(h.WorkflowState))
		for k, v := range h.WorkflowState {
			cp.WorkflowState[k] = v
		}
	}
	if h.MergedAt != nil {
		t := *h.MergedAt
		cp.MergedAt = &t
	}
	return &cp
}
