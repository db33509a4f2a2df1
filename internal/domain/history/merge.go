// Package history merges per-stage processing histories into the record's
// accumulated history.
package history

import (
	"math"
	"time"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

// Merge combines a newly completed stage's history with previously
// accumulated history. Neither input is mutated. If either input is nil the
// other is returned unchanged (as a clone, so the result is always safe to
// mutate).
//
// Logs are concatenated prior-first; stage-status slots are overwritten only
// where the new stage reports a non-pending status; token totals are summed
// field-by-field while per-stage entries from the new history win on key
// collision; processing time is summed and rounded to one decimal; workflow
// state is unioned with new keys winning, then forced to completion markers.
// Repeated application (stage1, then stage2, then stage3) never reorders
// already-merged logs.
func Merge(prior, next *entity.ProcessingHistory) *entity.ProcessingHistory {
	if next == nil {
		return prior.Clone()
	}
	if prior == nil {
		return next.Clone()
	}

	merged := prior.Clone()

	for _, log := range next.Logs {
		merged.Logs = append(merged.Logs, log)
	}

	for i, st := range next.StageStatus {
		if st != "" && st != entity.StagePending {
			merged.StageStatus[i] = st
		}
	}

	merged.TokenUsage.Total = prior.TokenUsage.Total.Add(next.TokenUsage.Total)
	if len(next.TokenUsage.ByStage) > 0 {
		if merged.TokenUsage.ByStage == nil {
			merged.TokenUsage.ByStage = make(map[string]entity.TokenCount, len(next.TokenUsage.ByStage))
		}
		for stage, count := range next.TokenUsage.ByStage {
			merged.TokenUsage.ByStage[stage] = count
		}
	}

	merged.ProcessingTime = roundTenth(prior.ProcessingTime + next.ProcessingTime)

	if len(next.WorkflowState) > 0 {
		if merged.WorkflowState == nil {
			merged.WorkflowState = make(map[string]any, len(next.WorkflowState)+2)
		}
		for k, v := range next.WorkflowState {
			merged.WorkflowState[k] = v
		}
	}
	if merged.WorkflowState == nil {
		merged.WorkflowState = make(map[string]any, 2)
	}
	merged.WorkflowState["current_agent"] = "complete"
	merged.WorkflowState["status"] = "complete"

	// The remote agent sends the full audit trail each time, so the newest
	// trail replaces rather than appends.
	if len(next.AuditTrail) > 0 {
		merged.AuditTrail = append([]entity.AuditEvent(nil), next.AuditTrail...)
	}

	now := time.Now().UTC()
	merged.MergedAt = &now
	return merged
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
