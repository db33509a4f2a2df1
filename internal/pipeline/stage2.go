package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// RunApproval streams stage 2: triage analysis of a stored invoice. The
// routing decision is committed to the lifecycle store before the terminal
// stage2_complete event is emitted.
func (p *Pipeline) RunApproval(ctx context.Context, sink Sink, invoiceID string) error {
	inv, _, ok := p.store.Lookup(invoiceID)
	if !ok {
		return sink.Emit(ctx, protocol.NewError(fmt.Sprintf("Invoice %s not found", invoiceID), ""))
	}

	em := newEmitter(sink, p.now, "")

	data := extractionFromInvoice(inv)
	verdict := validationFromHistory(inv.History)

	em.stageStart(ctx, entity.StageApproval, "Smart triage analysis")
	em.log(ctx, "system", "APPROVAL AGENT", entity.StageApproval)
	em.log(ctx, "info", "Vendor: "+orUnknown(inv.Vendor), entity.StageApproval)
	em.log(ctx, "info", fmt.Sprintf("Amount: $%.2f", inv.Amount), entity.StageApproval)
	if verdict != nil {
		em.log(ctx, "info", "Validation: "+passFail(verdict.IsValid), entity.StageApproval)
	}
	em.agentCall(ctx, entity.StageApproval, p.approval.Model())

	if em.err != nil {
		return em.err
	}

	triage, err := p.approval.Triage(ctx, data, verdict)
	if err != nil {
		p.logger.Error("approval triage failed", zap.String("invoice_id", invoiceID), zap.Error(err))
		em.fail(ctx, entity.StageApproval, "Approval failed: "+err.Error())
		return em.err
	}
	decision := triage.Decision

	for _, step := range decision.ReasoningChain {
		em.log(ctx, "info", step, entity.StageApproval)
	}
	for _, flag := range decision.RedFlags {
		em.log(ctx, "warning", "Red flag: "+flag, entity.StageApproval)
	}

	em.agentResponse(ctx, entity.StageApproval, decision)
	em.tokenUsage(ctx, entity.StageApproval, triage.Usage)
	em.log(ctx, "info", fmt.Sprintf("Risk score: %.2f", decision.RiskScore), entity.StageApproval)

	route := decision.Route
	var stageStatus protocol.StageResult
	var nextStage string
	switch route {
	case entity.RouteAutoApprove:
		stageStatus = protocol.ResultComplete
		nextStage = entity.StagePayment
		em.log(ctx, "success", "AUTO-APPROVED - ready for payment", entity.StageApproval)
	case entity.RouteAutoReject:
		stageStatus = protocol.ResultFailed
		em.log(ctx, "error", "AUTO-REJECTED - major red flags detected", entity.StageApproval)
	default:
		stageStatus = protocol.ResultWarning
		nextStage = "human_approval"
		em.log(ctx, "warning", "ROUTED TO HUMAN - needs manager approval", entity.StageApproval)
	}

	em.audit(entity.AuditEvent{
		Type:        entity.AuditApprovalDecision,
		Timestamp:   p.now().UTC().Format(time.RFC3339),
		Actor:       "ai:" + entity.StageApproval,
		Title:       "Triage decision",
		Description: decision.Reason,
		Details: map[string]any{
			"route":      route.String(),
			"risk_score": decision.RiskScore,
			"fallback":   triage.FallbackUsed,
		},
	})

	invoiceStatus := route.Status()
	em.stateUpdate(ctx, map[string]any{
		"invoice_data":      data,
		"validation_result": verdict,
		"approval_decision": decision,
		"invoice_status":    invoiceStatus.String(),
		"current_agent":     routeAgent(route),
		"status":            "processing",
	})
	em.stageComplete(ctx, entity.StageApproval, stageStatus, decision, nextStage)
	if route == entity.RouteAutoReject {
		// a rejection-logging payment call still ran
		em.setStage(entity.StagePayment, entity.StageFailed)
	}

	if em.err != nil {
		return em.err
	}

	p.store.ApplyTriageResult(invoiceID, route, em.history())

	result := protocol.Stage2Result{
		Route:         route,
		InvoiceStatus: invoiceStatus.String(),
		AuditTrail:    em.hist.AuditTrail,
	}
	e := protocol.New(protocol.KindStage2Complete)
	e.Result = mustJSON(result)
	e.ProcessingTime = em.elapsed()
	total := em.total
	e.TokenUsage = &total
	e.InvoiceID = invoiceID
	em.emit(ctx, e)
	return em.err
}

func routeAgent(route entity.Route) string {
	switch route {
	case entity.RouteAutoApprove:
		return entity.StagePayment
	case entity.RouteAutoReject:
		return "rejected"
	default:
		return "human_approval"
	}
}

// extractionFromInvoice rebuilds the extraction payload from a stored
// invoice so later stages can feed it back to the agents.
func extractionFromInvoice(inv *entity.Invoice) *protocol.ExtractionData {
	return &protocol.ExtractionData{
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceDate:   inv.InvoiceDate,
		DueDate:       inv.DueDate,
		Vendor:        inv.Vendor,
		Amount:        inv.Amount,
		Subtotal:      inv.Subtotal,
		Tax:           inv.Tax,
		Currency:      inv.Currency,
		PaymentTerms:  inv.PaymentTerms,
		PONumber:      inv.PONumber,
		BillFrom:      inv.BillFrom,
		BillTo:        inv.BillTo,
		Items:         inv.Items,
		Confidence:    inv.Confidence,
		Flags:         inv.Flags,
	}
}

// validationFromHistory recovers the stage 1 validation verdict from the
// workflow state snapshot. Nil if the invoice has no recorded verdict.
func validationFromHistory(h *entity.ProcessingHistory) *protocol.ValidationData {
	if h == nil || h.WorkflowState == nil {
		return nil
	}
	raw, ok := h.WorkflowState["validation_result"]
	if !ok || raw == nil {
		return nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var verdict protocol.ValidationData
	if err := json.Unmarshal(buf, &verdict); err != nil {
		return nil
	}
	return &verdict
}
