package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/agent"
	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// IngestRequest carries the input for a stage 1 run. SourceType, SourcePath
// and OriginalFilename describe where the raw text came from when the
// invoice entered via file upload.
type IngestRequest struct {
	RawInvoice       string
	InvoiceID        string
	SourceType       string
	SourcePath       string
	OriginalFilename string
}

// RunIngestion streams stage 1: extraction then validation. The invoice
// lands in the inbox bucket awaiting a routing decision; approval and
// payment are reported as pending. The returned error is a sink failure;
// agent failures terminate the stream with an error event instead.
func (p *Pipeline) RunIngestion(ctx context.Context, sink Sink, req IngestRequest) error {
	invoiceID := req.InvoiceID
	if invoiceID == "" {
		invoiceID = "INV-" + strings.ToUpper(uuid.New().String()[:8])
	}

	em := newEmitter(sink, p.now, req.RawInvoice)

	state := map[string]any{
		"raw_invoice":       req.RawInvoice,
		"invoice_data":      nil,
		"validation_result": nil,
		"approval_decision": nil,
		"payment_result":    nil,
		"invoice_status":    "ingesting",
		"current_agent":     entity.StageIngestion,
		"status":            "processing",
		"error":             nil,
	}
	em.stateUpdate(ctx, state)

	em.audit(entity.AuditEvent{
		Type:        entity.AuditInvoiceReceived,
		Timestamp:   p.now().UTC().Format(time.RFC3339),
		Actor:       "system",
		Title:       "Invoice received",
		Description: fmt.Sprintf("Raw invoice received for processing (%d bytes)", len(req.RawInvoice)),
	})

	// extraction
	em.stageStart(ctx, entity.StageIngestion, "Extract structured data from invoice")
	em.log(ctx, "system", "INGESTION AGENT", entity.StageIngestion)
	em.log(ctx, "info", "Input: "+preview(req.RawInvoice, 60), entity.StageIngestion)
	em.agentCall(ctx, entity.StageIngestion, p.ingestion.Model())

	if em.err != nil {
		return em.err
	}

	extraction, err := p.ingestion.Extract(ctx, req.RawInvoice)
	if err != nil {
		p.logger.Error("ingestion failed", zap.String("invoice_id", invoiceID), zap.Error(err))
		em.fail(ctx, entity.StageIngestion, "Ingestion failed: "+err.Error())
		return em.err
	}
	data := extraction.Data

	if extraction.Retried {
		e := protocol.New(protocol.KindSelfCorrection)
		e.Stage = entity.StageIngestion
		e.Attempt = 2
		e.Reason = extraction.RetryReason
		em.emit(ctx, e)
		em.log(ctx, "warning", "Self-correction: "+extraction.RetryReason, entity.StageIngestion)
	}

	em.agentResponse(ctx, entity.StageIngestion, data)
	em.tokenUsage(ctx, entity.StageIngestion, extraction.Usage)

	em.log(ctx, "success", "Invoice #: "+orUnknown(data.InvoiceNumber), entity.StageIngestion)
	em.log(ctx, "success", "Vendor: "+orUnknown(data.Vendor), entity.StageIngestion)
	em.log(ctx, "success", fmt.Sprintf("Amount: $%.2f %s", data.Amount, data.Currency), entity.StageIngestion)
	em.log(ctx, "success", fmt.Sprintf("Items: %d line item(s)", len(data.Items)), entity.StageIngestion)
	em.log(ctx, "success", fmt.Sprintf("Confidence: %d%%", data.Confidence), entity.StageIngestion)
	if len(data.Flags) > 0 {
		em.log(ctx, "warning", "Flags: "+strings.Join(data.Flags, ", "), entity.StageIngestion)
	}

	em.stageComplete(ctx, entity.StageIngestion, protocol.ResultComplete, data, entity.StageValidation)

	em.audit(entity.AuditEvent{
		Type:        entity.AuditAIProcessing,
		Timestamp:   p.now().UTC().Format(time.RFC3339),
		Actor:       "ai:" + entity.StageIngestion,
		Title:       "Data extracted",
		Description: fmt.Sprintf("Extracted %s for $%.2f from %s with %d%% confidence", orUnknown(data.InvoiceNumber), data.Amount, orUnknown(data.Vendor), data.Confidence),
	})

	state["invoice_data"] = data
	state["current_agent"] = entity.StageValidation
	em.stateUpdate(ctx, state)

	// validation
	em.stageStart(ctx, entity.StageValidation, "Check inventory & business rules")
	em.log(ctx, "system", "VALIDATION AGENT", entity.StageValidation)
	em.log(ctx, "info", "Checking inventory database...", entity.StageValidation)
	em.agentCall(ctx, entity.StageValidation, p.validation.Model())

	if em.err != nil {
		return em.err
	}

	validation, err := p.validation.Validate(ctx, data)
	if err != nil {
		p.logger.Error("validation failed", zap.String("invoice_id", invoiceID), zap.Error(err))
		em.fail(ctx, entity.StageValidation, "Validation failed: "+err.Error())
		return em.err
	}
	verdict := validation.Result

	for _, item := range sortedItems(verdict.InventoryCheck) {
		chk := verdict.InventoryCheck[item]
		level := "success"
		if !chk.Available {
			level = "error"
		}
		em.log(ctx, level, fmt.Sprintf("%s: need %d, have %d", item, chk.Requested, chk.InStock), entity.StageValidation)
	}
	for field, c := range verdict.Corrections {
		em.log(ctx, "warning", fmt.Sprintf("Corrected %s: %v -> %v (%s)", field, c.Original, c.Corrected, c.Reason), entity.StageValidation)
	}

	em.agentResponse(ctx, entity.StageValidation, verdict)
	em.tokenUsage(ctx, entity.StageValidation, validation.Usage)

	em.audit(entity.AuditEvent{
		Type:        entity.AuditValidationComplete,
		Timestamp:   p.now().UTC().Format(time.RFC3339),
		Actor:       "ai:" + entity.StageValidation,
		Title:       "Validation complete",
		Description: fmt.Sprintf("Validation %s with %d error(s) and %d warning(s)", passFail(verdict.IsValid), len(verdict.Errors), len(verdict.Warnings)),
	})

	status := entity.StatusReadyForApproval
	if verdict.IsValid {
		em.log(ctx, "success", "VALIDATION PASSED", entity.StageValidation)
		em.stageComplete(ctx, entity.StageValidation, protocol.ResultComplete, verdict, "inbox")
	} else {
		status = entity.StatusNeedsReview
		em.log(ctx, "error", "VALIDATION FAILED", entity.StageValidation)
		for _, msg := range verdict.Errors {
			em.log(ctx, "error", msg, entity.StageValidation)
		}
		for _, msg := range verdict.Warnings {
			em.log(ctx, "warning", msg, entity.StageValidation)
		}
		em.stageComplete(ctx, entity.StageValidation, protocol.ResultWarning, verdict, "inbox")
	}

	state["validation_result"] = verdict
	state["invoice_status"] = status.String()
	state["current_agent"] = "awaiting_routing"
	em.stateUpdate(ctx, state)

	em.log(ctx, "info", "Invoice processed and ready for routing.", "")
	em.stageComplete(ctx, entity.StageApproval, protocol.ResultPending,
		map[string]string{"message": "Awaiting user to route invoice"}, "")
	em.stageComplete(ctx, entity.StagePayment, protocol.ResultPending,
		map[string]string{"message": "Awaiting approval"}, "")

	if em.err != nil {
		return em.err
	}

	stored := p.store.Ingest(p.buildInvoice(invoiceID, req, extraction, validation, status, em.history()))

	result := protocol.Stage1Result{
		Status:           "inbox",
		InvoiceID:        stored.ID,
		InvoiceStatus:    stored.Status.String(),
		InvoiceData:      data,
		ValidationResult: verdict,
		Corrections:      verdict.Corrections,
		WorkflowState:    em.hist.WorkflowState,
		NextAction:       "route_to_approval",
		Message:          "Invoice processed. Route to approval to continue.",
		SourceType:       stored.SourceType,
		SourcePath:       stored.SourcePath,
		OriginalFilename: stored.OriginalFilename,
		AuditTrail:       em.hist.AuditTrail,
	}
	e := protocol.New(protocol.KindStage1Complete)
	e.Result = mustJSON(result)
	e.ProcessingTime = em.elapsed()
	total := em.total
	e.TokenUsage = &total
	e.InvoiceID = stored.ID
	em.emit(ctx, e)
	return em.err
}

// buildInvoice assembles the inbox record from the stage 1 outcomes
func (p *Pipeline) buildInvoice(id string, req IngestRequest, extraction *agent.ExtractionOutcome, validation *agent.ValidationOutcome, status entity.Status, hist *entity.ProcessingHistory) *entity.Invoice {
	data := extraction.Data
	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = entity.SourceText
	}
	return &entity.Invoice{
		ID:               id,
		Vendor:           data.Vendor,
		InvoiceNumber:    data.InvoiceNumber,
		InvoiceDate:      data.InvoiceDate,
		DueDate:          data.DueDate,
		Currency:         data.Currency,
		Amount:           data.Amount,
		Subtotal:         data.Subtotal,
		Tax:              data.Tax,
		PaymentTerms:     data.PaymentTerms,
		PONumber:         data.PONumber,
		BillFrom:         data.BillFrom,
		BillTo:           data.BillTo,
		Items:            data.Items,
		Status:           status,
		Confidence:       data.Confidence,
		Flags:            data.Flags,
		Corrections:      validation.Result.Corrections,
		SourceType:       sourceType,
		SourcePath:       req.SourcePath,
		OriginalFilename: req.OriginalFilename,
		RawText:          req.RawInvoice,
		History:          hist,
	}
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}

func sortedItems(checks map[string]protocol.InventoryCheck) []string {
	items := make([]string, 0, len(checks))
	for item := range checks {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}
