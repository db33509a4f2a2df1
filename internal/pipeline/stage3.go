package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/agent"
	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

const notApprovedError = "Payment blocked: Invoice was not approved"

// RunPayment streams stage 3: payment execution for an approved invoice.
// approvedBy and invoiceStatus carry the client's view of the approval
// state; an invoice approved by none of AI triage, a human actor, or its
// own status is rejected with an audit entry instead of paid.
func (p *Pipeline) RunPayment(ctx context.Context, sink Sink, invoiceID, approvedBy, invoiceStatus string) error {
	inv, _, ok := p.store.Lookup(invoiceID)
	if !ok {
		return sink.Emit(ctx, protocol.NewError(fmt.Sprintf("Invoice %s not found", invoiceID), ""))
	}

	em := newEmitter(sink, p.now, "")

	em.stageStart(ctx, entity.StagePayment, "Execute transaction")
	em.log(ctx, "system", "PAYMENT AGENT", entity.StagePayment)
	em.log(ctx, "info", "Vendor: "+orUnknown(inv.Vendor), entity.StagePayment)
	em.log(ctx, "info", fmt.Sprintf("Amount: $%.2f", inv.Amount), entity.StagePayment)

	humanApproved := strings.HasPrefix(approvedBy, "human:")
	approved := inv.AutoApproved || humanApproved ||
		approvedStatus(invoiceStatus) || approvedStatus(inv.Status.String())

	if !approved {
		p.logger.Warn("payment rejected, invoice not approved",
			zap.String("invoice_id", invoiceID),
			zap.String("status", inv.Status.String()),
		)
		em.log(ctx, "error", notApprovedError, entity.StagePayment)

		em.audit(entity.AuditEvent{
			Type:        entity.AuditPaymentRejected,
			Timestamp:   p.now().UTC().Format(time.RFC3339),
			Actor:       "ai:" + entity.StagePayment,
			Title:       "Payment rejected",
			Description: "Invoice was not approved for payment",
			Details: map[string]any{
				"vendor": inv.Vendor,
				"amount": inv.Amount,
				"status": inv.Status.String(),
			},
		})

		result := &protocol.PaymentData{Success: false, Error: notApprovedError}
		em.agentResponse(ctx, entity.StagePayment, result)
		em.stageComplete(ctx, entity.StagePayment, protocol.ResultFailed, result, "")

		e := protocol.New(protocol.KindRejected)
		e.Message = notApprovedError
		e.Stage = entity.StagePayment
		em.emit(ctx, e)
		return em.err
	}

	em.log(ctx, "info", "Approved by: "+approvalSource(inv, approvedBy, invoiceStatus), entity.StagePayment)
	em.audit(entity.AuditEvent{
		Type:        entity.AuditPaymentInitiated,
		Timestamp:   p.now().UTC().Format(time.RFC3339),
		Actor:       "ai:" + entity.StagePayment,
		Title:       "Payment processing started",
		Description: fmt.Sprintf("Initiating payment of $%.2f to %s", inv.Amount, inv.Vendor),
	})
	em.log(ctx, "info", "Calling payment gateway...", entity.StagePayment)

	if em.err != nil {
		return em.err
	}

	result := p.gateway.Execute(ctx, inv.Vendor, inv.Amount)
	em.agentResponse(ctx, entity.StagePayment, result)
	em.audit(agent.PaymentAuditEvent(result, inv.Vendor, inv.Amount, approvedBy, p.now()))

	var finalStatus entity.Status
	if result.Success {
		finalStatus = entity.StatusPaid
		em.log(ctx, "success", "Payment successful", entity.StagePayment)
		em.log(ctx, "success", "Transaction ID: "+result.TransactionID, entity.StagePayment)
		em.stageComplete(ctx, entity.StagePayment, protocol.ResultComplete, result, "")
		p.store.MarkPaid(invoiceID, result.TransactionID)
	} else {
		finalStatus = entity.StatusPaymentFailed
		em.log(ctx, "error", "Payment failed: "+result.Error, entity.StagePayment)
		em.stageComplete(ctx, entity.StagePayment, protocol.ResultFailed, result, "")
		p.store.MarkPaymentFailed(invoiceID, result.Error)
	}

	final := protocol.CompleteResult{
		Status:        finalStatus.String(),
		PaymentResult: result,
		AuditTrail:    em.hist.AuditTrail,
	}
	e := protocol.New(protocol.KindComplete)
	e.Result = mustJSON(final)
	e.ProcessingTime = em.elapsed()
	total := em.total
	e.TokenUsage = &total
	em.emit(ctx, e)
	return em.err
}

// approvedStatus reports whether a status value implies payment clearance
func approvedStatus(status string) bool {
	switch status {
	case "approved", "ready_to_pay", "auto_approved", "scheduled", "paying":
		return true
	default:
		return false
	}
}

func approvalSource(inv *entity.Invoice, approvedBy, invoiceStatus string) string {
	switch {
	case strings.HasPrefix(approvedBy, "human:"):
		return "Human (" + strings.TrimPrefix(approvedBy, "human:") + ")"
	case inv.AutoApproved:
		return "AI auto-approve"
	case invoiceStatus != "":
		return "Status: " + invoiceStatus
	default:
		return "Status: " + inv.Status.String()
	}
}
