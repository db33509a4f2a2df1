package agent

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// singlePaymentLimit is the largest amount the gateway will move in one
// transaction
const singlePaymentLimit = 50000.0

// PaymentGateway executes payments. This is the demo gateway: it simulates
// the payment rail with two blocking rules and otherwise succeeds with a
// generated transaction identifier. The interface shape matches what a real
// rail integration would implement.
type PaymentGateway interface {
	Execute(ctx context.Context, vendor string, amount float64) *protocol.PaymentData
}

// MockGateway implements PaymentGateway with deterministic rules:
// watchlisted vendors and amounts over the single-payment limit are blocked.
type MockGateway struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewMockGateway creates the demo payment gateway
func NewMockGateway(logger *zap.Logger) *MockGateway {
	return &MockGateway{logger: logger, now: time.Now}
}

// Execute runs one payment attempt
func (g *MockGateway) Execute(ctx context.Context, vendor string, amount float64) *protocol.PaymentData {
	if strings.Contains(vendor, "Fraudster") {
		g.logger.Warn("payment blocked, vendor on watchlist", zap.String("vendor", vendor))
		return &protocol.PaymentData{
			Success: false,
			Error:   "Payment blocked: Vendor on fraud watchlist",
		}
	}
	if amount > singlePaymentLimit {
		g.logger.Warn("payment blocked, amount over limit", zap.Float64("amount", amount))
		return &protocol.PaymentData{
			Success: false,
			Error:   "Payment blocked: Amount exceeds single transaction limit",
		}
	}

	u := uuid.New()
	txn := fmt.Sprintf("TXN-%s-%s", g.now().Format("20060102"), strings.ToUpper(hex.EncodeToString(u[:4])))
	g.logger.Info("payment executed",
		zap.String("vendor", vendor),
		zap.Float64("amount", amount),
		zap.String("transaction_id", txn),
	)
	return &protocol.PaymentData{Success: true, TransactionID: txn}
}

// PaymentAuditEvent builds the audit trail entry for a payment attempt
func PaymentAuditEvent(result *protocol.PaymentData, vendor string, amount float64, approvedBy string, at time.Time) entity.AuditEvent {
	details := map[string]any{
		"vendor": vendor,
		"amount": amount,
	}
	if approvedBy != "" {
		details["approved_by"] = approvedBy
	}

	if result.Success {
		details["transaction_id"] = result.TransactionID
		return entity.AuditEvent{
			Type:        entity.AuditPaymentComplete,
			Timestamp:   at.UTC().Format(time.RFC3339),
			Actor:       "system",
			Title:       "Payment completed",
			Description: fmt.Sprintf("Paid $%.2f to %s", amount, vendor),
			Details:     details,
		}
	}

	details["error"] = result.Error
	return entity.AuditEvent{
		Type:        entity.AuditPaymentFailed,
		Timestamp:   at.UTC().Format(time.RFC3339),
		Actor:       "system",
		Title:       "Payment blocked",
		Description: result.Error,
		Details:     details,
	}
}
