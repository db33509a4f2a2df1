package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// executiveThreshold is the amount above which an invoice always needs the
// full human chain regardless of model output
const executiveThreshold = 50000.0

// TriageOutcome is the approval agent's result
type TriageOutcome struct {
	Decision *protocol.ApprovalData
	Usage    entity.TokenCount

	// FallbackUsed marks that the model call failed and the deterministic
	// rules produced the decision
	FallbackUsed bool
}

// ApprovalAgent classifies an invoice into auto-approve, auto-reject, or
// route-to-human. The LLM performs the risk analysis; deterministic
// guardrails clamp its output so a misbehaving model can never auto-approve
// past the thresholds, and a rule-based fallback covers model failures.
type ApprovalAgent struct {
	client      completer
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewApprovalAgent creates an approval agent
func NewApprovalAgent(client completer, model string, temperature float32, logger *zap.Logger) *ApprovalAgent {
	return &ApprovalAgent{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// Model returns the configured model identifier
func (a *ApprovalAgent) Model() string { return a.model }

// Triage decides the route for an extracted, validated invoice
func (a *ApprovalAgent) Triage(ctx context.Context, data *protocol.ExtractionData, validation *protocol.ValidationData) (*TriageOutcome, error) {
	decision, usage, err := a.analyze(ctx, data, validation)
	if err != nil {
		a.logger.Warn("triage model call failed, using rule-based fallback", zap.Error(err))
		return &TriageOutcome{
			Decision:     fallbackTriage(data, validation),
			FallbackUsed: true,
		}, nil
	}

	a.applyGuardrails(decision, data, validation)

	a.logger.Info("triage decision",
		zap.String("route", decision.Route.String()),
		zap.Float64("risk_score", decision.RiskScore),
		zap.Int("red_flags", len(decision.RedFlags)),
	)
	return &TriageOutcome{Decision: decision, Usage: usage}, nil
}

func (a *ApprovalAgent) analyze(ctx context.Context, data *protocol.ExtractionData, validation *protocol.ValidationData) (*protocol.ApprovalData, entity.TokenCount, error) {
	payload, err := json.Marshal(map[string]any{
		"invoice":    data,
		"validation": validation,
	})
	if err != nil {
		return nil, entity.TokenCount{}, err
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: a.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: approvalSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Triage this invoice:\n\n" + string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, entity.TokenCount{}, fmt.Errorf("triage call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, usageOf(resp.Usage), fmt.Errorf("no response from model")
	}

	var decision protocol.ApprovalData
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		if jsonStr := extractJSON(content); jsonStr != "" {
			if err2 := json.Unmarshal([]byte(jsonStr), &decision); err2 == nil {
				return &decision, usageOf(resp.Usage), nil
			}
		}
		return nil, usageOf(resp.Usage), fmt.Errorf("failed to parse triage response: %w", err)
	}
	return &decision, usageOf(resp.Usage), nil
}

// applyGuardrails clamps the model's decision to the business rules. The
// model proposes; the thresholds dispose.
func (a *ApprovalAgent) applyGuardrails(decision *protocol.ApprovalData, data *protocol.ExtractionData, validation *protocol.ValidationData) {
	if validation != nil && !validation.IsValid && decision.Route != entity.RouteAutoReject {
		a.logger.Debug("guardrail: failed validation forces auto_reject",
			zap.String("model_route", decision.Route.String()))
		decision.Route = entity.RouteAutoReject
		decision.Approved = false
		if decision.RiskScore < 0.9 {
			decision.RiskScore = 0.9
		}
		decision.RedFlags = append(decision.RedFlags, validation.Errors...)
		return
	}

	if data.Amount >= highValueThreshold && decision.Route == entity.RouteAutoApprove {
		a.logger.Debug("guardrail: amount at or above auto-approve max forces human review",
			zap.Float64("amount", data.Amount))
		decision.Route = entity.RouteToHuman
		decision.RequiresReview = true
		if data.Amount > executiveThreshold {
			decision.RedFlags = append(decision.RedFlags, "Executive approval needed for amount over $50,000")
		}
	}

	if len(decision.RedFlags) > 0 && decision.Route == entity.RouteAutoApprove {
		decision.Route = entity.RouteToHuman
		decision.RequiresReview = true
	}

	if decision.Route == "" {
		decision.Route = entity.RouteToHuman
		decision.RequiresReview = true
	}
}

// fallbackTriage is the deterministic decision used when the model is
// unavailable. It mirrors the routing rules exactly.
func fallbackTriage(data *protocol.ExtractionData, validation *protocol.ValidationData) *protocol.ApprovalData {
	if validation != nil && !validation.IsValid {
		return &protocol.ApprovalData{
			Approved:  false,
			Reason:    "Validation failed: " + strings.Join(validation.Errors, "; "),
			RiskScore: 0.9,
			Route:     entity.RouteAutoReject,
			RedFlags:  validation.Errors,
		}
	}
	if data.Amount >= highValueThreshold {
		return &protocol.ApprovalData{
			Approved:       true,
			Reason:         fmt.Sprintf("Amount $%.2f requires human approval (>= $10,000).", data.Amount),
			RequiresReview: true,
			RiskScore:      0.3,
			Route:          entity.RouteToHuman,
		}
	}
	return &protocol.ApprovalData{
		Approved:  true,
		Reason:    fmt.Sprintf("Auto-approved: $%.2f is under $10,000 with no red flags.", data.Amount),
		RiskScore: 0.1,
		Route:     entity.RouteAutoApprove,
	}
}
