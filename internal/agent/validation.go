package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// highValueThreshold is the amount above which an invoice draws a warning
// and can no longer be auto-approved downstream
const highValueThreshold = 10000.0

// InventoryReader reports stock levels for invoice line items
type InventoryReader interface {
	Stock(ctx context.Context, item string) (int, bool, error)
}

// ValidationOutcome is the validation agent's result
type ValidationOutcome struct {
	Result *protocol.ValidationData
	Usage  entity.TokenCount
}

// ValidationAgent checks an extracted invoice against inventory and business
// rules. Inventory and field corrections are deterministic; the LLM reviews
// the combined picture and produces the final verdict. If the model call
// fails, the deterministic rule results stand alone.
type ValidationAgent struct {
	client      completer
	inventory   InventoryReader
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewValidationAgent creates a validation agent
func NewValidationAgent(client completer, inventory InventoryReader, model string, temperature float32, logger *zap.Logger) *ValidationAgent {
	return &ValidationAgent{
		client:      client,
		inventory:   inventory,
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// Model returns the configured model identifier
func (a *ValidationAgent) Model() string { return a.model }

// Validate checks the extracted invoice. The returned result carries the
// inventory check keyed by item name and any corrections applied to the
// extraction in place.
func (a *ValidationAgent) Validate(ctx context.Context, data *protocol.ExtractionData) (*ValidationOutcome, error) {
	corrections := correctPaymentTerms(data)
	inventoryCheck := a.checkInventory(ctx, data.Items)

	errors, warnings := ruleFindings(data, inventoryCheck)
	if len(corrections) > 0 {
		warnings = append(warnings, fmt.Sprintf("CORRECTIONS: %d field(s) were auto-corrected by validation", len(corrections)))
	}

	result := &protocol.ValidationData{
		IsValid:        len(errors) == 0,
		Errors:         errors,
		Warnings:       warnings,
		InventoryCheck: inventoryCheck,
		Corrections:    corrections,
	}

	verdict, usage, err := a.review(ctx, data, result)
	if err != nil {
		a.logger.Warn("validation model call failed, using rule results", zap.Error(err))
		return &ValidationOutcome{Result: result}, nil
	}

	// the model may add findings but cannot overrule the inventory math
	result.Errors = mergeFindings(result.Errors, verdict.Errors)
	result.Warnings = mergeFindings(result.Warnings, verdict.Warnings)
	result.IsValid = len(result.Errors) == 0

	a.logger.Info("validation completed",
		zap.Bool("is_valid", result.IsValid),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("corrections", len(corrections)),
	)
	return &ValidationOutcome{Result: result, Usage: usage}, nil
}

func (a *ValidationAgent) checkInventory(ctx context.Context, items []entity.LineItem) map[string]protocol.InventoryCheck {
	if a.inventory == nil || len(items) == 0 {
		return nil
	}
	checks := make(map[string]protocol.InventoryCheck, len(items))
	for _, item := range items {
		inStock, known, err := a.inventory.Stock(ctx, item.Description)
		if err != nil {
			a.logger.Warn("inventory lookup failed",
				zap.String("item", item.Description),
				zap.Error(err),
			)
			continue
		}
		if !known {
			checks[item.Description] = protocol.InventoryCheck{
				Requested: item.Quantity,
				InStock:   0,
				Available: false,
			}
			continue
		}
		checks[item.Description] = protocol.InventoryCheck{
			Requested: item.Quantity,
			InStock:   inStock,
			Available: inStock >= item.Quantity,
		}
	}
	return checks
}

func ruleFindings(data *protocol.ExtractionData, inventory map[string]protocol.InventoryCheck) (errors, warnings []string) {
	for item, chk := range inventory {
		if !chk.Available {
			errors = append(errors, fmt.Sprintf("INVENTORY: %s - requested %d units but only %d in stock", item, chk.Requested, chk.InStock))
		}
	}
	if data.Vendor == "" || data.Vendor == "UNKNOWN" {
		errors = append(errors, "VENDOR: Missing or unknown vendor")
	}
	if data.DueDate == "" {
		errors = append(errors, "DUE_DATE: Missing or invalid due date")
	}
	if data.Amount > highValueThreshold {
		warnings = append(warnings, fmt.Sprintf("AMOUNT: Invoice exceeds $10,000 threshold ($%.0f)", data.Amount))
	}
	return errors, warnings
}

func (a *ValidationAgent) review(ctx context.Context, data *protocol.ExtractionData, ruleResult *protocol.ValidationData) (*protocol.ValidationData, entity.TokenCount, error) {
	payload, err := json.Marshal(map[string]any{
		"invoice":         data,
		"inventory_check": ruleResult.InventoryCheck,
		"rule_errors":     ruleResult.Errors,
		"rule_warnings":   ruleResult.Warnings,
	})
	if err != nil {
		return nil, entity.TokenCount{}, err
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: a.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: validationSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Validate this invoice:\n\n" + string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, entity.TokenCount{}, fmt.Errorf("validation call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, usageOf(resp.Usage), fmt.Errorf("no response from model")
	}

	var verdict protocol.ValidationData
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		if jsonStr := extractJSON(content); jsonStr != "" {
			if err2 := json.Unmarshal([]byte(jsonStr), &verdict); err2 == nil {
				return &verdict, usageOf(resp.Usage), nil
			}
		}
		return nil, usageOf(resp.Usage), fmt.Errorf("failed to parse validation response: %w", err)
	}
	return &verdict, usageOf(resp.Usage), nil
}

// mergeFindings appends model findings not already reported by the rules
func mergeFindings(rules, model []string) []string {
	seen := make(map[string]bool, len(rules))
	merged := append([]string(nil), rules...)
	for _, f := range rules {
		seen[f] = true
	}
	for _, f := range model {
		if !seen[f] {
			merged = append(merged, f)
			seen[f] = true
		}
	}
	return merged
}

// boilerplateTerms matches placeholder payment-terms text that carries no
// real term, as opposed to "Net 30" or "2/10 Net 30"
var boilerplateTerms = regexp.MustCompile(`(?i)^(payment\s+terms|as\s+agreed|standard\s+terms|per\s+contract|tbd|n/?a)[.:]?$`)

var realTerms = regexp.MustCompile(`(?i)^(net\s*\d+|\d+/\d+\s*net\s*\d+|due\s+on\s+receipt|cod)$`)

// correctPaymentTerms derives payment terms from the invoice and due dates
// when the extracted terms are missing or boilerplate. Mutates data in place
// and returns the corrections made, keyed by field name.
func correctPaymentTerms(data *protocol.ExtractionData) map[string]entity.FieldCorrection {
	terms := strings.TrimSpace(data.PaymentTerms)
	if terms != "" && realTerms.MatchString(terms) {
		return nil
	}
	if terms != "" && !boilerplateTerms.MatchString(terms) {
		return nil
	}

	derived, ok := termsFromDates(data.InvoiceDate, data.DueDate)
	if !ok {
		return nil
	}

	original := data.PaymentTerms
	data.PaymentTerms = derived
	return map[string]entity.FieldCorrection{
		"payment_terms": {
			Original:  original,
			Corrected: derived,
			Reason:    "derived from invoice and due dates",
		},
	}
}

func termsFromDates(invoiceDate, dueDate string) (string, bool) {
	start, err := time.Parse("2006-01-02", invoiceDate)
	if err != nil {
		return "", false
	}
	end, err := time.Parse("2006-01-02", dueDate)
	if err != nil {
		return "", false
	}
	days := int(end.Sub(start).Hours() / 24)
	if days <= 0 {
		return "", false
	}

	// snap to the nearest conventional term
	for _, term := range []int{15, 30, 45, 60, 90} {
		if days >= term-3 && days <= term+3 {
			return fmt.Sprintf("Net %d", term), true
		}
	}
	return fmt.Sprintf("Net %d", days), true
}
