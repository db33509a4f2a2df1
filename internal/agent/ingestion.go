package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/protocol"
)

// ExtractionOutcome is the ingestion agent's result for one invoice text
type ExtractionOutcome struct {
	Data  *protocol.ExtractionData
	Usage entity.TokenCount

	// Self-correction observability
	Retried     bool
	RetryReason string
}

// IngestionAgent extracts structured invoice data from raw text using an
// LLM in JSON mode. Low-confidence extractions are retried once with
// enhanced hints before the result is accepted.
type IngestionAgent struct {
	client      completer
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewIngestionAgent creates an ingestion agent
func NewIngestionAgent(client completer, model string, temperature float32, logger *zap.Logger) *IngestionAgent {
	return &IngestionAgent{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// Model returns the configured model identifier
func (a *IngestionAgent) Model() string { return a.model }

// Extract parses raw invoice text into structured data
func (a *IngestionAgent) Extract(ctx context.Context, invoiceText string) (*ExtractionOutcome, error) {
	a.logger.Debug("extracting invoice data", zap.Int("text_length", len(invoiceText)))

	outcome := &ExtractionOutcome{}

	data, usage, err := a.call(ctx, extractionUserPrompt(invoiceText))
	if err != nil {
		return nil, err
	}
	outcome.Data = data
	outcome.Usage = usage

	if reason := retryReason(data, invoiceText); reason != "" {
		a.logger.Info("low-confidence extraction, retrying with hints",
			zap.String("reason", reason),
			zap.Int("confidence", data.Confidence),
		)
		outcome.Retried = true
		outcome.RetryReason = reason

		retryData, retryUsage, err := a.call(ctx, extractionRetryHint+"\n\n"+extractionUserPrompt(invoiceText))
		outcome.Usage = outcome.Usage.Add(retryUsage)
		if err != nil {
			a.logger.Warn("retry extraction failed, keeping first attempt", zap.Error(err))
		} else if retryData.Confidence >= data.Confidence {
			outcome.Data = retryData
		}
	}

	a.logger.Info("invoice data extracted",
		zap.String("vendor", outcome.Data.Vendor),
		zap.Float64("amount", outcome.Data.Amount),
		zap.Int("confidence", outcome.Data.Confidence),
		zap.Bool("retried", outcome.Retried),
	)
	return outcome, nil
}

func (a *IngestionAgent) call(ctx context.Context, userPrompt string) (*protocol.ExtractionData, entity.TokenCount, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: a.temperature,
		MaxTokens:   1500,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, entity.TokenCount{}, fmt.Errorf("extraction call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, usageOf(resp.Usage), fmt.Errorf("no response from model")
	}

	content := resp.Choices[0].Message.Content
	var data protocol.ExtractionData
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		if jsonStr := extractJSON(content); jsonStr != "" {
			if err2 := json.Unmarshal([]byte(jsonStr), &data); err2 == nil {
				return &data, usageOf(resp.Usage), nil
			}
		}
		return nil, usageOf(resp.Usage), fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return &data, usageOf(resp.Usage), nil
}

func extractionUserPrompt(invoiceText string) string {
	return "Extract invoice data from the following text:\n\n" + strings.TrimSpace(invoiceText)
}

// retryReason decides whether a first-pass extraction warrants a retry and
// names the trigger. An empty string means the result is acceptable.
func retryReason(data *protocol.ExtractionData, rawText string) string {
	trimmed := strings.TrimSpace(rawText)
	hasContent := len(trimmed) > 20
	hasNumbers := strings.IndexFunc(rawText, unicode.IsDigit) >= 0

	vendorMissing := data.Vendor == "" || data.Vendor == "UNKNOWN"
	amountMissing := data.Amount == 0

	switch {
	case data.Confidence < 50 && hasContent:
		return "confidence below threshold"
	case vendorMissing && amountMissing && hasContent:
		return "vendor and amount both defaulted"
	case vendorMissing && hasContent && len(trimmed) > 30:
		return "vendor defaulted on substantial input"
	case amountMissing && hasNumbers:
		return "amount defaulted but input contains numbers"
	}

	critical := 0
	for _, f := range data.Flags {
		if strings.Contains(f, "missing_vendor") || strings.Contains(f, "missing_amount") || strings.Contains(f, "unparseable") {
			critical++
		}
	}
	if critical >= 2 && hasContent {
		return "multiple critical extraction flags"
	}
	return ""
}
