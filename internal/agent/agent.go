// Package agent implements the four stage agents: ingestion extraction,
// validation, approval triage, and payment execution. The LLM-backed agents
// speak to any OpenAI-compatible endpoint through the completer interface.
package agent

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

// completer is the slice of the OpenAI client the agents use. Tests stub it
// with canned responses.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// usageOf converts API usage accounting into a token count
func usageOf(u openai.Usage) entity.TokenCount {
	return entity.TokenCount{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// extractJSON pulls a JSON object out of a response that may wrap it in
// markdown code fences or prose
func extractJSON(content string) string {
	start := findJSONStart(content)
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

func findJSONStart(content string) int {
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			return i
		}
	}
	return -1
}

func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if char == '\\' {
			escapeNext = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if char == '{' {
			braceCount++
		} else if char == '}' {
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}

	return -1
}
