package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/llm"
)

// ChatClient is the part of llm.Client the engine needs.
type ChatClient interface {
	SimpleChat(ctx context.Context, prompt string, opts *llm.ChatCompletionOptions) (string, error)
}

type llmEngine struct {
	client ChatClient
}

// NewLLMEngine translates through a chat completion endpoint using an
// indexed JSON exchange so that line counts can be verified.
func NewLLMEngine(client ChatClient) Engine {
	return &llmEngine{client: client}
}

func (e *llmEngine) Name() string { return "gpt" }

type indexedLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func (e *llmEngine) Translate(ctx context.Context, from, to string, queries []string) ([]string, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	userMessage, err := buildTranslationUserMessage(queries)
	if err != nil {
		return nil, err
	}

	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(buildSystemPrompt(from, to)).
		WithJSONOutput()
	content, err := e.client.SimpleChat(ctx, userMessage, opts)
	if err != nil {
		return nil, fmt.Errorf("llm translation failed: %w", err)
	}
	return parseTranslationOutput(content, len(queries))
}

func buildSystemPrompt(from, to string) string {
	var prompt strings.Builder
	prompt.WriteString("You are a professional web novel translator. Translate from " + languageName(from) + " to " + languageName(to) + ".\n\n")
	prompt.WriteString("=== INPUT ===\n")
	prompt.WriteString("A JSON object {\"lines\":[{\"index\":N,\"text\":\"...\"}]}.\n\n")
	prompt.WriteString("=== RULES ===\n")
	prompt.WriteString("1. Translate every line independently and keep its index.\n")
	prompt.WriteString("2. Do NOT merge, split, reorder, or drop lines.\n")
	prompt.WriteString("3. Keep character names consistent across lines.\n")
	prompt.WriteString("4. Do NOT output literal newline characters in JSON text.\n\n")
	prompt.WriteString("=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY a JSON object {\"lines\":[{\"index\":N,\"text\":\"...\"}]} with exactly one entry per input index.\n")
	return prompt.String()
}

func languageName(code string) string {
	switch strings.ToLower(code) {
	case "jp", "ja":
		return "Japanese"
	case "zh", "cn":
		return "Simplified Chinese"
	case "en":
		return "English"
	default:
		return code
	}
}

func buildTranslationUserMessage(queries []string) (string, error) {
	payload := struct {
		Lines []indexedLine `json:"lines"`
	}{Lines: make([]indexedLine, 0, len(queries))}
	for i, q := range queries {
		payload.Lines = append(payload.Lines, indexedLine{Index: i + 1, Text: q})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode translation request: %w", err)
	}
	return string(data), nil
}

// parseTranslationOutput accepts {"lines":[...]}, a bare array of indexed
// lines, or a bare array of strings. Indexed output is reordered by index.
func parseTranslationOutput(content string, expected int) ([]string, error) {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("llm returned empty content")
	}

	var wrapped struct {
		Lines []indexedLine `json:"lines"`
	}
	if strings.HasPrefix(content, "{") {
		if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
			return nil, fmt.Errorf("llm output is not valid json: %w", err)
		}
		return orderIndexed(wrapped.Lines, expected)
	}

	var indexed []indexedLine
	if err := json.Unmarshal([]byte(content), &indexed); err == nil && len(indexed) > 0 && indexed[0].Index > 0 {
		return orderIndexed(indexed, expected)
	}

	var plain []string
	if err := json.Unmarshal([]byte(content), &plain); err != nil {
		return nil, fmt.Errorf("llm output is not valid json: %w", err)
	}
	if len(plain) != expected {
		return nil, apperr.ArityError(expected, len(plain))
	}
	return plain, nil
}

func orderIndexed(lines []indexedLine, expected int) ([]string, error) {
	if len(lines) != expected {
		return nil, apperr.ArityError(expected, len(lines))
	}

	ret := make([]string, expected)
	seen := make([]bool, expected)
	for _, line := range lines {
		i := line.Index - 1
		if i < 0 || i >= expected || seen[i] {
			return nil, apperr.Newf(apperr.ErrTranslationArity, "llm output has invalid or repeated index %d", line.Index)
		}
		seen[i] = true
		ret[i] = line.Text
	}
	return ret, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
