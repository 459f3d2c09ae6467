package llm

import (
	"context"
	"log/slog"

	jsoniter "github.com/json-iterator/go"
)

// json 用於 package llm 內部的 JSON 處理，統一使用 json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Usage 定義通用的用量統計結構
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LogUsage 印出統一格式的用量統計
func LogUsage(ctx context.Context, model string, usage *Usage) {
	if usage == nil {
		return
	}
	slog.DebugContext(ctx, "Model usage",
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"thoughts", usage.ThoughtsTokens,
		"cached", usage.CachedTokens,
		"stop_reason", usage.StopReason)
}

// ToolDeclaration advertises one tool to the model.
// Parameters is a JSON-schema object.
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one completion request.
type Request struct {
	SystemInstruction string            `json:"system_instruction,omitempty"`
	Turns             []Turn            `json:"turns"`
	Tools             []ToolDeclaration `json:"tools,omitempty"`
}

// Candidate is one completion alternative with ordered parts.
type Candidate struct {
	Parts        []Part `json:"parts"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Response 是一次模型呼叫的結果，可能包含零或多個候選
type Response struct {
	Candidates []Candidate `json:"candidates"`
	Usage      *Usage      `json:"usage,omitempty"`
}

// First returns the first candidate that has at least one part.
func (r *Response) First() (Candidate, bool) {
	if r == nil {
		return Candidate{}, false
	}
	for _, c := range r.Candidates {
		if len(c.Parts) > 0 {
			return c, true
		}
	}
	return Candidate{}, false
}

// Client 通用 LLM 客戶端介面
type Client interface {
	// Provider returns the provider name (e.g., "gemini").
	Provider() string
	// Generate performs one non-streaming completion with the given model.
	// Failures are returned as *Error, except context errors which pass through.
	Generate(ctx context.Context, model string, req *Request) (*Response, error)
}
