package llm

import "strings"

//----------------------------------------------------------------
// Turn - 與模型交換的通用對話單位
//----------------------------------------------------------------

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	// RoleTool carries tool results back to the model.
	RoleTool Role = "tool"
)

// PartKind enumerates the content a Part can hold.
type PartKind string

const (
	PartText         PartKind = "text"
	PartToolCall     PartKind = "tool_call"
	PartToolResponse PartKind = "tool_response"
)

// Part is exactly one of: text, tool-invocation request, tool-invocation result.
type Part struct {
	Kind     PartKind      `json:"kind"`
	Text     string        `json:"text,omitempty"`
	Call     *ToolCall     `json:"call,omitempty"`
	Response *ToolResponse `json:"response,omitempty"`
}

// ToolCall 表示模型產生的工具調用請求
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`

	// Meta 保存提供者特定的元數據（例如 Gemini 的 thought_signature）
	// 不會被序列化到 JSON，僅用於回送給同一個提供者
	Meta map[string]any `json:"-"`
}

// ToolResponse is the result of one ToolCall, matched by ID.
type ToolResponse struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// Turn is one message in the conversation sent to the model.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextPart 建立文字區塊
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// CallPart 建立工具調用區塊
func CallPart(call ToolCall) Part {
	return Part{Kind: PartToolCall, Call: &call}
}

// ResponsePart 建立工具結果區塊
func ResponsePart(resp ToolResponse) Part {
	return Part{Kind: PartToolResponse, Response: &resp}
}

// NewUserTurn builds a single-text user turn.
func NewUserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// NewModelTurn builds a single-text model turn.
func NewModelTurn(text string) Turn {
	return Turn{Role: RoleModel, Parts: []Part{TextPart(text)}}
}

// NewToolTurn combines the results of one iteration into a single tool turn.
func NewToolTurn(responses ...ToolResponse) Turn {
	parts := make([]Part, 0, len(responses))
	for _, r := range responses {
		parts = append(parts, ResponsePart(r))
	}
	return Turn{Role: RoleTool, Parts: parts}
}

// Text concatenates every text part in order.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.Kind == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool invocation requests in received order.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.Kind == PartToolCall && p.Call != nil {
			calls = append(calls, *p.Call)
		}
	}
	return calls
}

// ToolResponses returns the tool results carried by the turn.
func (t Turn) ToolResponses() []ToolResponse {
	var out []ToolResponse
	for _, p := range t.Parts {
		if p.Kind == PartToolResponse && p.Response != nil {
			out = append(out, *p.Response)
		}
	}
	return out
}

// HasToolCalls reports whether the turn requests any tool.
func (t Turn) HasToolCalls() bool {
	for _, p := range t.Parts {
		if p.Kind == PartToolCall {
			return true
		}
	}
	return false
}
