package api

import "finsight/pkg/tools"

// Message roles as seen by the UI.
const (
	RoleUser  = "user"
	RoleModel = "model"
	RoleTool  = "tool"
)

// Message is one UI-ready response produced by the agent. It is created once
// per completed iteration and never mutated afterwards.
type Message struct {
	ID      string            `json:"id"`
	Role    string            `json:"role"`
	Text    string            `json:"text"`
	Payload []tools.StockData `json:"payload,omitempty"`
	// Progressive 提示前端以逐字方式呈現
	Progressive bool  `json:"progressive,omitempty"`
	Timestamp   int64 `json:"timestamp"`
}

// Phase is a status tag reported while a run is in progress.
type Phase string

const (
	PhaseThinking      Phase = "thinking"
	PhaseAnalyzingData Phase = "analyzing-tool-data"
	PhaseExecutingTool Phase = "executing-tool"
)

// StatusSink receives phase transitions. Notifications are fire-and-forget.
type StatusSink interface {
	OnStatus(phase Phase)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(phase Phase)

func (f StatusFunc) OnStatus(phase Phase) { f(phase) }

// ResponseSink is an optional extension of StatusSink that is handed every
// Message as soon as it is produced, instead of only at the end of the run.
type ResponseSink interface {
	StatusSink
	OnMessage(msg Message)
}
