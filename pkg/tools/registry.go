package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finsight/pkg/llm"
)

// Result is the outcome of one executed Call.
type Result struct {
	// Stock is set for StockQuery calls.
	Stock *StockData
	// Payload is what the model receives as the tool response.
	Payload map[string]any
}

// Registry 負責對模型宣告工具，並執行解析後的 Call
type Registry struct {
	market MarketData
}

// NewRegistry creates a registry backed by market.
func NewRegistry(market MarketData) *Registry {
	return &Registry{market: market}
}

// Declarations returns the tool declarations advertised to the model.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	return []llm.ToolDeclaration{
		{
			Name:        StockToolName,
			Description: "Fetch the current price, daily change percentage and the last 30 days of closing prices for a stock ticker symbol. Always call this before quoting any figure.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol": map[string]any{
						"type":        "string",
						"description": "Ticker symbol, e.g. AAPL, TSLA, 2330.TW",
					},
				},
				"required": []string{"symbol"},
			},
		},
	}
}

// Execute runs call. Panics inside the market source are returned as a *ToolError.
func (r *Registry) Execute(ctx context.Context, call Call) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "Tool execution panicked", "tool", call.Name(), "error", p)
			res = nil
			err = &ToolError{Tool: call.Name(), Symbol: symbolOf(call), Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	switch c := call.(type) {
	case StockQuery:
		if r.market == nil {
			return nil, &ToolError{Tool: c.Name(), Symbol: c.Symbol, Err: errors.New("no market data source")}
		}
		slog.InfoContext(ctx, "Executing tool", "name", c.Name(), "symbol", c.Symbol)
		data, err := r.market.Quote(ctx, c.Symbol)
		if err != nil {
			return nil, &ToolError{Tool: c.Name(), Symbol: c.Symbol, Err: err}
		}
		if data == nil {
			return nil, &ToolError{Tool: c.Name(), Symbol: c.Symbol, Err: errors.New("empty quote")}
		}
		payload, err := data.Payload()
		if err != nil {
			return nil, &ToolError{Tool: c.Name(), Symbol: c.Symbol, Err: err}
		}
		return &Result{Stock: data, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTool, call)
	}
}

func symbolOf(call Call) string {
	if q, ok := call.(StockQuery); ok {
		return q.Symbol
	}
	return ""
}
