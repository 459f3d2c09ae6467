package tools

import (
	"errors"
	"fmt"
	"strings"
)

// StockToolName 是股價查詢工具對模型公開的名稱
const StockToolName = "get_stock_data"

var (
	// ErrUnknownTool is returned by Parse for names no Call variant claims.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArgs is returned by Parse when the argument bag does not fit the variant.
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// Call is a parsed tool invocation. The set of variants is closed:
// only types in this package implement it.
type Call interface {
	// Name returns the tool name the variant was parsed from.
	Name() string
	isCall()
}

// StockQuery asks for the recent price history of one ticker symbol.
type StockQuery struct {
	Symbol string
}

func (StockQuery) Name() string { return StockToolName }
func (StockQuery) isCall()      {}

// Parse turns a model-issued tool call into its variant.
// Some providers prefix function names with "functions.".
func Parse(name string, args map[string]any) (Call, error) {
	switch strings.TrimPrefix(name, "functions.") {
	case StockToolName:
		raw, ok := args["symbol"]
		if !ok {
			return nil, fmt.Errorf("%w: %s: missing symbol", ErrInvalidArgs, name)
		}
		symbol, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s: symbol must be a string, got %T", ErrInvalidArgs, name, raw)
		}
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			return nil, fmt.Errorf("%w: %s: empty symbol", ErrInvalidArgs, name)
		}
		return StockQuery{Symbol: symbol}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

// ToolError wraps a failure raised while parsing or executing a tool call.
type ToolError struct {
	Tool   string
	Symbol string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("tool %s failed for %s: %v", e.Tool, e.Symbol, e.Err)
	}
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
