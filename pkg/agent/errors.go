package agent

import (
	"errors"
	"fmt"

	"finsight/pkg/llm"
	"finsight/pkg/tools"
)

// User-facing texts for failed runs.
const (
	msgExhausted      = "⚠️ All configured models are over capacity right now. Please try again in a few minutes."
	msgQuota          = "⚠️ The model service quota or rate limit has been reached. Please try again later."
	msgModelNotFound  = "❌ The configured model could not be found. Please check the model configuration."
	msgInvalidRequest = "❌ The model service rejected the request. Please check the configuration."
	msgAuth           = "❌ The model service rejected the credentials. Please check the API key."
	msgUnknownTool    = "❌ The model asked for a tool that is not available."
	msgToolFailed     = "❌ Failed to fetch market data. Please try again later."
	msgGeneric        = "❌ Something went wrong while processing your request. Please try again."
)

// describeError picks the message shown to the user for a failed run.
func describeError(err error) string {
	var exhausted *llm.ExhaustedError
	if errors.As(err, &exhausted) {
		return msgExhausted
	}

	var toolErr *tools.ToolError
	if errors.As(err, &toolErr) {
		if toolErr.Symbol != "" {
			return fmt.Sprintf("❌ Failed to fetch market data for %s. Please try again later.", toolErr.Symbol)
		}
		return msgToolFailed
	}
	if errors.Is(err, tools.ErrUnknownTool) {
		return msgUnknownTool
	}

	switch llm.KindOf(err) {
	case llm.KindCapacity:
		return msgQuota
	case llm.KindNotFound:
		return msgModelNotFound
	case llm.KindInvalidRequest:
		return msgInvalidRequest
	case llm.KindAuth:
		return msgAuth
	default:
		return msgGeneric
	}
}

func iterationLimitMessage(n int) string {
	return fmt.Sprintf("⚠️ Analysis stopped after %d steps without a final answer. Please try a more specific question.", n)
}
