// Package llmtest provides scripted llm.Client fakes for tests.
package llmtest

import (
	"context"
	"sync"

	"finsight/pkg/llm"
)

// Step is one scripted outcome: either a response or an error.
type Step struct {
	Response *llm.Response
	Err      error
	// Block makes the call wait until ctx is done, then return ctx.Err().
	Block bool
}

// Call records one Generate invocation.
type Call struct {
	Model string
	Turns []llm.Turn
	Tools []llm.ToolDeclaration
}

// Client replays Steps in order. Once the script runs out every call
// returns Fallback, or an empty response when Fallback is nil.
type Client struct {
	Name     string
	Steps    []Step
	Fallback *Step
	// PerModel scripts override Steps for specific models.
	PerModel map[string][]Step

	mu    sync.Mutex
	calls []Call
}

// Provider implements llm.Client.
func (c *Client) Provider() string {
	if c.Name == "" {
		return "fake"
	}
	return c.Name
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, model string, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	turns := make([]llm.Turn, len(req.Turns))
	copy(turns, req.Turns)
	c.calls = append(c.calls, Call{Model: model, Turns: turns, Tools: req.Tools})

	var step Step
	switch {
	case len(c.PerModel[model]) > 0:
		step = c.PerModel[model][0]
		c.PerModel[model] = c.PerModel[model][1:]
	case len(c.Steps) > 0:
		step = c.Steps[0]
		c.Steps = c.Steps[1:]
	case c.Fallback != nil:
		step = *c.Fallback
	default:
		step = Step{Response: &llm.Response{}}
	}
	c.mu.Unlock()

	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return step.Response, step.Err
}

// Calls returns the recorded invocations.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]Call, len(c.calls))
	copy(cp, c.calls)
	return cp
}

// Text builds a response holding a single text candidate.
func Text(text string) *llm.Response {
	return &llm.Response{Candidates: []llm.Candidate{{Parts: []llm.Part{llm.TextPart(text)}}}}
}

// ToolCalls builds a response requesting the given calls.
func ToolCalls(calls ...llm.ToolCall) *llm.Response {
	parts := make([]llm.Part, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, llm.CallPart(c))
	}
	return &llm.Response{Candidates: []llm.Candidate{{Parts: parts}}}
}

// Capacity returns a capacity-classified error for model.
func Capacity(model string) error {
	return &llm.Error{Kind: llm.KindCapacity, Provider: "fake", Model: model, StatusCode: 429, Message: "quota exceeded"}
}

// Failure returns an error of the given kind for model.
func Failure(kind llm.ErrorKind, model string) error {
	return &llm.Error{Kind: kind, Provider: "fake", Model: model, Message: kind.String()}
}
