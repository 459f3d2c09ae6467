package openailm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finsight/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is a wrapper around the official OpenAI Go SDK (Responses API).
type Client struct {
	client   *openai.Client
	provider string
	effort   shared.ReasoningEffort
}

// NewClient creates a new OpenAI client. SDK-level retries are disabled so
// the invoker's policy is the only one in effect.
func NewClient(provider, apiKey, baseURL string, options map[string]any, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	client := openai.NewClient(opts...)

	c := &Client{client: &client, provider: provider}
	if effortStr, ok := options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		switch effortStr {
		case "low":
			c.effort = shared.ReasoningEffortLow
		case "high":
			c.effort = shared.ReasoningEffortHigh
		default:
			c.effort = shared.ReasoningEffortMedium
		}
	}
	return c
}

// Provider implements llm.Client.
func (c *Client) Provider() string {
	return c.provider
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, model string, req *llm.Request) (*llm.Response, error) {
	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertTurns(req.Turns),
		},
		Tools: convertTools(req.Tools),
	}
	if req.SystemInstruction != "" {
		params.Instructions = openai.String(req.SystemInstruction)
	}
	if c.effort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: c.effort}
	}

	slog.DebugContext(ctx, "OpenAI request", "provider", c.provider, "model", model, "items", len(params.Input.OfInputItemList))

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, c.classify(model, err)
	}
	return convertResponse(resp), nil
}

func (c *Client) classify(model string, err error) error {
	if llm.IsContextError(err) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if apiErr.Code != "" {
			msg = apiErr.Code + ": " + msg
		}
		return llm.NewError(c.provider, model, apiErr.StatusCode, msg, err)
	}
	return llm.NewError(c.provider, model, 0, err.Error(), err)
}

func convertTurns(turns []llm.Turn) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(turns))
	for _, turn := range turns {
		for _, p := range turn.Parts {
			switch p.Kind {
			case llm.PartText:
				if p.Text == "" {
					continue
				}
				role := responses.EasyInputMessageRoleUser
				if turn.Role == llm.RoleModel {
					role = responses.EasyInputMessageRoleAssistant
				}
				items = append(items, responses.ResponseInputItemParamOfMessage(p.Text, role))
			case llm.PartToolCall:
				if p.Call == nil {
					continue
				}
				args, err := json.MarshalToString(p.Call.Args)
				if err != nil || p.Call.Args == nil {
					args = "{}"
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(args, p.Call.ID, p.Call.Name))
			case llm.PartToolResponse:
				if p.Response == nil {
					continue
				}
				out, err := json.MarshalToString(p.Response.Payload)
				if err != nil {
					out = fmt.Sprintf(`{"error": %q}`, err.Error())
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(p.Response.ID, out))
			}
		}
	}
	return items
}

func convertTools(decls []llm.ToolDeclaration) []responses.ToolUnionParam {
	if len(decls) == 0 {
		return nil
	}
	tools := make([]responses.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
		tools = append(tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  d.Parameters,
			},
		})
	}
	return tools
}

func convertResponse(resp *responses.Response) *llm.Response {
	out := &llm.Response{}
	if resp == nil {
		return out
	}

	var cand llm.Candidate
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, content := range item.Content {
				if content.Type == "output_text" && content.Text != "" {
					cand.Parts = append(cand.Parts, llm.TextPart(content.Text))
				}
			}
		case "function_call":
			var args map[string]any
			if item.Arguments != "" {
				if err := json.UnmarshalFromString(item.Arguments, &args); err != nil {
					slog.Warn("Failed to decode function call arguments", "provider", "openai", "name", item.Name, "error", err)
				}
			}
			cand.Parts = append(cand.Parts, llm.CallPart(llm.ToolCall{
				ID:   item.CallID,
				Name: item.Name,
				Args: args,
			}))
		}
	}
	cand.FinishReason = string(resp.Status)
	out.Candidates = []llm.Candidate{cand}

	out.Usage = &llm.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		StopReason:       string(resp.Status),
	}
	return out
}
