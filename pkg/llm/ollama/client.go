package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"finsight/pkg/llm"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const providerName = "ollama"

// OllamaClient Ollama API client
type OllamaClient struct {
	client  *api.Client
	options map[string]any
}

// NewOllamaClient creates an Ollama client for baseURL.
func NewOllamaClient(baseURL string, options map[string]any, httpClient *http.Client) (*OllamaClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if httpClient == nil {
		// Local models can take a long time to load; the invoker owns the timeout.
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	slog.Info("Ollama client initialized", "base_url", baseURL)

	return &OllamaClient{
		client:  api.NewClient(u, httpClient),
		options: options,
	}, nil
}

// Provider implements llm.Client.
func (o *OllamaClient) Provider() string {
	return providerName
}

// Generate implements llm.Client.
func (o *OllamaClient) Generate(ctx context.Context, model string, req *llm.Request) (*llm.Response, error) {
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, &llm.Error{Kind: llm.KindInvalidRequest, Provider: providerName, Model: model, Message: err.Error(), Err: err}
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: convertTurns(req.SystemInstruction, req.Turns),
		Tools:    tools,
		Options:  o.options,
		Stream:   &stream,
	}

	var final api.ChatResponse
	var parts []llm.Part
	err = o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			parts = append(parts, llm.TextPart(resp.Message.Content))
		}
		for _, tc := range resp.Message.ToolCalls {
			call, err := convertToolCall(tc)
			if err != nil {
				slog.WarnContext(ctx, "Failed to decode tool call", "provider", providerName, "name", tc.Function.Name, "error", err)
				continue
			}
			parts = append(parts, llm.CallPart(call))
		}
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return nil, classify(model, err)
	}

	out := &llm.Response{
		Candidates: []llm.Candidate{{Parts: parts, FinishReason: final.DoneReason}},
		Usage: &llm.Usage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
			TotalTokens:      final.PromptEvalCount + final.EvalCount,
			StopReason:       final.DoneReason,
		},
	}
	return out, nil
}

func classify(model string, err error) error {
	if llm.IsContextError(err) {
		return err
	}
	var se api.StatusError
	if errors.As(err, &se) {
		return llm.NewError(providerName, model, se.StatusCode, se.ErrorMessage, err)
	}
	return llm.NewError(providerName, model, 0, err.Error(), err)
}

func convertTurns(system string, turns []llm.Turn) []api.Message {
	msgs := make([]api.Message, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: system})
	}

	for _, turn := range turns {
		switch turn.Role {
		case llm.RoleTool:
			// Ollama expects one tool message per result.
			for _, r := range turn.ToolResponses() {
				payload, err := json.MarshalToString(r.Payload)
				if err != nil {
					payload = fmt.Sprintf(`{"error": %q}`, err.Error())
				}
				msgs = append(msgs, api.Message{
					Role:       "tool",
					Content:    payload,
					ToolName:   r.Name,
					ToolCallID: r.ID,
				})
			}
		case llm.RoleModel:
			msg := api.Message{Role: "assistant", Content: turn.Text()}
			for _, c := range turn.ToolCalls() {
				tc, err := toAPIToolCall(c)
				if err != nil {
					slog.Warn("Failed to convert tool call for history", "provider", providerName, "error", err)
					continue
				}
				msg.ToolCalls = append(msg.ToolCalls, tc)
			}
			msgs = append(msgs, msg)
		default:
			msgs = append(msgs, api.Message{Role: "user", Content: turn.Text()})
		}
	}
	return msgs
}

// toAPIToolCall round-trips the arguments through JSON since
// api.ToolCallFunctionArguments keeps its own ordered representation.
func toAPIToolCall(c llm.ToolCall) (api.ToolCall, error) {
	args := c.Args
	if args == nil {
		args = map[string]any{}
	}
	argBytes, err := json.Marshal(args)
	if err != nil {
		return api.ToolCall{}, err
	}
	var apiArgs api.ToolCallFunctionArguments
	if err := json.Unmarshal(argBytes, &apiArgs); err != nil {
		return api.ToolCall{}, err
	}
	return api.ToolCall{
		ID: c.ID,
		Function: api.ToolCallFunction{
			Name:      c.Name,
			Arguments: apiArgs,
		},
	}, nil
}

func convertToolCall(tc api.ToolCall) (llm.ToolCall, error) {
	argBytes, err := json.Marshal(tc.Function.Arguments)
	if err != nil {
		return llm.ToolCall{}, err
	}
	var args map[string]any
	if err := json.Unmarshal(argBytes, &args); err != nil {
		return llm.ToolCall{}, err
	}
	id := tc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return llm.ToolCall{ID: id, Name: tc.Function.Name, Args: args}, nil
}

func convertTools(decls []llm.ToolDeclaration) (api.Tools, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	raw := make([]map[string]any, 0, len(decls))
	for _, d := range decls {
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var tools api.Tools
	if err := json.Unmarshal(b, &tools); err != nil {
		return nil, fmt.Errorf("failed to convert tool declarations: %w", err)
	}
	return tools, nil
}
