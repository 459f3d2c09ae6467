package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"finsight/pkg/llm"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const providerName = "gemini"

// syntheticIDPrefix marks call ids generated locally because the backend did
// not supply one. They are never sent back to the API.
const syntheticIDPrefix = "gen-"

// metaPartKey 保存原始 genai.Part（包含 thought_signature），回送時原樣使用
const metaPartKey = "gemini_part"

// Client Google Gemini API client. One instance serves every model of its
// provider group.
type Client struct {
	client     *genai.Client
	useThought bool
}

// Options configures a Client.
type Options struct {
	APIKey  string
	BaseURL string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	UseThought bool
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{
		client:     client,
		useThought: opts.UseThought,
	}, nil
}

// Provider implements llm.Client.
func (g *Client) Provider() string {
	return providerName
}

// Generate implements llm.Client.
func (g *Client) Generate(ctx context.Context, model string, req *llm.Request) (*llm.Response, error) {
	contents := convertTurns(req.Turns)

	cfg := &genai.GenerateContentConfig{
		Tools: convertTools(req.Tools),
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if g.useThought {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	slog.DebugContext(ctx, "Gemini request", "model", model, "turns", len(contents), "tools", len(req.Tools))

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, classify(model, err)
	}
	return convertResponse(resp), nil
}

// classify converts SDK failures into *llm.Error at the boundary.
func classify(model string, err error) error {
	if llm.IsContextError(err) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Status + " " + apiErr.Message)
		return llm.NewError(providerName, model, apiErr.Code, msg, err)
	}
	return llm.NewError(providerName, model, 0, err.Error(), err)
}

// convertTurns converts the history to GenAI contents.
// Tool results travel as FunctionResponse parts inside a user content.
func convertTurns(turns []llm.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		var parts []*genai.Part
		for _, p := range turn.Parts {
			switch p.Kind {
			case llm.PartText:
				if p.Text == "" {
					continue
				}
				parts = append(parts, genai.NewPartFromText(p.Text))
			case llm.PartToolCall:
				if p.Call == nil {
					continue
				}
				if orig, ok := p.Call.Meta[metaPartKey].(*genai.Part); ok && orig != nil {
					parts = append(parts, orig)
					continue
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   outboundID(p.Call.ID),
					Name: p.Call.Name,
					Args: p.Call.Args,
				}})
			case llm.PartToolResponse:
				if p.Response == nil {
					continue
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       outboundID(p.Response.ID),
					Name:     p.Response.Name,
					Response: p.Response.Payload,
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}

		role := genai.RoleUser
		if turn.Role == llm.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func convertTools(decls []llm.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fds := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fds = append(fds, &genai.FunctionDeclaration{
			Name:                 d.Name,
			Description:          d.Description,
			ParametersJsonSchema: d.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

func convertResponse(resp *genai.GenerateContentResponse) *llm.Response {
	out := &llm.Response{}
	if resp == nil {
		return out
	}

	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		c := llm.Candidate{FinishReason: string(cand.FinishReason)}
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.FunctionCall != nil {
					id := part.FunctionCall.ID
					if id == "" {
						id = syntheticIDPrefix + uuid.NewString()
					}
					c.Parts = append(c.Parts, llm.CallPart(llm.ToolCall{
						ID:   id,
						Name: part.FunctionCall.Name,
						Args: part.FunctionCall.Args,
						Meta: map[string]any{metaPartKey: part},
					}))
					continue
				}
				// Thought summaries are not part of the answer.
				if part.Text != "" && !part.Thought {
					c.Parts = append(c.Parts, llm.TextPart(part.Text))
				}
			}
		}
		out.Candidates = append(out.Candidates, c)
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
			ThoughtsTokens:   int(u.ThoughtsTokenCount),
			CachedTokens:     int(u.CachedContentTokenCount),
		}
		if len(out.Candidates) > 0 {
			out.Usage.StopReason = out.Candidates[0].FinishReason
		}
	}
	return out
}

func outboundID(id string) string {
	if strings.HasPrefix(id, syntheticIDPrefix) {
		return ""
	}
	return id
}
