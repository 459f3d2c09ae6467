package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"finsight/pkg/api"
	"finsight/pkg/config"
	"finsight/pkg/llm"
	"finsight/pkg/tools"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultSystemInstruction is the financial analyst persona sent with every model call.
const DefaultSystemInstruction = `You are a professional financial analyst assistant.
Answer questions about stocks and markets concisely, in the user's language.
Never state a price, change or trend from memory: call the get_stock_data tool for every ticker you discuss and base your analysis only on the data it returns.
If the user names a company, resolve it to its ticker symbol first.
Remind the user that your analysis is not investment advice when recommending an action.`

// fallbackAnswer is used when the final model turn carries no text.
const fallbackAnswer = "I could not put together an answer this time. Please try rephrasing your question."

// placeholder reasons written into History for unanswered tool calls
const (
	reasonCancelled   = "cancelled"
	reasonUnknownTool = "unknown tool"
)

// ErrCancelled is returned by Run when the context is cancelled mid-run.
// It wraps the context's error.
var ErrCancelled = errors.New("agent: run cancelled")

// State is the position of an Agent in its turn state machine.
type State int32

const (
	StateAwaitingModel State = iota
	StateExecutingTools
	StateFinalAnswer
	StateAborted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting-model"
	case StateExecutingTools:
		return "executing-tools"
	case StateFinalAnswer:
		return "final-answer-emitted"
	case StateAborted:
		return "aborted"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateFinalAnswer || s == StateAborted || s == StateErrored
}

// Options tune a single Agent. They may be swapped between runs.
type Options struct {
	MaxIterations     int
	SystemInstruction string
	// StrictTools fails the run on an unknown tool name.
	StrictTools bool
	// ParallelTools executes the calls of one iteration concurrently.
	ParallelTools bool
	// SurfaceIterationLimit emits a notice when the cap is reached.
	SurfaceIterationLimit bool
}

// OptionsFromConfig derives agent options from the system config.
func OptionsFromConfig(sys *config.SystemConfig, instruction string) Options {
	if instruction == "" {
		instruction = DefaultSystemInstruction
	}
	if sys == nil {
		sys = config.DefaultSystemConfig()
	}
	return Options{
		MaxIterations:         sys.MaxIterations,
		SystemInstruction:     instruction,
		StrictTools:           sys.StrictTools,
		ParallelTools:         sys.ParallelTools,
		SurfaceIterationLimit: sys.SurfaceIterationLimit,
	}
}

// Agent 驅動一段對話的推理迴圈：呼叫模型、執行工具、把結果轉成 UI 訊息。
// 同一個 Agent 同時只能有一個 Run，由呼叫端負責序列化。
type Agent struct {
	invoker  llm.Invoker
	registry *tools.Registry
	history  *llm.History

	mu    sync.RWMutex
	opts  Options
	state atomic.Int32
}

// New creates an Agent with an empty history.
func New(invoker llm.Invoker, registry *tools.Registry, opts Options) *Agent {
	a := &Agent{
		invoker:  invoker,
		registry: registry,
		history:  llm.NewHistory(),
	}
	a.SetOptions(opts)
	return a
}

// SetOptions replaces the options used by the next run.
func (a *Agent) SetOptions(opts Options) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = config.DefaultMaxIterations
	}
	if opts.SystemInstruction == "" {
		opts.SystemInstruction = DefaultSystemInstruction
	}
	a.mu.Lock()
	a.opts = opts
	a.mu.Unlock()
}

func (a *Agent) options() Options {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opts
}

// State returns the state of the current or most recent run.
func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
}

// History returns the transcript as the next model call would see it.
func (a *Agent) History() []llm.Turn {
	return a.history.Snapshot()
}

// Reset clears the conversation.
func (a *Agent) Reset() {
	a.history.Reset()
	a.setState(StateAwaitingModel)
}

// Seed rebuilds the conversation from previously delivered UI messages.
// Tool messages are skipped; they only ever summarise data the model saw.
func (a *Agent) Seed(msgs []api.Message) error {
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case api.RoleUser:
			turns = append(turns, llm.NewUserTurn(m.Text))
		case api.RoleModel:
			turns = append(turns, llm.NewModelTurn(m.Text))
		}
	}
	return a.history.Seed(turns)
}

// Run processes one user message and returns the messages produced, in order.
//
// Failures other than cancellation are reported as a single model message and
// a nil error. Cancellation returns the messages emitted so far and an error
// wrapping ErrCancelled.
func (a *Agent) Run(ctx context.Context, userText string, sink api.StatusSink) ([]api.Message, error) {
	opts := a.options()
	r := &run{agent: a, opts: opts, sink: sink}

	// an earlier run that died between Stage and Commit would leave a pending turn
	a.history.Abandon(nil, reasonCancelled)
	a.setState(StateAwaitingModel)
	if err := a.history.AppendUser(userText); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	decls := a.registry.Declarations()
	for i := 0; i < opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return r.abort(ctx, err)
		}
		a.setState(StateAwaitingModel)
		if i == 0 {
			r.status(api.PhaseThinking)
		} else {
			r.status(api.PhaseAnalyzingData)
		}

		res, err := a.invoker.Invoke(ctx, &llm.Request{
			SystemInstruction: opts.SystemInstruction,
			Turns:             a.history.Snapshot(),
			Tools:             decls,
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.abort(ctx, ctxErr)
		}
		if err != nil {
			return r.fail(ctx, err)
		}
		if res == nil {
			res = &llm.Result{}
		}

		cand, ok := res.Response.First()
		if !ok || len(cand.Parts) == 0 {
			return r.fail(ctx, &llm.Error{Kind: llm.KindEmptyResponse, Model: res.Model, Message: "response carried no content"})
		}
		slog.InfoContext(ctx, "Model responded", "iteration", i+1, "model", res.Model, "attempts", res.Attempts, "parts", len(cand.Parts))

		turn := llm.Turn{Role: llm.RoleModel, Parts: cand.Parts}
		if err := a.history.Stage(turn); err != nil {
			return r.fail(ctx, err)
		}

		calls := turn.ToolCalls()
		if len(calls) == 0 {
			if err := a.history.CommitFinal(); err != nil {
				return r.fail(ctx, err)
			}
			a.setState(StateFinalAnswer)
			text := turn.Text()
			if strings.TrimSpace(text) == "" {
				text = fallbackAnswer
			}
			r.emit(api.RoleModel, text, nil, true)
			return r.out, nil
		}

		a.setState(StateExecutingTools)
		r.status(api.PhaseExecutingTool)

		var batch *toolBatch
		if opts.ParallelTools {
			batch = a.executeParallel(ctx, calls, opts)
		} else {
			batch = a.executeSequential(ctx, calls, opts)
		}
		if batch.err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				a.history.Abandon(batch.responses(), reasonCancelled)
				return r.abort(ctx, ctxErr)
			}
			a.history.Abandon(batch.responses(), batch.err.Error())
			return r.fail(ctx, batch.err)
		}

		if err := a.history.CommitTools(llm.NewToolTurn(batch.responses()...)); err != nil {
			a.history.Abandon(batch.responses(), err.Error())
			return r.fail(ctx, err)
		}
		if stocks := batch.stocks(); len(stocks) > 0 {
			r.emit(api.RoleTool, summarize(stocks), stocks, false)
		}
	}

	// iteration cap reached without a final answer
	slog.WarnContext(ctx, "Iteration limit reached", "max_iterations", opts.MaxIterations)
	a.setState(StateAwaitingModel)
	if opts.SurfaceIterationLimit {
		r.emit(api.RoleModel, iterationLimitMessage(opts.MaxIterations), nil, false)
	}
	return r.out, nil
}

// run carries the per-invocation output and sink.
type run struct {
	agent *Agent
	opts  Options
	sink  api.StatusSink
	out   []api.Message
}

func (r *run) status(phase api.Phase) {
	if r.sink != nil {
		r.sink.OnStatus(phase)
	}
}

func (r *run) emit(role, text string, payload []tools.StockData, progressive bool) {
	msg := api.Message{
		ID:          uuid.NewString(),
		Role:        role,
		Text:        text,
		Payload:     payload,
		Progressive: progressive,
		Timestamp:   time.Now().Unix(),
	}
	r.out = append(r.out, msg)
	if rs, ok := r.sink.(api.ResponseSink); ok {
		rs.OnMessage(msg)
	}
}

func (r *run) abort(ctx context.Context, cause error) ([]api.Message, error) {
	r.agent.setState(StateAborted)
	slog.InfoContext(ctx, "Run cancelled", "messages", len(r.out))
	return r.out, fmt.Errorf("%w: %w", ErrCancelled, cause)
}

func (r *run) fail(ctx context.Context, err error) ([]api.Message, error) {
	r.agent.setState(StateErrored)
	slog.ErrorContext(ctx, "Run failed", "kind", llm.KindOf(err).String(), "error", err)
	r.emit(api.RoleModel, describeError(err), nil, false)
	return r.out, nil
}

// toolOutcome is the result slot of one requested call.
type toolOutcome struct {
	done     bool
	response llm.ToolResponse
	stock    *tools.StockData
}

type toolBatch struct {
	outcomes []toolOutcome
	err      error
}

// responses returns the answered calls in request order.
func (b *toolBatch) responses() []llm.ToolResponse {
	out := make([]llm.ToolResponse, 0, len(b.outcomes))
	for _, o := range b.outcomes {
		if o.done {
			out = append(out, o.response)
		}
	}
	return out
}

func (b *toolBatch) stocks() []tools.StockData {
	var out []tools.StockData
	for _, o := range b.outcomes {
		if o.stock != nil {
			out = append(out, *o.stock)
		}
	}
	return out
}

// prepare parses one call. A nil Call with a nil error means the call was
// skipped and already answered in outcome.
func prepare(ctx context.Context, tc llm.ToolCall, opts Options, outcome *toolOutcome) (tools.Call, error) {
	call, err := tools.Parse(tc.Name, tc.Args)
	if err == nil {
		return call, nil
	}
	if errors.Is(err, tools.ErrUnknownTool) {
		if opts.StrictTools {
			return nil, err
		}
		slog.WarnContext(ctx, "Skipping unknown tool call", "name", tc.Name, "id", tc.ID)
		*outcome = toolOutcome{done: true, response: llm.ToolResponse{
			ID:      tc.ID,
			Name:    tc.Name,
			Payload: map[string]any{"error": reasonUnknownTool},
		}}
		return nil, nil
	}
	symbol, _ := tc.Args["symbol"].(string)
	return nil, &tools.ToolError{Tool: tc.Name, Symbol: strings.ToUpper(symbol), Err: err}
}

func (a *Agent) executeOne(ctx context.Context, tc llm.ToolCall, call tools.Call) (toolOutcome, error) {
	res, err := a.registry.Execute(ctx, call)
	if err != nil {
		return toolOutcome{}, err
	}
	return toolOutcome{
		done:     true,
		response: llm.ToolResponse{ID: tc.ID, Name: tc.Name, Payload: res.Payload},
		stock:    res.Stock,
	}, nil
}

func (a *Agent) executeSequential(ctx context.Context, calls []llm.ToolCall, opts Options) *toolBatch {
	b := &toolBatch{outcomes: make([]toolOutcome, len(calls))}
	for i, tc := range calls {
		if err := ctx.Err(); err != nil {
			b.err = err
			return b
		}
		call, err := prepare(ctx, tc, opts, &b.outcomes[i])
		if err != nil {
			b.err = err
			return b
		}
		if call == nil {
			continue
		}
		outcome, err := a.executeOne(ctx, tc, call)
		if err != nil {
			b.err = err
			return b
		}
		b.outcomes[i] = outcome
	}
	return b
}

// executeParallel runs every call concurrently. Outcomes keep request order.
func (a *Agent) executeParallel(ctx context.Context, calls []llm.ToolCall, opts Options) *toolBatch {
	b := &toolBatch{outcomes: make([]toolOutcome, len(calls))}
	parsed := make([]tools.Call, len(calls))
	for i, tc := range calls {
		call, err := prepare(ctx, tc, opts, &b.outcomes[i])
		if err != nil {
			b.err = err
			return b
		}
		parsed[i] = call
	}
	if err := ctx.Err(); err != nil {
		b.err = err
		return b
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range calls {
		if parsed[i] == nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := a.executeOne(gctx, tc, parsed[i])
			if err != nil {
				return err
			}
			b.outcomes[i] = outcome
			return nil
		})
	}
	b.err = g.Wait()
	return b
}

func summarize(stocks []tools.StockData) string {
	symbols := make([]string, 0, len(stocks))
	seen := make(map[string]bool, len(stocks))
	for _, s := range stocks {
		if seen[s.Symbol] {
			continue
		}
		seen[s.Symbol] = true
		symbols = append(symbols, s.Symbol)
	}
	return fmt.Sprintf("Fetched market data for %s.", strings.Join(symbols, ", "))
}
