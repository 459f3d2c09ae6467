package handler

import (
	"context"
	"sync"
	"testing"

	"finsight/pkg/agent"
	"finsight/pkg/api"
	"finsight/pkg/llm"
	"finsight/pkg/llm/llmtest"
	"finsight/pkg/session"
	"finsight/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu      sync.Mutex
	replies []api.Message
	signals []api.Phase
}

func (r *recorder) SendReply(_ api.SessionContext, msg api.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, msg)
	return nil
}

func (r *recorder) SendSignal(_ api.SessionContext, phase api.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, phase)
	return nil
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.replies {
		out = append(out, m.Text)
	}
	return out
}

var web = api.SessionContext{ChannelID: "web", ChatID: "c1", UserID: "u1", Username: "amy"}

func market() tools.MarketData {
	return tools.MarketFunc(func(_ context.Context, symbol string) (*tools.StockData, error) {
		return &tools.StockData{Symbol: symbol, CurrentPrice: 242.5, ChangePercent: -1.3}, nil
	})
}

func newHandler(t *testing.T, c *llmtest.Client, store *session.Store) (*ChatHandler, *recorder) {
	t.Helper()
	if store == nil {
		var err error
		store, err = session.NewStore("")
		require.NoError(t, err)
	}
	h := NewChatHandler(context.Background(), llm.NewFallbackInvoker(c, []string{"m"}, 0), tools.NewRegistry(market()), agent.Options{}, store)
	rec := &recorder{}
	h.SetResponder(rec)
	return h, rec
}

func TestRunDeliversMessages(t *testing.T) {
	c := &llmtest.Client{Steps: []llmtest.Step{
		{Response: llmtest.ToolCalls(llm.ToolCall{ID: "1", Name: tools.StockToolName, Args: map[string]any{"symbol": "TSLA"}})},
		{Response: llmtest.Text("特斯拉目前下跌1.3%。")},
	}}
	h, rec := newHandler(t, c, nil)

	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "特斯拉现在怎么样?"})
	h.Wait()

	require.Len(t, rec.replies, 2)
	assert.Equal(t, api.RoleTool, rec.replies[0].Role)
	assert.Equal(t, "特斯拉目前下跌1.3%。", rec.replies[1].Text)
	assert.Equal(t, []api.Phase{api.PhaseThinking, api.PhaseExecutingTool, api.PhaseAnalyzingData}, rec.signals)

	hist := h.History(web)
	require.Len(t, hist, 3)
	assert.Equal(t, api.RoleUser, hist[0].Role)
	assert.Equal(t, "特斯拉现在怎么样?", hist[0].Text)
	assert.False(t, h.Busy(web))
}

func TestSessionsPersistAcrossRestarts(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)

	first := &llmtest.Client{Steps: []llmtest.Step{{Response: llmtest.Text("Apple is at $150")}}}
	h, _ := newHandler(t, first, store)
	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "AAPL?"})
	h.Wait()

	second := &llmtest.Client{Steps: []llmtest.Step{{Response: llmtest.Text("Still $150")}}}
	h2, _ := newHandler(t, second, store)
	require.Len(t, h2.History(web), 2)

	h2.OnMessage(&api.UnifiedMessage{Session: web, Content: "and now?"})
	h2.Wait()

	calls := second.Calls()
	require.Len(t, calls, 1)
	turns := calls[0].Turns
	require.Len(t, turns, 3)
	assert.Equal(t, "AAPL?", turns[0].Text())
	assert.Equal(t, "Apple is at $150", turns[1].Text())
	assert.Equal(t, "and now?", turns[2].Text())
}

func TestBusyAndStop(t *testing.T) {
	c := &llmtest.Client{Steps: []llmtest.Step{{Block: true}}}
	h, rec := newHandler(t, c, nil)

	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "TSLA?"})
	require.True(t, h.Busy(web))

	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "hello?"})
	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "/stop"})
	h.Wait()

	assert.Equal(t, []string{msgBusy, msgStopped}, rec.texts())
	assert.False(t, h.Busy(web))

	// the busy message never reached the conversation
	hist := h.History(web)
	require.Len(t, hist, 1)
	assert.Equal(t, "TSLA?", hist[0].Text)
}

func TestStopWhenIdle(t *testing.T) {
	h, rec := newHandler(t, &llmtest.Client{}, nil)
	h.OnMessage(&api.UnifiedMessage{Session: web, Command: api.CommandStop})
	assert.Equal(t, []string{msgNothingToDo}, rec.texts())
}

func TestReset(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	c := &llmtest.Client{Steps: []llmtest.Step{
		{Response: llmtest.Text("first answer")},
		{Response: llmtest.Text("fresh answer")},
	}}
	h, rec := newHandler(t, c, store)

	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "one"})
	h.Wait()
	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "/reset"})
	assert.Empty(t, h.History(web))
	assert.Contains(t, rec.texts(), msgReset)

	saved, err := store.Load(web.Key())
	require.NoError(t, err)
	assert.Empty(t, saved)

	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "two"})
	h.Wait()
	calls := c.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].Turns, 1)
	assert.Equal(t, "two", calls[1].Turns[0].Text())
}

func TestResetCancelsActiveRun(t *testing.T) {
	c := &llmtest.Client{Steps: []llmtest.Step{{Block: true}}}
	h, rec := newHandler(t, c, nil)

	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "TSLA?"})
	h.OnMessage(&api.UnifiedMessage{Session: web, Command: api.CommandReset})
	h.Wait()

	assert.False(t, h.Busy(web))
	assert.Empty(t, h.History(web))
	assert.Equal(t, []string{msgReset}, rec.texts())
}

func TestSetOptions(t *testing.T) {
	c := &llmtest.Client{Fallback: &llmtest.Step{Response: llmtest.ToolCalls(llm.ToolCall{ID: "1", Name: tools.StockToolName, Args: map[string]any{"symbol": "NVDA"}})}}
	h, rec := newHandler(t, c, nil)
	h.SetOptions(agent.Options{MaxIterations: 2})

	h.OnMessage(&api.UnifiedMessage{Session: web, Content: "loop"})
	h.Wait()

	assert.Len(t, c.Calls(), 2)
	assert.Len(t, rec.replies, 2)
}

func TestParseCommand(t *testing.T) {
	assert.Equal(t, api.CommandStop, parseCommand(" /STOP "))
	assert.Equal(t, api.CommandReset, parseCommand("/reset"))
	assert.Equal(t, api.CommandReset, parseCommand("/new"))
	assert.Equal(t, api.CommandNone, parseCommand("/stop now"))
	assert.Equal(t, api.CommandNone, parseCommand("hello"))
}
