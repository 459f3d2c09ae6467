package gateway

import (
	"errors"
	"sync"
	"testing"

	"finsight/pkg/api"
	"finsight/pkg/monitor"
	"finsight/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeChannel struct {
	id       string
	startErr error
	ctx      api.ChannelContext
	sent     []api.Message
	stopped  bool
}

func (c *fakeChannel) ID() string { return c.id }
func (c *fakeChannel) Start(ctx api.ChannelContext) error {
	c.ctx = ctx
	return c.startErr
}
func (c *fakeChannel) Stop() error { c.stopped = true; return nil }
func (c *fakeChannel) Send(_ api.SessionContext, msg api.Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

type signalingChannel struct {
	fakeChannel
	phases []api.Phase
}

func (c *signalingChannel) SendSignal(_ api.SessionContext, phase api.Phase) error {
	c.phases = append(c.phases, phase)
	return nil
}

type fakeMonitor struct {
	mu      sync.Mutex
	started bool
	msgs    []monitor.MonitorMessage
}

func (m *fakeMonitor) Start() error { m.started = true; return nil }
func (m *fakeMonitor) Stop() error  { return nil }
func (m *fakeMonitor) OnMessage(msg monitor.MonitorMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

type fakeHandler struct {
	responder api.MessageResponder
	received  []*api.UnifiedMessage
	history   []api.Message
}

func (h *fakeHandler) OnMessage(msg *api.UnifiedMessage)        { h.received = append(h.received, msg) }
func (h *fakeHandler) SetResponder(r api.MessageResponder)      { h.responder = r }
func (h *fakeHandler) History(api.SessionContext) []api.Message { return h.history }

var sess = api.SessionContext{ChannelID: "web", ChatID: "c1", Username: "amy"}

func TestBuildWiresEverything(t *testing.T) {
	web := &signalingChannel{fakeChannel: fakeChannel{id: "web"}}
	mon := &fakeMonitor{}
	h := &fakeHandler{history: []api.Message{{Role: api.RoleUser, Text: "hi"}}}

	gw, err := NewGatewayBuilder().WithMonitor(mon).WithChannel(web).WithHandler(h).Build()
	require.NoError(t, err)

	assert.True(t, mon.started)
	assert.Same(t, gw, h.responder)
	require.NotNil(t, web.ctx)

	web.ctx.OnMessage("web", &api.UnifiedMessage{Session: sess, Content: "TSLA?"})
	require.Len(t, h.received, 1)
	assert.Equal(t, "TSLA?", h.received[0].Content)

	assert.Equal(t, h.history, web.ctx.History(sess))

	require.NoError(t, gw.SendSignal(sess, api.PhaseThinking))
	assert.Equal(t, []api.Phase{api.PhaseThinking}, web.phases)

	tool := api.Message{Role: api.RoleTool, Text: "Fetched market data for TSLA.", Payload: []tools.StockData{{Symbol: "TSLA", CurrentPrice: 242.5}}}
	require.NoError(t, gw.SendReply(sess, tool))
	require.Len(t, web.sent, 1)

	require.Len(t, mon.msgs, 2)
	assert.Equal(t, monitor.KindUser, mon.msgs[0].Kind)
	assert.Equal(t, monitor.KindTool, mon.msgs[1].Kind)
	assert.Equal(t, []monitor.Quote{{Symbol: "TSLA", Price: 242.5}}, mon.msgs[1].Quotes)

	gw.StopAll()
	assert.True(t, web.stopped)
}

func TestCommandsAreNotMonitored(t *testing.T) {
	web := &fakeChannel{id: "web"}
	mon := &fakeMonitor{}
	h := &fakeHandler{}
	_, err := NewGatewayBuilder().WithMonitor(mon).WithChannel(web).WithHandler(h).Build()
	require.NoError(t, err)

	web.ctx.OnMessage("web", &api.UnifiedMessage{Session: sess, Command: api.CommandStop})
	assert.Len(t, h.received, 1)
	assert.Empty(t, mon.msgs)
}

func TestSignalIgnoredWithoutSupport(t *testing.T) {
	gw := NewGatewayManager()
	gw.Register(&fakeChannel{id: "web"})
	assert.NoError(t, gw.SendSignal(sess, api.PhaseThinking))
}

func TestUnknownChannel(t *testing.T) {
	gw := NewGatewayManager()
	assert.Error(t, gw.SendReply(sess, api.Message{Text: "x"}))
	assert.Error(t, gw.SendSignal(sess, api.PhaseThinking))
	assert.Nil(t, gw.History(sess))
}

func TestBuildFailsOnChannelStart(t *testing.T) {
	tg := &fakeChannel{id: "tg", startErr: errors.New("bad token")}
	_, err := NewGatewayBuilder().WithChannel(tg).Build()
	assert.ErrorContains(t, err, "bad token")
	assert.True(t, tg.stopped)
}
