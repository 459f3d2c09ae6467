package web

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"finsight/pkg/api"
	"finsight/pkg/tools"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContext struct {
	mu       sync.Mutex
	received []*api.UnifiedMessage
	history  []api.Message
}

func (f *fakeContext) SendReply(api.SessionContext, api.Message) error { return nil }
func (f *fakeContext) SendSignal(api.SessionContext, api.Phase) error  { return nil }
func (f *fakeContext) History(api.SessionContext) []api.Message        { return f.history }

func (f *fakeContext) OnMessage(_ string, msg *api.UnifiedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
}

func (f *fakeContext) messages() []*api.UnifiedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*api.UnifiedMessage(nil), f.received...)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) OutgoingFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f OutgoingFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWebChannelRoundTrip(t *testing.T) {
	sessionID := uuid.NewString()
	ctx := &fakeContext{history: []api.Message{{ID: "1", Role: api.RoleUser, Text: "TSLA?"}}}
	ch := NewWebChannel(WebConfig{})
	srv := httptest.NewServer(ch.Handler(ctx))
	defer srv.Close()
	defer ch.Stop()

	conn := dial(t, srv, "?session="+sessionID+"&user=amy")

	hello := readFrame(t, conn)
	assert.Equal(t, FrameHistory, hello.Type)
	assert.Equal(t, sessionID, hello.Session)
	require.Len(t, hello.History, 1)
	assert.Equal(t, "TSLA?", hello.History[0].Text)

	require.NoError(t, conn.WriteJSON(IncomingFrame{Type: FrameMessage, Text: "How is NVDA?"}))
	require.NoError(t, conn.WriteJSON(IncomingFrame{Type: FrameStop}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("plain text")))

	require.Eventually(t, func() bool { return len(ctx.messages()) == 3 }, 2*time.Second, 10*time.Millisecond)
	got := ctx.messages()
	assert.Equal(t, "How is NVDA?", got[0].Content)
	assert.Equal(t, api.SessionContext{ChannelID: "web", UserID: got[0].Session.UserID, ChatID: sessionID, Username: "amy"}, got[0].Session)
	assert.Equal(t, api.CommandStop, got[1].Command)
	assert.Equal(t, "plain text", got[2].Content)

	session := got[0].Session
	require.NoError(t, ch.SendSignal(session, api.PhaseThinking))
	status := readFrame(t, conn)
	assert.Equal(t, FrameStatus, status.Type)
	assert.Equal(t, api.PhaseThinking, status.Phase)

	reply := api.Message{ID: "2", Role: api.RoleTool, Text: "Fetched market data for NVDA.", Payload: []tools.StockData{{Symbol: "NVDA", CurrentPrice: 880}}}
	require.NoError(t, ch.Send(session, reply))
	out := readFrame(t, conn)
	assert.Equal(t, FrameMessage, out.Type)
	require.NotNil(t, out.Message)
	assert.Equal(t, reply, *out.Message)
}

func TestWebChannelAssignsSession(t *testing.T) {
	ch := NewWebChannel(WebConfig{})
	srv := httptest.NewServer(ch.Handler(&fakeContext{}))
	defer srv.Close()
	defer ch.Stop()

	conn := dial(t, srv, "?session=not-a-uuid")
	hello := readFrame(t, conn)
	_, err := uuid.Parse(hello.Session)
	assert.NoError(t, err)
	assert.Empty(t, hello.History)
}

func TestWebChannelRejectsBadFrames(t *testing.T) {
	ch := NewWebChannel(WebConfig{})
	srv := httptest.NewServer(ch.Handler(&fakeContext{}))
	defer srv.Close()
	defer ch.Stop()

	conn := dial(t, srv, "")
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(IncomingFrame{Type: "dance"}))
	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "dance")
}

func TestSendUnknownSession(t *testing.T) {
	ch := NewWebChannel(WebConfig{})
	err := ch.Send(api.SessionContext{ChannelID: "web", ChatID: "gone"}, api.Message{Text: "x"})
	assert.Error(t, err)
}

func TestDecodeFrame(t *testing.T) {
	msg, err := decodeFrame([]byte(`{"type":"reset"}`))
	require.NoError(t, err)
	assert.Equal(t, api.CommandReset, msg.Command)

	msg, err = decodeFrame([]byte(`{"text":"AAPL"}`))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", msg.Content)

	_, err = decodeFrame([]byte(`{"type":"message","text":"  "}`))
	assert.Error(t, err)
}
