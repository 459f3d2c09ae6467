package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"finsight/pkg/api"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

// Frame types of the websocket protocol.
const (
	FrameMessage = "message"
	FrameStop    = "stop"
	FrameReset   = "reset"
	FrameHistory = "history"
	FrameStatus  = "status"
	FrameError   = "error"
)

type WebConfig struct {
	Port int `json:"port"` // Default: 8080
}

// IncomingFrame is what the browser sends.
type IncomingFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutgoingFrame is what the browser receives. Only the field matching Type is set.
type OutgoingFrame struct {
	Type    string        `json:"type"`
	Session string        `json:"session,omitempty"`
	Message *api.Message  `json:"message,omitempty"`
	History []api.Message `json:"history,omitempty"`
	Phase   api.Phase     `json:"phase,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

type WebChannel struct {
	config      WebConfig
	server      *http.Server
	connections map[string]*SafeConn // Map session id -> WS Connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig) *WebChannel {
	return &WebChannel{
		config:      cfg,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

// Handler returns the HTTP routes of the channel.
func (c *WebChannel) Handler(ctx api.ChannelContext) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	return mux
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: c.Handler(ctx),
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	c.mu.Lock()
	for id, conn := range c.connections {
		conn.Close()
		delete(c.connections, id)
	}
	c.mu.Unlock()

	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) conn(session api.SessionContext) (*SafeConn, error) {
	c.mu.RLock()
	conn, ok := c.connections[session.ChatID]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("web session %s not connected", session.ChatID)
	}
	return conn, nil
}

func (c *WebChannel) Send(session api.SessionContext, msg api.Message) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.WriteJSON(OutgoingFrame{Type: FrameMessage, Message: &msg})
}

// SendSignal implements the api.SignalingChannel interface
func (c *WebChannel) SendSignal(session api.SessionContext, phase api.Phase) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.WriteJSON(OutgoingFrame{Type: FrameStatus, Phase: phase})
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	// 沒帶 session 就開一個新的對話
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if _, err := uuid.Parse(sessionID); err != nil {
		sessionID = uuid.NewString()
	}
	username := r.URL.Query().Get("user")
	if username == "" {
		username = "WebUser"
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	// Wrap connection
	conn := &SafeConn{Conn: rawConn}

	session := api.SessionContext{
		ChannelID: c.ID(),
		UserID:    r.RemoteAddr,
		ChatID:    sessionID,
		Username:  username,
	}

	// 同一個 session 只保留最新的連線
	c.mu.Lock()
	if old, ok := c.connections[sessionID]; ok {
		old.Close()
	}
	c.connections[sessionID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.connections[sessionID] == conn {
			delete(c.connections, sessionID)
		}
		c.mu.Unlock()
		conn.Close()
	}()

	// Send history immediately, the session id comes with it so the UI can reconnect
	if err := conn.WriteJSON(OutgoingFrame{Type: FrameHistory, Session: sessionID, History: ctx.History(session)}); err != nil {
		slog.Error("Failed to send history", "session", sessionID, "error", err)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		msg, err := decodeFrame(data)
		if err != nil {
			_ = conn.WriteJSON(OutgoingFrame{Type: FrameError, Error: err.Error()})
			continue
		}
		msg.Session = session
		ctx.OnMessage(c.ID(), msg)
	}
}

// decodeFrame maps a websocket frame to a UnifiedMessage. Frames that are
// not JSON are treated as plain text messages.
func decodeFrame(data []byte) (*api.UnifiedMessage, error) {
	var in IncomingFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return &api.UnifiedMessage{Content: string(data)}, nil
	}

	switch in.Type {
	case FrameMessage, "":
		if strings.TrimSpace(in.Text) == "" {
			return nil, errors.New("empty message")
		}
		return &api.UnifiedMessage{Content: in.Text}, nil
	case FrameStop:
		return &api.UnifiedMessage{Command: api.CommandStop}, nil
	case FrameReset:
		return &api.UnifiedMessage{Command: api.CommandReset}, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", in.Type)
	}
}
