package handler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"finsight/pkg/agent"
	"finsight/pkg/api"
	"finsight/pkg/llm"
	"finsight/pkg/monitor"
	"finsight/pkg/session"
	"finsight/pkg/tools"

	"github.com/google/uuid"
)

// ErrBusy is returned when a session already has an active run.
var ErrBusy = errors.New("handler: session is busy")

// Replies synthesized by the handler rather than the agent.
const (
	msgBusy        = "⏳ Still working on your previous question. Send /stop to cancel it."
	msgStopped     = "⏹️ Generation stopped."
	msgNothingToDo = "Nothing to stop."
	msgReset       = "🧹 Conversation cleared."
	msgFailed      = "❌ Something went wrong while processing your request. Please try again."
)

// chatSession is the per-conversation state.
type chatSession struct {
	key        string
	agent      *agent.Agent
	transcript []api.Message
	// cancel is non-nil while a run is active
	cancel context.CancelFunc
	// gen changes on reset so a stale run cannot write into the new conversation
	gen int
}

// ChatHandler orchestrates the conversation flow: one agent per session,
// one active run per agent, stop/reset commands and transcript persistence.
type ChatHandler struct {
	invoker   llm.Invoker
	registry  *tools.Registry
	store     *session.Store
	responder api.MessageResponder

	baseCtx context.Context
	mu      sync.Mutex
	opts    agent.Options
	sess    map[string]*chatSession
	wg      sync.WaitGroup
}

// NewChatHandler creates a handler. Runs are derived from ctx, so cancelling
// it stops every active run.
func NewChatHandler(ctx context.Context, invoker llm.Invoker, registry *tools.Registry, opts agent.Options, store *session.Store) *ChatHandler {
	return &ChatHandler{
		invoker:  invoker,
		registry: registry,
		store:    store,
		baseCtx:  ctx,
		opts:     opts,
		sess:     make(map[string]*chatSession),
	}
}

// SetResponder implements api.ResponderAware.
func (h *ChatHandler) SetResponder(responder api.MessageResponder) {
	h.responder = responder
}

// SetOptions applies new agent options to every session, including future ones.
func (h *ChatHandler) SetOptions(opts agent.Options) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts = opts
	for _, s := range h.sess {
		s.agent.SetOptions(opts)
	}
}

// OnMessage implements api.MessageProcessor. Runs are started in the
// background so the channel can keep delivering /stop.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()[:8]
	}

	cmd := msg.Command
	if cmd == api.CommandNone {
		cmd = parseCommand(msg.Content)
	}

	slog.Info("Message received", "channel", msg.Session.ChannelID, "user", msg.Session.Username, "command", cmd.String(), "request_id", msg.RequestID)

	switch cmd {
	case api.CommandStop:
		if !h.Stop(msg.Session) {
			h.reply(msg.Session, msgNothingToDo)
		}
	case api.CommandReset:
		if err := h.Reset(msg.Session); err != nil {
			slog.Error("Failed to reset session", "session", msg.Session.Key(), "error", err)
		}
		h.reply(msg.Session, msgReset)
	default:
		if strings.TrimSpace(msg.Content) == "" {
			return
		}
		if err := h.Submit(msg); errors.Is(err, ErrBusy) {
			h.reply(msg.Session, msgBusy)
		}
	}
}

func parseCommand(content string) api.Command {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "/stop":
		return api.CommandStop
	case "/reset", "/new":
		return api.CommandReset
	default:
		return api.CommandNone
	}
}

// History implements api.HistoryProvider.
func (h *ChatHandler) History(sc api.SessionContext) []api.Message {
	s := h.session(sc.Key())
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]api.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// session returns the state for key, loading the persisted transcript on first use.
func (h *ChatHandler) session(key string) *chatSession {
	h.mu.Lock()
	if s, ok := h.sess[key]; ok {
		h.mu.Unlock()
		return s
	}
	opts := h.opts
	h.mu.Unlock()

	msgs, err := h.store.Load(key)
	if err != nil {
		slog.Warn("Failed to load session, starting fresh", "session", key, "error", err)
		msgs = nil
	}
	a := agent.New(h.invoker, h.registry, opts)
	if err := a.Seed(msgs); err != nil {
		slog.Warn("Failed to seed session history", "session", key, "error", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// Double check under lock
	if s, ok := h.sess[key]; ok {
		return s
	}
	s := &chatSession{key: key, agent: a, transcript: msgs}
	h.sess[key] = s
	return s
}

// Submit starts a run for msg. It returns ErrBusy when the session already has one.
func (h *ChatHandler) Submit(msg *api.UnifiedMessage) error {
	s := h.session(msg.Session.Key())

	h.mu.Lock()
	if s.cancel != nil {
		h.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(monitor.WithRequestID(h.baseCtx, msg.RequestID))
	s.cancel = cancel
	gen := s.gen
	a := s.agent
	s.transcript = append(s.transcript, api.Message{
		ID:        uuid.NewString(),
		Role:      api.RoleUser,
		Text:      msg.Content,
		Timestamp: time.Now().Unix(),
	})
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		defer cancel()
		h.run(ctx, s, gen, a, msg)
	}()
	return nil
}

func (h *ChatHandler) run(ctx context.Context, s *chatSession, gen int, a *agent.Agent, msg *api.UnifiedMessage) {
	start := time.Now()
	sink := &bridge{h: h, s: s, gen: gen, session: msg.Session}

	out, err := a.Run(ctx, msg.Content, sink)

	h.mu.Lock()
	current := s.gen == gen
	if current {
		s.cancel = nil
	}
	transcript := make([]api.Message, len(s.transcript))
	copy(transcript, s.transcript)
	h.mu.Unlock()

	switch {
	case errors.Is(err, agent.ErrCancelled):
		slog.InfoContext(ctx, "Run stopped", "session", s.key, "messages", len(out))
		if current {
			h.reply(msg.Session, msgStopped)
		}
	case err != nil:
		slog.ErrorContext(ctx, "Run failed", "session", s.key, "error", err)
		if current {
			h.reply(msg.Session, msgFailed)
		}
	}

	if current {
		if err := h.store.Save(s.key, transcript); err != nil {
			slog.ErrorContext(ctx, "Failed to save session", "session", s.key, "error", err)
		}
	}
	slog.InfoContext(ctx, "Agent loop finished", "duration", time.Since(start).String(), "state", a.State().String(), "messages", len(out))
}

// Stop cancels the active run of a session. It reports whether one was running.
func (h *ChatHandler) Stop(sc api.SessionContext) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sess[sc.Key()]
	if !ok || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Reset cancels any active run and clears the session.
func (h *ChatHandler) Reset(sc api.SessionContext) error {
	key := sc.Key()
	h.mu.Lock()
	if s, ok := h.sess[key]; ok {
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		// the cancelled run keeps its own agent; the session gets a fresh one
		s.agent = agent.New(h.invoker, h.registry, h.opts)
		s.transcript = nil
		s.gen++
	}
	h.mu.Unlock()
	return h.store.Delete(key)
}

// Busy reports whether a session has an active run.
func (h *ChatHandler) Busy(sc api.SessionContext) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sess[sc.Key()]
	return ok && s.cancel != nil
}

// Wait blocks until every active run has returned.
func (h *ChatHandler) Wait() {
	h.wg.Wait()
}

func (h *ChatHandler) reply(sc api.SessionContext, text string) {
	if h.responder == nil {
		return
	}
	msg := api.Message{
		ID:        uuid.NewString(),
		Role:      api.RoleModel,
		Text:      text,
		Timestamp: time.Now().Unix(),
	}
	if err := h.responder.SendReply(sc, msg); err != nil {
		slog.Error("Failed to send reply", "session", sc.Key(), "error", err)
	}
}

// bridge forwards agent status and messages to the channel as they happen.
type bridge struct {
	h       *ChatHandler
	s       *chatSession
	gen     int
	session api.SessionContext
}

func (b *bridge) OnStatus(phase api.Phase) {
	if b.h.responder == nil || b.stale() {
		return
	}
	if err := b.h.responder.SendSignal(b.session, phase); err != nil {
		slog.Debug("Failed to send signal", "session", b.s.key, "phase", phase, "error", err)
	}
}

func (b *bridge) stale() bool {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()
	return b.s.gen != b.gen
}

func (b *bridge) OnMessage(msg api.Message) {
	b.h.mu.Lock()
	stale := b.s.gen != b.gen
	if !stale {
		b.s.transcript = append(b.s.transcript, msg)
	}
	b.h.mu.Unlock()
	if stale || b.h.responder == nil {
		return
	}
	if err := b.h.responder.SendReply(b.session, msg); err != nil {
		slog.Error("Failed to send reply", "session", b.s.key, "error", err)
	}
}
