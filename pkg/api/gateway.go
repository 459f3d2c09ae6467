package api

import "fmt"

// Channel defines the standardized lifecycle interface for communication platforms.
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
	Send(session SessionContext, msg Message) error
}

// SignalingChannel is an optional extension of the Channel interface for
// platforms that can render run phases (e.g., typing indicators, thinking UI).
type SignalingChannel interface {
	Channel
	SendSignal(session SessionContext, phase Phase) error
}

// ChannelContext provides the interface for a Channel implementation to
// communicate back with the Gateway core.
type ChannelContext interface {
	MessageResponder
	OnMessage(channelID string, msg *UnifiedMessage)
	// History returns the persisted messages of a session, oldest first.
	History(session SessionContext) []Message
}

// MessageResponder defines the capabilities for sending responses back to a channel.
type MessageResponder interface {
	SendReply(session SessionContext, msg Message) error
	SendSignal(session SessionContext, phase Phase) error
}

// Command is a control instruction carried by a UnifiedMessage instead of text.
type Command int

const (
	CommandNone Command = iota
	// CommandStop cancels the session's active run.
	CommandStop
	// CommandReset clears the session's conversation.
	CommandReset
)

func (c Command) String() string {
	switch c {
	case CommandStop:
		return "stop"
	case CommandReset:
		return "reset"
	default:
		return "none"
	}
}

// UnifiedMessage defines the standardized internal data structure for all
// incoming messages.
type UnifiedMessage struct {
	Session   SessionContext // Contextual information about the source (User, Chat)
	Content   string         // Standardized text content of the message
	Command   Command        // Control command; Content is ignored when set
	Raw       any            // Optional storage for the original platform-specific payload object
	RequestID string         // Groups the logs of one agent run
}

// SessionContext encapsulates identity and routing information for a specific
// conversation unit on a specific communication channel.
type SessionContext struct {
	ChannelID string // Identifier of the channel that originated the session (e.g., "telegram")
	UserID    string // Platform-specific unique identifier for the user
	ChatID    string // Platform-specific identifier for the chat or group (may match UserID for DMs)
	Username  string // Display name or nickname of the user as provided by the platform
}

// Key identifies the conversation across channels.
func (s SessionContext) Key() string {
	return fmt.Sprintf("%s_%s", s.ChannelID, s.ChatID)
}

// MessageHandler defines the function signature for processing incoming messages.
// It implements the MessageProcessor interface.
type MessageHandler func(*UnifiedMessage)

// OnMessage allows MessageHandler to satisfy the MessageProcessor interface.
func (h MessageHandler) OnMessage(msg *UnifiedMessage) {
	h(msg)
}

// MessageProcessor defines the interface for components that can process incoming messages.
type MessageProcessor interface {
	OnMessage(msg *UnifiedMessage)
}

// HistoryProvider is implemented by processors that persist sessions.
type HistoryProvider interface {
	History(session SessionContext) []Message
}

// ResponderAware defines an interface for components that require a MessageResponder to be injected.
type ResponderAware interface {
	SetResponder(responder MessageResponder)
}

// GatewayHandler is a composite interface for components that handle incoming
// messages AND are aware of the responder (e.g., the chat handler).
type GatewayHandler interface {
	MessageProcessor
	ResponderAware
}
