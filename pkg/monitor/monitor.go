package monitor

import "time"

// Kind tells a Monitor who produced a message.
type Kind string

const (
	KindUser  Kind = "USER"
	KindModel Kind = "MODEL"
	KindTool  Kind = "TOOL"
)

// Quote is the part of a tool result worth showing on a console.
type Quote struct {
	Symbol        string
	Price         float64
	ChangePercent float64
}

// MonitorMessage 代表一則監控訊息
type MonitorMessage struct {
	Timestamp time.Time
	Kind      Kind
	ChannelID string
	Username  string
	Content   string
	Quotes    []Quote // 只有 KindTool 會帶
}

// Monitor 介面定義了監控器的行為
type Monitor interface {
	Start() error
	Stop() error
	// OnMessage may be called from several goroutines at once.
	OnMessage(msg MonitorMessage)
}
