package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"finsight/pkg/api"
	"finsight/pkg/monitor"
)

// GatewayManager 負責管理所有的 Channels 並統一路由訊息
type GatewayManager struct {
	channels   map[string]api.Channel
	msgHandler api.MessageHandler
	history    api.HistoryProvider
	monitor    monitor.Monitor // 監控器
	mu         sync.RWMutex
}

// NewGatewayManager 建立一個新的 GatewayManager
func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels: make(map[string]api.Channel),
	}
}

// SetMessageHandler 設定處理訊息的核心邏輯
func (g *GatewayManager) SetMessageHandler(handler api.MessageHandler) {
	g.msgHandler = handler
}

// SetHistoryProvider 設定對話紀錄來源，供 Channel 在連線時回放
func (g *GatewayManager) SetHistoryProvider(p api.HistoryProvider) {
	g.history = p
}

// SetMonitor 設定監控器
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// Register 註冊一個 Channel
func (g *GatewayManager) Register(c api.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel 取得特定的 Channel (通常用於主動發送訊息)
func (g *GatewayManager) GetChannel(id string) (api.Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll 啟動所有已註冊的 Channels
func (g *GatewayManager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Starting channel", "channel", id)
		// 啟動 Channel，並傳入 self 作為 Context
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll 停止所有 Channels
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", id, "error", err)
		}
	}
}

// SendReply 統一的回覆介面，透過 Channel 介面送回訊息
func (g *GatewayManager) SendReply(session api.SessionContext, msg api.Message) error {
	slog.Debug("Reply", "channel", session.ChannelID, "user", session.Username, "role", msg.Role, "text", msg.Text)

	// 廣播到監控器
	if g.monitor != nil {
		g.monitor.OnMessage(toMonitorMessage(session, msg))
	}

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, msg)
}

func toMonitorMessage(session api.SessionContext, msg api.Message) monitor.MonitorMessage {
	mm := monitor.MonitorMessage{
		Timestamp: time.Now(),
		Kind:      monitor.KindModel,
		ChannelID: session.ChannelID,
		Username:  session.Username,
		Content:   msg.Text,
	}
	if msg.Role == api.RoleTool {
		mm.Kind = monitor.KindTool
		for _, s := range msg.Payload {
			mm.Quotes = append(mm.Quotes, monitor.Quote{Symbol: s.Symbol, Price: s.CurrentPrice, ChangePercent: s.ChangePercent})
		}
	}
	return mm
}

// SendSignal 發送一個階段訊號 (如 thinking) 到 Channel
func (g *GatewayManager) SendSignal(session api.SessionContext, phase api.Phase) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	// 檢查 Channel 是否支援訊號介面
	if sc, ok := c.(api.SignalingChannel); ok {
		slog.Debug("Signal", "channel", session.ChannelID, "user", session.Username, "phase", phase)
		return sc.SendSignal(session, phase)
	}

	// 不支援的通道安靜地忽略
	return nil
}

// History 實作 ChannelContext，回傳該 session 已保存的訊息
func (g *GatewayManager) History(session api.SessionContext) []api.Message {
	if g.history == nil {
		return nil
	}
	return g.history.History(session)
}

// OnMessage 實作 ChannelContext 介面，接收來自 Channel 的訊息
func (g *GatewayManager) OnMessage(channelID string, msg *api.UnifiedMessage) {
	slog.Info("Received", "channel", channelID, "user", msg.Session.Username, "user_id", msg.Session.UserID, "content", msg.Content, "command", msg.Command.String())

	// 廣播到監控器
	if g.monitor != nil && msg.Command == api.CommandNone {
		g.monitor.OnMessage(monitor.MonitorMessage{
			Timestamp: time.Now(),
			Kind:      monitor.KindUser,
			ChannelID: channelID,
			Username:  msg.Session.Username,
			Content:   msg.Content,
		})
	}

	if g.msgHandler != nil {
		// 將訊息轉發給核心處理器
		g.msgHandler(msg)
	} else {
		slog.Warn("No message handler set")
	}
}
