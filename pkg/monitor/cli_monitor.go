package monitor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// previewRunes caps how much of a model answer is echoed to the terminal.
const previewRunes = 160

// CLIMonitor prints a one-line summary of every message crossing the gateway.
type CLIMonitor struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewCLIMonitor creates a monitor writing to stdout.
func NewCLIMonitor() *CLIMonitor {
	return NewCLIMonitorWriter(os.Stdout)
}

// NewCLIMonitorWriter creates a CLI monitor printing to w.
func NewCLIMonitorWriter(w io.Writer) *CLIMonitor {
	return &CLIMonitor{writer: w}
}

func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - All channel messages will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

func (m *CLIMonitor) Stop() error {
	return nil
}

func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	who := msg.ChannelID + "/" + msg.Username

	var line string
	switch msg.Kind {
	case KindModel:
		line = fmt.Sprintf("[AI → %s] %s", who, preview(msg.Content))
	case KindTool:
		quotes := make([]string, 0, len(msg.Quotes))
		for _, q := range msg.Quotes {
			quotes = append(quotes, fmt.Sprintf("%s %.2f %+.2f%%", q.Symbol, q.Price, q.ChangePercent))
		}
		line = fmt.Sprintf("[TOOL → %s] %s [%s]", who, msg.Content, strings.Join(quotes, ", "))
	default:
		line = fmt.Sprintf("[%s] %s", who, preview(msg.Content))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// 時間戳用灰色
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m %s\n", msg.Timestamp.Format("2006-01-02 15:04:05"), line)
}

// preview flattens text to a single line and truncates it.
func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "…"
}
