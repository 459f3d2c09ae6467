package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCustomHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCustomHandler(&buf, slog.HandlerOptions{Level: slog.LevelInfo})).With("channel", "web")

	ctx := WithRequestID(context.Background(), "a1b2")
	logger.InfoContext(ctx, "Run finished", "messages", 2, "symbol", "TSLA")
	logger.DebugContext(ctx, "hidden")

	line := buf.String()
	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[INFO\] \[a1b2\] Run finished channel="web" messages=2 symbol="TSLA"\n$`, line)
}

func TestRequestIDMissing(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
	assert.Equal(t, "x", RequestID(WithRequestID(context.Background(), "x")))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestCLIMonitor(t *testing.T) {
	var buf bytes.Buffer
	m := NewCLIMonitorWriter(&buf)
	ts := time.Date(2026, 3, 10, 9, 30, 0, 0, time.Local)

	m.OnMessage(MonitorMessage{Timestamp: ts, Kind: KindUser, ChannelID: "web", Username: "amy", Content: "TSLA?"})
	m.OnMessage(MonitorMessage{Timestamp: ts, Kind: KindTool, ChannelID: "web", Username: "amy", Content: "Fetched", Quotes: []Quote{{Symbol: "TSLA", Price: 242.5, ChangePercent: -1.3}, {Symbol: "AAPL", Price: 189, ChangePercent: 0.4}}})
	m.OnMessage(MonitorMessage{Timestamp: ts, Kind: KindModel, ChannelID: "web", Username: "amy", Content: "down\n\n1.3%"})

	out := buf.String()
	assert.Contains(t, out, "[2026-03-10 09:30:00]")
	assert.Contains(t, out, "[web/amy] TSLA?")
	assert.Contains(t, out, "[TOOL → web/amy] Fetched [TSLA 242.50 -1.30%, AAPL 189.00 +0.40%]")
	assert.Contains(t, out, "[AI → web/amy] down 1.3%")
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("漲", previewRunes+10)
	got := preview(long)
	assert.Equal(t, previewRunes+1, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}
