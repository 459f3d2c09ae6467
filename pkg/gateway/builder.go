package gateway

import (
	"errors"
	"fmt"

	"finsight/pkg/api"
	"finsight/pkg/monitor"
)

// GatewayBuilder assembles a GatewayManager from pre-built parts and
// starts them in order: monitor, handler wiring, channels.
type GatewayBuilder struct {
	monitor  monitor.Monitor
	handler  api.MessageProcessor
	channels []api.Channel
}

func NewGatewayBuilder() *GatewayBuilder {
	return &GatewayBuilder{}
}

// WithMonitor sets the traffic monitor. It is started by Build.
func (b *GatewayBuilder) WithMonitor(m monitor.Monitor) *GatewayBuilder {
	b.monitor = m
	return b
}

// WithChannel adds channels. Calling it with no channels is allowed.
func (b *GatewayBuilder) WithChannel(channels ...api.Channel) *GatewayBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithHandler sets the processor of incoming messages. Build injects the
// gateway into it when it is api.ResponderAware and uses it for session
// replay when it is an api.HistoryProvider.
func (b *GatewayBuilder) WithHandler(h api.MessageProcessor) *GatewayBuilder {
	b.handler = h
	return b
}

// Build wires everything and starts the channels. When a channel fails to
// start, whatever was already started is stopped again.
func (b *GatewayBuilder) Build() (*GatewayManager, error) {
	gw := NewGatewayManager()

	if b.monitor != nil {
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
		gw.SetMonitor(b.monitor)
	}

	if b.handler != nil {
		if aware, ok := b.handler.(api.ResponderAware); ok {
			aware.SetResponder(gw)
		}
		gw.SetMessageHandler(b.handler.OnMessage)
		if hp, ok := b.handler.(api.HistoryProvider); ok {
			gw.SetHistoryProvider(hp)
		}
	}

	for _, c := range b.channels {
		gw.Register(c)
	}

	if err := gw.StartAll(); err != nil {
		gw.StopAll()
		if b.monitor != nil {
			err = errors.Join(err, b.monitor.Stop())
		}
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return gw, nil
}
