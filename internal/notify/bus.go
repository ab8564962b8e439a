package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// ChannelOpportunities is the bus channel alerts are published on.
const ChannelOpportunities = "spreadbot:opportunities"

// Event is the envelope of structured alerts.
type Event struct {
	Type    string                   `json:"type"`
	Payload domain.SpreadOpportunity `json:"payload"`
}

// Encode renders opp as an "opportunity" event.
func Encode(opp domain.SpreadOpportunity) ([]byte, error) {
	data, err := json.Marshal(Event{Type: "opportunity", Payload: opp})
	if err != nil {
		return nil, fmt.Errorf("notify: encode opportunity: %w", err)
	}
	return data, nil
}

// Streamer appends to a replayable log.
type Streamer interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BusPublisher publishes alerts on a domain.SignalBus, and appends them to a
// stream when the bus supports it.
type BusPublisher struct {
	bus     domain.SignalBus
	channel string
	stream  string
}

// NewBusPublisher creates a BusPublisher. An empty stream disables stream
// appends.
func NewBusPublisher(bus domain.SignalBus, channel, stream string) *BusPublisher {
	if channel == "" {
		channel = ChannelOpportunities
	}
	return &BusPublisher{bus: bus, channel: channel, stream: stream}
}

// Publish sends the encoded opportunity.
func (p *BusPublisher) Publish(ctx context.Context, opp domain.SpreadOpportunity) error {
	data, err := Encode(opp)
	if err != nil {
		return err
	}
	if err := p.bus.Publish(ctx, p.channel, data); err != nil {
		return err
	}
	if s, ok := p.bus.(Streamer); ok && p.stream != "" {
		return s.StreamAppend(ctx, p.stream, data)
	}
	return nil
}

// Name returns the sender identifier.
func (p *BusPublisher) Name() string { return "bus" }

// Broadcaster pushes a payload to locally connected clients.
type Broadcaster interface {
	Broadcast(channel string, data []byte)
}

// HubPublisher feeds alerts straight to a WebSocket hub. It is used when no
// bus is configured; with a bus the hub subscribes to it instead.
type HubPublisher struct {
	hub     Broadcaster
	channel string
}

// NewHubPublisher creates a HubPublisher.
func NewHubPublisher(hub Broadcaster) *HubPublisher {
	return &HubPublisher{hub: hub, channel: ChannelOpportunities}
}

// Publish broadcasts the encoded opportunity.
func (p *HubPublisher) Publish(_ context.Context, opp domain.SpreadOpportunity) error {
	data, err := Encode(opp)
	if err != nil {
		return err
	}
	p.hub.Broadcast(p.channel, data)
	return nil
}

// Name returns the sender identifier.
func (p *HubPublisher) Name() string { return "ws" }
