// Package notify delivers spread alerts. Text channels (Telegram, Discord)
// receive a rendered message; structured channels (the Redis bus, the
// WebSocket hub) receive the opportunity as JSON.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
)

// Sender is a text channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Publisher is a structured channel.
type Publisher interface {
	Publish(ctx context.Context, opp domain.SpreadOpportunity) error
	Name() string
}

// Notifier fans one alert out to every sender and publisher. A failing
// channel does not stop delivery to the others, and nothing is retried.
type Notifier struct {
	senders    []Sender
	publishers []Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewNotifier creates a Notifier. m may be nil.
func NewNotifier(senders []Sender, publishers []Publisher, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders:    senders,
		publishers: publishers,
		metrics:    m,
		logger:     logger.With(slog.String("component", "notifier")),
	}
}

// Channels returns the names of all configured channels.
func (n *Notifier) Channels() []string {
	out := make([]string, 0, len(n.senders)+len(n.publishers))
	for _, s := range n.senders {
		out = append(out, s.Name())
	}
	for _, p := range n.publishers {
		out = append(out, p.Name())
	}
	return out
}

// Notify delivers one opportunity. The returned error joins every channel
// failure.
func (n *Notifier) Notify(ctx context.Context, opp domain.SpreadOpportunity) error {
	var errs []error
	if len(n.senders) > 0 {
		title, message := Format(opp)
		if err := n.dispatch(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range n.publishers {
		err := p.Publish(ctx, opp)
		n.record(ctx, p.Name(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// NotifyAll sends a plain message to the text channels, e.g. on startup.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if err := n.dispatch(ctx, title, message); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		err := s.Send(ctx, title, message)
		n.record(ctx, s.Name(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) record(ctx context.Context, name string, err error) {
	if err != nil {
		n.metrics.Notification(name, "error")
		n.logger.ErrorContext(ctx, "sender failed",
			slog.String("sender", name),
			slog.String("error", err.Error()),
		)
		return
	}
	n.metrics.Notification(name, "ok")
	n.logger.DebugContext(ctx, "notification sent", slog.String("sender", name))
}
