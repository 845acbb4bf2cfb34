// Package notify delivers protocol lifecycle alerts to operator channels
// (Telegram, Discord). Events arrive over the event bus; the notifier
// filters by event type and fans out to every configured sender.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duration-fi/durationd/internal/domain"
)

// Sender is a single delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to one or more Senders. Only events whose type
// is in the allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders.
func NewNotifier(senders []Sender, events []domain.EventType, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Watch subscribes to the given bus channels and forwards matching events to
// the senders until the context is cancelled. Malformed payloads are logged
// and skipped.
func (n *Notifier) Watch(ctx context.Context, bus domain.EventBus, channels ...string) error {
	merged := make(chan []byte, 128)
	for _, channel := range channels {
		sub, err := bus.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", channel, err)
		}
		go func() {
			for payload := range sub {
				select {
				case merged <- payload:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-merged:
			var ev domain.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				n.logger.WarnContext(ctx, "malformed event payload",
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := n.NotifyEvent(ctx, ev); err != nil {
				n.logger.ErrorContext(ctx, "notification delivery failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// NotifyEvent formats a lifecycle event and dispatches it, applying the
// event type filter.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(ev.Type)),
		)
		return nil
	}

	title, message := formatEvent(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll dispatches regardless of the event type filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch fans out to all senders. One sender failing does not block the
// rest; failures are combined into a single error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// formatEvent renders an operator-readable title and body for a lifecycle
// event.
func formatEvent(ev domain.Event) (title, message string) {
	var b strings.Builder
	if ev.OptionID != 0 {
		fmt.Fprintf(&b, "option #%d", ev.OptionID)
	}
	if ev.CommitmentHash != "" {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "commitment %s", shortHash(ev.CommitmentHash))
	}
	if ev.Asset != "" {
		fmt.Fprintf(&b, "\nasset: %s", ev.Asset)
	}
	if ev.Amount != "" {
		fmt.Fprintf(&b, "\namount: %s", ev.Amount)
	}
	if ev.Payout != "" {
		fmt.Fprintf(&b, "\npayout: %s", ev.Payout)
	}

	switch ev.Type {
	case domain.EventOptionTaken:
		title = "Option taken"
	case domain.EventSimpleSwap:
		title = "Simple swap executed"
	case domain.EventOptionExercised:
		title = "Option exercised"
	case domain.EventOptionExpired:
		title = "Option expired"
	case domain.EventOptionLiquidated:
		title = "Option liquidated"
	case domain.EventCommitmentCreated:
		title = "Commitment created"
	case domain.EventCommitmentCancelled:
		title = "Commitment cancelled"
	default:
		title = string(ev.Type)
	}
	return title, b.String()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12] + ".."
	}
	return h
}
