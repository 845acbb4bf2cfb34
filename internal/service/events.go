// Package service coordinates the engine, durable stores, distributed
// locks, and the event bus. Handlers call services, never the engine
// directly.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/duration-fi/durationd/internal/domain"
)

// lifecycleStream is the durable stream every lifecycle event is appended
// to, alongside its ephemeral pub/sub channel.
const lifecycleStream = "st:lifecycle"

// eventPublisher fans lifecycle events out to pub/sub and the durable
// stream. Delivery is best effort; failures are logged, never returned, so
// eventing cannot roll back state that already transitioned.
type eventPublisher struct {
	bus    domain.EventBus
	logger *slog.Logger
}

func (p *eventPublisher) publish(ctx context.Context, ev domain.Event) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "event marshal failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.bus.Publish(ctx, ev.Channel(), payload); err != nil {
		p.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, lifecycleStream, payload); err != nil {
		p.logger.WarnContext(ctx, "event stream append failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// auditLog writes an audit entry, logging instead of failing the caller.
func auditLog(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
