package domain

import (
	"context"
	"math/big"
	"time"
)

// PriceCache provides fast access to recently observed spot prices.
// Prices are 8-decimal fixed point.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price *big.Int, ts time.Time) error
	GetPrice(ctx context.Context, asset string) (*big.Int, time.Time, error)
}

// LockManager provides distributed locking for cross-process exclusion on
// a single option or commitment.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub for ephemeral delivery and streams for durable,
// ordered delivery of lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
