package domain

import (
	"context"
	"time"
)

// URICache provides fast lookups of resolved card URIs so the read path does
// not need to touch the ledger lock.
type URICache interface {
	SetURI(ctx context.Context, cardID uint64, uri string) error
	GetURI(ctx context.Context, cardID uint64) (string, error)
	Invalidate(ctx context.Context, cardID uint64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. The oracle worker uses it to
// dedupe resolution work across replicas.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for domain events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
