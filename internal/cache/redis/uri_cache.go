package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// uriTTL bounds how long a resolved URI may be served from cache. Entries are
// invalidated eagerly on resolution, so the TTL is a backstop.
const uriTTL = 24 * time.Hour

// URICache implements domain.URICache with plain Redis strings, keyed by card
// id.
type URICache struct {
	rdb *redis.Client
}

// NewURICache creates a URICache backed by the given Client.
func NewURICache(c *Client) *URICache {
	return &URICache{rdb: c.Underlying()}
}

func uriKey(cardID uint64) string {
	return "card:uri:" + strconv.FormatUint(cardID, 10)
}

// SetURI stores the resolved URI for a card.
func (uc *URICache) SetURI(ctx context.Context, cardID uint64, uri string) error {
	if err := uc.rdb.Set(ctx, uriKey(cardID), uri, uriTTL).Err(); err != nil {
		return fmt.Errorf("redis: set uri %d: %w", cardID, err)
	}
	return nil
}

// GetURI returns the cached URI for a card, or an empty string on a miss.
func (uc *URICache) GetURI(ctx context.Context, cardID uint64) (string, error) {
	uri, err := uc.rdb.Get(ctx, uriKey(cardID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: get uri %d: %w", cardID, err)
	}
	return uri, nil
}

// Invalidate drops the cached URI for a card.
func (uc *URICache) Invalidate(ctx context.Context, cardID uint64) error {
	if err := uc.rdb.Del(ctx, uriKey(cardID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate uri %d: %w", cardID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.URICache = (*URICache)(nil)
