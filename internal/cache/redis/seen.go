package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kolstream/kolbot/internal/domain"
)

// SeenCache implements domain.SeenCache with a SETNX-per-post marker. It is a
// cheap cross-replica filter ahead of the execution record store; a cache
// miss only costs a redundant dedup lookup, never a duplicate trade.
type SeenCache struct {
	rdb *redis.Client
}

// NewSeenCache creates a SeenCache backed by the given Client.
func NewSeenCache(c *Client) *SeenCache {
	return &SeenCache{rdb: c.Underlying()}
}

var _ domain.SeenCache = (*SeenCache)(nil)

func seenKey(postID string) string {
	return "kolbot:seen:" + postID
}

// MarkSeen records the post ID and reports whether this caller was the first
// to see it within the TTL.
func (s *SeenCache) MarkSeen(ctx context.Context, postID string, ttl time.Duration) (bool, error) {
	first, err := s.rdb.SetNX(ctx, seenKey(postID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark seen %s: %w", postID, err)
	}
	return first, nil
}
