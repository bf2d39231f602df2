package repository

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"
)

// ErrInvalidTTL is returned by MarkSeen for a ttl that would never expire.
var ErrInvalidTTL = errors.New("seen ttl must be positive")

// SeenRepository remembers which frames were already relayed, for deployments
// whose upstream may send the same frame more than once. Duplicate suppression
// is opt-in (DEDUP_TTL > 0). A frame is claimed before dispatch and released
// with Forget when dispatch fails, so only relayed frames stay marked.
// The Redis implementation is in redis_seen_repo.go; memory_seen_repo.go is
// used when no Redis is configured and in tests.
type SeenRepository interface {
	// MarkSeen records key for ttl, which must be positive. first is false
	// when key was already present.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (first bool, err error)
	// Forget removes key so the frame can be relayed again.
	Forget(ctx context.Context, key string) error
}

// FrameKey derives the dedup key of a raw frame.
func FrameKey(raw []byte) string {
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}
