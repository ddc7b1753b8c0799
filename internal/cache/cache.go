// Package cache keeps reference-data lookups close to the pricing engine.
// Supports both local (in-process) and Redis backends for multi-instance deployments.
package cache

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultTTL bounds how stale an entry can get when no write invalidates it.
const DefaultTTL = 5 * time.Minute

// Backend stores opaque values by key. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the backend's TTL.
	Set(ctx context.Context, key string, value []byte) error

	// Generation returns the current invalidation generation. Keys built
	// for an older generation are never read again.
	Generation(ctx context.Context) (uint64, error)

	// Invalidate advances the generation.
	Invalidate(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// Key derives a fixed-length key for one lookup in one generation.
func Key(kind string, gen uint64, parts ...string) string {
	h := xxhash.New()
	_, _ = h.WriteString(strconv.FormatUint(gen, 10))
	for _, p := range parts {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(p)
	}
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte(':')
	b.WriteString(hex.EncodeToString(h.Sum(nil)))
	return b.String()
}
