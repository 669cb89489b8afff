package vault

import (
	"time"

	"github.com/google/uuid"

	"transcribe_gateway/internal/storage"
	"transcribe_gateway/internal/utils"
)

// DefaultHandleCapacity is used when no capacity is configured
const DefaultHandleCapacity = 1024

// Handles maps opaque, single-use handles to resolved credentials so a
// caller can reference a credential without ever receiving it.
//
// Handles live in memory, bounded by capacity. The store must hold every
// handle issued within one TTL, so size it to at least the peak resolve
// rate times the TTL. Past that, issuing a handle evicts the oldest
// unredeemed one, which then redeems as unknown; each such eviction is
// logged and counted in Stats.
type Handles struct {
	cache  *storage.LRUCache[string]
	logger *utils.Logger
}

// NewHandles creates a handle store
func NewHandles(capacity int, ttl time.Duration) *Handles {
	if capacity <= 0 {
		capacity = DefaultHandleCapacity
	}
	return &Handles{
		cache:  storage.NewLRUCache[string](capacity, ttl),
		logger: utils.NewLogger("handles"),
	}
}

// Issue stores secret under a fresh handle
func (h *Handles) Issue(secret string) string {
	handle := uuid.NewString()
	if h.cache.Add(handle, secret) {
		stats := h.cache.GetStats()
		h.logger.Warn("Handle store full; evicted an unredeemed handle",
			"capacity", stats.Capacity, "ttl", stats.TTL, "evictions", stats.Evictions)
	}
	return handle
}

// Redeem returns the secret once; the handle is consumed
func (h *Handles) Redeem(handle string) (string, bool) {
	return h.cache.Take(handle)
}

// Purge drops expired handles
func (h *Handles) Purge() int {
	return h.cache.CleanupExpired()
}

// Stats reports occupancy and capacity evictions
func (h *Handles) Stats() storage.CacheStats {
	return h.cache.GetStats()
}
