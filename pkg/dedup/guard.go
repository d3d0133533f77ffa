// Package dedup suppresses reprocessing of repeated webhook deliveries.
// The platform retries deliveries it considers unacknowledged, so the same
// logical event can arrive more than once within a short window.
package dedup

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"waveline/pkg/update"
)

// DefaultTTL bounds how long a seen marker suppresses duplicates.
const DefaultTTL = 60 * time.Second

const sweepEvery = 256

// Guard is a process-scoped, best-effort duplicate suppressor. The
// check-and-mark sequence is a single operation under one lock, so two
// concurrent deliveries of the same event cannot both pass. It is not a
// cross-process exactly-once guarantee.
type Guard struct {
	mu      sync.Mutex
	ttl     time.Duration
	seen    map[uint64]time.Time
	inserts int

	now func() time.Time
}

// NewGuard creates a guard with the given marker TTL. A non-positive TTL
// falls back to DefaultTTL.
func NewGuard(ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		ttl:  ttl,
		seen: make(map[uint64]time.Time),
		now:  time.Now,
	}
}

// CheckAndMark reports whether the hash is fresh, marking it as seen in the
// same atomic step. A second call with the same hash within the TTL returns
// false. Expired markers are evicted lazily; no background sweep runs.
func (g *Guard) CheckAndMark(hash uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expires, ok := g.seen[hash]; ok && now.Before(expires) {
		return false
	}

	g.seen[hash] = now.Add(g.ttl)
	g.inserts++
	if g.inserts%sweepEvery == 0 {
		g.sweep(now)
	}
	return true
}

// Len returns the number of markers currently held, counting expired ones
// not yet evicted.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// sweep drops expired markers. Caller holds the lock.
func (g *Guard) sweep(now time.Time) {
	for hash, expires := range g.seen {
		if !now.Before(expires) {
			delete(g.seen, hash)
		}
	}
}

// HashUpdate derives the dedup hash for an update from its kind and
// content-derived id, so redeliveries of the same logical event collide.
func HashUpdate(u *update.Update) uint64 {
	return xxhash.Sum64String(string(u.Kind) + "|" + u.ID)
}
