// Package requestid implements the 128-slot 7-bit request ID allocator shared by every
// in-flight Property Exchange transaction. Released IDs enter a cooldown period before
// becoming reusable, so a late or duplicate response addressed to a closed transaction
// cannot be misattributed to a newly opened one that reused the same ID.
package requestid

import (
	"sync"
	"time"
)

// PoolSize is the number of distinct 7-bit request IDs (0..127).
const PoolSize = 128

// DefaultCooldown is the cooldown period applied when New is called with a negative duration.
const DefaultCooldown = 2 * time.Second

// Pool allocates and tracks 7-bit PE request IDs. Safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	cooldown time.Duration
	nextID   uint8
	inUse    map[uint8]struct{}
	cooling  map[uint8]time.Time // id -> releasedAt
}

// New creates a Pool with the given cooldown period. A zero cooldown disables cooldown
// entirely (an ID becomes reusable the instant it is released); a negative value is
// treated as DefaultCooldown.
func New(cooldown time.Duration) *Pool {
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	return &Pool{
		cooldown: cooldown,
		inUse:    make(map[uint8]struct{}, PoolSize),
		cooling:  make(map[uint8]time.Time, PoolSize),
	}
}

// Acquire returns the next available request ID, or ok=false if every ID is either in
// use or cooling down.
func (p *Pool) Acquire(now time.Time) (id uint8, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictCoolingLocked(now)

	for i := 0; i < PoolSize; i++ {
		candidate := p.nextID
		p.nextID = (p.nextID + 1) % PoolSize
		if _, busy := p.inUse[candidate]; busy {
			continue
		}
		if _, cooling := p.cooling[candidate]; cooling {
			continue
		}
		p.inUse[candidate] = struct{}{}
		return candidate, true
	}
	return 0, false
}

// Release returns id to the pool, silent if it was not in use. The ID enters cooldown
// (if the pool has one configured) before Acquire can hand it out again.
func (p *Pool) Release(id uint8, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, id)
	if p.cooldown > 0 {
		p.cooling[id] = now
	}
}

// ReleaseAll clears every in-use and cooling entry, used at shutdown.
func (p *Pool) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse = make(map[uint8]struct{}, PoolSize)
	p.cooling = make(map[uint8]time.Time, PoolSize)
}

// ForceExpireAllCooldowns immediately empties the cooling set. Test hook, exposed on the
// production type because transaction-manager tests need to simulate cooldown expiry
// without a real sleep.
func (p *Pool) ForceExpireAllCooldowns() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooling = make(map[uint8]time.Time, PoolSize)
}

// AvailableCount returns how many IDs are neither in use nor cooling, as of now.
func (p *Pool) AvailableCount(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictCoolingLocked(now)
	return PoolSize - len(p.inUse) - len(p.cooling)
}

func (p *Pool) evictCoolingLocked(now time.Time) {
	for id, releasedAt := range p.cooling {
		if now.Sub(releasedAt) >= p.cooldown {
			delete(p.cooling, id)
		}
	}
}
