// Package txmanager implements the Property Exchange transaction manager: the component
// that owns the request ID pool, the chunk assembler, and per-device inflight throttling
// for every outstanding Get/Set/Subscribe request.
package txmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/midici-go/midici/internal/chunkasm"
	"github.com/midici-go/midici/internal/cierrors"
	"github.com/midici-go/midici/internal/requestid"
	"github.com/midici-go/midici/internal/wire"
)

// DefaultMaxInflightPerDevice bounds how many simultaneous PE requests this manager will
// have open against a single device at once.
const DefaultMaxInflightPerDevice = 2

type txState struct {
	resource   string
	destMUID   wire.MUID
	beganAt    time.Time
	timeoutAt  time.Time
	lastActive time.Time
}

// Manager serializes access to the RequestIdPool and ChunkAssembler and arbitrates
// per-device inflight limits with FIFO fairness. Safe for concurrent use.
type Manager struct {
	mu                   sync.Mutex
	pool                 *requestid.Pool
	asm                  *chunkasm.Assembler
	transactions         map[uint8]*txState
	perDeviceInflight    map[wire.MUID]int
	perDeviceWaiters     map[wire.MUID][]chan struct{}
	maxInflightPerDevice int
}

// New creates a Manager with the given request ID cooldown, chunk reassembly timeout,
// and per-device inflight cap.
func New(cooldown, chunkTimeout time.Duration, maxInflightPerDevice int) *Manager {
	if maxInflightPerDevice <= 0 {
		maxInflightPerDevice = DefaultMaxInflightPerDevice
	}
	return &Manager{
		pool:                 requestid.New(cooldown),
		asm:                  chunkasm.New(chunkTimeout),
		transactions:         make(map[uint8]*txState),
		perDeviceInflight:    make(map[wire.MUID]int),
		perDeviceWaiters:     make(map[wire.MUID][]chan struct{}),
		maxInflightPerDevice: maxInflightPerDevice,
	}
}

// Begin reserves a request ID for a new transaction against destMUID, suspending the
// caller if the device's inflight cap is already reached. It returns RequestIDExhausted
// immediately, without suspending, if the pool has no available ID at all.
func (m *Manager) Begin(ctx context.Context, resource string, destMUID wire.MUID, timeout time.Duration) (uint8, error) {
	for {
		m.mu.Lock()
		now := time.Now()
		if m.pool.AvailableCount(now) == 0 {
			m.mu.Unlock()
			return 0, cierrors.NewRequestIDExhausted()
		}
		if m.perDeviceInflight[destMUID] >= m.maxInflightPerDevice {
			waitCh := make(chan struct{})
			m.perDeviceWaiters[destMUID] = append(m.perDeviceWaiters[destMUID], waitCh)
			m.mu.Unlock()
			select {
			case <-waitCh:
				continue
			case <-ctx.Done():
				m.removeWaiter(destMUID, waitCh)
				return 0, ctx.Err()
			}
		}

		m.perDeviceInflight[destMUID]++
		id, ok := m.pool.Acquire(now)
		if !ok {
			// Lost the race against another device's concurrent Begin; undo the
			// reservation and retry from the top.
			m.perDeviceInflight[destMUID]--
			m.mu.Unlock()
			continue
		}
		m.transactions[id] = &txState{
			resource:   resource,
			destMUID:   destMUID,
			beganAt:    now,
			timeoutAt:  now.Add(timeout),
			lastActive: now,
		}
		m.asm.Begin(id, now)
		m.mu.Unlock()
		return id, nil
	}
}

func (m *Manager) removeWaiter(muid wire.MUID, target chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiters := m.perDeviceWaiters[muid]
	for i, ch := range waiters {
		if ch == target {
			m.perDeviceWaiters[muid] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

// ProcessChunk delegates to the chunk assembler and, on Complete, releases the request
// ID and inflight slot and wakes the oldest waiter for that device.
func (m *Manager) ProcessChunk(id uint8, thisChunk, numChunks uint16, header, body []byte) chunkasm.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return chunkasm.Outcome{Kind: chunkasm.KindUnknownRequestID, RequestID: id}
	}
	now := time.Now()
	out := m.asm.AddChunk(id, thisChunk, numChunks, header, body, now)
	switch out.Kind {
	case chunkasm.KindComplete:
		m.releaseLocked(id, now)
	case chunkasm.KindIncomplete:
		tx.lastActive = now
	}
	return out
}

// Cancel idempotently releases id's request ID and inflight slot without returning a
// completion value. Safe to call even if id is unknown or already released.
func (m *Manager) Cancel(id uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(id, time.Now())
}

// CompleteWithError idempotently releases id's resources and returns a DeviceErrorResponse
// carrying status, for callers that need to resolve a waiting caller with a device-side
// error status rather than a successful PE reply.
func (m *Manager) CompleteWithError(id uint8, status int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(id, time.Now())
	return cierrors.NewDeviceError(status, message)
}

// CancelAll releases every transaction currently addressed to muid, used when the
// device is declared lost.
func (m *Manager) CancelAll(muid wire.MUID) []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var cancelled []uint8
	for id, tx := range m.transactions {
		if tx.destMUID == muid {
			cancelled = append(cancelled, id)
		}
	}
	for _, id := range cancelled {
		m.releaseLocked(id, now)
	}
	return cancelled
}

// CheckTimeouts releases every transaction whose scheduled timeout has elapsed as of
// now, returning their request IDs. Safe to call from either a single periodic task or
// a per-request timer, per the component's "both mechanisms interchangeable" contract.
func (m *Manager) CheckTimeouts(now time.Time) []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []uint8
	for id, tx := range m.transactions {
		if now.Before(tx.timeoutAt) {
			continue
		}
		expired = append(expired, id)
	}
	for _, id := range expired {
		m.releaseLocked(id, now)
	}
	return expired
}

// releaseLocked returns id's request ID to the pool, discards any partial chunk
// assembly, decrements the owning device's inflight count, and wakes its oldest waiter.
// Idempotent: a second call for an already-released id is a no-op. Callers must hold mu.
func (m *Manager) releaseLocked(id uint8, now time.Time) {
	tx, ok := m.transactions[id]
	if !ok {
		return
	}
	delete(m.transactions, id)
	m.asm.Cancel(id)
	m.pool.Release(id, now)

	if m.perDeviceInflight[tx.destMUID] > 0 {
		m.perDeviceInflight[tx.destMUID]--
	}
	if waiters := m.perDeviceWaiters[tx.destMUID]; len(waiters) > 0 {
		next := waiters[0]
		m.perDeviceWaiters[tx.destMUID] = waiters[1:]
		close(next)
	}
}

// Diagnostics is a point-in-time snapshot of transaction manager health.
type Diagnostics struct {
	InUse                int
	Cooling              int
	Available            int
	WaiterQueueLengths   map[wire.MUID]int
	OldestTransactionAge time.Duration
}

// Snapshot returns the manager's current Diagnostics as of now.
func (m *Manager) Snapshot(now time.Time) Diagnostics {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := Diagnostics{
		InUse:              len(m.transactions),
		Available:          m.pool.AvailableCount(now),
		WaiterQueueLengths: make(map[wire.MUID]int, len(m.perDeviceWaiters)),
	}
	for muid, waiters := range m.perDeviceWaiters {
		if len(waiters) > 0 {
			d.WaiterQueueLengths[muid] = len(waiters)
		}
	}
	for _, tx := range m.transactions {
		age := now.Sub(tx.beganAt)
		if age > d.OldestTransactionAge {
			d.OldestTransactionAge = age
		}
	}
	d.Cooling = requestid.PoolSize - d.InUse - d.Available
	if d.Cooling < 0 {
		d.Cooling = 0
	}
	return d
}

// String renders the diagnostics snapshot as a text block.
func (d Diagnostics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "inUse=%d cooling=%d available=%d oldestTransactionAge=%s\n", d.InUse, d.Cooling, d.Available, d.OldestTransactionAge)
	for muid, n := range d.WaiterQueueLengths {
		fmt.Fprintf(&b, "  waiters[muid=%#x]=%d\n", uint32(muid), n)
	}
	return b.String()
}
