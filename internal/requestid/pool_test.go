package requestid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAcquireExhaustion(t *testing.T) {
	p := New(time.Second)
	now := time.Now()
	seen := make(map[uint8]bool)
	for i := 0; i < PoolSize; i++ {
		id, ok := p.Acquire(now)
		require.True(t, ok)
		require.False(t, seen[id], "id %d acquired twice before any release", id)
		seen[id] = true
	}
	_, ok := p.Acquire(now)
	require.False(t, ok, "pool should be exhausted")
}

func TestReleaseEntersCooldown(t *testing.T) {
	p := New(time.Minute)
	now := time.Now()
	id, ok := p.Acquire(now)
	require.True(t, ok)
	p.Release(id, now)

	// Drain every other ID so Acquire is forced to reconsider the just-released one.
	for i := 0; i < PoolSize-1; i++ {
		_, ok := p.Acquire(now)
		require.True(t, ok)
	}
	_, ok = p.Acquire(now)
	require.False(t, ok, "released id should still be cooling")
}

func TestCooldownExpiry(t *testing.T) {
	p := New(time.Second)
	now := time.Now()
	id, ok := p.Acquire(now)
	require.True(t, ok)
	p.Release(id, now)

	later := now.Add(2 * time.Second)
	for i := 0; i < PoolSize; i++ {
		got, ok := p.Acquire(later)
		require.True(t, ok)
		if got == id {
			return
		}
	}
	t.Fatalf("id %d never became available again after cooldown expired", id)
}

func TestForceExpireAllCooldowns(t *testing.T) {
	p := New(time.Hour)
	now := time.Now()
	id, ok := p.Acquire(now)
	require.True(t, ok)
	p.Release(id, now)
	require.Equal(t, PoolSize-1, p.AvailableCount(now))

	p.ForceExpireAllCooldowns()
	require.Equal(t, PoolSize, p.AvailableCount(now))
}

func TestReleaseAllClearsEverything(t *testing.T) {
	p := New(time.Hour)
	now := time.Now()
	for i := 0; i < 10; i++ {
		_, ok := p.Acquire(now)
		require.True(t, ok)
	}
	p.ReleaseAll()
	require.Equal(t, PoolSize, p.AvailableCount(now))
}

func TestReleaseOfUnacquiredIDIsSilent(t *testing.T) {
	p := New(time.Second)
	require.NotPanics(t, func() {
		p.Release(42, time.Now())
	})
}

func TestZeroCooldownMakesIDImmediatelyReusable(t *testing.T) {
	p := New(0)
	now := time.Now()
	id, ok := p.Acquire(now)
	require.True(t, ok)
	p.Release(id, now)
	require.Equal(t, PoolSize, p.AvailableCount(now))
}

func TestPoolDisciplineRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := New(time.Millisecond)
		now := time.Now()
		inUse := make(map[uint8]bool)
		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "doAcquire") || len(inUse) == 0 {
				id, ok := p.Acquire(now)
				if ok {
					if inUse[id] {
						t.Fatalf("acquired id %d that is already in use", id)
					}
					inUse[id] = true
				}
			} else {
				var victim uint8
				for id := range inUse {
					victim = id
					break
				}
				p.Release(victim, now)
				delete(inUse, victim)
			}
			now = now.Add(time.Millisecond)
		}
		require.LessOrEqual(t, len(inUse), PoolSize)
	})
}
