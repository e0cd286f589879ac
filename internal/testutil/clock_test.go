package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock_DefaultStart(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), clock.Now())
}

func TestManualClock_Frozen(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now(), "time must not move on its own")
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(time.Time{})
	start := clock.Now()

	got := clock.Advance(31 * time.Minute)
	assert.Equal(t, start.Add(31*time.Minute), got)
	assert.Equal(t, got, clock.Now())

	clock.Advance(-time.Hour)
	assert.Equal(t, got, clock.Now(), "negative advance is ignored")
}

func TestManualClock_Set(t *testing.T) {
	clock := NewManualClock(time.Time{})
	target := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	clock.Set(target)
	assert.Equal(t, target, clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(time.Time{})
	start := clock.Now()
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	require.Equal(t, start.Add(goroutines*time.Second), clock.Now())
}

func TestSequentialOwners(t *testing.T) {
	gen := NewSequentialOwners("")
	assert.Equal(t, "worker-1", gen.Generate())
	assert.Equal(t, "worker-2", gen.Generate())

	named := NewSequentialOwners("agent")
	assert.Equal(t, "agent-1", named.Generate())
}
