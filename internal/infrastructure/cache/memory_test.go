package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClaims() (*MemoryClaims, *clock) {
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewMemoryClaims()
	m.now = c.now
	return m, c
}

const labKey = "order-dispatch:budget:item:lab_order"

func TestMemoryClaims_ClaimUntilExpiry(t *testing.T) {
	m, c := newClaims()
	ctx := context.Background()

	ok, err := m.Claim(ctx, labKey, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.Claim(ctx, labKey, time.Hour)
	assert.False(t, ok, "second caller loses while the claim is held")

	held, _ := m.Held(ctx, labKey)
	assert.True(t, held)

	c.advance(time.Hour)
	held, _ = m.Held(ctx, labKey)
	assert.False(t, held, "claim lapses at its TTL")

	ok, _ = m.Claim(ctx, labKey, time.Hour)
	assert.True(t, ok)
}

func TestMemoryClaims_Release(t *testing.T) {
	m, _ := newClaims()
	ctx := context.Background()

	_, _ = m.Claim(ctx, labKey, time.Hour)
	require.NoError(t, m.Release(ctx, labKey))
	require.NoError(t, m.Release(ctx, "never-claimed"))

	ok, _ := m.Claim(ctx, labKey, time.Hour)
	assert.True(t, ok)
}

func TestMemoryClaims_PurgesLapsedKeys(t *testing.T) {
	m, c := newClaims()
	ctx := context.Background()

	_, _ = m.Claim(ctx, "long", 24*time.Hour)
	for i := 0; i < sweepEvery-2; i++ {
		_, _ = m.Claim(ctx, fmt.Sprintf("short-%d", i), time.Minute)
	}
	c.advance(2 * time.Minute)
	assert.Equal(t, sweepEvery-1, m.Len())

	// the claim that reaches sweepEvery triggers the purge
	_, _ = m.Claim(ctx, "trigger", time.Minute)
	assert.Equal(t, 2, m.Len())

	held, _ := m.Held(ctx, "long")
	assert.True(t, held)
}

func TestMemoryClaims_OneWinnerUnderContention(t *testing.T) {
	m, _ := newClaims()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := m.Claim(ctx, labKey, time.Hour); err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
