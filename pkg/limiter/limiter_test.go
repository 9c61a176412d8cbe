package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBurstThenDeny(t *testing.T) {
	s := NewMemoryStore()
	p := Policy{RPM: 60, Burst: 3}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := s.Allow(ctx, "ip:1.2.3.4", p, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := s.Allow(ctx, "ip:1.2.3.4", p, 1)
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	s := NewMemoryStore()
	p := Policy{RPM: 60, Burst: 1}
	ctx := context.Background()

	ok, err := s.Allow(ctx, "ip:a", p, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Allow(ctx, "ip:a", p, 1)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Allow(ctx, "ip:b", p, 1)
	require.NoError(t, err)
	assert.True(t, ok, "second key has its own bucket")
}

func TestBucketRefills(t *testing.T) {
	b := newBucket(100, 1) // 100 tokens/sec, capacity 1
	now := time.Now()
	require.True(t, b.allow(1, now))
	require.False(t, b.allow(1, now))
	assert.True(t, b.allow(1, now.Add(50*time.Millisecond)), "refilled after 50ms at 100/s")
}

func TestBucketCapsAtCapacity(t *testing.T) {
	b := newBucket(1000, 2)
	now := time.Now()
	require.True(t, b.allow(1, now))
	// A long idle period must not bank more than capacity.
	later := now.Add(time.Hour)
	require.True(t, b.allow(1, later))
	require.True(t, b.allow(1, later))
	assert.False(t, b.allow(1, later))
}

func TestEnforce(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, Enforce(ctx, nil, "x", Policy{}), "nil store allows")

	s := NewMemoryStore()
	p := Policy{RPM: 60, Burst: 1}
	require.NoError(t, Enforce(ctx, s, "actor", p))
	err := Enforce(ctx, s, "actor", p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLimited)
}

func TestPolicyDefaults(t *testing.T) {
	assert.Equal(t, 1.0, ratePerSec(Policy{}))
	assert.Equal(t, 0.5, ratePerSec(Policy{RPM: 30}))
	assert.Equal(t, 1, burst(Policy{}))
	assert.Equal(t, 30, burst(Policy{RPM: 30}))
	assert.Equal(t, 5, burst(Policy{RPM: 30, Burst: 5}))
}
