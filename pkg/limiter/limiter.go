// Package limiter provides token-bucket rate limiting for the HTTP surface
// and for expensive reviewer actions. A single-process deployment uses the
// in-memory store; deployments behind a load balancer share buckets through
// Redis so the limit holds across replicas.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLimited is returned by Enforce when the bucket is empty. The API layer
// maps it to 429.
var ErrLimited = errors.New("limiter: rate limit exceeded")

// Policy describes one bucket: steady-state requests per minute and the
// burst the bucket can absorb.
type Policy struct {
	RPM   int
	Burst int
}

// Store hands out tokens. Allow reports whether key may spend cost tokens
// under policy.
type Store interface {
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

// Enforce is the single-token check most callers want. A nil store allows
// everything, so rate limiting is strictly opt-in.
func Enforce(ctx context.Context, store Store, key string, policy Policy) error {
	if store == nil {
		return nil
	}
	ok, err := store.Allow(ctx, key, policy, 1)
	if err != nil {
		return fmt.Errorf("limiter: check %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLimited, key)
	}
	return nil
}

// bucket is one refillable token bucket.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(ratePerSec float64, capacity int) *bucket {
	return &bucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: ratePerSec,
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow(cost int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return true
	}
	return false
}

// MemoryStore keeps buckets per key in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

// Allow implements Store.
func (s *MemoryStore) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = newBucket(ratePerSec(policy), burst(policy))
		s.buckets[key] = b
	}
	s.mu.Unlock()
	return b.allow(cost, time.Now()), nil
}

func ratePerSec(p Policy) float64 {
	rate := float64(p.RPM) / 60.0
	if rate <= 0 {
		rate = 1
	}
	return rate
}

func burst(p Policy) int {
	if p.Burst > 0 {
		return p.Burst
	}
	if p.RPM > 0 {
		return p.RPM
	}
	return 1
}
