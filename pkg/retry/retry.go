// Package retry provides bounded exponential backoff for outbound calls.
// Delays are a pure function of the plan and the attempt index, so retry
// schedules can be asserted in tests and reproduced from logs.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Plan describes a bounded exponential backoff.
type Plan struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Base is the delay before the second attempt.
	Base time.Duration
	// Factor multiplies the delay after each failed attempt.
	Factor float64
	// JitterSeed, when non-empty, adds up to 25% deterministic jitter
	// derived from (seed, attempt). Distinct seeds de-synchronize workers
	// without losing reproducibility.
	JitterSeed string
}

// DefaultPlan matches the pipeline's external-call budget: three attempts,
// half-second base, doubling.
func DefaultPlan() Plan {
	return Plan{Attempts: 3, Base: 500 * time.Millisecond, Factor: 2}
}

// Delay returns the wait before attempt i (0-based). Delay(0) is zero: the
// first attempt is immediate.
func (p Plan) Delay(i int) time.Duration {
	if i <= 0 || p.Base <= 0 {
		return 0
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	d := float64(p.Base)
	for n := 1; n < i; n++ {
		d *= factor
	}
	if p.JitterSeed != "" {
		d += d * jitterFraction(p.JitterSeed, i)
	}
	return time.Duration(d)
}

// jitterFraction maps (seed, attempt) to [0, 0.25).
func jitterFraction(seed string, attempt int) float64 {
	h := sha256.New()
	h.Write([]byte(seed))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(attempt))
	h.Write(buf[:])
	v := binary.BigEndian.Uint64(h.Sum(nil)[:8])
	return float64(v%1000) / 4000.0
}

// PermanentError marks a failure that repeating the call cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do runs fn until it returns nil or the plan is exhausted. The context is
// honoured between attempts; a context error is returned as-is so callers can
// distinguish cancellation from exhaustion. An error wrapped by Permanent
// short-circuits the loop.
func Do(ctx context.Context, p Plan, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(i)):
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
	}
	return fmt.Errorf("retry: %d attempts exhausted: %w", attempts, err)
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, p Plan, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
