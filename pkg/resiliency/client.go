package resiliency

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/retry"
)

// Client wraps http.Client with the egress resilience patterns:
//   - bounded retries with exponential backoff and jitter
//   - circuit breaking per downstream
//   - W3C trace context injection
//
// Retries cover transport errors and 5xx responses; 4xx responses are
// returned to the caller unchanged, since repeating a rejected request
// will not change the answer.
type Client struct {
	client  *http.Client
	plan    retry.Plan
	breaker *CircuitBreaker
}

// Option adjusts a Client at construction time.
type Option func(*Client)

// WithTimeout bounds each individual attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithPlan replaces the retry plan.
func WithPlan(p retry.Plan) Option {
	return func(c *Client) { c.plan = p }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithTransport replaces the underlying round tripper. Tests use this to
// stub the network.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.client.Transport = rt }
}

// New returns a Client for the named downstream. The name only labels the
// breaker; it shows up in the fail-fast error.
func New(name string, opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: 15 * time.Second},
		plan:    retry.DefaultPlan(),
		breaker: NewCircuitBreaker(name, 5, 10*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes req, retrying per the plan. The request's context governs the
// whole call including backoff sleeps. Requests that may be retried must
// either have no body or carry a GetBody (http.NewRequest sets one for the
// common reader types).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("resiliency: circuit breaker open for %s", c.breaker.name)
	}
	req.Header.Set("traceparent", traceparent())

	var resp *http.Response
	err := retry.Do(req.Context(), c.plan, func(ctx context.Context) error {
		attempt, err := cloneRequest(ctx, req)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err = c.client.Do(attempt) //nolint:bodyclose // closed below or returned to caller
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			// Drain so the connection can be reused by the next attempt.
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("resiliency: %s returned %d", req.URL.Host, resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		c.breaker.Failure()
		return nil, err
	}
	c.breaker.Success()
	return resp, nil
}

// cloneRequest produces a fresh request for one attempt, restoring the body
// from GetBody so a retried POST carries its payload again.
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	attempt := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return attempt, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("resiliency: request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("resiliency: rewind request body: %w", err)
	}
	attempt.Body = body
	return attempt, nil
}

func traceparent() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("00-%032x-0000000000000001-01", time.Now().UnixNano())
	}
	return fmt.Sprintf("00-%s-0000000000000001-01", hex.EncodeToString(b[:]))
}
