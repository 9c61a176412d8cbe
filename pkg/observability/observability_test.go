package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsSafe(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)

	// Every instrument method must tolerate the nil instruments.
	p.RecordRunStarted(ctx, "scheduler")
	p.RecordRunFailed(ctx, "manual")
	p.RecordPublish(ctx, "posted", false)
	p.RecordPolicyFail(ctx, "HOLD")
	p.RecordNotify(ctx, "slack", "sent")
	p.ObserveAgentLatency(ctx, "writer", 2*time.Second)
	p.ObserveJobLatency(ctx, "daily_run", time.Minute)

	spanCtx, span := p.StartSpan(ctx, "noop")
	require.NotNil(t, spanCtx)
	span.End()

	assert.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "herald", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.Enabled)
	assert.InDelta(t, 1.0, cfg.SampleRate, 0.001)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
}

func TestNilConfigFallsBackToDefault(t *testing.T) {
	// A nil config means defaults, which point at a local collector; the
	// exporters dial lazily so construction succeeds without one.
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
}
