package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/herald/pkg/config"
	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/llm"
)

// fakeLLM records prompts and replays a canned reply.
type fakeLLM struct {
	reply string
	err   error
	calls []string
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, opts *llm.Options) (string, error) {
	f.calls = append(f.calls, messages[len(messages)-1].Content)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) lastPrompt() string {
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func newTestState() *State {
	return &State{
		Run: &contracts.Run{ID: "run-1", Source: "manual", Status: contracts.RunRunning},
		Settings: config.Settings{
			RewriteMax:             1,
			SimilarityThreshold:    0.6,
			ThreadEnabled:          true,
			ThreadMaxTweets:        5,
			ThreadNumberingEnabled: true,
			DryRun:                 true,
		},
		Style: contracts.StyleProfile{
			OpenerTemplates:  []string{"Today:"},
			ForbiddenPhrases: []string{"game changer"},
			SentenceLength:   "short",
			VoiceRules:       []string{"No marketing"},
		},
	}
}

type stubStage struct {
	name string
	fn   func(ctx context.Context, st *State) error
}

func (s *stubStage) Name() string                                { return s.name }
func (s *stubStage) Execute(ctx context.Context, st *State) error { return s.fn(ctx, st) }

func TestExecuteRecordsAgentLog(t *testing.T) {
	st := newTestState()
	stage := &stubStage{name: "probe", fn: func(ctx context.Context, st *State) error {
		st.Warn("something minor")
		st.Topic = contracts.TopicPlan{TopicBucket: 2, KeyPoints: []string{"a", "b"}}
		return nil
	}}

	require.NoError(t, Execute(context.Background(), stage, st))
	require.Len(t, st.Logs, 1)

	entry := st.Logs[0]
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, "probe", entry.StageName)
	assert.GreaterOrEqual(t, entry.DurationMS, int64(0))
	assert.Equal(t, []string{"something minor"}, entry.Warnings)
	assert.Contains(t, entry.OutputSummary, "topic(bucket=2 points=2)")
	assert.NotContains(t, entry.InputSummary, "topic(")
	assert.Empty(t, entry.Errors)

	// Warnings belong to the stage that raised them.
	require.NoError(t, Execute(context.Background(), &stubStage{name: "next", fn: func(context.Context, *State) error { return nil }}, st))
	assert.Empty(t, st.Logs[1].Warnings)
}

func TestExecuteRecordsTruncatedError(t *testing.T) {
	st := newTestState()
	long := strings.Repeat("x", 600)
	stage := &stubStage{name: "boom", fn: func(context.Context, *State) error {
		return errors.New(long)
	}}

	err := Execute(context.Background(), stage, st)
	require.Error(t, err)
	require.Len(t, st.Logs, 1)
	assert.Len(t, st.Logs[0].Errors, 500)
}

func TestFlushWarningsAddsSyntheticEntry(t *testing.T) {
	st := newTestState()
	st.Warn("notify email: connection refused")
	st.Warn("archive: bucket gone")

	st.FlushWarnings("delivery")
	require.Len(t, st.Logs, 1)
	assert.Equal(t, "delivery", st.Logs[0].StageName)
	assert.Equal(t, []string{"notify email: connection refused", "archive: bucket gone"}, st.Logs[0].Warnings)

	// Nothing pending, nothing added.
	st.FlushWarnings("delivery")
	assert.Len(t, st.Logs, 1)
}

func TestChatJSONWithoutClient(t *testing.T) {
	_, err := chatJSON(context.Background(), nil, "prompt")
	require.ErrorIs(t, err, errNoLLM)
}

func TestDescribeEmptyState(t *testing.T) {
	st := newTestState()
	assert.Equal(t, "materials(git=0 notes=0 links=0 errors=0)", st.Describe())
}
