package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

func sampleMessage() Message {
	return Message{
		DraftID:    "d-1",
		RunID:      "r-1",
		Status:     contracts.DraftPending,
		Preview:    "Today: wired the notifier.",
		TweetCount: 1,
		PolicyPass: true,
		ExpiresAt:  time.Date(2026, 3, 3, 21, 0, 0, 0, time.UTC),
		Links: Links{
			View:       "http://h/a/view?t=v",
			Approve:    "http://h/a/approve?t=a",
			Skip:       "http://h/a/skip?t=s",
			Edit:       "http://h/a/edit?t=e",
			Regenerate: "http://h/a/regenerate?t=r",
		},
	}
}

func TestBuildLinks(t *testing.T) {
	raw := map[contracts.TokenAction]string{
		contracts.TokenView:       "v+1",
		contracts.TokenApprove:    "a",
		contracts.TokenSkip:       "s",
		contracts.TokenEdit:       "e",
		contracts.TokenRegenerate: "r",
	}
	links := BuildLinks("http://localhost:8085/", raw)
	assert.Equal(t, "http://localhost:8085/a/view?t=v%2B1", links.View, "token is query-escaped, trailing slash trimmed")
	assert.Equal(t, "http://localhost:8085/a/approve?t=a", links.Approve)
	assert.Equal(t, "http://localhost:8085/a/regenerate?t=r", links.Regenerate)
}

func TestMessageBody(t *testing.T) {
	m := sampleMessage()
	body := m.Body()
	assert.Contains(t, body, "Daily draft ready for review")
	assert.Contains(t, body, "Today: wired the notifier.")
	assert.Contains(t, body, "http://h/a/approve?t=a")
	assert.Contains(t, body, "Links expire 2026-03-03 21:00 UTC")
	assert.NotContains(t, body, "Policy gate: FAILED")
	assert.NotContains(t, body, "Dry-run")

	m.Status = contracts.DraftNeedsAttention
	m.PolicyPass = false
	m.PolicyAction = "REWRITE"
	m.DryRun = true
	m.TweetCount = 3
	body = m.Body()
	assert.Contains(t, body, "Draft needs attention")
	assert.Contains(t, body, "Thread of 3 tweets")
	assert.Contains(t, body, "suggested action: REWRITE")
	assert.Contains(t, body, "Dry-run mode is on")
}

type stubChannel struct {
	name string
	err  error
	sent []Message
}

func (s *stubChannel) Name() string { return s.name }
func (s *stubChannel) Send(_ context.Context, m Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func TestNotifierFanOut(t *testing.T) {
	good := &stubChannel{name: "email"}
	bad := &stubChannel{name: "slack", err: errors.New("webhook 404")}
	n := New(nil, good, nil, bad)

	res := n.Notify(context.Background(), sampleMessage())
	assert.True(t, res.Delivered())
	assert.Equal(t, []string{"email"}, res.Sent)
	require.Contains(t, res.Failed, "slack")
	assert.Len(t, good.sent, 1)
}

func TestNotifierNoChannels(t *testing.T) {
	n := New(nil)
	res := n.Notify(context.Background(), sampleMessage())
	assert.False(t, res.Delivered())
	assert.Empty(t, res.Failed)
}

func TestEmailChannel(t *testing.T) {
	assert.Nil(t, NewEmailChannel("", "587", "", "", "from@x", "to@x"), "missing host disables the channel")
	assert.Nil(t, NewEmailChannel("smtp.x", "587", "", "", "", "to@x"), "missing from disables the channel")

	ch := NewEmailChannel("smtp.example.com", "", "user", "pass", "herald@example.com", "reviewer@example.com")
	require.NotNil(t, ch)
	assert.Equal(t, "email", ch.Name())

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	ch.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		require.NotNil(t, a, "username set implies PLAIN auth")
		return nil
	}

	require.NoError(t, ch.Send(context.Background(), sampleMessage()))
	assert.Equal(t, "smtp.example.com:587", gotAddr, "port defaults to 587")
	assert.Equal(t, "herald@example.com", gotFrom)
	assert.Equal(t, []string{"reviewer@example.com"}, gotTo)
	text := string(gotMsg)
	assert.Contains(t, text, "Subject: Daily draft ready for review\r\n")
	assert.Contains(t, text, "To: reviewer@example.com\r\n")
	assert.Contains(t, text, "Today: wired the notifier.")
}

func TestSlackChannel(t *testing.T) {
	assert.Nil(t, NewSlackChannel("", nil))

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, nil)
	require.NotNil(t, ch)
	require.NoError(t, ch.Send(context.Background(), sampleMessage()))
	assert.Contains(t, got, `"text"`)
	assert.Contains(t, got, "Daily draft ready for review")
}

func TestSlackChannelRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, nil)
	err := ch.Send(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestWhatsAppChannel(t *testing.T) {
	assert.Nil(t, NewWhatsAppChannel("", "tok", nil))

	var auth, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ch := NewWhatsAppChannel(srv.URL, "tok-123", nil)
	require.NotNil(t, ch)
	require.NoError(t, ch.Send(context.Background(), sampleMessage()))
	assert.Equal(t, "Bearer tok-123", auth)
	assert.True(t, strings.Contains(body, `"type":"text"`))
}
