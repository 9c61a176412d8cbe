// Package notify tells the reviewer a draft is waiting. Delivery is fan-out
// across independent channels (email, Slack webhook, WhatsApp) and strictly
// best-effort: a channel failure is reported, never propagated, because the
// draft and its action links already exist — a lost notification costs a
// reminder, not data.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// Links are the token URLs embedded in a notification. View opens the
// reviewer page; the rest are the action endpoints.
type Links struct {
	View       string
	Approve    string
	Skip       string
	Edit       string
	Regenerate string
}

// BuildLinks renders action URLs from the public base URL and raw tokens.
func BuildLinks(baseURL string, raw map[contracts.TokenAction]string) Links {
	link := func(action contracts.TokenAction) string {
		tok, ok := raw[action]
		if !ok {
			return ""
		}
		return fmt.Sprintf("%s/a/%s?t=%s", strings.TrimRight(baseURL, "/"), action, url.QueryEscape(tok))
	}
	return Links{
		View:       link(contracts.TokenView),
		Approve:    link(contracts.TokenApprove),
		Skip:       link(contracts.TokenSkip),
		Edit:       link(contracts.TokenEdit),
		Regenerate: link(contracts.TokenRegenerate),
	}
}

// Message is one reviewer notification.
type Message struct {
	DraftID      string
	RunID        string
	Status       contracts.DraftStatus
	Preview      string
	TweetCount   int
	PolicyPass   bool
	PolicyAction string // suggested action when the gate failed
	DryRun       bool
	ExpiresAt    time.Time
	Links        Links
}

// Subject renders the notification subject line.
func (m Message) Subject() string {
	if m.Status == contracts.DraftNeedsAttention {
		return "Draft needs attention before publishing"
	}
	return "Daily draft ready for review"
}

// Body renders the plain-text notification shared by all channels.
func (m Message) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", m.Subject())
	if m.TweetCount > 1 {
		fmt.Fprintf(&b, "Thread of %d tweets. First tweet:\n%s\n\n", m.TweetCount, m.Preview)
	} else {
		fmt.Fprintf(&b, "%s\n\n", m.Preview)
	}
	if !m.PolicyPass {
		fmt.Fprintf(&b, "Policy gate: FAILED (suggested action: %s). Approval stays blocked until the draft passes.\n\n", m.PolicyAction)
	}
	if m.DryRun {
		b.WriteString("Dry-run mode is on: approving records the draft without posting.\n\n")
	}
	fmt.Fprintf(&b, "Review:     %s\n", m.Links.View)
	fmt.Fprintf(&b, "Approve:    %s\n", m.Links.Approve)
	fmt.Fprintf(&b, "Skip:       %s\n", m.Links.Skip)
	fmt.Fprintf(&b, "Edit:       %s\n", m.Links.Edit)
	fmt.Fprintf(&b, "Regenerate: %s\n", m.Links.Regenerate)
	fmt.Fprintf(&b, "\nLinks expire %s.\n", m.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
	return b.String()
}

// Channel delivers a Message somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Result reports per-channel delivery. Sent and Failed never share a
// channel.
type Result struct {
	Sent   []string
	Failed map[string]error
}

// Delivered reports whether at least one channel accepted the message.
func (r Result) Delivered() bool { return len(r.Sent) > 0 }

// Notifier fans a message out to all configured channels.
type Notifier struct {
	channels []Channel
	log      *slog.Logger
}

// New builds a Notifier. Nil channels are dropped, so callers can pass the
// result of conditional construction directly.
func New(log *slog.Logger, channels ...Channel) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	n := &Notifier{log: log}
	for _, c := range channels {
		if c != nil {
			n.channels = append(n.channels, c)
		}
	}
	return n
}

// Notify sends m on every channel and reports what happened. It never
// returns an error; inspect the Result when delivery matters.
func (n *Notifier) Notify(ctx context.Context, m Message) Result {
	res := Result{Failed: map[string]error{}}
	for _, ch := range n.channels {
		if err := ch.Send(ctx, m); err != nil {
			res.Failed[ch.Name()] = err
			n.log.Warn("notification failed", "channel", ch.Name(), "draft_id", m.DraftID, "error", err)
			continue
		}
		res.Sent = append(res.Sent, ch.Name())
		n.log.Info("notification sent", "channel", ch.Name(), "draft_id", m.DraftID)
	}
	if len(n.channels) == 0 {
		n.log.Warn("no notification channels configured", "draft_id", m.DraftID)
	}
	return res
}
