package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/herald/pkg/resiliency"
)

// SlackChannel posts to an incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *resiliency.Client
}

// NewSlackChannel returns nil when no webhook is configured.
func NewSlackChannel(webhookURL string, client *resiliency.Client) *SlackChannel {
	if webhookURL == "" {
		return nil
	}
	if client == nil {
		client = resiliency.New("slack")
	}
	return &SlackChannel{webhookURL: webhookURL, client: client}
}

func (c *SlackChannel) Name() string { return "slack" }

// Send posts the message text as a single webhook payload.
func (c *SlackChannel) Send(ctx context.Context, m Message) error {
	payload, err := json.Marshal(map[string]string{"text": m.Body()})
	if err != nil {
		return fmt.Errorf("notify: slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
