package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/herald/pkg/resiliency"
)

// WhatsAppChannel posts to a WhatsApp Business API compatible endpoint. The
// provider URL carries the recipient; herald only supplies the message body
// and the bearer token.
type WhatsAppChannel struct {
	apiURL string
	token  string
	client *resiliency.Client
}

// NewWhatsAppChannel returns nil when the provider URL is unset.
func NewWhatsAppChannel(apiURL, token string, client *resiliency.Client) *WhatsAppChannel {
	if apiURL == "" {
		return nil
	}
	if client == nil {
		client = resiliency.New("whatsapp")
	}
	return &WhatsAppChannel{apiURL: apiURL, token: token, client: client}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

// Send posts a text message payload.
func (c *WhatsAppChannel) Send(ctx context.Context, m Message) error {
	payload, err := json.Marshal(map[string]any{
		"type": "text",
		"text": map[string]string{"body": m.Body()},
	})
	if err != nil {
		return fmt.Errorf("notify: whatsapp payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: whatsapp post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: whatsapp provider returned %d", resp.StatusCode)
	}
	return nil
}
