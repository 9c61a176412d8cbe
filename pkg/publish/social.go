// Package publish owns the only side-effecting operation in the system:
// pushing an approved draft to the social API. Everything here is built
// around one invariant — however many processes, retries, or crashes are
// involved, each tweet position of a draft is published at most once.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Social creates tweets. inReplyTo is empty for the first tweet of a draft
// and carries the previous tweet id for thread replies.
type Social interface {
	CreateTweet(ctx context.Context, text, inReplyTo string) (string, error)
}

// APIError is a non-2xx answer from the social API. Temporary errors are
// worth retrying; the rest mean the request itself is wrong.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("publish: social api returned %d: %s", e.Status, e.Body)
}

// Temporary reports whether a retry could plausibly succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// XClient talks to an X API v2 compatible endpoint. Requests carry a static
// bearer token and are paced by a local limiter so a thread of five tweets
// does not trip the per-user write quota.
type XClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewXClient builds a client for baseURL (e.g. https://api.twitter.com/2).
func NewXClient(baseURL, bearerToken string) *XClient {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearerToken, TokenType: "Bearer"})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = 15 * time.Second
	return &XClient{
		baseURL: baseURL,
		client:  client,
		// One tweet per two seconds, small burst. Threads publish in order
		// anyway, so pacing costs nothing but spreads the writes.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 2),
	}
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Reply *tweetReply `json:"reply,omitempty"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// CreateTweet posts one tweet and returns its id. It makes exactly one API
// call; the caller owns the retry schedule.
func (c *XClient) CreateTweet(ctx context.Context, text, inReplyTo string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("publish: rate wait: %w", err)
	}

	payload := tweetRequest{Text: text}
	if inReplyTo != "" {
		payload.Reply = &tweetReply{InReplyToTweetID: inReplyTo}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("publish: marshal tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tweets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("publish: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish: post tweet: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("publish: read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}

	var out tweetResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("publish: decode response: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("publish: response carried no tweet id")
	}
	return out.Data.ID, nil
}
