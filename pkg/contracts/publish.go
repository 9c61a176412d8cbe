package contracts

import "time"

// Post is one published tweet belonging to a draft. The unique constraints
// on (draft_id, position), tweet_id and publish_idempotency_key are the
// at-most-once publication guarantee.
type Post struct {
	ID                    int64     `json:"id"`
	DraftID               string    `json:"draft_id"`
	Position              int       `json:"position"`
	TweetID               string    `json:"tweet_id"`
	Content               string    `json:"content"`
	PostedAt              time.Time `json:"posted_at"`
	PublishIdempotencyKey string    `json:"publish_idempotency_key"`
}

// AttemptStatus tracks one publish attempt.
type AttemptStatus string

const (
	AttemptStarted   AttemptStatus = "started"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

// PublishAttempt is the row-level lease that serializes publication of a
// draft. The (draft_id, attempt) unique constraint is the lock: whoever
// inserts the row owns the attempt.
type PublishAttempt struct {
	ID          int64         `json:"id"`
	DraftID     string        `json:"draft_id"`
	Attempt     int           `json:"attempt"`
	Owner       string        `json:"owner,omitempty"`
	Status      AttemptStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
}
