package contracts

import "time"

// TokenAction names the operation an action token authorizes.
type TokenAction string

const (
	TokenView       TokenAction = "view"
	TokenEdit       TokenAction = "edit"
	TokenApprove    TokenAction = "approve"
	TokenSkip       TokenAction = "skip"
	TokenRegenerate TokenAction = "regenerate"
)

// OneTime reports whether a token for this action is consumed on first use.
// Approve and skip are one-shot; review actions stay usable until expiry.
func (a TokenAction) OneTime() bool {
	return a == TokenApprove || a == TokenSkip
}

// AllTokenActions lists the actions issued for every draft, in issue order.
var AllTokenActions = []TokenAction{TokenView, TokenEdit, TokenApprove, TokenSkip, TokenRegenerate}

// ActionToken is the persisted form of an issued token. Only the SHA-256 hex
// of the raw bearer string is stored; the raw string exists once, in the
// reviewer notification.
type ActionToken struct {
	ID         int64       `json:"id"`
	DraftID    string      `json:"draft_id"`
	Action     TokenAction `json:"action"`
	TokenHash  string      `json:"token_hash"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
	OneTime    bool        `json:"one_time"`
	ConsumedAt *time.Time  `json:"consumed_at,omitempty"`
}
