package contracts

import "time"

// User is an admin account. Only the bcrypt hash of the password is stored.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// UserSession is a revocable admin session backing a JWT. Revocation is
// checked on every request, so a stolen JWT dies with its session row.
type UserSession struct {
	SessionID string     `json:"session_id"`
	UserID    int64      `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
