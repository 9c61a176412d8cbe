// Package auth secures the admin console. Logins are checked against bcrypt
// hashes in the users table; a successful login mints an HS256 JWT whose jti
// points at a revocable user_sessions row, so logout and compromise response
// are a single UPDATE rather than a key rotation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/store"
)

// ErrInvalidCredentials covers unknown usernames and wrong passwords alike,
// so responses do not reveal which half failed.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrSessionRevoked means the JWT was valid but its session row is gone,
// revoked, or past its expiry.
var ErrSessionRevoked = errors.New("auth: session revoked or expired")

// Claims are the JWT claims carried by admin sessions.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Service authenticates admins and verifies their sessions.
type Service struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Store is the slice of the persistence layer auth needs.
type Store interface {
	CreateUser(ctx context.Context, u *contracts.User) error
	GetUserByUsername(ctx context.Context, username string) (*contracts.User, error)
	TouchLastLogin(ctx context.Context, userID int64, now time.Time) error
	CreateSession(ctx context.Context, sess *contracts.UserSession) error
	GetSession(ctx context.Context, sessionID string) (*contracts.UserSession, error)
	RevokeSession(ctx context.Context, sessionID string, now time.Time) error
}

// NewService builds a Service. ttl bounds both the JWT exp and the session
// row.
func NewService(st Store, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{store: st, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// EnsureAdmin creates the bootstrap admin account if no user with that name
// exists. Existing accounts are left untouched, so a redeploy never resets a
// changed password.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("auth: lookup admin: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	u := &contracts.User{Username: username, PasswordHash: string(hash), CreatedAt: s.now().UTC()}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil // raced another replica; the account exists
		}
		return fmt.Errorf("auth: create admin: %w", err)
	}
	return nil
}

// Login verifies the password and mints a session token. The returned string
// is the signed JWT the client presents as a Bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn comparable time so missing users are not distinguishable
			// from wrong passwords.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0XGQ7PS/uh22mURqRRiKbGYRJG6"), []byte(password))
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("auth: lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := s.now().UTC()
	sessionID := uuid.New().String()
	sess := &contracts.UserSession{
		SessionID: sessionID,
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("auth: create session: %w", err)
	}
	if err := s.store.TouchLastLogin(ctx, u.ID, now); err != nil {
		return "", fmt.Errorf("auth: record login: %w", err)
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   fmt.Sprintf("%d", u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
		Username: u.Username,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

// Verify parses the JWT and checks that its session row is still live. It
// returns the principal for context injection.
func (s *Service) Verify(ctx context.Context, tokenStr string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid || claims.ID == "" {
		return nil, fmt.Errorf("auth: invalid token")
	}

	sess, err := s.store.GetSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, fmt.Errorf("auth: lookup session: %w", err)
	}
	now := s.now().UTC()
	if sess.RevokedAt != nil || now.After(sess.ExpiresAt) {
		return nil, ErrSessionRevoked
	}
	return &Principal{UserID: sess.UserID, Username: claims.Username, SessionID: sess.SessionID}, nil
}

// Logout revokes the session behind the token. Revoking an already-revoked
// session is not an error.
func (s *Service) Logout(ctx context.Context, tokenStr string) error {
	p, err := s.Verify(ctx, tokenStr)
	if err != nil {
		return err
	}
	if err := s.store.RevokeSession(ctx, p.SessionID, s.now().UTC()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("auth: revoke session: %w", err)
	}
	return nil
}
