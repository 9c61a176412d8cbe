package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/herald/pkg/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return NewService(st, "test-secret", time.Hour), st
}

func TestEnsureAdminIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "hunter2"))
	u, err := st.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	first := u.PasswordHash

	// A second bootstrap must not rewrite the stored hash.
	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "different-password"))
	u, err = st.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, first, u.PasswordHash)

	// Blank credentials disable bootstrap entirely.
	require.NoError(t, svc.EnsureAdmin(ctx, "", ""))
}

func TestLoginAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "hunter2"))

	token, err := svc.Login(ctx, "admin", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	p, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "admin", p.Username)
	assert.NotEmpty(t, p.SessionID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "hunter2"))

	_, err := svc.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown user and bad password are indistinguishable")
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "hunter2"))
	token, err := svc.Login(ctx, "admin", "hunter2")
	require.NoError(t, err)

	other := NewService(svc.store, "other-secret", time.Hour)
	_, err = other.Verify(ctx, token)
	assert.Error(t, err, "token signed with a different secret must fail")

	_, err = svc.Verify(ctx, token+"x")
	assert.Error(t, err)
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "hunter2"))
	token, err := svc.Login(ctx, "admin", "hunter2")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, token))

	_, err = svc.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrSessionRevoked, "a revoked session kills the JWT before its exp")
}

func TestVerifyHonorsSessionExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "hunter2"))

	base := time.Now().UTC()
	svc.now = func() time.Time { return base }
	token, err := svc.Login(ctx, "admin", "hunter2")
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = svc.Verify(ctx, token)
	assert.Error(t, err, "session past its TTL must not verify")
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "system", Actor(ctx))

	_, err := GetPrincipal(ctx)
	require.Error(t, err)

	ctx = WithPrincipal(ctx, &Principal{UserID: 7, Username: "admin", SessionID: "s-1"})
	p, err := GetPrincipal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)
	assert.Equal(t, "admin", Actor(ctx))
}
