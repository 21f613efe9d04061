package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(store UserStore) *PersistentTokenManager {
	return NewPersistentTokenManager(store, []byte("remember-me-secret"), 30, "remember-me", "example.com")
}

func TestIssueAppendsToken(t *testing.T) {
	store := newMemStore()
	user := store.add(&User{Username: "testUser"})

	mgr := newTestManager(store)
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return issued }

	tok, err := mgr.Issue(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.ID)
	assert.Equal(t, issued.Add(30*24*time.Hour), tok.ExpiresAt)

	stored, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, stored.Tokens, 1)
	assert.Equal(t, tok.ID, stored.Tokens[0].ID)
}

func TestCookieShape(t *testing.T) {
	store := newMemStore()
	user := store.add(&User{Username: "testUser"})
	mgr := newTestManager(store)

	tok, err := mgr.Issue(context.Background(), user.ID)
	require.NoError(t, err)

	cookie := mgr.Cookie(tok)
	assert.Equal(t, "remember-me", cookie.Name)
	assert.Equal(t, "example.com", cookie.Domain)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, tok.ExpiresAt, cookie.Expires)

	// Value is id.signature; the expiration never appears in the value.
	id, sig, ok := strings.Cut(cookie.Value, ".")
	require.True(t, ok)
	assert.Equal(t, tok.ID, id)
	assert.NotEmpty(t, sig)
	assert.NotContains(t, cookie.Value, tok.ExpiresAt.Format("2006"))
}

func TestOwnerResolvesWithoutConsuming(t *testing.T) {
	store := newMemStore()
	user := store.add(&User{Username: "testUser"})
	mgr := newTestManager(store)

	tok, err := mgr.Issue(context.Background(), user.ID)
	require.NoError(t, err)
	cookieValue := mgr.Cookie(tok).Value

	for i := 0; i < 2; i++ {
		owner, err := mgr.Owner(context.Background(), cookieValue)
		require.NoError(t, err)
		assert.Equal(t, "testUser", owner.Username)
	}

	stored, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Tokens, 1)
}

func TestOwnerResolvesExpiredToken(t *testing.T) {
	store := newMemStore()
	user := store.add(&User{Username: "testUser"})
	mgr := newTestManager(store)

	tok, err := mgr.Issue(context.Background(), user.ID)
	require.NoError(t, err)
	cookieValue := mgr.Cookie(tok).Value

	mgr.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	owner, err := mgr.Owner(context.Background(), cookieValue)
	require.NoError(t, err)
	assert.Equal(t, "testUser", owner.Username)

	_, err = mgr.Redeem(context.Background(), cookieValue)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestOwnerRejectsUnknownToken(t *testing.T) {
	store := newMemStore()
	store.add(&User{Username: "testUser"})
	mgr := newTestManager(store)

	_, err := mgr.Owner(context.Background(), mgr.signCookieValue("no-such-token"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = mgr.Owner(context.Background(), "unsigned-garbage")
	assert.ErrorIs(t, err, ErrInvalidAuthentication)
}

func TestRedeemConsumesToken(t *testing.T) {
	store := newMemStore()
	user := store.add(&User{Username: "testUser"})
	mgr := newTestManager(store)

	tok, err := mgr.Issue(context.Background(), user.ID)
	require.NoError(t, err)
	cookieValue := mgr.Cookie(tok).Value

	owner, err := mgr.Redeem(context.Background(), cookieValue)
	require.NoError(t, err)
	assert.Equal(t, "testUser", owner.Username)

	// Single use: the same cookie cannot be redeemed twice.
	_, err = mgr.Redeem(context.Background(), cookieValue)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRedeemExpiredToken(t *testing.T) {
	store := newMemStore()
	user := store.add(&User{Username: "testUser"})
	mgr := newTestManager(store)

	issued := time.Now()
	mgr.now = func() time.Time { return issued }
	tok, err := mgr.Issue(context.Background(), user.ID)
	require.NoError(t, err)
	cookieValue := mgr.Cookie(tok).Value

	mgr.now = func() time.Time { return issued.Add(30*24*time.Hour + time.Second) }
	_, err = mgr.Redeem(context.Background(), cookieValue)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRedeemRejectsTamperedValue(t *testing.T) {
	store := newMemStore()
	user := store.add(&User{Username: "testUser"})
	mgr := newTestManager(store)

	tok, err := mgr.Issue(context.Background(), user.ID)
	require.NoError(t, err)

	_, err = mgr.Redeem(context.Background(), tok.ID+".forged-signature")
	assert.ErrorIs(t, err, ErrInvalidAuthentication)

	_, err = mgr.Redeem(context.Background(), "no-separator")
	assert.ErrorIs(t, err, ErrInvalidAuthentication)

	// A valid signature minted under a different secret must not verify.
	other := NewPersistentTokenManager(store, []byte("other-secret"), 30, "remember-me", "example.com")
	_, err = mgr.Redeem(context.Background(), other.signCookieValue(tok.ID))
	assert.ErrorIs(t, err, ErrInvalidAuthentication)
}

func TestRevokeRemovesExpiredToken(t *testing.T) {
	store := newMemStore()
	user := store.add(&User{Username: "testUser"})
	mgr := newTestManager(store)

	issued := time.Now()
	mgr.now = func() time.Time { return issued }
	tok, err := mgr.Issue(context.Background(), user.ID)
	require.NoError(t, err)
	cookieValue := mgr.Cookie(tok).Value

	// Logout removes the entry even after it expired.
	mgr.now = func() time.Time { return issued.Add(31 * 24 * time.Hour) }
	require.NoError(t, mgr.Revoke(context.Background(), cookieValue))

	stored, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Tokens)
}
