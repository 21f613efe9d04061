package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cardvault/cardvault/pkg/storage"
)

// IssuedToken is a freshly minted remember-me token, returned once so the
// caller can emit the cookie. The id never leaves the server unsigned.
type IssuedToken struct {
	ID        string
	ExpiresAt time.Time
}

// PersistentTokenManager creates, rotates, and revokes the long-lived
// remember-me tokens stored server-side on the user record. Cookie values
// are signed (id.signature) so a tampered id never reaches the store.
type PersistentTokenManager struct {
	store        UserStore
	secret       []byte
	lifetime     time.Duration
	cookieName   string
	cookieDomain string

	now func() time.Time
}

// NewPersistentTokenManager creates a manager issuing tokens valid for
// the given number of days.
func NewPersistentTokenManager(store UserStore, secret []byte, days int, cookieName, cookieDomain string) *PersistentTokenManager {
	return &PersistentTokenManager{
		store:        store,
		secret:       secret,
		lifetime:     time.Duration(days) * 24 * time.Hour,
		cookieName:   cookieName,
		cookieDomain: cookieDomain,
		now:          time.Now,
	}
}

// CookieName returns the name of the remember-me cookie
func (m *PersistentTokenManager) CookieName() string {
	return m.cookieName
}

// Issue appends a new remember-me token to the user's token list. The id
// is generated here, so no post-update readback is needed to recover it.
func (m *PersistentTokenManager) Issue(ctx context.Context, userID int64) (*IssuedToken, error) {
	tok := PersistentToken{
		ID:        uuid.NewString(),
		ExpiresAt: m.now().Add(m.lifetime),
	}

	if err := m.store.AppendToken(ctx, userID, tok); err != nil {
		return nil, fmt.Errorf("storing persistent token: %w", err)
	}

	return &IssuedToken{ID: tok.ID, ExpiresAt: tok.ExpiresAt}, nil
}

// Owner resolves the user owning the token referenced by a signed cookie
// value without consuming it. Expired entries still resolve their owner;
// Redeem is what enforces expiration.
func (m *PersistentTokenManager) Owner(ctx context.Context, cookieValue string) (*User, error) {
	id, err := m.verifyCookieValue(cookieValue)
	if err != nil {
		return nil, err
	}

	user, err := m.store.GetUserByTokenID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no user owns token %s: %w", id, ErrInvalidCredentials)
	} else if err != nil {
		return nil, fmt.Errorf("resolving persistent token owner: %w", err)
	}

	return user, nil
}

// Redeem consumes the token referenced by a signed cookie value and
// returns its owner. The matched entry is removed in the same store
// operation, so a second redemption of the same token fails.
func (m *PersistentTokenManager) Redeem(ctx context.Context, cookieValue string) (*User, error) {
	id, err := m.verifyCookieValue(cookieValue)
	if err != nil {
		return nil, err
	}

	user, err := m.store.RedeemToken(ctx, id, m.now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no user owns token %s: %w", id, ErrInvalidCredentials)
	} else if err != nil {
		return nil, fmt.Errorf("redeeming persistent token: %w", err)
	}

	return user, nil
}

// Revoke removes the token referenced by a signed cookie value from its
// owner's token list, regardless of expiration.
func (m *PersistentTokenManager) Revoke(ctx context.Context, cookieValue string) error {
	id, err := m.verifyCookieValue(cookieValue)
	if err != nil {
		return err
	}

	if err := m.store.RemoveToken(ctx, id); err != nil {
		return fmt.Errorf("removing persistent token: %w", err)
	}
	return nil
}

// Cookie builds the signed, httpOnly, domain-scoped remember-me cookie
// for an issued token.
func (m *PersistentTokenManager) Cookie(tok *IssuedToken) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    m.signCookieValue(tok.ID),
		Domain:   m.cookieDomain,
		Path:     "/",
		Expires:  tok.ExpiresAt,
		HttpOnly: true,
	}
}

// ExpiredCookie builds the already-expired replacement cookie used to
// clear the remember-me cookie at logout.
func (m *PersistentTokenManager) ExpiredCookie() *http.Cookie {
	return ExpiredCookie(m.cookieName, m.cookieDomain)
}

func (m *PersistentTokenManager) signCookieValue(id string) string {
	return id + "." + m.signature(id)
}

func (m *PersistentTokenManager) verifyCookieValue(value string) (string, error) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", fmt.Errorf("malformed remember-me cookie: %w", ErrInvalidAuthentication)
	}
	if !hmac.Equal([]byte(sig), []byte(m.signature(id))) {
		return "", fmt.Errorf("remember-me cookie signature mismatch: %w", ErrInvalidAuthentication)
	}
	return id, nil
}

func (m *PersistentTokenManager) signature(id string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
