package auth

import (
	"context"
	"errors"
	"time"
)

// Role is the access level assigned to a user account
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Error values for the authentication taxonomy. Their messages are the
// exact strings returned to clients in the response envelope.
var (
	// ErrInvalidRequest means a required field was absent; checked before
	// any store access.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredentials covers both unknown username and wrong
	// password, intentionally indistinguishable to the client.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrUserLockedOut is returned while an account lockout is active.
	ErrUserLockedOut = errors.New("user account is locked out")
	// ErrInvalidAuthentication is the guard rejection for a bad, missing,
	// or mismatched token pair with no usable persistent token.
	ErrInvalidAuthentication = errors.New("invalid authentication provided")
	// ErrNotAuthorized means the caller is authenticated but lacks the
	// required role.
	ErrNotAuthorized = errors.New("not authorized")
)

// PersistentToken is a single-use remember-me entry embedded in the
// owning user record. Expired entries are dead but only purged on use or
// by the scheduled cleanup job.
type PersistentToken struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// User is a credential-store record
type User struct {
	ID                int64             `json:"id"`
	Username          string            `json:"username"`
	FirstName         string            `json:"firstName,omitempty"`
	LastName          string            `json:"lastName,omitempty"`
	Email             string            `json:"email,omitempty"`
	GroupID           int64             `json:"groupId"`
	Role              Role              `json:"role"`
	PasswordHash      string            `json:"-"`
	LockoutExpiration *time.Time        `json:"-"`
	Tokens            []PersistentToken `json:"-"`
}

// Locked reports whether the account lockout is still active at now.
// A nil or past expiration means not locked.
func (u *User) Locked(now time.Time) bool {
	return u.LockoutExpiration != nil && u.LockoutExpiration.After(now)
}

// Sanitized returns the API-safe view of the user: no password hash, no
// token list, no lockout expiration.
func (u *User) Sanitized() *SanitizedUser {
	return &SanitizedUser{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		GroupID:   u.GroupID,
		Role:      u.Role,
	}
}

// Identity returns the claim set carried by the user's session tokens.
func (u *User) Identity() Identity {
	return Identity{Username: u.Username, Role: u.Role, GroupID: u.GroupID}
}

// SanitizedUser is the user shape embedded in API responses
type SanitizedUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	GroupID   int64  `json:"groupId"`
	Role      Role   `json:"role"`
}

// Identity is the resolved caller identity attached to the request
// context by the authentication guard
type Identity struct {
	Username string
	Role     Role
	GroupID  int64
}

// IsAdmin reports whether the identity carries the admin role
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// UserQuery filters admin user listings. Zero values mean no filter.
type UserQuery struct {
	Username string
	GroupID  int64
	Role     Role
}

// UserStore is the credential-store collaborator. Implementations return
// storage.ErrNotFound when no record matches.
type UserStore interface {
	// GetUserByUsername performs a case-sensitive exact-match lookup.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context, q UserQuery) ([]*User, error)
	CreateUser(ctx context.Context, u *User) (int64, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id int64) error

	// SetLockout persists the lockout expiration on the user record.
	SetLockout(ctx context.Context, userID int64, until time.Time) error

	// AppendToken atomically appends a persistent token to the user's
	// token list.
	AppendToken(ctx context.Context, userID int64, tok PersistentToken) error
	// GetUserByTokenID returns the user owning the token with the given
	// id, regardless of its expiration, without consuming it.
	GetUserByTokenID(ctx context.Context, tokenID string) (*User, error)
	// RedeemToken atomically removes the unexpired token with the given id
	// from whichever user owns it and returns that user. Expired entries
	// match nothing. Returns storage.ErrNotFound when no user owns an
	// unexpired token with that id.
	RedeemToken(ctx context.Context, tokenID string, now time.Time) (*User, error)
	// RemoveToken removes the token with the given id regardless of
	// expiration, for logout.
	RemoveToken(ctx context.Context, tokenID string) error
}
