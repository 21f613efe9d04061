package api

import "context"

// Group is a tenant: users belong to exactly one group and see only
// that group's cards.
type Group struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	RegistrationCode string `json:"registrationCode"`
}

// CreditCard is a card record owned by a group.
type CreditCard struct {
	ID       int64  `json:"id"`
	CardName string `json:"cardName"`
	GroupID  int64  `json:"groupId"`
}

// GroupStore persists groups.
type GroupStore interface {
	GetGroupByID(ctx context.Context, id int64) (*Group, error)
	GetGroupByRegistrationCode(ctx context.Context, code string) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	CreateGroup(ctx context.Context, g *Group) (int64, error)
	UpdateGroup(ctx context.Context, g *Group) error
	// DeleteGroup removes the group along with its users and cards.
	DeleteGroup(ctx context.Context, id int64) error
}

// CardStore persists credit cards.
type CardStore interface {
	GetCardByID(ctx context.Context, id int64) (*CreditCard, error)
	ListCardsByGroup(ctx context.Context, groupID int64) ([]*CreditCard, error)
	ListCards(ctx context.Context) ([]*CreditCard, error)
	CreateCard(ctx context.Context, c *CreditCard) (int64, error)
	UpdateCard(ctx context.Context, c *CreditCard) error
	DeleteCard(ctx context.Context, id int64) error
}

// Client-facing response messages. Handlers return these verbatim so
// the front end can match on them.
const (
	MsgLoginSuccess    = "user logged in successfully"
	MsgLogoutSuccess   = "user logged out successfully"
	MsgRequestSuccess  = "request processed successfully"
	MsgNotFound        = "requested data was not found"
	MsgProcessingError = "error processing the request"
	MsgLoginFailed     = "user login failed"
	MsgInvalidPassword = "invalid password provided"
)

// Error codes attached to validation failures in error envelopes.
const (
	CodeMissingField = 1
	CodeInvalidField = 2
	CodeNotPermitted = 3
)
