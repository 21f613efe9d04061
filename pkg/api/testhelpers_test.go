package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cardvault/cardvault/pkg/auth"
	"github.com/cardvault/cardvault/pkg/middleware"
	"github.com/cardvault/cardvault/pkg/observability"
	"github.com/cardvault/cardvault/pkg/storage"
)

const (
	testHeaderName    = "credit-cards-authentication"
	testSessionCookie = "session"
	testRememberMe    = "remember-me"
)

// fakeStore is an in-memory implementation of the user, group, and card
// stores for handler tests.
type fakeStore struct {
	mu sync.Mutex

	nextUserID  int64
	nextGroupID int64
	nextCardID  int64

	// userLookups counts GetUserByUsername calls, for asserting that
	// invalid requests never reach the credential store.
	userLookups int

	users  map[int64]*auth.User
	groups map[int64]*Group
	cards  map[int64]*CreditCard
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextUserID:  1,
		nextGroupID: 1,
		nextCardID:  1,
		users:       make(map[int64]*auth.User),
		groups:      make(map[int64]*Group),
		cards:       make(map[int64]*CreditCard),
	}
}

func (f *fakeStore) addUser(u *auth.User) *auth.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == 0 {
		u.ID = f.nextUserID
		f.nextUserID++
	}
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) addGroup(g *Group) *Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g.ID == 0 {
		g.ID = f.nextGroupID
		f.nextGroupID++
	}
	f.groups[g.ID] = g
	return g
}

func (f *fakeStore) addCard(c *CreditCard) *CreditCard {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == 0 {
		c.ID = f.nextCardID
		f.nextCardID++
	}
	f.cards[c.ID] = c
	return c
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userLookups++
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) ListUsers(_ context.Context, q auth.UserQuery) ([]*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*auth.User
	for _, u := range f.users {
		if q.Username != "" && u.Username != q.Username {
			continue
		}
		if q.GroupID != 0 && u.GroupID != q.GroupID {
			continue
		}
		if q.Role != "" && u.Role != q.Role {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeStore) CreateUser(_ context.Context, u *auth.User) (int64, error) {
	return f.addUser(u).ID, nil
}

func (f *fakeStore) UpdateUser(_ context.Context, u *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		return storage.ErrNotFound
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeStore) SetLockout(_ context.Context, userID int64, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.LockoutExpiration = &until
	return nil
}

func (f *fakeStore) AppendToken(_ context.Context, userID int64, tok auth.PersistentToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Tokens = append(u.Tokens, tok)
	return nil
}

func (f *fakeStore) GetUserByTokenID(_ context.Context, tokenID string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		for _, tok := range u.Tokens {
			if tok.ID == tokenID {
				return u, nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) RedeemToken(_ context.Context, tokenID string, now time.Time) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		for i, tok := range u.Tokens {
			if tok.ID == tokenID && tok.ExpiresAt.After(now) {
				u.Tokens = append(u.Tokens[:i], u.Tokens[i+1:]...)
				return u, nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) RemoveToken(_ context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		for i, tok := range u.Tokens {
			if tok.ID == tokenID {
				u.Tokens = append(u.Tokens[:i], u.Tokens[i+1:]...)
				return nil
			}
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) GetGroupByID(_ context.Context, id int64) (*Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[id]; ok {
		return g, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetGroupByRegistrationCode(_ context.Context, code string) (*Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.groups {
		if g.RegistrationCode == code {
			return g, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) ListGroups(context.Context) ([]*Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Group
	for _, g := range f.groups {
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeStore) CreateGroup(_ context.Context, g *Group) (int64, error) {
	return f.addGroup(g).ID, nil
}

func (f *fakeStore) UpdateGroup(_ context.Context, g *Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[g.ID]; !ok {
		return storage.ErrNotFound
	}
	f.groups[g.ID] = g
	return nil
}

func (f *fakeStore) DeleteGroup(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.groups, id)
	for uid, u := range f.users {
		if u.GroupID == id {
			delete(f.users, uid)
		}
	}
	for cid, c := range f.cards {
		if c.GroupID == id {
			delete(f.cards, cid)
		}
	}
	return nil
}

func (f *fakeStore) GetCardByID(_ context.Context, id int64) (*CreditCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cards[id]; ok {
		return c, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) ListCardsByGroup(_ context.Context, groupID int64) ([]*CreditCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*CreditCard
	for _, c := range f.cards {
		if c.GroupID == groupID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCards(context.Context) ([]*CreditCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*CreditCard
	for _, c := range f.cards {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) CreateCard(_ context.Context, c *CreditCard) (int64, error) {
	return f.addCard(c).ID, nil
}

func (f *fakeStore) UpdateCard(_ context.Context, c *CreditCard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cards[c.ID]; !ok {
		return storage.ErrNotFound
	}
	f.cards[c.ID] = c
	return nil
}

func (f *fakeStore) DeleteCard(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cards[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.cards, id)
	return nil
}

type serverFixture struct {
	server   *Server
	store    *fakeStore
	codec    *auth.TokenCodec
	user     *auth.User
	admin    *auth.User
	group    *Group
	registry *prometheus.Registry
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	store := newFakeStore()
	group := store.addGroup(&Group{Name: "engineering", RegistrationCode: "ENG-2024"})

	hash, err := bcrypt.GenerateFromPassword([]byte("testPassword"), bcrypt.MinCost)
	require.NoError(t, err)
	user := store.addUser(&auth.User{
		Username:     "testUser",
		FirstName:    "Test",
		LastName:     "User",
		Email:        "test@example.com",
		GroupID:      group.ID,
		Role:         auth.RoleUser,
		PasswordHash: string(hash),
	})
	admin := store.addUser(&auth.User{
		Username:     "adminUser",
		GroupID:      group.ID,
		Role:         auth.RoleAdmin,
		PasswordHash: string(hash),
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	codec := auth.NewTokenCodec([]byte("header-secret"), []byte("cookie-secret"), 20*time.Minute)
	tracker := auth.NewFailureTracker(client, 1200*time.Second)
	persistent := auth.NewPersistentTokenManager(store, []byte("remember-me-secret"), 30, testRememberMe, "")
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	issuer := auth.NewIssuer(store, codec, tracker, persistent, auth.IssuerConfig{
		LockoutThreshold: 4,
		LockoutDuration:  24 * time.Hour,
	}, metrics, logger)

	guard := middleware.NewAuthGuard(codec, issuer, middleware.GuardConfig{
		HeaderName:        testHeaderName,
		SessionCookieName: testSessionCookie,
	})

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	frontLog := logrus.New()
	frontLog.SetOutput(io.Discard)

	server, err := NewServer(store, store, store, issuer, codec, guard, db, ServerConfig{
		AuthHeaderName:    testHeaderName,
		SessionCookieName: testSessionCookie,
		MetricsEnabled:    true,
	}, metrics, logger, frontLog)
	require.NoError(t, err)

	return &serverFixture{
		server:   server,
		store:    store,
		codec:    codec,
		user:     user,
		admin:    admin,
		group:    group,
		registry: registry,
	}
}

// doJSON performs a request with an optional JSON body and decodes the
// envelope response.
func (f *serverFixture) doJSON(t *testing.T, method, path string, body interface{}, authAs *auth.User) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if authAs != nil {
		headerToken, cookieToken, err := f.codec.IssuePair(authAs.Identity())
		require.NoError(t, err)
		req.Header.Set(testHeaderName, headerToken)
		req.AddCookie(&http.Cookie{Name: testSessionCookie, Value: cookieToken})
	}

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	var envelope map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	}
	return rec, envelope
}
