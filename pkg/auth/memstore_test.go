package auth

import (
	"context"
	"sync"
	"time"

	"github.com/cardvault/cardvault/pkg/storage"
)

// memStore is an in-memory UserStore for tests.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*User

	// failUpdates forces write operations to fail, for best-effort paths.
	failUpdates error
}

func newMemStore() *memStore {
	return &memStore{nextID: 1, users: make(map[int64]*User)}
}

func (m *memStore) add(u *User) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.nextID
		m.nextID++
	}
	m.users[u.ID] = u
	return u
}

func copyUser(u *User) *User {
	cp := *u
	cp.Tokens = append([]PersistentToken(nil), u.Tokens...)
	if u.LockoutExpiration != nil {
		t := *u.LockoutExpiration
		cp.LockoutExpiration = &t
	}
	return &cp
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListUsers(_ context.Context, q UserQuery) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if q.Username != "" && u.Username != q.Username {
			continue
		}
		if q.GroupID != 0 && u.GroupID != q.GroupID {
			continue
		}
		if q.Role != "" && u.Role != q.Role {
			continue
		}
		out = append(out, copyUser(u))
	}
	return out, nil
}

func (m *memStore) CreateUser(_ context.Context, u *User) (int64, error) {
	if m.failUpdates != nil {
		return 0, m.failUpdates
	}
	return m.add(copyUser(u)).ID, nil
}

func (m *memStore) UpdateUser(_ context.Context, u *User) error {
	if m.failUpdates != nil {
		return m.failUpdates
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		return storage.ErrNotFound
	}
	cp := copyUser(u)
	cp.Tokens = existing.Tokens
	cp.LockoutExpiration = existing.LockoutExpiration
	m.users[u.ID] = cp
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memStore) SetLockout(_ context.Context, userID int64, until time.Time) error {
	if m.failUpdates != nil {
		return m.failUpdates
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.LockoutExpiration = &until
	return nil
}

func (m *memStore) AppendToken(_ context.Context, userID int64, tok PersistentToken) error {
	if m.failUpdates != nil {
		return m.failUpdates
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Tokens = append(u.Tokens, tok)
	return nil
}

func (m *memStore) GetUserByTokenID(_ context.Context, tokenID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		for _, tok := range u.Tokens {
			if tok.ID == tokenID {
				return copyUser(u), nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) RedeemToken(_ context.Context, tokenID string, now time.Time) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		for i, tok := range u.Tokens {
			if tok.ID == tokenID && tok.ExpiresAt.After(now) {
				u.Tokens = append(u.Tokens[:i], u.Tokens[i+1:]...)
				return copyUser(u), nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) RemoveToken(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		for i, tok := range u.Tokens {
			if tok.ID == tokenID {
				u.Tokens = append(u.Tokens[:i], u.Tokens[i+1:]...)
				return nil
			}
		}
	}
	return storage.ErrNotFound
}
