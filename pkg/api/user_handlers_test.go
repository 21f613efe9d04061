package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cardvault/cardvault/pkg/auth"
)

func TestRegisterSuccess(t *testing.T) {
	f := newServerFixture(t)

	rec, body := f.doJSON(t, http.MethodPost, "/users/ENG-2024", map[string]interface{}{
		"username":  "newUser",
		"password":  "newPassword",
		"firstName": "New",
		"email":     "new@example.com",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	user, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "newUser", user["username"])
	assert.Equal(t, float64(f.group.ID), user["groupId"])
	assert.Equal(t, "user", user["role"])

	stored, err := f.store.GetUserByUsername(context.Background(), "newUser")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("newPassword")))
}

func TestRegisterUnknownCode(t *testing.T) {
	f := newServerFixture(t)

	rec, body := f.doJSON(t, http.MethodPost, "/users/NOT-A-CODE", map[string]interface{}{
		"username": "newUser",
		"password": "newPassword",
	}, nil)

	// Unknown codes are reported in the body, not the status line.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MsgNotFound, body["message"])
	require.NotEmpty(t, body["errors"])
	assert.Nil(t, body["user"])
}

func TestRegisterMissingFields(t *testing.T) {
	f := newServerFixture(t)

	rec, _ := f.doJSON(t, http.MethodPost, "/users/ENG-2024", map[string]interface{}{
		"username": "newUser",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegistrationCodeCached(t *testing.T) {
	f := newServerFixture(t)

	rec, _ := f.doJSON(t, http.MethodPost, "/users/ENG-2024", map[string]interface{}{
		"username": "firstUser",
		"password": "pw",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Deleting the group out from under the cache still admits the second
	// registration until the cache is purged through the API.
	f.store.mu.Lock()
	delete(f.store.groups, f.group.ID)
	f.store.mu.Unlock()

	rec, body := f.doJSON(t, http.MethodPost, "/users/ENG-2024", map[string]interface{}{
		"username": "secondUser",
		"password": "pw",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, body["user"])
}

func TestProfile(t *testing.T) {
	f := newServerFixture(t)

	rec, body := f.doJSON(t, http.MethodGet, "/users/profile", nil, f.user)

	require.Equal(t, http.StatusOK, rec.Code)
	user, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "testUser", user["username"])
	assert.Equal(t, "test@example.com", user["email"])
}

func TestUpdateProfile(t *testing.T) {
	f := newServerFixture(t)

	rec, body := f.doJSON(t, http.MethodPut, "/users", map[string]interface{}{
		"firstName": "Renamed",
		"email":     "renamed@example.com",
	}, f.user)

	require.Equal(t, http.StatusOK, rec.Code)
	user, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Renamed", user["firstName"])

	stored, err := f.store.GetUserByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed@example.com", stored.Email)
}

func TestUpdateProfilePasswordChange(t *testing.T) {
	f := newServerFixture(t)

	// Missing current password.
	rec, _ := f.doJSON(t, http.MethodPut, "/users", map[string]interface{}{
		"password": "newPassword",
	}, f.user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Wrong current password.
	rec, body := f.doJSON(t, http.MethodPut, "/users", map[string]interface{}{
		"password":        "newPassword",
		"currentPassword": "wrong",
	}, f.user)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgInvalidPassword, body["message"])

	// Correct current password.
	rec, _ = f.doJSON(t, http.MethodPut, "/users", map[string]interface{}{
		"password":        "newPassword",
		"currentPassword": "testPassword",
	}, f.user)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.store.GetUserByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("newPassword")))
}

func TestAdminListUsersRequiresAdmin(t *testing.T) {
	f := newServerFixture(t)

	rec, _ := f.doJSON(t, http.MethodGet, "/users", nil, f.user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := f.doJSON(t, http.MethodGet, "/users", nil, f.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	users, ok := body["users"].([]interface{})
	require.True(t, ok)
	assert.Len(t, users, 2)
}

func TestAdminListUsersFilters(t *testing.T) {
	f := newServerFixture(t)

	rec, body := f.doJSON(t, http.MethodGet, "/users?role=admin", nil, f.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	users, ok := body["users"].([]interface{})
	require.True(t, ok)
	require.Len(t, users, 1)
	assert.Equal(t, "adminUser", users[0].(map[string]interface{})["username"])
}

func TestAdminCreateUser(t *testing.T) {
	f := newServerFixture(t)

	rec, body := f.doJSON(t, http.MethodPost, "/users", map[string]interface{}{
		"username": "provisioned",
		"password": "pw",
		"groupId":  f.group.ID,
		"role":     "admin",
	}, f.admin)

	require.Equal(t, http.StatusOK, rec.Code)
	user, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "admin", user["role"])
}

func TestAdminCreateUserRejectsBadRole(t *testing.T) {
	f := newServerFixture(t)

	rec, _ := f.doJSON(t, http.MethodPost, "/users", map[string]interface{}{
		"username": "provisioned",
		"password": "pw",
		"groupId":  f.group.ID,
		"role":     "superuser",
	}, f.admin)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminUpdateUser(t *testing.T) {
	f := newServerFixture(t)

	rec, _ := f.doJSON(t, http.MethodPut, "/users/1", map[string]interface{}{
		"role": "admin",
	}, f.admin)

	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := f.store.GetUserByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, stored.Role)
}

func TestAdminDeleteUser(t *testing.T) {
	f := newServerFixture(t)

	rec, _ := f.doJSON(t, http.MethodDelete, "/users/1", nil, f.admin)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.store.GetUserByID(context.Background(), f.user.ID)
	assert.Error(t, err)

	rec, body := f.doJSON(t, http.MethodDelete, "/users/99", nil, f.admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, MsgNotFound, body["message"])
}
