package api

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/cardvault/cardvault/pkg/auth"
	"github.com/cardvault/cardvault/pkg/httputil"
	"github.com/cardvault/cardvault/pkg/middleware"
	"github.com/cardvault/cardvault/pkg/observability"
	"github.com/cardvault/cardvault/pkg/storage"
)

type registrationRequest struct {
	Username  *string `json:"username"`
	Password  *string `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
}

// register handles POST /users/{registrationCode}: self-service signup
// into the group owning the code.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	code, err := httputil.ParsePathString(r, "registrationCode")
	if err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	var req registrationRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	var missing []httputil.ErrorDetail
	if req.Username == nil {
		missing = append(missing, httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "username is required"})
	}
	if req.Password == nil {
		missing = append(missing, httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "password is required"})
	}
	if len(missing) > 0 {
		httputil.WriteMessageWithErrors(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error(), missing...)
		return
	}

	group, err := s.groupByRegistrationCode(r.Context(), code)
	if errors.Is(err, storage.ErrNotFound) {
		// Unknown codes come back inside a success status so the signup
		// form can show its own error without tripping HTTP handling.
		httputil.WriteMessageWithErrors(w, http.StatusOK, MsgNotFound,
			httputil.ErrorDetail{ErrorCode: CodeInvalidField, Message: "unknown registration code"})
		return
	} else if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	user := &auth.User{
		Username:     *req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		GroupID:      group.ID,
		Role:         auth.RoleUser,
		PasswordHash: string(hash),
	}
	id, err := s.users.CreateUser(r.Context(), user)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	user.ID = id

	observability.FromContext(r.Context()).Infof("Registered new user '%s' into group %d", user.Username, group.ID)
	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		User:    user.Sanitized(),
	})
}

func (s *Server) groupByRegistrationCode(ctx context.Context, code string) (*Group, error) {
	if g, ok := s.regCache.Get(code); ok {
		return g, nil
	}
	g, err := s.groups.GetGroupByRegistrationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	s.regCache.Add(code, g)
	return g, nil
}

// profile handles GET /users/profile
func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r)
	if !ok {
		httputil.WriteMessage(w, http.StatusUnauthorized, auth.ErrInvalidAuthentication.Error())
		return
	}

	user, err := s.users.GetUserByUsername(r.Context(), identity.Username)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		User:    user.Sanitized(),
	})
}

type selfUpdateRequest struct {
	FirstName       *string `json:"firstName"`
	LastName        *string `json:"lastName"`
	Email           *string `json:"email"`
	Password        *string `json:"password"`
	CurrentPassword *string `json:"currentPassword"`
}

// updateProfile handles PUT /users: callers edit their own record. A
// password change must prove knowledge of the current password.
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r)
	if !ok {
		httputil.WriteMessage(w, http.StatusUnauthorized, auth.ErrInvalidAuthentication.Error())
		return
	}

	var req selfUpdateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	user, err := s.users.GetUserByUsername(r.Context(), identity.Username)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	if req.Password != nil {
		if req.CurrentPassword == nil {
			httputil.WriteMessageWithErrors(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error(),
				httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "currentPassword is required"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(*req.CurrentPassword)) != nil {
			httputil.WriteMessage(w, http.StatusUnauthorized, MsgInvalidPassword)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		user.PasswordHash = string(hash)
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}

	if err := s.users.UpdateUser(r.Context(), user); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		User:    user.Sanitized(),
	})
}

// adminListUsers handles GET /users with optional username, groupId, and
// role query filters.
func (s *Server) adminListUsers(w http.ResponseWriter, r *http.Request) {
	groupID, err := httputil.ParseQueryInt64(r, "groupId", 0)
	if err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}
	q := auth.UserQuery{
		Username: httputil.ParseQueryString(r, "username", ""),
		GroupID:  groupID,
		Role:     auth.Role(httputil.ParseQueryString(r, "role", "")),
	}

	users, err := s.users.ListUsers(r.Context(), q)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	sanitized := make([]*auth.SanitizedUser, 0, len(users))
	for _, u := range users {
		sanitized = append(sanitized, u.Sanitized())
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		Users:   sanitized,
	})
}

// adminGetUser handles GET /users/{id}
func (s *Server) adminGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	user, err := s.users.GetUserByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		User:    user.Sanitized(),
	})
}

type adminUserRequest struct {
	Username  *string `json:"username"`
	Password  *string `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	GroupID   *int64  `json:"groupId"`
	Role      string  `json:"role"`
}

func validRole(role string) bool {
	return role == string(auth.RoleUser) || role == string(auth.RoleAdmin)
}

// adminCreateUser handles POST /users
func (s *Server) adminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req adminUserRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	var details []httputil.ErrorDetail
	if req.Username == nil {
		details = append(details, httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "username is required"})
	}
	if req.Password == nil {
		details = append(details, httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "password is required"})
	}
	if req.GroupID == nil {
		details = append(details, httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "groupId is required"})
	}
	if req.Role != "" && !validRole(req.Role) {
		details = append(details, httputil.ErrorDetail{ErrorCode: CodeInvalidField, Message: "role must be user or admin"})
	}
	if len(details) > 0 {
		httputil.WriteMessageWithErrors(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error(), details...)
		return
	}

	role := auth.Role(req.Role)
	if role == "" {
		role = auth.RoleUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	user := &auth.User{
		Username:     *req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		GroupID:      *req.GroupID,
		Role:         role,
		PasswordHash: string(hash),
	}
	id, err := s.users.CreateUser(r.Context(), user)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	user.ID = id

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		User:    user.Sanitized(),
	})
}

// adminUpdateUser handles PUT /users/{id}. Unlike self-update, role and
// group can change and no current-password proof is needed.
func (s *Server) adminUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	var req adminUserRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}
	if req.Role != "" && !validRole(req.Role) {
		httputil.WriteMessageWithErrors(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error(),
			httputil.ErrorDetail{ErrorCode: CodeInvalidField, Message: "role must be user or admin"})
		return
	}

	user, err := s.users.GetUserByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}
	if req.Email != "" {
		user.Email = req.Email
	}
	if req.GroupID != nil {
		user.GroupID = *req.GroupID
	}
	if req.Role != "" {
		user.Role = auth.Role(req.Role)
	}
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		user.PasswordHash = string(hash)
	}

	if err := s.users.UpdateUser(r.Context(), user); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		User:    user.Sanitized(),
	})
}

// adminDeleteUser handles DELETE /users/{id}
func (s *Server) adminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	if err := s.users.DeleteUser(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, MsgRequestSuccess)
}
