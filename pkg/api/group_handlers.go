package api

import (
	"net/http"

	"github.com/cardvault/cardvault/pkg/auth"
	"github.com/cardvault/cardvault/pkg/httputil"
	"github.com/cardvault/cardvault/pkg/observability"
)

// listGroups handles GET /groups
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.ListGroups(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		Groups:  groups,
	})
}

type groupRequest struct {
	Name             *string `json:"name"`
	RegistrationCode *string `json:"registrationCode"`
}

// createGroup handles POST /groups
func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	var missing []httputil.ErrorDetail
	if req.Name == nil {
		missing = append(missing, httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "name is required"})
	}
	if req.RegistrationCode == nil {
		missing = append(missing, httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "registrationCode is required"})
	}
	if len(missing) > 0 {
		httputil.WriteMessageWithErrors(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error(), missing...)
		return
	}

	group := &Group{Name: *req.Name, RegistrationCode: *req.RegistrationCode}
	id, err := s.groups.CreateGroup(r.Context(), group)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	group.ID = id

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		Group:   group,
	})
}

// updateGroup handles PUT /groups/{id}
func (s *Server) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	var req groupRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	group, err := s.groups.GetGroupByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	if req.Name != nil {
		group.Name = *req.Name
	}
	if req.RegistrationCode != nil {
		group.RegistrationCode = *req.RegistrationCode
	}

	if err := s.groups.UpdateGroup(r.Context(), group); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	// Stale codes must not admit registrations.
	s.regCache.Purge()

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgRequestSuccess,
		Group:   group,
	})
}

// deleteGroup handles DELETE /groups/{id}. Deletion cascades to the
// group's users and cards.
func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	if err := s.groups.DeleteGroup(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	s.regCache.Purge()

	observability.FromContext(r.Context()).Infof("Deleted group %d and its users", id)
	httputil.WriteMessage(w, http.StatusOK, MsgRequestSuccess)
}
