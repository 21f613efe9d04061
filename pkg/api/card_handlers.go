package api

import (
	"net/http"

	"github.com/cardvault/cardvault/pkg/auth"
	"github.com/cardvault/cardvault/pkg/httputil"
	"github.com/cardvault/cardvault/pkg/middleware"
)

// listGroupCards handles GET /credit-cards/group: the caller's group only.
func (s *Server) listGroupCards(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r)
	if !ok {
		httputil.WriteMessage(w, http.StatusUnauthorized, auth.ErrInvalidAuthentication.Error())
		return
	}

	cards, err := s.cards.ListCardsByGroup(r.Context(), identity.GroupID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message:     MsgRequestSuccess,
		CreditCards: cards,
	})
}

// adminListCards handles GET /credit-cards: unscoped listing.
func (s *Server) adminListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.cards.ListCards(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message:     MsgRequestSuccess,
		CreditCards: cards,
	})
}

// loadScopedCard fetches a card and enforces group scope. A card outside
// the caller's group reads as not found, so ids cannot be probed across
// tenants.
func (s *Server) loadScopedCard(w http.ResponseWriter, r *http.Request) (*CreditCard, auth.Identity, bool) {
	identity, ok := middleware.GetIdentity(r)
	if !ok {
		httputil.WriteMessage(w, http.StatusUnauthorized, auth.ErrInvalidAuthentication.Error())
		return nil, auth.Identity{}, false
	}

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return nil, auth.Identity{}, false
	}

	card, err := s.cards.GetCardByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return nil, auth.Identity{}, false
	}

	if !identity.IsAdmin() && card.GroupID != identity.GroupID {
		httputil.WriteMessage(w, http.StatusNotFound, MsgNotFound)
		return nil, auth.Identity{}, false
	}

	return card, identity, true
}

// getCard handles GET /credit-cards/{id}
func (s *Server) getCard(w http.ResponseWriter, r *http.Request) {
	card, _, ok := s.loadScopedCard(w, r)
	if !ok {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message:    MsgRequestSuccess,
		CreditCard: card,
	})
}

type cardRequest struct {
	CardName *string `json:"cardName"`
	GroupID  *int64  `json:"groupId"`
}

// createCard handles POST /credit-cards. Non-admin callers always create
// into their own group; admins may target any group.
func (s *Server) createCard(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r)
	if !ok {
		httputil.WriteMessage(w, http.StatusUnauthorized, auth.ErrInvalidAuthentication.Error())
		return
	}

	var req cardRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}
	if req.CardName == nil {
		httputil.WriteMessageWithErrors(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error(),
			httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "cardName is required"})
		return
	}

	groupID := identity.GroupID
	if req.GroupID != nil && identity.IsAdmin() {
		groupID = *req.GroupID
	}

	card := &CreditCard{CardName: *req.CardName, GroupID: groupID}
	id, err := s.cards.CreateCard(r.Context(), card)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	card.ID = id

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message:    MsgRequestSuccess,
		CreditCard: card,
	})
}

// updateCard handles PUT /credit-cards/{id}
func (s *Server) updateCard(w http.ResponseWriter, r *http.Request) {
	card, identity, ok := s.loadScopedCard(w, r)
	if !ok {
		return
	}

	var req cardRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error())
		return
	}

	if req.CardName != nil {
		card.CardName = *req.CardName
	}
	if req.GroupID != nil && identity.IsAdmin() {
		card.GroupID = *req.GroupID
	}

	if err := s.cards.UpdateCard(r.Context(), card); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message:    MsgRequestSuccess,
		CreditCard: card,
	})
}

// deleteCard handles DELETE /credit-cards/{id}
func (s *Server) deleteCard(w http.ResponseWriter, r *http.Request) {
	card, _, ok := s.loadScopedCard(w, r)
	if !ok {
		return
	}

	if err := s.cards.DeleteCard(r.Context(), card.ID); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, MsgRequestSuccess)
}
