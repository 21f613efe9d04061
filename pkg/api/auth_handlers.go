package api

import (
	"errors"
	"net/http"

	"github.com/cardvault/cardvault/pkg/auth"
	"github.com/cardvault/cardvault/pkg/httputil"
	"github.com/cardvault/cardvault/pkg/observability"
)

// loginRequest uses pointer fields so absent keys are distinguishable
// from zero values; presence is checked before any store access.
type loginRequest struct {
	Username   *string `json:"username"`
	Password   *string `json:"password"`
	RememberMe *bool   `json:"rememberMe"`
}

// login handles POST /authenticate
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
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
	if req.RememberMe == nil {
		missing = append(missing, httputil.ErrorDetail{ErrorCode: CodeMissingField, Message: "rememberMe is required"})
	}
	if len(missing) > 0 {
		httputil.WriteMessageWithErrors(w, http.StatusBadRequest, auth.ErrInvalidRequest.Error(), missing...)
		return
	}

	result, err := s.issuer.Login(r.Context(), auth.LoginRequest{
		Username:   *req.Username,
		Password:   *req.Password,
		RememberMe: *req.RememberMe,
	})
	if err != nil {
		s.writeLoginError(w, r, err)
		return
	}

	s.writeSession(w, result)
}

// loginWithToken handles GET /authenticate: silent re-authentication
// from the signed remember-me cookie.
func (s *Server) loginWithToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(s.issuer.PersistentCookieName())
	if err != nil {
		httputil.WriteMessage(w, http.StatusUnauthorized, auth.ErrInvalidAuthentication.Error())
		return
	}

	result, err := s.issuer.LoginWithPersistentToken(r.Context(), cookie.Value)
	if err != nil {
		s.writeLoginError(w, r, err)
		return
	}

	s.writeSession(w, result)
}

// logout handles POST /logout. Cleanup is best effort: the remember-me
// token is removed when possible, both cookies are always cleared, and
// the response is always a success.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())

	if cookie, err := r.Cookie(s.issuer.PersistentCookieName()); err == nil {
		if err := s.issuer.RevokePersistentToken(r.Context(), cookie.Value); err != nil {
			log.WithError(err).Warn("could not remove remember-me token during logout")
		}
	}

	http.SetCookie(w, auth.ExpiredCookie(s.cfg.SessionCookieName, s.cfg.CookieDomain))
	http.SetCookie(w, s.issuer.ExpiredPersistentCookie())

	s.metrics.LogoutsTotal.Inc()
	httputil.WriteMessage(w, http.StatusOK, MsgLogoutSuccess)
}

// writeSession attaches the freshly minted credentials to the response:
// session cookie, remember-me cookie when one was issued, and the header
// token both in the auth header and the body.
func (s *Server) writeSession(w http.ResponseWriter, result *auth.LoginResult) {
	http.SetCookie(w, auth.SessionCookie(s.cfg.SessionCookieName, s.cfg.CookieDomain, result.CookieToken, s.codec.TTL()))
	if result.Persistent != nil {
		http.SetCookie(w, s.issuer.PersistentCookie(result.Persistent))
	}
	w.Header().Set(s.cfg.AuthHeaderName, result.HeaderToken)

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Message: MsgLoginSuccess,
		User:    result.User,
		Token:   result.HeaderToken,
	})
}

// writeLoginError maps issuer errors onto responses. Invalid credentials
// and lockout are both 401, told apart by the errors array.
func (s *Server) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteMessageWithErrors(w, http.StatusUnauthorized, MsgLoginFailed,
			httputil.ErrorDetail{ErrorCode: CodeInvalidField, Message: err.Error()})
	case errors.Is(err, auth.ErrUserLockedOut):
		httputil.WriteMessageWithErrors(w, http.StatusUnauthorized, MsgLoginFailed,
			httputil.ErrorDetail{ErrorCode: CodeNotPermitted, Message: err.Error()})
	case errors.Is(err, auth.ErrInvalidAuthentication):
		httputil.WriteMessage(w, http.StatusUnauthorized, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("login failed")
		httputil.WriteMessage(w, http.StatusInternalServerError, MsgProcessingError)
	}
}
