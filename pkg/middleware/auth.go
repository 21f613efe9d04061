// Package middleware provides the per-request guard chain: the
// authentication guard validating the dual-token session pair (with
// silent re-authentication from a remember-me token), and the admin
// authorization guard.
package middleware

import (
	"net/http"

	"github.com/cardvault/cardvault/pkg/auth"
	"github.com/cardvault/cardvault/pkg/contextkeys"
	"github.com/cardvault/cardvault/pkg/httputil"
	"github.com/cardvault/cardvault/pkg/observability"
)

// GuardConfig carries the names and windows the guard needs to read and
// reissue session credentials.
type GuardConfig struct {
	// HeaderName is the request header carrying the header token.
	HeaderName string
	// SessionCookieName is the cookie holding the cookie token.
	SessionCookieName string
	// CookieDomain scopes reissued cookies.
	CookieDomain string
}

// AuthGuard validates the session token pair on every protected request.
// Ordering is guard, then fallback, then reject: a header token that
// fails to parse and a claim mismatch are treated identically, and both
// get exactly one attempt at silent re-authentication via the
// remember-me token before the request is rejected.
type AuthGuard struct {
	codec  *auth.TokenCodec
	issuer *auth.Issuer
	cfg    GuardConfig
}

// NewAuthGuard creates the authentication guard
func NewAuthGuard(codec *auth.TokenCodec, issuer *auth.Issuer, cfg GuardConfig) *AuthGuard {
	return &AuthGuard{
		codec:  codec,
		issuer: issuer,
		cfg:    cfg,
	}
}

// Handler wraps an HTTP handler with dual-token authentication
func (g *AuthGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())

		if identity, ok := g.verifyPair(r); ok {
			g.serveAs(next, w, r, identity)
			return
		}

		// Single fallback: an unexpired remember-me token renews the
		// session in place, rotating the token and reissuing both
		// session cookies on this response.
		if cookie, err := r.Cookie(g.issuer.PersistentCookieName()); err == nil {
			result, err := g.issuer.LoginWithPersistentToken(r.Context(), cookie.Value)
			if err == nil {
				http.SetCookie(w, auth.SessionCookie(g.cfg.SessionCookieName, g.cfg.CookieDomain, result.CookieToken, g.codec.TTL()))
				if result.Persistent != nil {
					http.SetCookie(w, g.issuer.PersistentCookie(result.Persistent))
				}
				w.Header().Set(g.cfg.HeaderName, result.HeaderToken)

				g.serveAs(next, w, r, auth.Identity{
					Username: result.User.Username,
					Role:     result.User.Role,
					GroupID:  result.User.GroupID,
				})
				return
			}
			log.WithError(err).Info("remember-me fallback failed")
		}

		log.Info("Invalid token - rejecting request")
		g.reject(w)
	})
}

// verifyPair decodes both session tokens and checks that their claims
// match field by field.
func (g *AuthGuard) verifyPair(r *http.Request) (auth.Identity, bool) {
	log := observability.FromContext(r.Context())

	headerClaims, err := g.codec.VerifyHeader(r.Header.Get(g.cfg.HeaderName))
	if err != nil {
		log.WithError(err).Debug("could not parse header token")
		return auth.Identity{}, false
	}

	sessionCookie, err := r.Cookie(g.cfg.SessionCookieName)
	if err != nil {
		log.Debug("no session cookie on request")
		return auth.Identity{}, false
	}

	cookieClaims, err := g.codec.VerifyCookie(sessionCookie.Value)
	if err != nil {
		log.WithError(err).Debug("could not parse cookie token")
		return auth.Identity{}, false
	}

	if !headerClaims.Matches(cookieClaims) {
		log.Info("Invalid tokens - content does not match")
		return auth.Identity{}, false
	}

	return headerClaims.Identity(), true
}

func (g *AuthGuard) serveAs(next http.Handler, w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	ctx := contextkeys.WithIdentity(r.Context(), identity)
	ctx = observability.WithUsername(ctx, identity.Username)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// reject tears the session down: the session cookie is cleared and the
// request ends with 401.
func (g *AuthGuard) reject(w http.ResponseWriter) {
	http.SetCookie(w, auth.ExpiredCookie(g.cfg.SessionCookieName, g.cfg.CookieDomain))
	httputil.WriteMessage(w, http.StatusUnauthorized, auth.ErrInvalidAuthentication.Error())
}

// GetIdentity extracts the resolved caller identity from the request
func GetIdentity(r *http.Request) (auth.Identity, bool) {
	identity, ok := r.Context().Value(contextkeys.IdentityKey).(auth.Identity)
	return identity, ok
}

// RequireAdmin rejects requests whose identity lacks the admin role. It
// is a pure predicate and always runs after the authentication guard.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentity(r)
		if !ok || !identity.IsAdmin() {
			observability.FromContext(r.Context()).Info("Unauthorized request")
			httputil.WriteMessage(w, http.StatusForbidden, auth.ErrNotAuthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
