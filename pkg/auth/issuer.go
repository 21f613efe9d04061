package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cardvault/cardvault/pkg/observability"
	"github.com/cardvault/cardvault/pkg/storage"
)

// IssuerConfig tunes the login and lockout behavior
type IssuerConfig struct {
	// LockoutThreshold is the failure count at which the next wrong
	// password locks the account instead of incrementing further.
	LockoutThreshold int64
	// LockoutDuration is how long a triggered lockout lasts.
	LockoutDuration time.Duration
}

// LoginRequest carries the credentials submitted by a client. Field
// presence is validated by the handler before the issuer runs.
type LoginRequest struct {
	Username   string
	Password   string
	RememberMe bool
}

// LoginResult is a freshly established session
type LoginResult struct {
	User        *SanitizedUser
	HeaderToken string
	CookieToken string
	// Persistent is non-nil when a remember-me token was issued or
	// rotated for this login.
	Persistent *IssuedToken
}

// Issuer orchestrates credential verification, lockout accounting, and
// session-token issuance.
type Issuer struct {
	store      UserStore
	codec      *TokenCodec
	failures   *FailureTracker
	persistent *PersistentTokenManager
	cfg        IssuerConfig
	metrics    *observability.Metrics
	logger     *observability.Logger

	now func() time.Time
}

// NewIssuer creates a session issuer
func NewIssuer(store UserStore, codec *TokenCodec, failures *FailureTracker, persistent *PersistentTokenManager, cfg IssuerConfig, metrics *observability.Metrics, logger *observability.Logger) *Issuer {
	return &Issuer{
		store:      store,
		codec:      codec,
		failures:   failures,
		persistent: persistent,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// PersistentCookieName returns the name of the remember-me cookie
func (i *Issuer) PersistentCookieName() string {
	return i.persistent.CookieName()
}

// PersistentCookie builds the remember-me cookie for an issued token
func (i *Issuer) PersistentCookie(tok *IssuedToken) *http.Cookie {
	return i.persistent.Cookie(tok)
}

// ExpiredPersistentCookie builds the cleared remember-me cookie
func (i *Issuer) ExpiredPersistentCookie() *http.Cookie {
	return i.persistent.ExpiredCookie()
}

// RevokePersistentToken removes the remember-me token referenced by a
// signed cookie value, for logout.
func (i *Issuer) RevokePersistentToken(ctx context.Context, cookieValue string) error {
	return i.persistent.Revoke(ctx, cookieValue)
}

// Login verifies the submitted credentials and mints a session. Error
// values: ErrInvalidCredentials for unknown user or wrong password,
// ErrUserLockedOut while a lockout is active or when this attempt
// triggers one, anything else is an internal store/cache failure.
func (i *Issuer) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	log := observability.FromContext(ctx)

	user, err := i.store.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, storage.ErrNotFound) {
		log.Infof("Login failed - could not find user '%s'", req.Username)
		i.metrics.LoginsTotal.WithLabelValues(observability.LoginOutcomeInvalidCredentials).Inc()
		return nil, ErrInvalidCredentials
	} else if err != nil {
		i.metrics.LoginsTotal.WithLabelValues(observability.LoginOutcomeError).Inc()
		return nil, fmt.Errorf("finding user %q: %w", req.Username, err)
	}

	if user.Locked(i.now()) {
		log.Infof("Account for user %s is locked out. Lockout expiration is %s.", user.Username, user.LockoutExpiration)
		i.metrics.LoginsTotal.WithLabelValues(observability.LoginOutcomeLockedOut).Inc()
		return nil, ErrUserLockedOut
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, i.recordFailure(ctx, user)
	}

	return i.establishSession(ctx, user, req.RememberMe)
}

// LoginWithPersistentToken silently re-authenticates a client from a
// signed remember-me cookie value. The consumed token is replaced by a
// fresh one (rotation), and a new session pair is minted.
func (i *Issuer) LoginWithPersistentToken(ctx context.Context, cookieValue string) (*LoginResult, error) {
	log := observability.FromContext(ctx)

	// Resolve the owner before consuming the token. A lockout rejection
	// must leave the token intact so silent re-authentication works
	// again once the lockout expires.
	user, err := i.persistent.Owner(ctx, cookieValue)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInvalidAuthentication) {
			i.metrics.TokenRedemptionsTotal.WithLabelValues("invalid").Inc()
		} else {
			i.metrics.TokenRedemptionsTotal.WithLabelValues(observability.LoginOutcomeError).Inc()
		}
		return nil, err
	}

	// A locked-out account cannot renew its session silently either.
	if user.Locked(i.now()) {
		log.Infof("Account for user %s is locked out. Lockout expiration is %s.", user.Username, user.LockoutExpiration)
		i.metrics.TokenRedemptionsTotal.WithLabelValues(observability.LoginOutcomeLockedOut).Inc()
		return nil, ErrUserLockedOut
	}

	user, err = i.persistent.Redeem(ctx, cookieValue)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInvalidAuthentication) {
			i.metrics.TokenRedemptionsTotal.WithLabelValues("invalid").Inc()
		} else {
			i.metrics.TokenRedemptionsTotal.WithLabelValues(observability.LoginOutcomeError).Inc()
		}
		return nil, err
	}

	i.metrics.TokenRedemptionsTotal.WithLabelValues(observability.LoginOutcomeSuccess).Inc()
	i.metrics.TokenRotationsTotal.Inc()

	log.Infof("User '%s' has logged in successfully using a remember-me token", user.Username)
	return i.establishSession(ctx, user, true)
}

func (i *Issuer) establishSession(ctx context.Context, user *User, rememberMe bool) (*LoginResult, error) {
	log := observability.FromContext(ctx)

	headerToken, cookieToken, err := i.codec.IssuePair(user.Identity())
	if err != nil {
		i.metrics.LoginsTotal.WithLabelValues(observability.LoginOutcomeError).Inc()
		return nil, fmt.Errorf("minting session tokens: %w", err)
	}

	if err := i.failures.Reset(ctx, user.ID); err != nil {
		// A stale counter only shortens the next failure window.
		log.WithError(err).Warnf("could not reset failure counter for user '%s'", user.Username)
	}

	result := &LoginResult{
		User:        user.Sanitized(),
		HeaderToken: headerToken,
		CookieToken: cookieToken,
	}

	if rememberMe {
		// Issued synchronously: the response must carry the cookie.
		tok, err := i.persistent.Issue(ctx, user.ID)
		if err != nil {
			// Best-effort issuance: the login itself still succeeds.
			log.WithError(err).Errorf("Failed to add remember-me token for user '%s'", user.Username)
		} else {
			log.Infof("Set new remember-me token for user '%s'.", user.Username)
			result.Persistent = tok
		}
	}

	i.metrics.LoginsTotal.WithLabelValues(observability.LoginOutcomeSuccess).Inc()
	log.Infof("User '%s' has logged in successfully", user.Username)
	return result, nil
}

// recordFailure increments the failure counter and decides between a
// plain rejection and triggering a lockout. The increment is atomic, so
// two racing bad attempts cannot both observe the pre-threshold count.
func (i *Issuer) recordFailure(ctx context.Context, user *User) error {
	log := observability.FromContext(ctx)
	log.Infof("Incorrect password for user '%s'", user.Username)

	count, err := i.failures.Record(ctx, user.ID)
	if err != nil {
		i.metrics.LoginsTotal.WithLabelValues(observability.LoginOutcomeError).Inc()
		return fmt.Errorf("recording login failure for user %d: %w", user.ID, err)
	}

	if count <= i.cfg.LockoutThreshold {
		i.metrics.LoginsTotal.WithLabelValues(observability.LoginOutcomeInvalidCredentials).Inc()
		return ErrInvalidCredentials
	}

	expiration := i.now().Add(i.cfg.LockoutDuration)
	if err := i.store.SetLockout(ctx, user.ID, expiration); err != nil {
		log.WithError(err).Errorf("Error setting lockout expiration for user '%s'", user.Username)
	} else {
		log.Infof("Set lockout expiration for user %s to %s", user.Username, expiration)
	}

	if err := i.failures.Reset(ctx, user.ID); err != nil {
		log.WithError(err).Warnf("could not reset failure counter for user '%s'", user.Username)
	}

	i.metrics.LockoutsTotal.Inc()
	i.metrics.LoginsTotal.WithLabelValues(observability.LoginOutcomeLockedOut).Inc()
	return ErrUserLockedOut
}
