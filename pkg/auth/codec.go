package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT claim set shared by both tokens of a session pair.
// The cookie token additionally carries Cookie=true so the two classes
// cannot be substituted for each other.
type Claims struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	GroupID  int64  `json:"group_id"`
	Cookie   bool   `json:"cookie,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by the claims
func (c *Claims) Identity() Identity {
	return Identity{Username: c.Username, Role: c.Role, GroupID: c.GroupID}
}

// Matches reports whether both claim sets resolve to the same identity.
// All three fields must match exactly.
func (c *Claims) Matches(other *Claims) bool {
	return c.Username == other.Username &&
		c.Role == other.Role &&
		c.GroupID == other.GroupID
}

// TokenCodec signs and verifies the two classes of short-lived session
// tokens under distinct secrets. It holds its secrets explicitly instead
// of reading process globals.
type TokenCodec struct {
	headerSecret []byte
	cookieSecret []byte
	ttl          time.Duration

	now func() time.Time
}

// NewTokenCodec creates a codec with the given secrets and validity window
func NewTokenCodec(headerSecret, cookieSecret []byte, ttl time.Duration) *TokenCodec {
	return &TokenCodec{
		headerSecret: headerSecret,
		cookieSecret: cookieSecret,
		ttl:          ttl,
		now:          time.Now,
	}
}

// TTL returns the configured validity window of issued tokens
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// IssuePair mints the header and cookie tokens for an identity. Both
// expire after the configured session window.
func (c *TokenCodec) IssuePair(id Identity) (headerToken, cookieToken string, err error) {
	now := c.now()

	headerToken, err = c.sign(id, false, now, c.headerSecret)
	if err != nil {
		return "", "", fmt.Errorf("signing header token: %w", err)
	}

	cookieToken, err = c.sign(id, true, now, c.cookieSecret)
	if err != nil {
		return "", "", fmt.Errorf("signing cookie token: %w", err)
	}

	return headerToken, cookieToken, nil
}

func (c *TokenCodec) sign(id Identity, cookie bool, now time.Time, secret []byte) (string, error) {
	claims := &Claims{
		Username: id.Username,
		Role:     id.Role,
		GroupID:  id.GroupID,
		Cookie:   cookie,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyHeader parses and verifies a header token
func (c *TokenCodec) VerifyHeader(token string) (*Claims, error) {
	claims, err := c.verify(token, c.headerSecret)
	if err != nil {
		return nil, err
	}
	if claims.Cookie {
		return nil, fmt.Errorf("cookie token presented as header token: %w", ErrInvalidAuthentication)
	}
	return claims, nil
}

// VerifyCookie parses and verifies a cookie token
func (c *TokenCodec) VerifyCookie(token string) (*Claims, error) {
	claims, err := c.verify(token, c.cookieSecret)
	if err != nil {
		return nil, err
	}
	if !claims.Cookie {
		return nil, fmt.Errorf("header token presented as cookie token: %w", ErrInvalidAuthentication)
	}
	return claims, nil
}

func (c *TokenCodec) verify(token string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w: %w", ErrInvalidAuthentication, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidAuthentication
	}
	return claims, nil
}

// SessionCookie builds the HTTP session cookie carrying a cookie token
func SessionCookie(name, domain, token string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
	}
}

// ExpiredCookie builds an already-expired replacement used to clear a
// cookie of the same name and domain on the client.
func ExpiredCookie(name, domain string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Domain:   domain,
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	}
}
