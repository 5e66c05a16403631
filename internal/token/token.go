// Package token defines the JWT claims used to authenticate callers of
// the share API. The relay's websocket events are not covered by these
// tokens; the relay authenticates token-based routing, not caller
// identity.
package token

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// Scopes accepted by the API.
const (
	// ScopeShare permits creating and stopping own shares and reading
	// own active share.
	ScopeShare = "share"

	// ScopeAdmin permits reading the relay status report.
	ScopeAdmin = "relay:admin"
)

// Claims represents the claims required in the API bearer JWT. Subject
// carries the opaque user id; identity provision is external - any issuer
// holding the shared secret can mint these.
type Claims struct {

	// Scopes controlling access to the API, e.g. ["share"]
	Scopes []string `json:"scopes"`

	jwt.RegisteredClaims
}

// New returns Claims populated with the supplied information.
func New(audience, subject string, scopes []string, iat, nbf, exp int64) Claims {
	return Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Unix(iat, 0)),
			NotBefore: jwt.NewNumericDate(time.Unix(nbf, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(exp, 0)),
			Audience:  []string{audience},
		},
	}
}

// HasRequiredClaims returns false if the Claims are missing any required
// element.
func HasRequiredClaims(c Claims) bool {
	if c.Subject == "" ||
		len(c.Scopes) == 0 ||
		len(c.RegisteredClaims.Audience) == 0 ||
		c.RegisteredClaims.ExpiresAt == nil ||
		(*c.RegisteredClaims.ExpiresAt).IsZero() {
		return false
	}
	return true
}

// HasScope reports whether the claims carry the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Sign returns the HMAC-signed bearer string for the claims.
func Sign(claims Claims, secret string) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// Verify parses and validates a bearer string, checking the signature,
// the registered time claims and the audience against host.
func Verify(bearer, secret, host string) (*Claims, error) {
	claims := &Claims{}

	t, err := jwt.ParseWithClaims(bearer, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method was %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if !t.Valid { //checks iat, nbf, exp
		return nil, errors.New("token invalid")
	}

	if !HasRequiredClaims(*claims) {
		return nil, errors.New("token missing required claims")
	}

	if !claims.RegisteredClaims.VerifyAudience(host, true) {
		return nil, fmt.Errorf("aud %s does not match this host %s", claims.RegisteredClaims.Audience, host)
	}

	return claims, nil
}
