package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential is returned when an operation needs a bearer credential
// and none is stored.
var ErrNoCredential = errors.New("no bearer credential available")

// Claims is the subset of the backend JWT the client cares about: the
// subject identifies the user-private topic, the expiry lets us fail fast
// instead of presenting a dead credential to the broker.
type Claims struct {
	UserID    string
	Role      string
	ExpiresAt time.Time
}

// ParseClaims extracts claims without verifying the signature. Verification
// is the backend's job; the client only needs to read its own identity.
func ParseClaims(credential string) (*Claims, error) {
	if credential == "" {
		return nil, ErrNoCredential
	}

	parser := jwt.NewParser()
	var mc jwt.MapClaims
	if _, _, err := parser.ParseUnverified(credential, &mc); err != nil {
		return nil, fmt.Errorf("parsing credential: %w", err)
	}

	c := &Claims{}
	if sub, err := mc.GetSubject(); err == nil {
		c.UserID = sub
	}
	if role, ok := mc["role"].(string); ok {
		c.Role = role
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// Expired reports whether the credential expiry has passed. A credential
// without an exp claim never expires client-side.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
