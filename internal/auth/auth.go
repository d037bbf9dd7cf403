// Package auth identifies callers and the capabilities they hold.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"
)

// Capabilities checked by the HTTP boundary.
const (
	CapEditPosts     = "edit_posts"
	CapManageOptions = "manage_options"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Principal is an authenticated caller.
type Principal struct {
	Subject      string
	Issuer       string
	Capabilities []string
}

func (p Principal) Can(capability string) bool {
	return slices.Contains(p.Capabilities, capability)
}

type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// MultiAuthenticator accepts a static bearer token, signed bearer tokens and
// application passwords over basic auth. Nil or empty members are disabled.
type MultiAuthenticator struct {
	DevToken  string
	Tokens    *TokenAuthenticator
	Passwords *PasswordAuthenticator
}

func (a *MultiAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return Principal{}, ErrMissingCredentials
	}

	if user, pass, ok := r.BasicAuth(); ok {
		if a.Passwords == nil {
			return Principal{}, ErrInvalidCredentials
		}
		return a.Passwords.Authenticate(user, pass)
	}

	bearer, err := extractBearer(header)
	if err != nil {
		return Principal{}, err
	}
	if a.DevToken != "" && subtle.ConstantTimeCompare([]byte(bearer), []byte(a.DevToken)) == 1 {
		return Principal{
			Subject:      "dev",
			Issuer:       "wpcd-dev",
			Capabilities: []string{CapEditPosts, CapManageOptions},
		}, nil
	}
	if a.Tokens != nil {
		return a.Tokens.AuthenticateBearer(bearer)
	}
	return Principal{}, ErrInvalidToken
}

func extractBearer(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
