// Package auth verifies the identity of the caller on each request.
package auth

import (
	"errors"
	"net/http"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("missing or invalid credentials")

// Authenticator yields a verified user identity for a request, independent of
// how the credential is transported.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// HeaderAuthenticator trusts the x-user-id header. It stands in for a real
// credential verifier in front of which this service is expected to run.
type HeaderAuthenticator struct {
	Header string
}

// NewHeaderAuthenticator returns an authenticator reading the default header.
func NewHeaderAuthenticator() *HeaderAuthenticator {
	return &HeaderAuthenticator{Header: "x-user-id"}
}

func (a *HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	userID := r.Header.Get(a.Header)
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// Static authenticates every request as a fixed user. Test helper.
type Static string

func (s Static) Authenticate(*http.Request) (string, error) {
	if s == "" {
		return "", ErrUnauthenticated
	}
	return string(s), nil
}
