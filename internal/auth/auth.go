// Package auth guards the worker's peer endpoint with a shared token.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a peer's token.
type Validator interface {
	Validate(token string) error
}

// SharedToken accepts exactly one token. An empty SharedToken accepts
// nothing.
type SharedToken string

func (s SharedToken) Validate(token string) error {
	if s == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// ForToken returns nil when token is empty, leaving the endpoint open.
func ForToken(token string) Validator {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return SharedToken(token)
}

// RequestToken extracts a bearer token, falling back to the token query
// parameter for clients that cannot set headers on a websocket upgrade.
func RequestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Header returns the request header carrying token, or nil without one.
func Header(token string) http.Header {
	if token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
