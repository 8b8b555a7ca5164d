package rpc

import (
	"encoding/base64"
	"net/http"
)

// Auth applies credentials to an outgoing request.
type Auth interface {
	Apply(req *http.Request)
}

// NoAuth sends no credentials.
type NoAuth struct{}

// Apply implements Auth.
func (NoAuth) Apply(*http.Request) {}

// BasicAuth uses HTTP Basic Authentication.
type BasicAuth struct {
	Username string
	Password string
}

// Apply adds a Basic authorization header.
func (a BasicAuth) Apply(req *http.Request) {
	if a.Username == "" && a.Password == "" {
		return
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	req.Header.Set("Authorization", "Basic "+credentials)
}

// BearerToken uses Bearer token authentication.
type BearerToken struct {
	Token string
}

// Apply adds a Bearer authorization header.
func (a BearerToken) Apply(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}
