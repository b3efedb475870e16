package api

import (
	"context"
	"errors"
)

// Scopes recognized by the API. A credential carrying "*" passes every
// scope check.
const (
	ScopeEnqueue = "enqueue"
	ScopeWorker  = "worker"
	ScopeAll     = "*"
)

var errUnknownKey = errors.New("thumbq/api: unknown api key")

// Identity is the authenticated principal behind a request.
type Identity struct {
	// Subject names the credential, e.g. the worker fleet or the
	// catalog service. Also the rate-limiting key.
	Subject string
	// Scopes the credential is allowed to use.
	Scopes []string
}

// HasScope reports whether the identity carries the scope or the
// wildcard.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope || s == ScopeAll {
			return true
		}
	}
	return false
}

// Authenticator resolves an API key to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*Identity, error)
}

// APIKeyAuthenticator is a static token-to-identity map, loaded from
// configuration.
type APIKeyAuthenticator struct {
	keys map[string]*Identity
}

// NewAPIKeyAuthenticator builds an authenticator over the given keys.
func NewAPIKeyAuthenticator(keys map[string]*Identity) *APIKeyAuthenticator {
	if keys == nil {
		keys = make(map[string]*Identity)
	}
	return &APIKeyAuthenticator{keys: keys}
}

// AddKey registers a credential.
func (a *APIKeyAuthenticator) AddKey(apiKey string, identity *Identity) {
	a.keys[apiKey] = identity
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, apiKey string) (*Identity, error) {
	identity, ok := a.keys[apiKey]
	if !ok {
		return nil, errUnknownKey
	}
	return identity, nil
}

// NoopAuthenticator accepts everything with full scopes. Only for tests
// and local development.
type NoopAuthenticator struct{}

func (NoopAuthenticator) Authenticate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{Subject: "anonymous", Scopes: []string{ScopeAll}}, nil
}
