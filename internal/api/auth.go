package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when a caller's credential is missing or
// does not map to an authorized operator.
var ErrUnauthorized = errors.New("unauthorized")

// Authorizer proves a caller's membership in an authorized operator role
// and yields the caller identity used for rate limiting and auditing.
// The actual policy lives outside this service.
type Authorizer interface {
	Authorize(r *http.Request) (identity string, err error)
}

// TokenAuthorizer maps static bearer tokens to operator identities. It is
// the minimal stand-in for the external authorization collaborator.
type TokenAuthorizer struct {
	operators map[string]string // token -> operator identity
}

// NewTokenAuthorizer builds an authorizer from "token=operator" pairs.
func NewTokenAuthorizer(pairs string) *TokenAuthorizer {
	operators := make(map[string]string)
	for _, pair := range strings.Split(pairs, ",") {
		token, operator, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && token != "" {
			operators[token] = operator
		}
	}

	return &TokenAuthorizer{operators: operators}
}

// Authorize resolves the request's bearer token to an operator identity.
func (a *TokenAuthorizer) Authorize(r *http.Request) (string, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", ErrUnauthorized
	}

	operator, ok := a.operators[token]
	if !ok {
		return "", ErrUnauthorized
	}

	return operator, nil
}

type identityKey struct{}

func withIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// Identity returns the authenticated caller identity from the context.
func Identity(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)

	return identity
}
