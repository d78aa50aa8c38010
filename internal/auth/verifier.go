package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/example/oauthd/internal/store"
)

// ClientContext is the client metadata accompanying every token-producing
// request. ClientSecret is optional; when present it is verified too.
type ClientContext struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	ResponseType string
	Scopes       []string
}

// VerifyClient is the gate in front of every token-producing operation. It
// is a pure check: no side effects on success.
func (s *Service) VerifyClient(ctx context.Context, cc ClientContext) (*store.Client, error) {
	client, err := s.store.GetClientByClientID(ctx, cc.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errInvalidClient
	}
	if err != nil {
		return nil, internalError(err)
	}

	// compare only the part before any query string
	redirect, _, _ := strings.Cut(cc.RedirectURI, "?")
	if !contains(client.RedirectURIs, redirect) {
		return nil, errRedirectMismatch
	}
	for _, scope := range cc.Scopes {
		if !contains(client.Scopes, scope) {
			return nil, errScopeMismatch
		}
	}
	if !contains(client.GrantTypes, cc.ResponseType) {
		return nil, errGrantTypeMismatch
	}
	if cc.ClientSecret != "" {
		if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(cc.ClientSecret)) != 1 {
			return nil, errInvalidClientSecret
		}
	}
	return client, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
