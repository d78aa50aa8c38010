package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/oauthd/internal/store"
)

// IssueCode mints a 5-minute, single-use authorization code bound to the
// client, the session's user, the granted scopes, and the redirect URI. The
// client gate runs first. Expired sessions are not purged, so expiry is
// checked here and collapses into the same SessionNotFound result as a
// missing session.
func (s *Service) IssueCode(ctx context.Context, sessionToken string, cc ClientContext) (string, error) {
	client, err := s.VerifyClient(ctx, cc)
	if err != nil {
		return "", err
	}
	session, err := s.store.GetSessionByToken(ctx, sessionToken)
	if errors.Is(err, store.ErrNotFound) {
		return "", errSessionNotFound
	}
	if err != nil {
		return "", internalError(err)
	}
	if time.Now().After(session.ExpiresAt) {
		return "", errSessionNotFound
	}
	code, err := generateToken(codeBytes)
	if err != nil {
		return "", internalError(err)
	}
	redirect, _, _ := strings.Cut(cc.RedirectURI, "?")
	row := &store.AuthorizationCode{
		Code:        code,
		ClientID:    client.ClientID,
		UserID:      session.UserID,
		SessionID:   session.ID,
		Scopes:      cc.Scopes,
		RedirectURI: redirect,
		ExpiresAt:   time.Now().Add(s.cfg.CodeTTL),
	}
	if err := s.store.CreateAuthorizationCode(ctx, row); err != nil {
		return "", internalError(err)
	}
	s.log.Info().Str("client_id", client.ClientID).Int64("session_id", session.ID).Msg("authorization code issued")
	return code, nil
}
