package auth

import (
	"context"
	"errors"
	"time"

	"github.com/example/oauthd/internal/store"
)

// TokenPair is the result of a successful code exchange. IDToken is set only
// when the granted scopes include "openid".
type TokenPair struct {
	AccessToken  *store.AccessToken
	RefreshToken *store.RefreshToken
	IDToken      string
}

// ExchangeCode redeems an authorization code for an access+refresh token
// pair. The redemption is atomic: the code row is deleted in the same
// transaction that persists the tokens, so concurrent redemptions of the
// same code yield exactly one success. An expired code is deleted as well
// and fails with ExpiredGrant; absence of the row collapses "already used"
// and "never existed" into InvalidGrant.
func (s *Service) ExchangeCode(ctx context.Context, code string) (*TokenPair, error) {
	accessValue, err := generateToken(bearerTokenBytes)
	if err != nil {
		return nil, internalError(err)
	}
	refreshValue, err := generateToken(bearerTokenBytes)
	if err != nil {
		return nil, internalError(err)
	}

	now := time.Now()
	pair := &TokenPair{}
	err = s.store.RedeemAuthorizationCode(ctx, code, func(ac *store.AuthorizationCode) (*store.AccessToken, *store.RefreshToken, error) {
		if now.After(ac.ExpiresAt) {
			return nil, nil, errExpiredGrant
		}
		pair.AccessToken = &store.AccessToken{
			Token:     accessValue,
			ClientID:  ac.ClientID,
			UserID:    ac.UserID,
			SessionID: ac.SessionID,
			Scopes:    ac.Scopes,
			ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		}
		pair.RefreshToken = &store.RefreshToken{
			Token:     refreshValue,
			ClientID:  ac.ClientID,
			UserID:    ac.UserID,
			SessionID: ac.SessionID,
			ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		}
		return pair.AccessToken, pair.RefreshToken, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, errInvalidGrant
	}
	var authErr *Error
	if errors.As(err, &authErr) {
		return nil, authErr
	}
	if err != nil {
		return nil, internalError(err)
	}

	if contains(pair.AccessToken.Scopes, "openid") {
		user, err := s.store.GetUserByID(ctx, pair.AccessToken.UserID)
		if err == nil {
			idToken, signErr := s.idToken(user, pair.AccessToken.ClientID, pair.AccessToken.ExpiresAt)
			if signErr == nil {
				pair.IDToken = idToken
			} else {
				s.log.Warn().Err(signErr).Msg("id token signing failed")
			}
		} else {
			s.log.Warn().Err(err).Msg("id token user lookup failed")
		}
	}
	s.log.Info().Str("client_id", pair.AccessToken.ClientID).Int64("session_id", pair.AccessToken.SessionID).Msg("authorization code exchanged")
	return pair, nil
}

// Refresh redeems a refresh token for a new access token. Scopes are copied
// from the session's most recent access token, never escalated. The refresh
// token itself is not rotated or invalidated; see the package doc.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*store.AccessToken, error) {
	rt, err := s.store.GetRefreshToken(ctx, refreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errInvalidGrant
	}
	if err != nil {
		return nil, internalError(err)
	}
	now := time.Now()
	if now.After(rt.ExpiresAt) {
		return nil, errExpiredGrant
	}

	var scopes []string
	prev, err := s.store.LatestAccessTokenBySession(ctx, rt.SessionID)
	if err == nil {
		scopes = prev.Scopes
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, internalError(err)
	}

	value, err := generateToken(bearerTokenBytes)
	if err != nil {
		return nil, internalError(err)
	}
	token := &store.AccessToken{
		Token:     value,
		ClientID:  rt.ClientID,
		UserID:    rt.UserID,
		SessionID: rt.SessionID,
		Scopes:    scopes,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}
	if err := s.store.CreateAccessToken(ctx, token); err != nil {
		return nil, internalError(err)
	}
	s.log.Info().Str("client_id", rt.ClientID).Int64("session_id", rt.SessionID).Msg("access token refreshed")
	return token, nil
}
