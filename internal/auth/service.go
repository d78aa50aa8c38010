// Package auth implements the authorization-server core: the client
// verification gate, user registration and login, session minting,
// single-use authorization codes, code/token exchange, and the bearer-token
// resource check. All state lives in the store; the Service itself is
// stateless and safe for concurrent use.
//
// Known limitation, kept deliberately: refresh tokens are not rotated or
// invalidated on use.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/oauthd/internal/store"
)

const (
	sessionTokenBytes = 16
	codeBytes         = 32
	bearerTokenBytes  = 32
	secretBytes       = 32
)

// Config is the complete configuration of the core. Zero TTLs are replaced
// with the defaults below by New.
type Config struct {
	JWTSecret       []byte
	Issuer          string
	SessionTTL      time.Duration // default 30 days
	CodeTTL         time.Duration // default 5 minutes
	AccessTokenTTL  time.Duration // default 24 hours
	RefreshTokenTTL time.Duration // default 7 days
}

type Service struct {
	store store.Store
	cfg   Config
	log   zerolog.Logger
}

func New(st store.Store, cfg Config, log zerolog.Logger) *Service {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 24 * time.Hour
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "oauthd"
	}
	return &Service{store: st, cfg: cfg, log: log}
}

// RegisterClient creates an OAuth client with a generated clientId and
// secret. The secret is only surfaced here; clients are immutable afterwards.
func (s *Service) RegisterClient(ctx context.Context, name string, redirectURIs, grantTypes, scopes []string) (*store.Client, error) {
	secret, err := generateToken(secretBytes)
	if err != nil {
		return nil, internalError(err)
	}
	client := &store.Client{
		ClientID:     uuid.NewString(),
		ClientSecret: secret,
		Name:         name,
		RedirectURIs: redirectURIs,
		GrantTypes:   grantTypes,
		Scopes:       scopes,
	}
	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, internalError(err)
	}
	s.log.Info().Str("client_id", client.ClientID).Str("name", name).Msg("oauth client registered")
	return client, nil
}

// Identity is the result of a successful bearer-token resource check.
type Identity struct {
	User    *store.User
	Session *store.Session
	Scopes  []string
}

// Authenticate resolves a bearer access token to its owning user, granted
// scopes, and session. The token, its session, and the user's flags are all
// checked; any failure yields the same Unauthorized result.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	token, err := s.store.GetAccessToken(ctx, accessToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errUnauthorized
	}
	if err != nil {
		return nil, internalError(err)
	}
	now := time.Now()
	if now.After(token.ExpiresAt) {
		return nil, errUnauthorized
	}
	session, err := s.store.GetSessionByID(ctx, token.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errUnauthorized
	}
	if err != nil {
		return nil, internalError(err)
	}
	if now.After(session.ExpiresAt) {
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, token.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errUnauthorized
	}
	if err != nil {
		return nil, internalError(err)
	}
	if user.Deleted || user.Disabled {
		return nil, errUnauthorized
	}
	return &Identity{User: user, Session: session, Scopes: token.Scopes}, nil
}
