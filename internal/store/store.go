// Package store defines the durable state behind the authorization server:
// users, OAuth clients, sessions, authorization codes, access and refresh
// tokens, and the CORS origin allow-list. Three implementations are provided:
// in-memory (tests, development), SQLite, and PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: duplicate")
)

// User is a registered end user. Disabled or deleted users may not
// authenticate and their existing tokens stop working.
type User struct {
	ID        int64
	Email     string
	Password  string // bcrypt hash, never the plaintext
	Name      string
	Deleted   bool
	Disabled  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Client is a registered OAuth client application. Rows are immutable after
// creation.
type Client struct {
	ID           int64
	ClientID     string
	ClientSecret string
	Name         string
	RedirectURIs []string
	GrantTypes   []string
	Scopes       []string
	CreatedAt    time.Time
}

// Session is minted on login and outlives individual tokens. It is never
// mutated, only expires.
type Session struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AuthorizationCode is a short-lived, single-use credential. The row is
// deleted on redemption; absence means "already used or never existed".
type AuthorizationCode struct {
	ID          int64
	Code        string
	ClientID    string
	UserID      int64
	SessionID   int64
	Scopes      []string
	RedirectURI string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// AccessToken is the short-lived bearer credential checked on every resource
// request.
type AccessToken struct {
	ID        int64
	Token     string
	ClientID  string
	UserID    int64
	SessionID int64
	Scopes    []string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RefreshToken mints new access tokens without re-authentication.
type RefreshToken struct {
	ID        int64
	Token     string
	ClientID  string
	UserID    int64
	SessionID int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AllowedOrigin is one entry of the CORS allow-list.
type AllowedOrigin struct {
	ID        int64
	Origin    string
	CreatedAt time.Time
}

// MintFunc builds the token pair for a redeemed authorization code. It runs
// inside the redemption transaction with the code row already deleted. If it
// returns an error (expired code), the deletion alone is committed so the
// code can never be replayed, and no tokens are written.
type MintFunc func(*AuthorizationCode) (*AccessToken, *RefreshToken, error)

// Store is the durable state contract. Create methods fill in the ID and
// CreatedAt of the passed row. Lookups return ErrNotFound when no row
// matches; CreateUser and AddOrigin return ErrDuplicate on unique-constraint
// violations.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)

	CreateClient(ctx context.Context, c *Client) error
	GetClientByClientID(ctx context.Context, clientID string) (*Client, error)

	CreateSession(ctx context.Context, s *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	GetSessionByID(ctx context.Context, id int64) (*Session, error)

	CreateAuthorizationCode(ctx context.Context, c *AuthorizationCode) error

	// RedeemAuthorizationCode atomically looks up the code, deletes it, and
	// persists the token pair produced by mint, all in one transaction. Two
	// concurrent redemptions of the same code yield exactly one caller that
	// sees the row; the other gets ErrNotFound.
	RedeemAuthorizationCode(ctx context.Context, code string, mint MintFunc) error

	CreateAccessToken(ctx context.Context, t *AccessToken) error
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)
	LatestAccessTokenBySession(ctx context.Context, sessionID int64) (*AccessToken, error)

	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	ListOrigins(ctx context.Context) ([]*AllowedOrigin, error)
	AddOrigin(ctx context.Context, origin string) (*AllowedOrigin, error)
	RemoveOrigin(ctx context.Context, id int64) (*AllowedOrigin, error)

	Ping(ctx context.Context) error
	Close() error
}
