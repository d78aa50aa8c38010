package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteDuplicateEmail(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &User{Email: "a@test", Password: "x"}))
	err := s.CreateUser(ctx, &User{Email: "a@test", Password: "y"})
	require.ErrorIs(t, err, ErrDuplicate)

	got, err := s.GetUserByEmail(ctx, "a@test")
	require.NoError(t, err)
	require.False(t, got.Disabled)
	require.False(t, got.Deleted)
}

func TestSQLiteClientSetsRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	client := &Client{
		ClientID:     "c1",
		ClientSecret: "secret",
		Name:         "app",
		RedirectURIs: []string{"https://a.test/cb", "https://b.test/cb"},
		GrantTypes:   []string{"authorization_code"},
		Scopes:       []string{"openid", "profile"},
	}
	require.NoError(t, s.CreateClient(ctx, client))

	got, err := s.GetClientByClientID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, client.RedirectURIs, got.RedirectURIs)
	require.Equal(t, client.GrantTypes, got.GrantTypes)
	require.Equal(t, client.Scopes, got.Scopes)

	_, err = s.GetClientByClientID(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRedeemSingleUse(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	code := &AuthorizationCode{
		Code:        "the-code",
		ClientID:    "c1",
		UserID:      1,
		SessionID:   1,
		Scopes:      []string{"openid"},
		RedirectURI: "https://a.test/cb",
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	require.NoError(t, s.CreateAuthorizationCode(ctx, code))

	err := s.RedeemAuthorizationCode(ctx, "the-code", func(ac *AuthorizationCode) (*AccessToken, *RefreshToken, error) {
		require.Equal(t, []string{"openid"}, ac.Scopes)
		at := &AccessToken{Token: "at", ClientID: ac.ClientID, UserID: ac.UserID, SessionID: ac.SessionID, Scopes: ac.Scopes, ExpiresAt: time.Now().Add(time.Hour)}
		rt := &RefreshToken{Token: "rt", ClientID: ac.ClientID, UserID: ac.UserID, SessionID: ac.SessionID, ExpiresAt: time.Now().Add(time.Hour)}
		return at, rt, nil
	})
	require.NoError(t, err)

	at, err := s.GetAccessToken(ctx, "at")
	require.NoError(t, err)
	require.Equal(t, []string{"openid"}, at.Scopes)
	_, err = s.GetRefreshToken(ctx, "rt")
	require.NoError(t, err)

	err = s.RedeemAuthorizationCode(ctx, "the-code", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRedeemMintFailureStillDeletes(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	code := &AuthorizationCode{Code: "c", ClientID: "c1", RedirectURI: "https://a.test/cb", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, s.CreateAuthorizationCode(ctx, code))

	sentinel := context.Canceled
	err := s.RedeemAuthorizationCode(ctx, "c", func(*AuthorizationCode) (*AccessToken, *RefreshToken, error) {
		return nil, nil, sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = s.GetAccessToken(ctx, "at")
	require.ErrorIs(t, err, ErrNotFound)
	err = s.RedeemAuthorizationCode(ctx, "c", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteOrigins(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	row, err := s.AddOrigin(ctx, "https://a.test")
	require.NoError(t, err)

	_, err = s.AddOrigin(ctx, "https://a.test")
	require.ErrorIs(t, err, ErrDuplicate)

	list, err := s.ListOrigins(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	removed, err := s.RemoveOrigin(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, "https://a.test", removed.Origin)
}
