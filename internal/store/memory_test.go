package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryDuplicateEmail(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateUser(ctx, &User{Email: "a@test", Password: "x"}))
	err := m.CreateUser(ctx, &User{Email: "a@test", Password: "y"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryRedeemAtomicity(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	code := &AuthorizationCode{
		Code:      "the-code",
		ClientID:  "c1",
		UserID:    1,
		SessionID: 1,
		Scopes:    []string{"openid"},
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, m.CreateAuthorizationCode(ctx, code))

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- m.RedeemAuthorizationCode(ctx, "the-code", func(ac *AuthorizationCode) (*AccessToken, *RefreshToken, error) {
				at := &AccessToken{Token: "at", ClientID: ac.ClientID, UserID: ac.UserID, SessionID: ac.SessionID, Scopes: ac.Scopes, ExpiresAt: time.Now().Add(time.Hour)}
				rt := &RefreshToken{Token: "rt", ClientID: ac.ClientID, UserID: ac.UserID, SessionID: ac.SessionID, ExpiresAt: time.Now().Add(time.Hour)}
				return at, rt, nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, notFound int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, ErrNotFound)
			notFound++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, attempts-1, notFound)
}

func TestMemoryRedeemMintFailureStillDeletes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	code := &AuthorizationCode{Code: "c", ClientID: "c1", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, m.CreateAuthorizationCode(ctx, code))

	sentinel := context.Canceled // any error will do
	err := m.RedeemAuthorizationCode(ctx, "c", func(*AuthorizationCode) (*AccessToken, *RefreshToken, error) {
		return nil, nil, sentinel
	})
	require.ErrorIs(t, err, sentinel)

	// no tokens were written, and the code is gone
	_, err = m.GetAccessToken(ctx, "at")
	require.ErrorIs(t, err, ErrNotFound)
	err = m.RedeemAuthorizationCode(ctx, "c", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLatestAccessTokenBySession(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.LatestAccessTokenBySession(ctx, 7)
	require.ErrorIs(t, err, ErrNotFound)

	first := &AccessToken{Token: "t1", SessionID: 7, Scopes: []string{"openid"}, ExpiresAt: time.Now().Add(time.Hour)}
	second := &AccessToken{Token: "t2", SessionID: 7, Scopes: []string{"openid", "profile"}, ExpiresAt: time.Now().Add(time.Hour)}
	other := &AccessToken{Token: "t3", SessionID: 8, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, m.CreateAccessToken(ctx, first))
	require.NoError(t, m.CreateAccessToken(ctx, second))
	require.NoError(t, m.CreateAccessToken(ctx, other))

	latest, err := m.LatestAccessTokenBySession(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "t2", latest.Token)
}

func TestMemoryOrigins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	row, err := m.AddOrigin(ctx, "https://a.test")
	require.NoError(t, err)

	_, err = m.AddOrigin(ctx, "https://a.test")
	require.ErrorIs(t, err, ErrDuplicate)

	list, err := m.ListOrigins(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	removed, err := m.RemoveOrigin(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, "https://a.test", removed.Origin)

	_, err = m.RemoveOrigin(ctx, row.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
