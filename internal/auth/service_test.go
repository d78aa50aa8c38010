package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/example/oauthd/internal/auth"
	"github.com/example/oauthd/internal/store"
)

func clientContext(c *store.Client) auth.ClientContext {
	return auth.ClientContext{
		ClientID:     c.ClientID,
		RedirectURI:  c.RedirectURIs[0],
		ResponseType: "authorization_code",
		Scopes:       []string{"openid"},
	}
}

func requireCode(t *testing.T, err error, want auth.Code) {
	t.Helper()
	var authErr *auth.Error
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, want, authErr.Code)
}

func TestRegister(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "u@example.com", "hunter22", "U")
	require.NoError(t, err)
	require.NotZero(t, user.ID)

	// stored password is a hash, never the plaintext
	stored, err := mem.GetUserByEmail(ctx, "u@example.com")
	require.NoError(t, err)
	require.NotEqual(t, "hunter22", stored.Password)
	require.True(t, strings.HasPrefix(stored.Password, "$2"))

	_, err = svc.Register(ctx, "u@example.com", "other", "U2")
	requireCode(t, err, auth.CodeUserExists)

	// email match is case-sensitive on the stored value
	_, err = svc.Register(ctx, "U@example.com", "other", "U2")
	require.NoError(t, err)
}

func TestLogin(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	client := registerTestClient(t, svc)
	cc := clientContext(client)

	user, err := svc.Register(ctx, "u@example.com", "hunter22", "U")
	require.NoError(t, err)

	t.Run("success mints 30 day session", func(t *testing.T) {
		session, err := svc.Login(ctx, "u@example.com", "hunter22", cc)
		require.NoError(t, err)
		require.NotEmpty(t, session.Token)
		require.WithinDuration(t, time.Now().Add(30*24*time.Hour), session.ExpiresAt, time.Minute)
	})

	t.Run("client gate runs first", func(t *testing.T) {
		bad := cc
		bad.ClientID = "nope"
		_, err := svc.Login(ctx, "u@example.com", "hunter22", bad)
		requireCode(t, err, auth.CodeInvalidClient)
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		_, errWrong := svc.Login(ctx, "u@example.com", "wrong", cc)
		_, errUnknown := svc.Login(ctx, "nobody@example.com", "wrong", cc)
		var a, b *auth.Error
		require.ErrorAs(t, errWrong, &a)
		require.ErrorAs(t, errUnknown, &b)
		require.Equal(t, a.Status, b.Status)
		require.Equal(t, a.Message, b.Message)
	})

	t.Run("disabled account", func(t *testing.T) {
		mem.SetUserFlags(user.ID, true, false)
		_, err := svc.Login(ctx, "u@example.com", "hunter22", cc)
		requireCode(t, err, auth.CodeAccountDisabled)
		mem.SetUserFlags(user.ID, false, false)
	})

	t.Run("deleted account", func(t *testing.T) {
		mem.SetUserFlags(user.ID, false, true)
		_, err := svc.Login(ctx, "u@example.com", "hunter22", cc)
		requireCode(t, err, auth.CodeAccountDisabled)
		mem.SetUserFlags(user.ID, false, false)
	})
}

func TestIssueCode(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	client := registerTestClient(t, svc)
	cc := clientContext(client)

	_, err := svc.Register(ctx, "u@example.com", "hunter22", "U")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "u@example.com", "hunter22", cc)
	require.NoError(t, err)

	t.Run("issues a bound code", func(t *testing.T) {
		code, err := svc.IssueCode(ctx, session.Token, cc)
		require.NoError(t, err)
		require.NotEmpty(t, code)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := svc.IssueCode(ctx, "no-such-session", cc)
		requireCode(t, err, auth.CodeSessionNotFound)
	})

	t.Run("expired session is reported as not found", func(t *testing.T) {
		expired := &store.Session{UserID: session.UserID, Token: "expired-tok", ExpiresAt: time.Now().Add(-time.Hour)}
		require.NoError(t, mem.CreateSession(ctx, expired))
		_, err := svc.IssueCode(ctx, "expired-tok", cc)
		requireCode(t, err, auth.CodeSessionNotFound)
	})

	t.Run("redirect mismatch persists nothing", func(t *testing.T) {
		bad := cc
		bad.RedirectURI = "https://evil.test/cb"
		_, err := svc.IssueCode(ctx, session.Token, bad)
		requireCode(t, err, auth.CodeRedirectMismatch)
	})
}

func TestExchangeCode(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	client := registerTestClient(t, svc)
	cc := clientContext(client)

	_, err := svc.Register(ctx, "u@example.com", "hunter22", "U")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "u@example.com", "hunter22", cc)
	require.NoError(t, err)

	t.Run("mints scoped token pair and deletes the code", func(t *testing.T) {
		code, err := svc.IssueCode(ctx, session.Token, cc)
		require.NoError(t, err)

		pair, err := svc.ExchangeCode(ctx, code)
		require.NoError(t, err)
		require.Equal(t, []string{"openid"}, pair.AccessToken.Scopes)
		require.Equal(t, client.ClientID, pair.AccessToken.ClientID)
		require.Equal(t, session.ID, pair.AccessToken.SessionID)
		require.WithinDuration(t, time.Now().Add(24*time.Hour), pair.AccessToken.ExpiresAt, time.Minute)
		require.WithinDuration(t, time.Now().Add(7*24*time.Hour), pair.RefreshToken.ExpiresAt, time.Minute)

		_, err = svc.ExchangeCode(ctx, code)
		requireCode(t, err, auth.CodeInvalidGrant)
	})

	t.Run("openid scope yields a signed id token", func(t *testing.T) {
		code, err := svc.IssueCode(ctx, session.Token, cc)
		require.NoError(t, err)
		pair, err := svc.ExchangeCode(ctx, code)
		require.NoError(t, err)
		require.NotEmpty(t, pair.IDToken)

		parsed, err := jwt.Parse(pair.IDToken, func(*jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		})
		require.NoError(t, err)
		claims := parsed.Claims.(jwt.MapClaims)
		require.Equal(t, "u@example.com", claims["email"])
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := svc.ExchangeCode(ctx, "no-such-code")
		requireCode(t, err, auth.CodeInvalidGrant)
	})

	t.Run("expired code fails and is burnt", func(t *testing.T) {
		row := &store.AuthorizationCode{
			Code:        "expired-code",
			ClientID:    client.ClientID,
			UserID:      session.UserID,
			SessionID:   session.ID,
			Scopes:      []string{"openid"},
			RedirectURI: "https://a.test/cb",
			ExpiresAt:   time.Now().Add(-time.Minute),
		}
		require.NoError(t, mem.CreateAuthorizationCode(ctx, row))

		_, err := svc.ExchangeCode(ctx, "expired-code")
		requireCode(t, err, auth.CodeExpiredGrant)

		// the expiry path deletes the row too, closing the replay window
		_, err = svc.ExchangeCode(ctx, "expired-code")
		requireCode(t, err, auth.CodeInvalidGrant)
	})

	t.Run("concurrent double redemption yields one success", func(t *testing.T) {
		code, err := svc.IssueCode(ctx, session.Token, cc)
		require.NoError(t, err)

		const attempts = 8
		var wg sync.WaitGroup
		results := make(chan error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.ExchangeCode(ctx, code)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var successes, invalid int
		for err := range results {
			if err == nil {
				successes++
				continue
			}
			var authErr *auth.Error
			require.ErrorAs(t, err, &authErr)
			require.Equal(t, auth.CodeInvalidGrant, authErr.Code)
			invalid++
		}
		require.Equal(t, 1, successes)
		require.Equal(t, attempts-1, invalid)
	})
}

func TestRefresh(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	client := registerTestClient(t, svc)
	cc := clientContext(client)

	_, err := svc.Register(ctx, "u@example.com", "hunter22", "U")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "u@example.com", "hunter22", cc)
	require.NoError(t, err)
	code, err := svc.IssueCode(ctx, session.Token, cc)
	require.NoError(t, err)
	pair, err := svc.ExchangeCode(ctx, code)
	require.NoError(t, err)

	t.Run("mints a fresh access token with copied scopes", func(t *testing.T) {
		token, err := svc.Refresh(ctx, pair.RefreshToken.Token)
		require.NoError(t, err)
		require.NotEqual(t, pair.AccessToken.Token, token.Token)
		require.Equal(t, pair.AccessToken.Scopes, token.Scopes)
		require.WithinDuration(t, time.Now().Add(24*time.Hour), token.ExpiresAt, time.Minute)

		// the refresh token is not rotated
		_, err = svc.Refresh(ctx, pair.RefreshToken.Token)
		require.NoError(t, err)
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		_, err := svc.Refresh(ctx, "no-such-token")
		requireCode(t, err, auth.CodeInvalidGrant)
	})

	t.Run("expired refresh token", func(t *testing.T) {
		expired := &store.RefreshToken{
			Token:     "expired-refresh",
			ClientID:  client.ClientID,
			UserID:    session.UserID,
			SessionID: session.ID,
			ExpiresAt: time.Now().Add(-time.Minute),
		}
		require.NoError(t, mem.CreateRefreshToken(ctx, expired))
		_, err := svc.Refresh(ctx, "expired-refresh")
		requireCode(t, err, auth.CodeExpiredGrant)
	})
}

func TestAuthenticate(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	client := registerTestClient(t, svc)
	cc := clientContext(client)

	user, err := svc.Register(ctx, "u@example.com", "hunter22", "U")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "u@example.com", "hunter22", cc)
	require.NoError(t, err)
	code, err := svc.IssueCode(ctx, session.Token, cc)
	require.NoError(t, err)
	pair, err := svc.ExchangeCode(ctx, code)
	require.NoError(t, err)

	t.Run("valid token resolves identity", func(t *testing.T) {
		identity, err := svc.Authenticate(ctx, pair.AccessToken.Token)
		require.NoError(t, err)
		require.Equal(t, user.ID, identity.User.ID)
		require.Equal(t, session.ID, identity.Session.ID)
		require.Equal(t, []string{"openid"}, identity.Scopes)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "no-such-token")
		requireCode(t, err, auth.CodeUnauthorized)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := &store.AccessToken{
			Token:     "expired-access",
			ClientID:  client.ClientID,
			UserID:    user.ID,
			SessionID: session.ID,
			Scopes:    []string{"openid"},
			ExpiresAt: time.Now().Add(-time.Minute),
		}
		require.NoError(t, mem.CreateAccessToken(ctx, expired))
		_, err := svc.Authenticate(ctx, "expired-access")
		requireCode(t, err, auth.CodeUnauthorized)
	})

	t.Run("expired session invalidates a live token", func(t *testing.T) {
		staleSession := &store.Session{UserID: user.ID, Token: "stale-sess", ExpiresAt: time.Now().Add(-time.Hour)}
		require.NoError(t, mem.CreateSession(ctx, staleSession))
		token := &store.AccessToken{
			Token:     "live-token-stale-session",
			ClientID:  client.ClientID,
			UserID:    user.ID,
			SessionID: staleSession.ID,
			Scopes:    []string{"openid"},
			ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, mem.CreateAccessToken(ctx, token))
		_, err := svc.Authenticate(ctx, token.Token)
		requireCode(t, err, auth.CodeUnauthorized)
	})

	t.Run("disabled user invalidates existing tokens", func(t *testing.T) {
		mem.SetUserFlags(user.ID, true, false)
		_, err := svc.Authenticate(ctx, pair.AccessToken.Token)
		requireCode(t, err, auth.CodeUnauthorized)
		mem.SetUserFlags(user.ID, false, false)
	})
}

// TestAuthorizationFlow walks the documented end-to-end scenario.
func TestAuthorizationFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	client, err := svc.RegisterClient(ctx, "C", []string{"https://a.test/cb"},
		[]string{"authorization_code"}, []string{"openid"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, "user@a.test", "pass12345", "User")
	require.NoError(t, err)

	cc := auth.ClientContext{
		ClientID:     client.ClientID,
		RedirectURI:  "https://a.test/cb",
		ResponseType: "authorization_code",
		Scopes:       []string{"openid"},
	}
	session, err := svc.Login(ctx, "user@a.test", "pass12345", cc)
	require.NoError(t, err)

	code, err := svc.IssueCode(ctx, session.Token, cc)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	pair, err := svc.ExchangeCode(ctx, code)
	require.NoError(t, err)

	_, err = svc.ExchangeCode(ctx, code)
	requireCode(t, err, auth.CodeInvalidGrant)

	token, err := svc.Refresh(ctx, pair.RefreshToken.Token)
	require.NoError(t, err)
	require.NotEqual(t, pair.AccessToken.Token, token.Token)
	require.Equal(t, []string{"openid"}, token.Scopes)
}
