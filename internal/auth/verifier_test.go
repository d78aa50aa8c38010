package auth_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/oauthd/internal/auth"
	"github.com/example/oauthd/internal/store"
)

func newTestService(t *testing.T) (*auth.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := auth.New(mem, auth.Config{JWTSecret: []byte("test-secret")}, zerolog.Nop())
	return svc, mem
}

func registerTestClient(t *testing.T, svc *auth.Service) *store.Client {
	t.Helper()
	client, err := svc.RegisterClient(context.Background(), "test-app",
		[]string{"https://a.test/cb"},
		[]string{"authorization_code"},
		[]string{"openid", "profile"})
	require.NoError(t, err)
	return client
}

func TestVerifyClient(t *testing.T) {
	svc, _ := newTestService(t)
	client := registerTestClient(t, svc)

	valid := auth.ClientContext{
		ClientID:     client.ClientID,
		RedirectURI:  "https://a.test/cb",
		ResponseType: "authorization_code",
		Scopes:       []string{"openid"},
	}

	tests := []struct {
		name     string
		mutate   func(cc *auth.ClientContext)
		wantCode auth.Code
	}{
		{
			name:   "valid context passes",
			mutate: func(cc *auth.ClientContext) {},
		},
		{
			name:   "redirect uri query string is ignored",
			mutate: func(cc *auth.ClientContext) { cc.RedirectURI = "https://a.test/cb?state=xyz" },
		},
		{
			name:   "valid secret passes",
			mutate: func(cc *auth.ClientContext) { cc.ClientSecret = client.ClientSecret },
		},
		{
			name:     "unknown client",
			mutate:   func(cc *auth.ClientContext) { cc.ClientID = "nope" },
			wantCode: auth.CodeInvalidClient,
		},
		{
			name:     "unregistered redirect uri",
			mutate:   func(cc *auth.ClientContext) { cc.RedirectURI = "https://evil.test/cb" },
			wantCode: auth.CodeRedirectMismatch,
		},
		{
			name:     "redirect uri prefix is not enough",
			mutate:   func(cc *auth.ClientContext) { cc.RedirectURI = "https://a.test/cb/extra" },
			wantCode: auth.CodeRedirectMismatch,
		},
		{
			name:     "scope outside registration",
			mutate:   func(cc *auth.ClientContext) { cc.Scopes = []string{"openid", "email"} },
			wantCode: auth.CodeScopeMismatch,
		},
		{
			name:     "response type outside grant types",
			mutate:   func(cc *auth.ClientContext) { cc.ResponseType = "refresh" },
			wantCode: auth.CodeGrantTypeMismatch,
		},
		{
			name:     "wrong secret",
			mutate:   func(cc *auth.ClientContext) { cc.ClientSecret = "wrong" },
			wantCode: auth.CodeInvalidClientSecret,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := valid
			cc.Scopes = append([]string(nil), valid.Scopes...)
			tt.mutate(&cc)
			got, err := svc.VerifyClient(context.Background(), cc)
			if tt.wantCode == "" {
				require.NoError(t, err)
				require.Equal(t, client.ClientID, got.ClientID)
				return
			}
			var authErr *auth.Error
			require.ErrorAs(t, err, &authErr)
			require.Equal(t, tt.wantCode, authErr.Code)
		})
	}
}

func TestRegisterClientGeneratesCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	a := registerTestClient(t, svc)
	b := registerTestClient(t, svc)
	require.NotEmpty(t, a.ClientID)
	require.NotEmpty(t, a.ClientSecret)
	require.NotEqual(t, a.ClientID, b.ClientID)
	require.NotEqual(t, a.ClientSecret, b.ClientSecret)
	require.Len(t, a.ClientSecret, 64) // 32 random bytes, hex
}
