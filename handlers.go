package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/oauthd/internal/auth"
)

// clientMeta is the client context accompanying token-producing requests.
type clientMeta struct {
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	RedirectURI  string   `json:"redirectUri"`
	ResponseType string   `json:"responseType"`
	Scopes       []string `json:"scopes"`
}

func (m clientMeta) context() auth.ClientContext {
	return auth.ClientContext{
		ClientID:     m.ClientID,
		ClientSecret: m.ClientSecret,
		RedirectURI:  m.RedirectURI,
		ResponseType: m.ResponseType,
		Scopes:       m.Scopes,
	}
}

var (
	knownGrantTypes = []string{"authorization_code", "refresh"}
	knownScopes     = []string{"openid", "profile", "email"}
)

func validStrings(values, known []string) bool {
	for _, v := range values {
		found := false
		for _, k := range known {
			if v == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HandleRegisterClient creates an OAuth client. The secret is returned only
// here.
func (a *App) HandleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"clientName"`
		RedirectURIs []string `json:"redirectUris"`
		GrantTypes   []string `json:"grantTypes"`
		Scopes       []string `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Name == "" || len(req.RedirectURIs) == 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "clientName and redirectUris are required")
		return
	}
	if len(req.GrantTypes) == 0 || !validStrings(req.GrantTypes, knownGrantTypes) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "grantTypes must be a non-empty subset of: "+strings.Join(knownGrantTypes, ", "))
		return
	}
	if !validStrings(req.Scopes, knownScopes) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "scopes must be a subset of: "+strings.Join(knownScopes, ", "))
		return
	}
	client, err := a.svc.RegisterClient(r.Context(), req.Name, req.RedirectURIs, req.GrantTypes, req.Scopes)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"clientId":     client.ClientID,
		"clientSecret": client.ClientSecret,
		"name":         client.Name,
		"redirectUris": client.RedirectURIs,
		"grantTypes":   client.GrantTypes,
		"scopes":       client.Scopes,
	})
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "email and password are required")
		return
	}
	user, err := a.svc.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
	})
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string     `json:"email"`
		Password string     `json:"password"`
		Meta     clientMeta `json:"meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "email and password are required")
		return
	}
	if req.Meta.ClientID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "meta client context is required")
		return
	}
	session, err := a.svc.Login(r.Context(), req.Email, req.Password, req.Meta.context())
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"sessionToken": session.Token,
		"expiresAt":    session.ExpiresAt,
	})
}

// HandleAuthorize issues an authorization code against the session token in
// the path.
func (a *App) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	sessionToken := mux.Vars(r)["session"]
	var req struct {
		Meta clientMeta `json:"meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if sessionToken == "" || req.Meta.ClientID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "session token and meta client context are required")
		return
	}
	code, err := a.svc.IssueCode(r.Context(), sessionToken, req.Meta.context())
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]string{"code": code})
}

func (a *App) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required")
		return
	}
	pair, err := a.svc.ExchangeCode(r.Context(), req.Code)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	resp := map[string]interface{}{
		"accessToken":           pair.AccessToken.Token,
		"accessTokenExpiresAt":  pair.AccessToken.ExpiresAt,
		"refreshToken":          pair.RefreshToken.Token,
		"refreshTokenExpiresAt": pair.RefreshToken.ExpiresAt,
		"scopes":                pair.AccessToken.Scopes,
	}
	if pair.IDToken != "" {
		resp["idToken"] = pair.IDToken
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "refreshToken is required")
		return
	}
	token, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"accessToken": token.Token,
		"expiresAt":   token.ExpiresAt,
		"scopes":      token.Scopes,
	})
}

// HandleGetUser resolves the bearer access token to the owning user profile.
func (a *App) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	bearer := r.Header.Get("Authorization")
	token := strings.TrimPrefix(bearer, "Bearer ")
	if token == "" || token == bearer {
		writeError(w, http.StatusUnauthorized, string(auth.CodeUnauthorized), "bearer access token required")
		return
	}
	identity, err := a.svc.Authenticate(r.Context(), token)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"id":     identity.User.ID,
		"email":  identity.User.Email,
		"name":   identity.User.Name,
		"scopes": identity.Scopes,
	})
}
