package auth

import (
	"context"
	"encoding/json"
	"errors"
	log "log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-oauth2/oauth2/v4"
	oauthErrors "github.com/go-oauth2/oauth2/v4/errors"
	"github.com/go-session/session"
)

const (
	sessionUser        = "LoggedInUserID"
	sessionClient      = "client"
	sessionState       = "state"
	sessionRedirectUri = "redirectUri"
	sessionScope       = "scope"
)

// Authorize starts account linking. A new request is kept in the session and the user is sent
// to the login page. Once the session has a logged in user the authorization code is returned
// to the redirect uri.
func (a *Auth) Authorize(w http.ResponseWriter, r *http.Request) {
	log.Debug("handle authorize")

	if r.Method == http.MethodPost && r.Form == nil {
		if err := r.ParseForm(); err != nil {
			log.Error("error parsing authorize form", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	sessionStore, err := session.Start(r.Context(), w, r)
	if err != nil {
		log.Error("failed to get session", "error", err)
		http.Error(w, "server side error: #3100", http.StatusInternalServerError)
		return
	}

	if responseType := getInput(r, "response_type"); responseType != "" {
		client := getInput(r, "client_id")
		redirectUri := getInput(r, "redirect_uri")
		scope := getInput(r, "scope")
		state := getInput(r, "state")

		if responseType != "code" {
			log.Error("response type is not supported", "responseType", responseType)
			http.Error(w, "unsupported_response_type", http.StatusBadRequest)
			return
		}
		if client != a.clientId {
			log.Error("invalid client", "client", client)
			http.Error(w, "invalid_client", http.StatusBadRequest)
			return
		}
		if _, err := url.ParseRequestURI(redirectUri); err != nil {
			log.Error("invalid redirect uri", "redirectUri", redirectUri, "error", err)
			http.Error(w, "invalid_request", http.StatusBadRequest)
			return
		}

		sessionStore.Set(sessionClient, client)
		sessionStore.Set(sessionState, state)
		sessionStore.Set(sessionRedirectUri, redirectUri)
		sessionStore.Set(sessionScope, scope)
		if err := sessionStore.Save(); err != nil {
			log.Error("failed to store session", "error", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		log.Info("authorize", "client", client, "responseType", responseType, "scope", scope, "redirectUri", redirectUri)
	}

	userId := sessionValue(sessionStore, sessionUser)
	if userId == "" {
		w.Header().Set("Location", LoginPath)
		w.WriteHeader(http.StatusFound)
		return
	}

	redirectUri := sessionValue(sessionStore, sessionRedirectUri)
	if redirectUri == "" {
		log.Error("no authorization request in session", "user", userId)
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}
	state := sessionValue(sessionStore, sessionState)
	scope := sessionValue(sessionStore, sessionScope)

	authorizationCode, err := a.generateCode(r.Context(), userId, redirectUri, scope, r)
	if err != nil {
		log.Error("failed to create code", "user", userId, "error", err)
		http.Error(w, "server side error: #3203", http.StatusInternalServerError)
		return
	}

	responseUrl, err := url.Parse(redirectUri)
	if err != nil {
		log.Error("invalid redirect uri in session", "redirectUri", redirectUri, "error", err)
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}
	query := responseUrl.Query()
	query.Set("code", authorizationCode)
	query.Set("state", state)
	responseUrl.RawQuery = query.Encode()

	sessionStore.Delete(sessionClient)
	sessionStore.Delete(sessionScope)
	sessionStore.Delete(sessionState)
	sessionStore.Delete(sessionRedirectUri)
	if err := sessionStore.Save(); err != nil {
		log.Error("failed to store session", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	log.Info("authorize redirect", "user", userId, "location", responseUrl.Redacted())
	w.Header().Set("Location", responseUrl.String())
	w.WriteHeader(http.StatusFound)
}

// Token exchanges an authorization code or a refresh token for an access token.
func (a *Auth) Token(w http.ResponseWriter, r *http.Request) {
	log.Debug("handle token")

	if r.Method == http.MethodPost && r.Form == nil {
		if err := r.ParseForm(); err != nil {
			log.Error("error parsing token form", "error", err)
			tokenError(w, "invalid_request", http.StatusBadRequest)
			return
		}
	}

	grantType := getInput(r, "grant_type")
	if grantType != oauth2.AuthorizationCode.String() && grantType != oauth2.Refreshing.String() {
		log.Error("unsupported grant type", "grantType", grantType)
		tokenError(w, "unsupported_grant_type", http.StatusBadRequest)
		return
	}

	client, secret := getClient(r)
	if client != a.clientId || secret != a.clientSecret {
		log.Error("invalid client", "client", client)
		tokenError(w, "invalid_client", http.StatusUnauthorized)
		return
	}

	tokenGenerateRequest := &oauth2.TokenGenerateRequest{
		ClientID:     client,
		ClientSecret: secret,
		Scope:        getInput(r, "scope"),
		Request:      r,
	}

	var (
		tokenInfo oauth2.TokenInfo
		err       error
	)
	if grantType == oauth2.AuthorizationCode.String() {
		tokenGenerateRequest.Code = getInput(r, "code")
		tokenGenerateRequest.RedirectURI = getInput(r, "redirect_uri")
		tokenInfo, err = a.manager.GenerateAccessToken(r.Context(), oauth2.AuthorizationCode, tokenGenerateRequest)
	} else {
		tokenGenerateRequest.Refresh = getInput(r, "refresh_token")
		tokenInfo, err = a.manager.RefreshAccessToken(r.Context(), tokenGenerateRequest)
	}
	if err != nil {
		log.Warn("failed to grant token", "grantType", grantType, "client", client, "error", err)
		if errors.Is(err, oauthErrors.ErrInvalidClient) {
			tokenError(w, "invalid_client", http.StatusUnauthorized)
			return
		}
		tokenError(w, "invalid_grant", http.StatusBadRequest)
		return
	}

	response := map[string]interface{}{
		"token_type":   "bearer",
		"access_token": tokenInfo.GetAccess(),
		"expires_in":   int64(tokenInfo.GetAccessExpiresIn() / time.Second),
	}
	if scope := tokenInfo.GetScope(); scope != "" {
		response["scope"] = scope
	}
	if grantType == oauth2.AuthorizationCode.String() {
		if refresh := tokenInfo.GetRefresh(); refresh != "" {
			response["refresh_token"] = refresh
		}
		if a.linker != nil {
			a.linker.Link(tokenInfo.GetUserID())
		}
	}

	log.Info("token grant", "grantType", grantType, "client", client, "user", tokenInfo.GetUserID())

	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error("failed to write token response", "client", client, "error", err)
	}
}

func (a *Auth) generateCode(ctx context.Context, userId string, redirectUri string, scope string, r *http.Request) (string, error) {
	tokenRequest := &oauth2.TokenGenerateRequest{
		ClientID:       a.clientId,
		UserID:         userId,
		RedirectURI:    redirectUri,
		Scope:          scope,
		AccessTokenExp: a.tokenExpiry,
		Request:        r,
	}

	tokenInfo, err := a.manager.GenerateAuthToken(ctx, oauth2.Code, tokenRequest)
	if err != nil {
		return "", err
	}
	return tokenInfo.GetCode(), nil
}

func sessionValue(store session.Store, key string) string {
	value, ok := store.Get(key)
	if !ok {
		return ""
	}
	text, _ := value.(string)
	return text
}

func tokenError(w http.ResponseWriter, code string, status int) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// getClient reads the client credentials from the form, falling back to basic auth.
func getClient(r *http.Request) (string, string) {
	client := getInput(r, "client_id")
	secret := getInput(r, "client_secret")
	if client == "" {
		if user, password, ok := r.BasicAuth(); ok {
			return user, password
		}
	}
	return client, secret
}

func getInput(r *http.Request, key string) string {
	if r.URL.Query().Has(key) {
		return r.URL.Query().Get(key)
	}
	return r.FormValue(key)
}
