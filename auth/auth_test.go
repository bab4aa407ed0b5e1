package auth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mrlauy/ghome-bridge/config"
)

const redirectUri = "http://localhost/r/project"

func authConfig(t *testing.T, users map[string]string) config.AuthConfig {
	t.Helper()
	dir := t.TempDir()
	credentials := filepath.Join(dir, "credentials")

	if len(users) > 0 {
		var lines []string
		for user, password := range users {
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
			require.NoError(t, err)
			lines = append(lines, user+":"+string(hash))
		}
		require.NoError(t, os.WriteFile(credentials, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	}

	return config.AuthConfig{
		Client:      config.ClientConfig{Id: "CLIENT_ID", Secret: "client-secret", Domain: "http://localhost"},
		Credentials: credentials,
		TokenStore:  filepath.Join(dir, "tokens"),
		JwtKey:      "test-key",
		TokenExpiry: 24 * time.Hour,
	}
}

type linkerMock struct {
	mu    sync.Mutex
	users []string
}

func (l *linkerMock) Link(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users = append(l.users, user)
}

func newTestServer(t *testing.T, auth *Auth) (*httptest.Server, *http.Client) {
	t.Helper()
	router := mux.NewRouter()
	router.HandleFunc(AuthorizePath, auth.Authorize)
	router.HandleFunc(LoginPath, auth.Login(LoginPage))
	router.HandleFunc(TokenPath, auth.Token)
	router.Handle("/whoami", auth.ValidateToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		fmt.Fprint(w, user)
	})))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return server, client
}

func authorizeUrl(server *httptest.Server) string {
	query := url.Values{
		"response_type": {"code"},
		"client_id":     {"CLIENT_ID"},
		"redirect_uri":  {redirectUri},
		"state":         {"STATE_STRING"},
		"scope":         {""},
	}
	return server.URL + AuthorizePath + "?" + query.Encode()
}

// link walks through authorize and login and returns the authorization code.
func link(t *testing.T, server *httptest.Server, client *http.Client, username, password string) string {
	t.Helper()
	response, err := client.Get(authorizeUrl(server))
	require.NoError(t, err)
	response.Body.Close()
	require.Equal(t, http.StatusFound, response.StatusCode)
	require.Equal(t, LoginPath, response.Header.Get("Location"))

	response, err = client.PostForm(server.URL+LoginPath, url.Values{"username": {username}, "password": {password}})
	require.NoError(t, err)
	response.Body.Close()
	require.Equal(t, http.StatusFound, response.StatusCode)
	require.Equal(t, AuthorizePath, response.Header.Get("Location"))

	response, err = client.Get(server.URL + AuthorizePath)
	require.NoError(t, err)
	response.Body.Close()
	require.Equal(t, http.StatusFound, response.StatusCode)

	location, err := url.Parse(response.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost", location.Host)
	assert.Equal(t, "/r/project", location.Path)
	assert.Equal(t, "STATE_STRING", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func requestToken(t *testing.T, client *http.Client, server *httptest.Server, form url.Values) (int, map[string]any) {
	t.Helper()
	response, err := client.PostForm(server.URL+TokenPath, form)
	require.NoError(t, err)
	defer response.Body.Close()

	body := map[string]any{}
	require.NoError(t, json.NewDecoder(response.Body).Decode(&body))
	return response.StatusCode, body
}

func whoami(t *testing.T, client *http.Client, server *httptest.Server, token string) (int, string) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, server.URL+"/whoami", nil)
	require.NoError(t, err)
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := client.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	return response.StatusCode, strings.TrimSpace(string(body))
}

func TestAccountLinking(t *testing.T) {
	linker := &linkerMock{}
	auth, err := NewAuth(authConfig(t, map[string]string{"alice": "secret"}), linker)
	require.NoError(t, err)
	server, client := newTestServer(t, auth)

	code := link(t, server, client, "Alice", "secret")

	status, token := requestToken(t, client, server, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"CLIENT_ID"},
		"client_secret": {"client-secret"},
		"redirect_uri":  {redirectUri},
	})
	require.Equal(t, http.StatusOK, status, token)
	assert.Equal(t, "bearer", token["token_type"])
	assert.Equal(t, float64(86400), token["expires_in"])
	require.NotEmpty(t, token["access_token"])
	require.NotEmpty(t, token["refresh_token"])
	assert.Equal(t, []string{"alice"}, linker.users)

	status, user := whoami(t, client, server, token["access_token"].(string))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", user)

	status, refreshed := requestToken(t, client, server, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {token["refresh_token"].(string)},
		"client_id":     {"CLIENT_ID"},
		"client_secret": {"client-secret"},
	})
	require.Equal(t, http.StatusOK, status, refreshed)
	assert.Equal(t, "bearer", refreshed["token_type"])
	assert.Equal(t, float64(86400), refreshed["expires_in"])
	assert.NotEmpty(t, refreshed["access_token"])
	assert.NotContains(t, refreshed, "refresh_token")
	assert.Len(t, linker.users, 1, "refreshing does not link again")

	status, user = whoami(t, client, server, refreshed["access_token"].(string))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", user)
}

func TestCodeCanBeUsedOnce(t *testing.T) {
	auth, err := NewAuth(authConfig(t, nil), nil)
	require.NoError(t, err)
	server, client := newTestServer(t, auth)
	code := link(t, server, client, "bob", "")
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"CLIENT_ID"},
		"client_secret": {"client-secret"},
		"redirect_uri":  {redirectUri},
	}

	status, _ := requestToken(t, client, server, form)
	require.Equal(t, http.StatusOK, status)

	status, body := requestToken(t, client, server, form)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestTokenErrors(t *testing.T) {
	auth, err := NewAuth(authConfig(t, nil), nil)
	require.NoError(t, err)
	server, client := newTestServer(t, auth)

	tests := []struct {
		name           string
		form           url.Values
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "unsupported grant",
			form:           url.Values{"grant_type": {"password"}, "client_id": {"CLIENT_ID"}, "client_secret": {"client-secret"}},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "unsupported_grant_type",
		},
		{
			name:           "wrong secret",
			form:           url.Values{"grant_type": {"authorization_code"}, "code": {"x"}, "client_id": {"CLIENT_ID"}, "client_secret": {"nope"}},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "invalid_client",
		},
		{
			name:           "unknown code",
			form:           url.Values{"grant_type": {"authorization_code"}, "code": {"xxxxxx"}, "client_id": {"CLIENT_ID"}, "client_secret": {"client-secret"}, "redirect_uri": {redirectUri}},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_grant",
		},
		{
			name:           "unknown refresh token",
			form:           url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"nope"}, "client_id": {"CLIENT_ID"}, "client_secret": {"client-secret"}},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_grant",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status, body := requestToken(t, client, server, test.form)

			assert.Equal(t, test.expectedStatus, status)
			assert.Equal(t, test.expectedError, body["error"])
		})
	}
}

func TestAuthorizeRequest(t *testing.T) {
	auth, err := NewAuth(authConfig(t, nil), nil)
	require.NoError(t, err)

	tests := []struct {
		name             string
		query            string
		expectedStatus   int
		expectedLocation string
	}{
		{
			name:             "new request",
			query:            "client_id=CLIENT_ID&redirect_uri=http%3A%2F%2Flocalhost%2Fr%2Fproject&state=STATE_STRING&scope=REQUESTED_SCOPES&response_type=code&user_locale=LOCALE",
			expectedStatus:   http.StatusFound,
			expectedLocation: LoginPath,
		},
		{
			name:           "unsupported response type",
			query:          "client_id=CLIENT_ID&redirect_uri=http%3A%2F%2Flocalhost&response_type=token",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown client",
			query:          "client_id=OTHER&redirect_uri=http%3A%2F%2Flocalhost&response_type=code",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid redirect uri",
			query:          "client_id=CLIENT_ID&redirect_uri=not+a+uri&response_type=code",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:             "no request without login",
			query:            "",
			expectedStatus:   http.StatusFound,
			expectedLocation: LoginPath,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			responseRecorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodGet, AuthorizePath+"?"+test.query, nil)

			http.HandlerFunc(auth.Authorize).ServeHTTP(responseRecorder, request)

			assert.Equal(t, test.expectedStatus, responseRecorder.Code)
			if test.expectedLocation != "" {
				assert.Equal(t, test.expectedLocation, responseRecorder.Header().Get("Location"))
			}
		})
	}
}

func TestLoginWrongCredentials(t *testing.T) {
	auth, err := NewAuth(authConfig(t, map[string]string{"alice": "secret"}), nil)
	require.NoError(t, err)

	tests := map[string]url.Values{
		"wrong password": {"username": {"alice"}, "password": {"guess"}},
		"unknown user":   {"username": {"mallory"}, "password": {"secret"}},
		"no username":    {"password": {"secret"}},
	}

	for name, form := range tests {
		t.Run(name, func(t *testing.T) {
			responseRecorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(form.Encode()))
			request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			auth.Login(LoginPage).ServeHTTP(responseRecorder, request)

			assert.Equal(t, http.StatusUnauthorized, responseRecorder.Code)
			assert.Contains(t, responseRecorder.Body.String(), "wrong credentials")
		})
	}
}

func TestLoginPage(t *testing.T) {
	auth, err := NewAuth(authConfig(t, nil), nil)
	require.NoError(t, err)
	responseRecorder := httptest.NewRecorder()

	auth.Login(LoginPage).ServeHTTP(responseRecorder, httptest.NewRequest(http.MethodGet, LoginPath, nil))

	assert.Equal(t, http.StatusOK, responseRecorder.Code)
	assert.Contains(t, responseRecorder.Body.String(), `<form action="/login" method="post">`)
}

func TestValidateToken(t *testing.T) {
	auth, err := NewAuth(authConfig(t, nil), nil)
	require.NoError(t, err)
	server, client := newTestServer(t, auth)

	status, _ := whoami(t, client, server, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)

	response, err := client.Get(server.URL + "/whoami")
	require.NoError(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
}

func TestSkipValidation(t *testing.T) {
	cfg := authConfig(t, nil)
	cfg.SkipValidation = true
	auth, err := NewAuth(cfg, nil)
	require.NoError(t, err)
	server, client := newTestServer(t, auth)

	response, err := client.Get(server.URL + "/whoami")
	require.NoError(t, err)
	response.Body.Close()

	assert.Equal(t, http.StatusOK, response.StatusCode)
}

func TestLoadCredentials(t *testing.T) {
	file := filepath.Join(t.TempDir(), "credentials")
	require.NoError(t, os.WriteFile(file, []byte("alice:$2a$hash\n\nbroken\nbob:with:colon\n"), 0o600))

	credentials, err := loadCredentials(file)

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "$2a$hash", "bob:with": "colon"}, credentials)

	credentials, err = loadCredentials(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, credentials)
}
