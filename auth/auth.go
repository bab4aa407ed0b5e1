package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-oauth2/oauth2/v4/generates"
	"github.com/go-oauth2/oauth2/v4/manage"
	"github.com/go-oauth2/oauth2/v4/models"
	"github.com/go-oauth2/oauth2/v4/store"
	"github.com/golang-jwt/jwt"

	"github.com/mrlauy/ghome-bridge/config"
)

const refreshTokenExpiry = 365 * 24 * time.Hour

const (
	AuthorizePath = "/fakeauth"
	LoginPath     = "/login"
	TokenPath     = "/faketoken"
)

// Linker records which agent users completed account linking.
type Linker interface {
	Link(user string)
}

type Auth struct {
	clientId       string
	clientSecret   string
	credentials    map[string]string
	manager        *manage.Manager
	linker         Linker
	tokenExpiry    time.Duration
	skipValidation bool
}

func NewAuth(cfg config.AuthConfig, linker Linker) (*Auth, error) {
	clientStore := store.NewClientStore()
	err := clientStore.Set(cfg.Client.Id, &models.Client{
		ID:     cfg.Client.Id,
		Secret: cfg.Client.Secret,
		Domain: cfg.Client.Domain,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load client config in client store: %w", err)
	}

	tokenStore, err := store.NewFileTokenStore(cfg.TokenStore)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store %s: %w", cfg.TokenStore, err)
	}

	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	manager := manage.NewDefaultManager()
	manager.SetAuthorizeCodeTokenCfg(&manage.Config{
		AccessTokenExp:    expiry,
		RefreshTokenExp:   refreshTokenExpiry,
		IsGenerateRefresh: true,
	})
	manager.SetRefreshTokenCfg(&manage.RefreshingConfig{
		AccessTokenExp:     expiry,
		IsGenerateRefresh:  false,
		IsRemoveAccess:     false,
		IsRemoveRefreshing: false,
	})
	manager.MapClientStorage(clientStore)
	manager.MapTokenStorage(tokenStore)
	manager.MapAccessGenerate(generates.NewJWTAccessGenerate("", []byte(cfg.JwtKey), jwt.SigningMethodHS512))

	credentials, err := loadCredentials(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	if len(credentials) < 1 {
		log.Warn("no user credentials, any username is accepted until users are added", "file", cfg.Credentials)
	}
	if cfg.SkipValidation {
		log.Warn("access token validation is disabled")
	}

	return &Auth{
		clientId:       cfg.Client.Id,
		clientSecret:   cfg.Client.Secret,
		credentials:    credentials,
		manager:        manager,
		linker:         linker,
		tokenExpiry:    expiry,
		skipValidation: cfg.SkipValidation,
	}, nil
}

// loadCredentials reads user:bcrypt-hash lines. A missing file means no users.
func loadCredentials(filename string) (map[string]string, error) {
	credentials := map[string]string{}
	file, err := os.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return credentials, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials %s: %w", filename, err)
	}
	defer file.Close()

	fscanner := bufio.NewScanner(file)
	for fscanner.Scan() {
		line := strings.TrimSpace(fscanner.Text())
		lastInd := strings.LastIndex(line, ":")
		if lastInd < 1 {
			continue
		}
		username := line[:lastInd]
		password := line[lastInd+1:]

		credentials[username] = password
	}
	if err := fscanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credentials %s: %w", filename, err)
	}
	return credentials, nil
}
