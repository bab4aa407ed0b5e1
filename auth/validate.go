package auth

import (
	"context"
	log "log/slog"
	"net/http"
	"strings"
)

type contextKey struct{}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user the access token of the request was issued to.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKey{}).(string)
	return user, ok && user != ""
}

func (a *Auth) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipValidation {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := getBearerToken(r)
		if !ok {
			log.Warn("unauthorized: no token", "URL", r.URL)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		tokenInfo, err := a.manager.LoadAccessToken(r.Context(), token)
		if err != nil {
			log.Warn("unauthorized", "URL", r.URL, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		log.Debug("grant access", "URL", r.URL, "user", tokenInfo.GetUserID())

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), tokenInfo.GetUserID())))
	})
}

// getBearerToken reads the token from the authorization header or the access_token form value.
func getBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	prefix := "Bearer "
	token := ""

	if auth != "" && strings.HasPrefix(auth, prefix) {
		token = auth[len(prefix):]
	} else {
		token = r.FormValue("access_token")
	}

	return token, token != ""
}
