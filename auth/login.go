package auth

import (
	"html/template"
	log "log/slog"
	"net/http"
	"strings"

	"github.com/go-session/session"
	"golang.org/x/crypto/bcrypt"
)

type PageData struct {
	Error string
}

var LoginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Link your account</title></head>
<body>
  <h1>Link this bridge with Google</h1>
  {{if .Error}}<p style="color: red">{{.Error}}</p>{{end}}
  <form action="/login" method="post">
    <label>Username <input type="text" name="username" autofocus></label>
    <label>Password <input type="password" name="password"></label>
    <button type="submit">Link this service to Google</button>
  </form>
</body>
</html>
`))

// Login renders the login page and logs the user in. Without configured users any username is accepted.
func (a *Auth) Login(page *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionStore, err := session.Start(r.Context(), w, r)
		if err != nil {
			log.Error("failed to get login session", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if r.Method == http.MethodPost {
			username := strings.TrimSpace(strings.ToLower(r.FormValue("username")))
			password := strings.TrimSpace(r.FormValue("password"))

			if !a.checkCredentials(username, password) {
				responseError(w, page, "wrong credentials", http.StatusUnauthorized)
				return
			}

			log.Info("login", "username", username)

			sessionStore.Set(sessionUser, username)
			err = sessionStore.Save()
			if err != nil {
				log.Error("failed to store session", "error", err)
				responseError(w, page, "server error", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Location", AuthorizePath)
			w.WriteHeader(http.StatusFound)
			return
		}

		log.Debug("login page")
		err = page.Execute(w, PageData{})
		if err != nil {
			log.Error("failed to render login page", "error", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}
}

func (a *Auth) checkCredentials(username, password string) bool {
	if username == "" {
		log.Warn("login without username")
		return false
	}
	if len(a.credentials) == 0 {
		return true
	}

	storedPassword, ok := a.credentials[username]
	if !ok {
		log.Warn("user unknown", "user", username)
		return false
	}
	if !checkPasswordHash(password, storedPassword) {
		log.Warn("wrong credentials", "user", username)
		return false
	}
	return true
}

func responseError(w http.ResponseWriter, page *template.Template, message string, code int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	err := page.Execute(w, PageData{Error: message})
	if err != nil {
		log.Error("failed to render login page", "error", err)
	}
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
