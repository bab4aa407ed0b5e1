package main

import (
	"bufio"
	"flag"
	"fmt"
	log "log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const cost = 8

func main() {
	var username string
	var password string
	var filename string
	flag.StringVar(&username, "u", "", "username")
	flag.StringVar(&password, "p", "", "password")
	flag.StringVar(&filename, "f", ".credentials", "credentials file")
	flag.Parse()

	if err := addCredentials(filename, username, password); err != nil {
		log.Error("failed to store credentials", "error", err)
		os.Exit(1)
	}
	log.Info("successful stored credentials", "user", username, "file", filename)
}

// addCredentials appends a user:bcrypt-hash line, the format the login page reads.
func addCredentials(filename, username, password string) error {
	user := strings.ToLower(strings.TrimSpace(username))
	if len(user) < 1 || len(password) < 1 {
		return fmt.Errorf("no username or password provided")
	}
	if strings.Contains(user, ":") {
		return fmt.Errorf("username %q must not contain ':'", user)
	}

	exists, err := hasUser(filename, user)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("user %s already exists in %s", user, filename)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%s:%s\n", user, hashedPassword); err != nil {
		return fmt.Errorf("failed to write credentials to %s: %w", filename, err)
	}
	return nil
}

func hasUser(filename, user string) (bool, error) {
	file, err := os.Open(filename)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name, _, ok := strings.Cut(scanner.Text(), ":")
		if ok && name == user {
			return true, nil
		}
	}
	return false, scanner.Err()
}
