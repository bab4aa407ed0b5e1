package device

import (
	log "log/slog"
	"sort"
	"sync"
)

// Links tracks which users have linked their account and can see the devices.
type Links struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

func NewLinks(users ...string) *Links {
	l := &Links{users: map[string]struct{}{}}
	for _, user := range users {
		if user != "" {
			l.users[user] = struct{}{}
		}
	}
	return l
}

func (l *Links) Link(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.users[user]; !ok {
		log.Info("link user", "user", user)
	}
	l.users[user] = struct{}{}
}

// Unlink removes the user and reports whether it was linked. Unlinking twice is fine.
func (l *Links) Unlink(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.users[user]
	delete(l.users, user)
	if ok {
		log.Info("unlink user", "user", user)
	}
	return ok
}

func (l *Links) Linked(user string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.users[user]
	return ok
}

func (l *Links) Users() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	users := make([]string, 0, len(l.users))
	for user := range l.users {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}
