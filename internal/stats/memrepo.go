package stats

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
)

// memrepo is an in-memory Repository for local runs and tests.
type memrepo struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[string]*User
	results map[string]struct{} // game_id#round
}

func NewMemoryRepository() Repository {
	return &memrepo{users: make(map[string]*User), results: make(map[string]struct{})}
}

func (m *memrepo) ensure(userID string) *User {
	u, ok := m.users[userID]
	if !ok {
		m.nextID++
		u = &User{ID: m.nextID, UserID: userID}
		m.users[userID] = u
	}
	return u
}

func (m *memrepo) SaveUser(_ context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.UserID) == "" {
		return tictactoe.ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.ensure(u.UserID)
	cur.UserName, cur.FirstName, cur.LastName = u.UserName, u.FirstName, u.LastName
	cur.LanguageCode, cur.IsPremium = u.LanguageCode, u.IsPremium
	return nil
}

func (m *memrepo) GetUser(_ context.Context, userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memrepo) CountUsers(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *memrepo) ListUsersAfter(_ context.Context, cursor int64, limit int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*User
	for _, u := range m.users {
		if u.ID > cursor {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memrepo) RecordResult(_ context.Context, r tictactoe.Result) error {
	key := r.GameID + "#" + strconv.Itoa(r.Round)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.results[key]; dup {
		return tictactoe.ErrDuplicateResult
	}
	m.results[key] = struct{}{}
	for _, inc := range r.Increments() {
		if strings.TrimSpace(inc.UserID) == "" {
			continue
		}
		m.ensure(inc.UserID).add(inc.Counter)
	}
	return nil
}

func (m *memrepo) Close() error { return nil }
