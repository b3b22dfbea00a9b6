package stats

import (
	"context"

	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
)

// User is a chat user with lifetime counters. Rows are created on first interaction and never
// deleted by the game core.
type User struct {
	ID           int64
	UserID       string
	UserName     string
	FirstName    string
	LastName     string
	LanguageCode string
	IsPremium    bool

	MatchWon   int
	MatchLost  int
	MatchDraw  int
	BattleWon  int
	BattleLost int
	BattleDraw int
}

func (u *User) TotalMatches() int { return u.MatchWon + u.MatchLost + u.MatchDraw }
func (u *User) TotalBattles() int { return u.BattleWon + u.BattleLost + u.BattleDraw }

// DisplayName is the best human-facing name available.
func (u *User) DisplayName() string {
	switch {
	case u == nil:
		return ""
	case u.FirstName != "":
		return u.FirstName
	case u.UserName != "":
		return u.UserName
	}
	return u.UserID
}

func (u *User) add(c tictactoe.Counter) {
	switch c {
	case tictactoe.MatchWon:
		u.MatchWon++
	case tictactoe.MatchLost:
		u.MatchLost++
	case tictactoe.MatchDraw:
		u.MatchDraw++
	case tictactoe.BattleWon:
		u.BattleWon++
	case tictactoe.BattleLost:
		u.BattleLost++
	case tictactoe.BattleDraw:
		u.BattleDraw++
	}
}

// Repository stores users and applies game results to their counters.
type Repository interface {
	tictactoe.Recorder
	// SaveUser creates the user or refreshes profile fields, leaving counters untouched.
	SaveUser(ctx context.Context, u *User) error
	// GetUser returns nil, nil when the user is unknown.
	GetUser(ctx context.Context, userID string) (*User, error)
	CountUsers(ctx context.Context) (int, error)
	// ListUsersAfter pages users in insertion order. Pass the last seen ID as cursor, 0 to start.
	ListUsersAfter(ctx context.Context, cursor int64, limit int) ([]*User, error)
	Close() error
}
