package tictactoe

import "time"

// Counter names a per-user statistics column.
type Counter string

const (
	MatchWon   Counter = "match_won"
	MatchLost  Counter = "match_lost"
	MatchDraw  Counter = "match_draw"
	BattleWon  Counter = "battle_won"
	BattleLost Counter = "battle_lost"
	BattleDraw Counter = "battle_draw"
)

// Counters lists every statistics column.
var Counters = []Counter{MatchWon, MatchLost, MatchDraw, BattleWon, BattleLost, BattleDraw}

// Increment adds one to Counter for UserID.
type Increment struct {
	UserID  string
	Counter Counter
}

// Result is the terminal outcome of one round. (GameID, Round) identifies it uniquely so a
// recorder can apply it at most once.
type Result struct {
	GameID      string    `json:"game_id"`
	Round       int       `json:"round"`
	Type        Type      `json:"type"`
	CreatorID   string    `json:"creator_id"`
	OtherUserID string    `json:"other_user_id,omitempty"`
	WinnerID    string    `json:"winner_id,omitempty"`
	LoserID     string    `json:"loser_id,omitempty"`
	Draw        bool      `json:"draw"`
	EndedAt     time.Time `json:"ended_at"`
}

// Increments maps the result to counter updates. The computer has no row, so a SOLO result
// touches only the human.
func (r Result) Increments() []Increment {
	if r.Type == TypeSolo {
		human := r.CreatorID
		switch {
		case r.Draw:
			return []Increment{{human, MatchDraw}}
		case r.WinnerID == human:
			return []Increment{{human, MatchWon}}
		default:
			return []Increment{{human, MatchLost}}
		}
	}
	if r.Draw {
		return []Increment{{r.CreatorID, BattleDraw}, {r.OtherUserID, BattleDraw}}
	}
	return []Increment{{r.WinnerID, BattleWon}, {r.LoserID, BattleLost}}
}

func newResult(g *Game, winnerID, loserID string, draw bool, at time.Time) *Result {
	return &Result{
		GameID:      g.ID,
		Round:       g.Round,
		Type:        g.Type,
		CreatorID:   g.CreatorID,
		OtherUserID: g.OtherUserID,
		WinnerID:    winnerID,
		LoserID:     loserID,
		Draw:        draw,
		EndedAt:     at,
	}
}
