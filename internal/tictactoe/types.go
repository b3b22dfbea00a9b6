package tictactoe

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sign is the marker a participant places on a cell.
type Sign string

const (
	Empty Sign = ""
	X     Sign = "X"
	O     Sign = "O"
)

// Type is the game mode.
type Type string

const (
	TypeSolo        Type = "SOLO"
	TypeBattle      Type = "BATTLE"
	TypeGroupBattle Type = "GROUP_BATTLE"
)

// Status is the non-terminal lifecycle state of a stored game. Terminal games are not stored.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusActive  Status = "ACTIVE"
)

// Game is the persisted state of one match. Board cells live next to it, keyed by (ID, position).
type Game struct {
	ID                 string    `json:"id"`
	Type               Type      `json:"type"`
	Status             Status    `json:"status"`
	Round              int       `json:"round"`
	CreatorID          string    `json:"creator_id"`
	OtherUserID        string    `json:"other_user_id,omitempty"`
	UserTurnID         string    `json:"user_turn_id"`
	ChatID             string    `json:"chat_id,omitempty"`
	CreatorMessageID   string    `json:"creator_message_id,omitempty"`
	OtherUserMessageID string    `json:"other_user_message_id,omitempty"`
	CreatedAt          time.Time `json:"creation_date"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Surface is one rendered board message that has to be kept in sync with the game.
type Surface struct {
	UserID    string
	ChatID    string
	MessageID string
}

// Outcome of a half-move.
type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeWin  Outcome = "WIN"
	OutcomeDraw Outcome = "DRAW"
)

// Move is an inbound move action.
type Move struct {
	GameID   string
	Position int
	ActorID  string
	Mode     Type
}

// Step describes one applied half-move. For terminal outcomes Game is the final snapshot of a
// record that no longer exists in the store.
type Step struct {
	Game     *Game
	Board    Board
	ActorID  string
	Computer bool
	Position int
	Sign     Sign
	Outcome  Outcome
	Result   *Result
}

func (s *Step) Terminal() bool { return s != nil && s.Outcome != OutcomeNone }

// NewGame describes a game to create.
type NewGame struct {
	Type        Type
	CreatorID   string
	OtherUserID string
	TurnID      string
	ChatID      string
}

// NewID returns an opaque id that is safe inside callback data and deep-link payloads.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (g *Game) clone() *Game {
	if g == nil {
		return nil
	}
	cp := *g
	return &cp
}

// IsParticipant reports whether userID is one of the two humans of the game.
func (g *Game) IsParticipant(userID string) bool {
	if g == nil || strings.TrimSpace(userID) == "" {
		return false
	}
	return userID == g.CreatorID || (g.OtherUserID != "" && userID == g.OtherUserID)
}

// Opponent returns the other human participant, or "" for the computer.
func (g *Game) Opponent(userID string) string { return modeOf(g.Type).resolveOpponent(g, userID) }

// Surfaces lists the rendered board messages that mirror this game.
func (g *Game) Surfaces() []Surface { return modeOf(g.Type).fanoutTargets(g) }

// Replayable reports whether a finished game of this mode offers a rematch.
func (g *Game) Replayable() bool { return modeOf(g.Type).replayable() }

// TurnSign is the sign that the player in turn will place.
func (g *Game) TurnSign() Sign { return modeOf(g.Type).actingSign(g) }

// SignOf returns the sign userID plays with while it is their turn.
func (g *Game) SignOf(userID string) Sign {
	if g.Type == TypeSolo {
		if userID == g.CreatorID {
			return X
		}
		return O
	}
	if userID == g.CreatorID {
		return O
	}
	return X
}
