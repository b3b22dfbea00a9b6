package surface

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
)

// Verb is the first segment of a callback token.
type Verb string

const (
	VerbPlay        Verb = "play"
	VerbPlayBattle  Verb = "playbattle"
	VerbGroupBattle Verb = "groupbattle"
	VerbUsed        Verb = "used"
	VerbReplay      Verb = "replay"

	// broadcast control
	VerbCancel Verb = "cancel"
	VerbYes    Verb = "yes"
	VerbNo     Verb = "no"
)

// Telegram rejects callback_data longer than 64 bytes.
const maxTokenLen = 64

// Token is a parsed "{verb}_{gameId}_{arg}" action. Broadcast control tokens carry the verb only.
type Token struct {
	Verb   Verb
	GameID string
	Arg    string
}

func (t Token) String() string {
	if t.GameID == "" && t.Arg == "" {
		return string(t.Verb)
	}
	return string(t.Verb) + "_" + t.GameID + "_" + t.Arg
}

// Position parses Arg as a board position.
func (t Token) Position() (int, error) {
	p, err := strconv.Atoi(t.Arg)
	if err != nil || !tictactoe.ValidPosition(p) {
		return 0, tictactoe.ErrInvalidPosition
	}
	return p, nil
}

// Parse decodes callback data.
func Parse(data string) (Token, error) {
	data = strings.TrimSpace(data)
	if data == "" || len(data) > maxTokenLen {
		return Token{}, fmt.Errorf("invalid token %q", data)
	}
	parts := strings.SplitN(data, "_", 3)
	t := Token{Verb: Verb(parts[0])}
	switch t.Verb {
	case VerbCancel, VerbYes, VerbNo:
		return t, nil
	case VerbPlay, VerbPlayBattle, VerbGroupBattle, VerbUsed, VerbReplay:
	default:
		return Token{}, fmt.Errorf("unknown verb %q", parts[0])
	}
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return Token{}, fmt.Errorf("malformed token %q", data)
	}
	t.GameID, t.Arg = parts[1], parts[2]
	return t, nil
}

// MoveVerb is the move verb for a game mode.
func MoveVerb(t tictactoe.Type) Verb {
	switch t {
	case tictactoe.TypeBattle:
		return VerbPlayBattle
	case tictactoe.TypeGroupBattle:
		return VerbGroupBattle
	default:
		return VerbPlay
	}
}

// ModeOf maps a move verb back to its game mode.
func ModeOf(v Verb) (tictactoe.Type, bool) {
	switch v {
	case VerbPlay:
		return tictactoe.TypeSolo, true
	case VerbPlayBattle:
		return tictactoe.TypeBattle, true
	case VerbGroupBattle:
		return tictactoe.TypeGroupBattle, true
	}
	return "", false
}
