package surface

import (
	"strconv"

	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
)

// Button is one inline button.
type Button struct {
	Label  string
	Action string
}

// Keyboard is rows of buttons. A nil Keyboard removes the markup.
type Keyboard [][]Button

// BoardKeyboard renders the 3x3 grid. Filled cells carry the "used" verb so taps on them are
// rejected without touching the game.
func BoardKeyboard(g *tictactoe.Game, b tictactoe.Board, empty string) Keyboard {
	verb := MoveVerb(g.Type)
	kb := make(Keyboard, 3)
	for row := 0; row < 3; row++ {
		kb[row] = make([]Button, 3)
		for col := 0; col < 3; col++ {
			pos := row*3 + col + 1
			label, v := empty, verb
			if s := b.At(pos); s != tictactoe.Empty {
				label, v = string(s), VerbUsed
			}
			kb[row][col] = Button{Label: label, Action: Token{Verb: v, GameID: g.ID, Arg: strconv.Itoa(pos)}.String()}
		}
	}
	return kb
}

// ReplayKeyboard offers a rematch where firstMoverID opens the next round.
func ReplayKeyboard(gameID, firstMoverID, label string) Keyboard {
	return Keyboard{{{Label: label, Action: Token{Verb: VerbReplay, GameID: gameID, Arg: firstMoverID}.String()}}}
}

// Single is a one-button keyboard.
func Single(label string, v Verb) Keyboard {
	return Keyboard{{{Label: label, Action: string(v)}}}
}

// Row is a single row of buttons.
func Row(buttons ...Button) Keyboard {
	return Keyboard{buttons}
}
