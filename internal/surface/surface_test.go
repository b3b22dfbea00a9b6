package surface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
)

func TestParseMoveToken(t *testing.T) {
	tok, err := Parse("playbattle_abc123_7")
	require.NoError(t, err)
	assert.Equal(t, VerbPlayBattle, tok.Verb)
	assert.Equal(t, "abc123", tok.GameID)
	pos, err := tok.Position()
	require.NoError(t, err)
	assert.Equal(t, 7, pos)
	assert.Equal(t, "playbattle_abc123_7", tok.String())

	mode, ok := ModeOf(tok.Verb)
	assert.True(t, ok)
	assert.Equal(t, tictactoe.TypeBattle, mode)
}

func TestParseControlAndBadTokens(t *testing.T) {
	tok, err := Parse("cancel")
	require.NoError(t, err)
	assert.Equal(t, VerbCancel, tok.Verb)
	assert.Equal(t, "cancel", tok.String())

	for _, bad := range []string{"", "play", "play_abc", "play__1", "bogus_a_1", "x" + string(make([]byte, 80))} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}

	tok, err = Parse("play_g_10")
	require.NoError(t, err)
	_, err = tok.Position()
	assert.ErrorIs(t, err, tictactoe.ErrInvalidPosition)
}

func TestReplayTokenCarriesUser(t *testing.T) {
	kb := ReplayKeyboard("g1", "42", "Replay")
	require.Len(t, kb, 1)
	tok, err := Parse(kb[0][0].Action)
	require.NoError(t, err)
	assert.Equal(t, Token{Verb: VerbReplay, GameID: "g1", Arg: "42"}, tok)
}

func TestBoardKeyboardMarksUsedCells(t *testing.T) {
	g := &tictactoe.Game{ID: "g1", Type: tictactoe.TypeGroupBattle}
	var b tictactoe.Board
	b.Set(1, tictactoe.X)
	b.Set(9, tictactoe.O)

	kb := BoardKeyboard(g, b, " ")
	require.Len(t, kb, 3)
	assert.Equal(t, Button{Label: "X", Action: "used_g1_1"}, kb[0][0])
	assert.Equal(t, Button{Label: " ", Action: "groupbattle_g1_5"}, kb[1][1])
	assert.Equal(t, Button{Label: "O", Action: "used_g1_9"}, kb[2][2])
}
