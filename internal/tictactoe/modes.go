package tictactoe

// mode captures everything that differs between SOLO, BATTLE and GROUP_BATTLE so the
// engine's move flow stays a single code path.
type mode interface {
	// startingTurn is the participant who moves first once the game is playable.
	startingTurn(creatorID, otherUserID string) string
	// authorize checks that actorID may act on g at all (turn order is checked separately).
	authorize(g *Game, actorID string) error
	// actingSign is the sign placed by whoever holds the turn.
	actingSign(g *Game) Sign
	resolveOpponent(g *Game, actorID string) string
	fanoutTargets(g *Game) []Surface
	replayable() bool
}

func modeOf(t Type) mode {
	switch t {
	case TypeBattle:
		return battleMode{}
	case TypeGroupBattle:
		return groupBattleMode{}
	default:
		return soloMode{}
	}
}

// KnownType reports whether t names a supported mode.
func KnownType(t Type) bool {
	switch t {
	case TypeSolo, TypeBattle, TypeGroupBattle:
		return true
	}
	return false
}

type soloMode struct{}

func (soloMode) startingTurn(creatorID, _ string) string { return creatorID }

func (soloMode) authorize(g *Game, actorID string) error {
	if actorID != g.CreatorID {
		return ErrNotYourGame
	}
	return nil
}

func (soloMode) actingSign(*Game) Sign { return X }

func (soloMode) resolveOpponent(*Game, string) string { return "" }

func (soloMode) fanoutTargets(g *Game) []Surface {
	chat := g.ChatID
	if chat == "" {
		chat = g.CreatorID
	}
	return []Surface{{UserID: g.CreatorID, ChatID: chat, MessageID: g.CreatorMessageID}}
}

func (soloMode) replayable() bool { return false }

// battleMode is a two-player game where each participant watches a board in their own private chat.
type battleMode struct{}

func (battleMode) startingTurn(_, otherUserID string) string { return otherUserID }

func (battleMode) authorize(g *Game, actorID string) error {
	if !g.IsParticipant(actorID) {
		return ErrNotAMember
	}
	return nil
}

// The creator always plays O and the other participant X.
func (battleMode) actingSign(g *Game) Sign {
	if g.UserTurnID == g.CreatorID {
		return O
	}
	return X
}

func (battleMode) resolveOpponent(g *Game, actorID string) string {
	switch actorID {
	case g.CreatorID:
		return g.OtherUserID
	case g.OtherUserID:
		return g.CreatorID
	}
	return ""
}

func (battleMode) fanoutTargets(g *Game) []Surface {
	out := []Surface{{UserID: g.CreatorID, ChatID: g.CreatorID, MessageID: g.CreatorMessageID}}
	if g.OtherUserID != "" {
		out = append(out, Surface{UserID: g.OtherUserID, ChatID: g.OtherUserID, MessageID: g.OtherUserMessageID})
	}
	return out
}

func (battleMode) replayable() bool { return true }

// groupBattleMode shares battle rules but renders one board in the group chat.
type groupBattleMode struct{ battleMode }

func (groupBattleMode) fanoutTargets(g *Game) []Surface {
	return []Surface{{ChatID: g.ChatID, MessageID: g.CreatorMessageID}}
}
