package bot

import (
	"context"
	"errors"
	"strconv"

	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"github.com/park285/tictactoe-telegram-bot/internal/surface"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
	"go.uber.org/zap"
)

// boardView renders an in-progress board as seen by viewerID.
func (b *Bot) boardView(ctx context.Context, g *tictactoe.Game, board tictactoe.Board, viewerID string) View {
	kb := surface.BoardKeyboard(g, board, b.text("board.cell_empty", nil))
	switch g.Type {
	case tictactoe.TypeSolo:
		if g.UserTurnID == "" {
			return View{Text: b.text("board.computer_turn", nil), Keyboard: kb}
		}
		return View{Text: b.text("board.your_turn", map[string]any{"Sign": g.SignOf(g.CreatorID)}), Keyboard: kb}
	case tictactoe.TypeGroupBattle:
		return View{HTML: true, Keyboard: kb, Text: b.text("board.group", map[string]any{
			"O":    b.name(ctx, g.CreatorID),
			"X":    b.name(ctx, g.OtherUserID),
			"Name": b.name(ctx, g.UserTurnID),
			"Sign": g.TurnSign(),
		})}
	}
	sign := g.TurnSign()
	if viewerID == g.UserTurnID {
		return View{Text: b.text("board.your_turn", map[string]any{"Sign": sign}), Keyboard: kb}
	}
	return View{Text: b.text("board.their_turn", map[string]any{"Name": b.name(ctx, g.UserTurnID), "Sign": sign}), Keyboard: kb}
}

// outcomeView renders a finished game as seen by viewerID.
func (b *Bot) outcomeView(ctx context.Context, step *tictactoe.Step, viewerID string) View {
	g := step.Game
	draw := step.Outcome == tictactoe.OutcomeDraw

	switch g.Type {
	case tictactoe.TypeSolo:
		switch {
		case draw:
			return View{Text: b.text("solo.draw", nil)}
		case step.Computer:
			return View{Text: b.text("solo.lost", nil)}
		}
		return View{Text: b.text("solo.won", nil)}

	case tictactoe.TypeGroupBattle:
		data := map[string]any{"O": b.name(ctx, g.CreatorID), "X": b.name(ctx, g.OtherUserID)}
		key := "duel.group_draw"
		if !draw {
			key = "duel.group_won"
			data["Name"] = b.name(ctx, step.ActorID)
		}
		return View{HTML: true, Text: b.text(key, data), Keyboard: b.replayKeyboard(g, g.Opponent(step.ActorID))}
	}

	key := "duel.draw"
	if !draw {
		key = "duel.lost"
		if viewerID == step.ActorID {
			key = "duel.won"
		}
	}
	return View{Text: b.text(key, nil), Keyboard: b.replayKeyboard(g, g.Opponent(viewerID))}
}

// replayKeyboard offers a rematch opened by firstMoverID, for modes that keep a rematch ticket.
func (b *Bot) replayKeyboard(g *tictactoe.Game, firstMoverID string) surface.Keyboard {
	if !g.Replayable() {
		return nil
	}
	return surface.ReplayKeyboard(g.ID, firstMoverID, b.text("duel.replay_button", nil))
}

// surfaceTarget resolves where a surface lives. A surface without a recorded message id
// falls back to origin when it is in the same chat.
func surfaceTarget(s tictactoe.Surface, origin *telegram.Message) (string, int, bool) {
	if id, err := strconv.Atoi(s.MessageID); err == nil && s.ChatID != "" {
		return s.ChatID, id, true
	}
	if origin != nil && telegram.FormatChatID(origin.Chat.ID) == s.ChatID {
		return s.ChatID, origin.MessageID, true
	}
	return "", 0, false
}

func (b *Bot) edit(ctx context.Context, chatID string, msgID int, v View) {
	if err := b.tr.Edit(ctx, chatID, msgID, v); err != nil {
		obslog.L().Warn("bot_edit_error", zap.String("chat_id", chatID), zap.Int("message_id", msgID), zap.Error(err))
	}
}

// syncBoards re-renders every surface of a live game. For BATTLE, a vanished opponent board
// tears the game down and tells the actor.
func (b *Bot) syncBoards(ctx context.Context, g *tictactoe.Game, board tictactoe.Board, actorID string, origin *telegram.Message) {
	for _, s := range g.Surfaces() {
		chatID, msgID, ok := surfaceTarget(s, origin)
		if !ok {
			continue
		}
		err := b.tr.Edit(ctx, chatID, msgID, b.boardView(ctx, g, board, s.UserID))
		if err == nil {
			continue
		}
		if g.Type == tictactoe.TypeBattle && s.UserID != actorID && telegram.IsMessageNotFound(err) {
			b.opponentLeft(ctx, g, actorID, origin)
			return
		}
		obslog.L().Warn("bot_surface_edit_error", zap.String("game_id", g.ID), zap.String("chat_id", chatID), zap.Error(err))
	}
}

// showOutcome renders the terminal state on every surface and sends result cards.
func (b *Bot) showOutcome(ctx context.Context, step *tictactoe.Step, origin *telegram.Message) {
	g := step.Game
	for _, s := range g.Surfaces() {
		chatID, msgID, ok := surfaceTarget(s, origin)
		if !ok {
			continue
		}
		b.edit(ctx, chatID, msgID, b.outcomeView(ctx, step, s.UserID))
	}
	b.sendCards(ctx, step)
}

func (b *Bot) sendCards(ctx context.Context, step *tictactoe.Step) {
	g := step.Game
	if b.cards == nil || g.Type == tictactoe.TypeSolo {
		return
	}
	caption := b.text("duel.card_caption", map[string]any{"O": b.name(ctx, g.CreatorID), "X": b.name(ctx, g.OtherUserID)})
	png, err := b.cards.RenderPNG(ctx, step.Board, caption)
	if err != nil {
		obslog.L().Warn("bot_card_render_error", zap.String("game_id", g.ID), zap.Error(err))
		return
	}
	seen := map[string]bool{}
	for _, s := range g.Surfaces() {
		if s.ChatID == "" || seen[s.ChatID] {
			continue
		}
		seen[s.ChatID] = true
		if err := b.tr.SendPhoto(ctx, s.ChatID, "result.png", png, caption); err != nil {
			obslog.L().Warn("bot_card_send_error", zap.String("game_id", g.ID), zap.String("chat_id", s.ChatID), zap.Error(err))
		}
	}
}

// opponentLeft deletes the game after the other participant's board disappeared.
func (b *Bot) opponentLeft(ctx context.Context, g *tictactoe.Game, actorID string, origin *telegram.Message) {
	obslog.L().Info("bot_opponent_left", zap.String("game_id", g.ID), zap.String("user_id", actorID))
	if _, err := b.engine.Abandon(ctx, g.ID, actorID); err != nil && !errors.Is(err, tictactoe.ErrGameNotFound) {
		obslog.L().Warn("bot_abandon_error", zap.String("game_id", g.ID), zap.Error(err))
	}
	for _, s := range g.Surfaces() {
		if s.UserID != actorID {
			continue
		}
		if chatID, msgID, ok := surfaceTarget(s, origin); ok {
			b.edit(ctx, chatID, msgID, View{Text: b.text("game.canceled_by_opponent", nil)})
		}
	}
}

func (b *Bot) abandon(ctx context.Context, id string) {
	if _, err := b.engine.Abandon(ctx, id, ""); err != nil && !errors.Is(err, tictactoe.ErrGameNotFound) {
		obslog.L().Warn("bot_abandon_error", zap.String("game_id", id), zap.Error(err))
	}
}
