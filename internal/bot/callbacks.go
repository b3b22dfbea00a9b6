package bot

import (
	"context"
	"errors"

	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"github.com/park285/tictactoe-telegram-bot/internal/surface"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
	"go.uber.org/zap"
)

// answerer answers a callback query exactly once.
type answerer struct {
	tr   Transport
	id   string
	done bool
}

func (a *answerer) say(ctx context.Context, text string, alert bool) {
	if a.done {
		return
	}
	a.done = true
	if err := a.tr.Answer(ctx, a.id, text, alert); err != nil {
		obslog.L().Debug("bot_answer_error", zap.Error(err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) {
	ans := &answerer{tr: b.tr, id: cq.ID}
	defer ans.say(ctx, "", false)

	b.saveUser(ctx, &cq.From)
	tok, err := surface.Parse(cq.Data)
	if err != nil {
		obslog.L().Debug("bot_callback_invalid", zap.String("data", cq.Data), zap.Error(err))
		return
	}
	switch tok.Verb {
	case surface.VerbUsed:
		ans.say(ctx, b.text("alert.used_box", nil), true)
	case surface.VerbPlay, surface.VerbPlayBattle, surface.VerbGroupBattle:
		b.onMove(ctx, cq, tok, ans)
	case surface.VerbReplay:
		b.onReplay(ctx, cq, tok, ans)
	case surface.VerbCancel, surface.VerbYes, surface.VerbNo:
		b.onBroadcastControl(ctx, cq, tok.Verb, ans)
	}
}

func (b *Bot) onMove(ctx context.Context, cq *telegram.CallbackQuery, tok surface.Token, ans *answerer) {
	mode, _ := surface.ModeOf(tok.Verb)
	pos, err := tok.Position()
	if err != nil {
		return
	}
	actor := userID(&cq.From)
	mv := tictactoe.Move{GameID: tok.GameID, Position: pos, ActorID: actor, Mode: mode}

	step, err := b.engine.ApplyMove(ctx, mv, func(ctx context.Context, s *tictactoe.Step) {
		// human half-move of a SOLO game; the computer answers after the delay
		b.syncBoards(ctx, s.Game, s.Board, actor, cq.Message)
		ans.say(ctx, b.text("alert.computer_thinking", nil), false)
	})
	if err != nil {
		b.rejectMove(ctx, cq, mv, err, ans)
		return
	}
	if step.Terminal() {
		if step.Outcome == tictactoe.OutcomeWin && !step.Computer {
			ans.say(ctx, b.text("alert.won", nil), true)
		}
		b.showOutcome(ctx, step, cq.Message)
		return
	}
	b.syncBoards(ctx, step.Game, step.Board, actor, cq.Message)
}

func (b *Bot) rejectMove(ctx context.Context, cq *telegram.CallbackQuery, mv tictactoe.Move, err error, ans *answerer) {
	switch {
	case errors.Is(err, tictactoe.ErrGameNotFound):
		if m := cq.Message; m != nil {
			b.edit(ctx, telegram.FormatChatID(m.Chat.ID), m.MessageID, View{Text: b.text("game.broken", nil)})
		}
	case errors.Is(err, tictactoe.ErrNotYourGame):
		ans.say(ctx, b.text("alert.not_your_game", nil), true)
	case errors.Is(err, tictactoe.ErrNotAMember):
		ans.say(ctx, b.text("alert.not_member", nil), true)
	case errors.Is(err, tictactoe.ErrNotYourTurn):
		ans.say(ctx, b.text("alert.wait_turn", nil), false)
	case errors.Is(err, tictactoe.ErrCellOccupied):
		ans.say(ctx, b.text("alert.used_box", nil), true)
	case errors.Is(err, tictactoe.ErrModeMismatch), errors.Is(err, tictactoe.ErrInvalidPosition):
	default:
		obslog.L().Error("bot_move_error",
			zap.String("game_id", mv.GameID),
			zap.String("user_id", mv.ActorID),
			zap.Int("position", mv.Position),
			zap.Error(err),
		)
	}
}

func (b *Bot) onReplay(ctx context.Context, cq *telegram.CallbackQuery, tok surface.Token, ans *answerer) {
	actor := userID(&cq.From)
	g, err := b.engine.Replay(ctx, tok.GameID, actor, tok.Arg)
	switch {
	case errors.Is(err, tictactoe.ErrGameNotFound):
		ans.say(ctx, b.text("alert.replay_expired", nil), true)
		return
	case errors.Is(err, tictactoe.ErrAlreadyStarted):
		ans.say(ctx, b.text("battle.started_already", nil), false)
		return
	case errors.Is(err, tictactoe.ErrNotAMember):
		ans.say(ctx, b.text("alert.not_member", nil), true)
		return
	case err != nil:
		obslog.L().Error("bot_replay_error", zap.String("game_id", tok.GameID), zap.Error(err))
		return
	}
	b.syncBoards(ctx, g, tictactoe.Board{}, actor, cq.Message)
}

func (b *Bot) onBroadcastControl(ctx context.Context, cq *telegram.CallbackQuery, verb surface.Verb, ans *answerer) {
	if b.bc == nil || !b.isOwner(userID(&cq.From)) || cq.Message == nil {
		return
	}
	chatID := telegram.FormatChatID(cq.Message.Chat.ID)
	drop := func() {
		if err := b.tr.Delete(ctx, chatID, cq.Message.MessageID); err != nil {
			obslog.L().Debug("bot_delete_error", zap.Error(err))
		}
	}

	switch verb {
	case surface.VerbCancel:
		running, err := b.bc.Running(ctx)
		if err != nil {
			obslog.L().Error("bot_broadcast_status_error", zap.Error(err))
			return
		}
		if !running {
			ans.say(ctx, b.text("broadcast.nothing_to_cancel", nil), true)
			drop()
			return
		}
		b.reply(ctx, chatID, View{Text: b.text("broadcast.confirm", nil), Keyboard: surface.Row(
			surface.Button{Label: b.text("broadcast.yes_button", nil), Action: string(surface.VerbYes)},
			surface.Button{Label: b.text("broadcast.no_button", nil), Action: string(surface.VerbNo)},
		)})
	case surface.VerbYes:
		if _, err := b.bc.Cancel(ctx); err != nil {
			obslog.L().Error("bot_broadcast_cancel_error", zap.Error(err))
			return
		}
		ans.say(ctx, b.text("broadcast.cancel_ack", nil), true)
		drop()
	case surface.VerbNo:
		drop()
		ans.say(ctx, b.text("broadcast.cancel_declined", nil), true)
	}
}
