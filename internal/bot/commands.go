package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/park285/tictactoe-telegram-bot/internal/broadcast"
	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"github.com/park285/tictactoe-telegram-bot/internal/stats"
	"github.com/park285/tictactoe-telegram-bot/internal/surface"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
	"go.uber.org/zap"
)

const battlePrefix = "battle"

// parseCommand splits "/cmd@bot payload". Commands addressed to another bot are ignored.
func parseCommand(text, username string) (cmd, payload string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	if name, at, found := strings.Cut(head, "@"); found {
		if username != "" && !strings.EqualFold(at, username) {
			return "", "", false
		}
		head = name
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func (b *Bot) handleMessage(ctx context.Context, m *telegram.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	cmd, payload, ok := parseCommand(m.Text, b.username)
	if !ok {
		return
	}
	obslog.L().Debug("bot_command", zap.String("cmd", cmd), zap.String("user_id", userID(m.From)), zap.Int64("chat_id", m.Chat.ID))
	switch cmd {
	case "start":
		b.cmdStart(ctx, m, payload)
	case "tictactoe", "tictacteo":
		b.cmdSolo(ctx, m)
	case "battle":
		b.cmdBattle(ctx, m)
	case "stats":
		b.cmdStats(ctx, m)
	case "broadcast":
		b.cmdBroadcast(ctx, m)
	}
}

func (b *Bot) cmdStart(ctx context.Context, m *telegram.Message, payload string) {
	b.saveUser(ctx, m.From)
	chatID := telegram.FormatChatID(m.Chat.ID)
	if strings.HasPrefix(strings.ToLower(payload), battlePrefix) {
		b.acceptBattle(ctx, m, strings.TrimSpace(payload[len(battlePrefix):]))
		return
	}
	b.reply(ctx, chatID, View{Text: b.text("start.greeting", nil)})
}

// acceptBattle seats the acceptor, renders both boards and only then opens the first turn.
func (b *Bot) acceptBattle(ctx context.Context, m *telegram.Message, id string) {
	chatID := telegram.FormatChatID(m.Chat.ID)
	acceptor := userID(m.From)
	if id == "" {
		b.reply(ctx, chatID, View{Text: b.text("battle.missing", nil)})
		return
	}
	g, err := b.engine.AcceptBattle(ctx, id, acceptor)
	switch {
	case errors.Is(err, tictactoe.ErrGameNotFound):
		b.reply(ctx, chatID, View{Text: b.text("battle.missing", nil)})
		return
	case errors.Is(err, tictactoe.ErrSelfPlay):
		b.reply(ctx, chatID, View{Text: b.text("battle.self", nil)})
		return
	case errors.Is(err, tictactoe.ErrAlreadyStarted):
		b.reply(ctx, chatID, View{Text: b.text("battle.started_already", nil)})
		return
	case err != nil:
		obslog.L().Error("bot_battle_accept_error", zap.String("game_id", id), zap.Error(err))
		b.reply(ctx, chatID, View{Text: b.text("game.broken", nil)})
		return
	}

	var empty tictactoe.Board
	kb := surface.BoardKeyboard(g, empty, b.text("board.cell_empty", nil))
	sign := g.SignOf(acceptor)
	acceptorName := firstName(m.From)

	b.reply(ctx, chatID, View{Text: b.text("battle.invited", map[string]any{"Creator": b.name(ctx, g.CreatorID)})})
	acceptorMsg, err := b.tr.Send(ctx, chatID, View{Text: b.text("board.your_turn", map[string]any{"Sign": sign}), Keyboard: kb})
	if err != nil {
		obslog.L().Warn("bot_battle_surface_error", zap.String("game_id", g.ID), zap.String("user_id", acceptor), zap.Error(err))
		b.abandon(ctx, g.ID)
		return
	}

	b.reply(ctx, g.CreatorID, View{Text: b.text("battle.accepted", map[string]any{"Acceptor": acceptorName})})
	creatorMsg, err := b.tr.Send(ctx, g.CreatorID, View{
		Text:     b.text("board.their_turn", map[string]any{"Name": acceptorName, "Sign": sign}),
		Keyboard: kb,
	})
	if err != nil {
		// creator blocked the bot or deleted the chat
		obslog.L().Warn("bot_battle_surface_error", zap.String("game_id", g.ID), zap.String("user_id", g.CreatorID), zap.Error(err))
		b.abandon(ctx, g.ID)
		b.edit(ctx, chatID, acceptorMsg, View{Text: b.text("game.canceled_by_opponent", nil)})
		return
	}

	if _, err := b.engine.StartBattle(ctx, g.ID, strconv.Itoa(creatorMsg), strconv.Itoa(acceptorMsg)); err != nil {
		obslog.L().Error("bot_battle_start_error", zap.String("game_id", g.ID), zap.Error(err))
		b.abandon(ctx, g.ID)
		canceled := View{Text: b.text("game.canceled", nil)}
		b.edit(ctx, chatID, acceptorMsg, canceled)
		b.edit(ctx, g.CreatorID, creatorMsg, canceled)
	}
}

func (b *Bot) cmdSolo(ctx context.Context, m *telegram.Message) {
	b.saveUser(ctx, m.From)
	chatID := telegram.FormatChatID(m.Chat.ID)
	uid := userID(m.From)
	g, err := b.engine.CreateGame(ctx, tictactoe.NewGame{Type: tictactoe.TypeSolo, CreatorID: uid, ChatID: chatID})
	if err != nil {
		obslog.L().Error("bot_game_create_error", zap.String("user_id", uid), zap.Error(err))
		return
	}
	b.publish(ctx, g, uid, chatID, b.boardView(ctx, g, tictactoe.Board{}, uid))
}

func (b *Bot) cmdBattle(ctx context.Context, m *telegram.Message) {
	b.saveUser(ctx, m.From)
	chatID := telegram.FormatChatID(m.Chat.ID)
	uid := userID(m.From)

	if !m.Chat.IsGroup() {
		g, err := b.engine.CreateGame(ctx, tictactoe.NewGame{Type: tictactoe.TypeBattle, CreatorID: uid})
		if err != nil {
			obslog.L().Error("bot_game_create_error", zap.String("user_id", uid), zap.Error(err))
			return
		}
		b.reply(ctx, chatID, View{Text: b.text("battle.link", map[string]any{"Bot": b.username, "GameID": g.ID})})
		return
	}

	r := m.ReplyToMessage
	if r == nil || r.From == nil || r.From.IsBot {
		b.reply(ctx, chatID, View{Text: b.text("battle.group_needs_reply", nil)})
		return
	}
	opponent := userID(r.From)
	if opponent == uid {
		b.reply(ctx, chatID, View{Text: b.text("battle.self", nil)})
		return
	}
	b.saveUser(ctx, r.From)
	g, err := b.engine.CreateGame(ctx, tictactoe.NewGame{
		Type:        tictactoe.TypeGroupBattle,
		CreatorID:   uid,
		OtherUserID: opponent,
		ChatID:      chatID,
	})
	if err != nil {
		obslog.L().Error("bot_game_create_error", zap.String("user_id", uid), zap.Error(err))
		return
	}
	b.publish(ctx, g, uid, chatID, b.boardView(ctx, g, tictactoe.Board{}, ""))
}

// publish sends a fresh board and records it as the game's surface.
func (b *Bot) publish(ctx context.Context, g *tictactoe.Game, uid, chatID string, v View) {
	msgID, err := b.tr.Send(ctx, chatID, v)
	if err != nil {
		obslog.L().Warn("bot_surface_send_error", zap.String("game_id", g.ID), zap.Error(err))
		b.abandon(ctx, g.ID)
		return
	}
	if _, err := b.engine.AttachSurface(ctx, g.ID, uid, strconv.Itoa(msgID)); err != nil {
		obslog.L().Warn("bot_surface_attach_error", zap.String("game_id", g.ID), zap.Error(err))
	}
}

func (b *Bot) cmdStats(ctx context.Context, m *telegram.Message) {
	uid := userID(m.From)
	u, err := b.users.GetUser(ctx, uid)
	if err != nil {
		obslog.L().Error("bot_stats_error", zap.String("user_id", uid), zap.Error(err))
		return
	}
	if u == nil {
		u = &stats.User{UserID: uid}
	}
	b.reply(ctx, telegram.FormatChatID(m.Chat.ID), View{HTML: true, Text: b.text("stats.body", map[string]any{
		"TotalMatches": u.TotalMatches(),
		"MatchWon":     u.MatchWon,
		"MatchLost":    u.MatchLost,
		"MatchDraw":    u.MatchDraw,
		"TotalBattles": u.TotalBattles(),
		"BattleWon":    u.BattleWon,
		"BattleLost":   u.BattleLost,
		"BattleDraw":   u.BattleDraw,
	})})
}

func (b *Bot) cmdBroadcast(ctx context.Context, m *telegram.Message) {
	if b.bc == nil || !b.isOwner(userID(m.From)) {
		return
	}
	chatID := telegram.FormatChatID(m.Chat.ID)
	if m.ReplyToMessage == nil {
		b.reply(ctx, chatID, View{Text: b.text("broadcast.needs_reply", nil)})
		return
	}
	_, err := b.bc.Start(ctx, chatID, broadcast.Source{ChatID: chatID, MessageID: m.ReplyToMessage.MessageID})
	switch {
	case errors.Is(err, broadcast.ErrBusy):
		b.reply(ctx, chatID, View{Text: b.text("broadcast.busy", nil)})
	case err != nil:
		obslog.L().Error("bot_broadcast_start_error", zap.Error(err))
	}
}
