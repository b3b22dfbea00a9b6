// Package bot turns Telegram updates into game actions and renders the results.
package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/park285/tictactoe-telegram-bot/internal/boardimg"
	"github.com/park285/tictactoe-telegram-bot/internal/broadcast"
	"github.com/park285/tictactoe-telegram-bot/internal/msgcat"
	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"github.com/park285/tictactoe-telegram-bot/internal/stats"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
	"go.uber.org/zap"
)

type Bot struct {
	engine *tictactoe.Engine
	users  stats.Repository
	tr     Transport
	cat    *msgcat.Catalog

	bc       *broadcast.Broadcaster
	cards    boardimg.Renderer
	username string
	ownerID  string
}

type Option func(*Bot)

// WithBroadcaster enables /broadcast and its cancel buttons for ownerID.
func WithBroadcaster(bc *broadcast.Broadcaster, ownerID string) Option {
	return func(b *Bot) {
		b.bc = bc
		b.ownerID = strings.TrimSpace(ownerID)
	}
}

// WithResultCards sends a PNG of the final board after battle outcomes.
func WithResultCards(r boardimg.Renderer) Option { return func(b *Bot) { b.cards = r } }

// WithUsername sets the bot's @username, used for battle links and /cmd@bot addressing.
func WithUsername(name string) Option {
	return func(b *Bot) { b.username = strings.TrimPrefix(strings.TrimSpace(name), "@") }
}

func New(engine *tictactoe.Engine, users stats.Repository, tr Transport, cat *msgcat.Catalog, opts ...Option) *Bot {
	b := &Bot{engine: engine, users: users, tr: tr, cat: cat}
	for _, o := range opts {
		o(b)
	}
	return b
}

// HandleUpdate is a telegram.UpdateHandler.
func (b *Bot) HandleUpdate(ctx context.Context, u *telegram.Update) {
	if u == nil {
		return
	}
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) text(key string, data any) string { return b.cat.Text(key, data) }

func (b *Bot) reply(ctx context.Context, chatID string, v View) {
	if _, err := b.tr.Send(ctx, chatID, v); err != nil {
		obslog.L().Warn("bot_send_error", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func userID(u *telegram.User) string {
	if u == nil {
		return ""
	}
	return strconv.FormatInt(u.ID, 10)
}

func firstName(u *telegram.User) string {
	if u == nil {
		return ""
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return userID(u)
}

// saveUser creates the user row on first contact and refreshes profile fields afterwards.
func (b *Bot) saveUser(ctx context.Context, u *telegram.User) {
	if u == nil || u.IsBot {
		return
	}
	lang := u.LanguageCode
	if lang == "" {
		lang = "en"
	}
	err := b.users.SaveUser(ctx, &stats.User{
		UserID:       userID(u),
		UserName:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: lang,
		IsPremium:    u.IsPremium,
	})
	if err != nil {
		obslog.L().Warn("bot_save_user_error", zap.String("user_id", userID(u)), zap.Error(err))
	}
}

// name resolves a stored user's display name, falling back to the id.
func (b *Bot) name(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	u, err := b.users.GetUser(ctx, id)
	if err != nil {
		obslog.L().Warn("bot_user_lookup_error", zap.String("user_id", id), zap.Error(err))
	}
	if u == nil {
		return id
	}
	return u.DisplayName()
}

func (b *Bot) isOwner(id string) bool { return b.ownerID != "" && id == b.ownerID }
