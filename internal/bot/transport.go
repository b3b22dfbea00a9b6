package bot

import (
	"context"

	"github.com/park285/tictactoe-telegram-bot/internal/broadcast"
	"github.com/park285/tictactoe-telegram-bot/internal/surface"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
)

// View is one rendered message.
type View struct {
	Text     string
	HTML     bool
	Keyboard surface.Keyboard
}

// Transport is what the bot needs from the chat platform. Errors from the platform are
// returned as is so callers can classify them (see telegram.IsMessageNotFound).
type Transport interface {
	Send(ctx context.Context, chatID string, v View) (int, error)
	Edit(ctx context.Context, chatID string, messageID int, v View) error
	Answer(ctx context.Context, callbackID, text string, alert bool) error
	Delete(ctx context.Context, chatID string, messageID int) error
	SendPhoto(ctx context.Context, chatID, name string, data []byte, caption string) error
}

// TelegramTransport adapts the Bot API client to Transport, broadcast.Messenger and the
// janitor's editor.
type TelegramTransport struct {
	c *telegram.Client
}

func NewTelegramTransport(c *telegram.Client) *TelegramTransport {
	return &TelegramTransport{c: c}
}

func markup(kb surface.Keyboard) *telegram.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]telegram.InlineKeyboardButton, 0, len(kb))
	for _, r := range kb {
		row := make([]telegram.InlineKeyboardButton, 0, len(r))
		for _, btn := range r {
			row = append(row, telegram.InlineKeyboardButton{Text: btn.Label, CallbackData: btn.Action})
		}
		rows = append(rows, row)
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func parseMode(html bool) telegram.ParseMode {
	if html {
		return telegram.ParseModeHTML
	}
	return telegram.ParseModeNone
}

func (t *TelegramTransport) Send(ctx context.Context, chatID string, v View) (int, error) {
	m, err := t.c.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:      chatID,
		Text:        v.Text,
		ParseMode:   parseMode(v.HTML),
		ReplyMarkup: markup(v.Keyboard),
	})
	if err != nil {
		return 0, err
	}
	return m.MessageID, nil
}

// Edit treats "message is not modified" as success.
func (t *TelegramTransport) Edit(ctx context.Context, chatID string, messageID int, v View) error {
	err := t.c.EditMessageText(ctx, telegram.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        v.Text,
		ParseMode:   parseMode(v.HTML),
		ReplyMarkup: markup(v.Keyboard),
	})
	if telegram.IsNotModified(err) {
		return nil
	}
	return err
}

func (t *TelegramTransport) Answer(ctx context.Context, callbackID, text string, alert bool) error {
	return t.c.AnswerCallbackQuery(ctx, telegram.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
}

func (t *TelegramTransport) Delete(ctx context.Context, chatID string, messageID int) error {
	return t.c.DeleteMessage(ctx, telegram.DeleteMessageParams{ChatID: chatID, MessageID: messageID})
}

func (t *TelegramTransport) SendPhoto(ctx context.Context, chatID, name string, data []byte, caption string) error {
	_, err := t.c.SendPhoto(ctx, chatID, telegram.InputFile{Name: name, Data: data}, caption)
	return err
}

// broadcast.Messenger and janitor.Editor

func (t *TelegramTransport) Deliver(ctx context.Context, toChatID string, src broadcast.Source, asCopy bool) error {
	p := telegram.CopyMessageParams{ChatID: toChatID, FromChatID: src.ChatID, MessageID: src.MessageID}
	if asCopy {
		_, err := t.c.CopyMessage(ctx, p)
		return err
	}
	_, err := t.c.ForwardMessage(ctx, p)
	return err
}

func (t *TelegramTransport) SendText(ctx context.Context, chatID, text string, kb surface.Keyboard) (int, error) {
	return t.Send(ctx, chatID, View{Text: text, Keyboard: kb})
}

func (t *TelegramTransport) EditText(ctx context.Context, chatID string, messageID int, text string, kb surface.Keyboard) error {
	return t.Edit(ctx, chatID, messageID, View{Text: text, Keyboard: kb})
}

func (t *TelegramTransport) DeleteMessage(ctx context.Context, chatID string, messageID int) error {
	return t.Delete(ctx, chatID, messageID)
}

func (t *TelegramTransport) SendDocument(ctx context.Context, chatID, name string, data []byte, caption string) error {
	_, err := t.c.SendDocument(ctx, chatID, telegram.InputFile{Name: name, Data: data}, caption)
	return err
}

var _ broadcast.Messenger = (*TelegramTransport)(nil)
