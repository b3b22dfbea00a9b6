package telegram

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"strconv"
)

// SendPhoto uploads an image from memory.
func (c *Client) SendPhoto(ctx context.Context, chatID string, photo InputFile, caption string) (*Message, error) {
	return c.upload(ctx, "sendPhoto", "photo", chatID, photo, caption)
}

// SendDocument uploads a file from memory.
func (c *Client) SendDocument(ctx context.Context, chatID string, doc InputFile, caption string) (*Message, error) {
	return c.upload(ctx, "sendDocument", "document", chatID, doc, caption)
}

func (c *Client) upload(ctx context.Context, method, field, chatID string, f InputFile, caption string) (*Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", chatID); err != nil {
		return nil, err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return nil, err
		}
	}
	name := f.Name
	if name == "" {
		name = field + ".bin"
	}
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	var m Message
	if err := c.doRequest(ctx, method, w.FormDataContentType(), buf.Bytes(), &m, false, 0); err != nil {
		return nil, err
	}
	return &m, nil
}

// FormatChatID renders a numeric chat id for request params.
func FormatChatID(id int64) string { return strconv.FormatInt(id, 10) }
