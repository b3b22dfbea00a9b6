package telegram

import (
	"context"

	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"go.uber.org/zap"
)

// Poller fetches updates with getUpdates for deployments without a public webhook.
type Poller struct {
	client  *Client
	server  *Server
	timeout int
	offset  int64
}

// NewPoller dispatches through srv so handlers share its lifecycle and panic guard.
func NewPoller(c *Client, srv *Server) *Poller {
	return &Poller{client: c, server: srv, timeout: 30}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.client.DeleteWebhook(ctx, false); err != nil {
		obslog.L().Warn("tg_delete_webhook_error", zap.Error(err))
	}
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, err := p.client.GetUpdates(ctx, GetUpdatesParams{
			Offset:         p.offset,
			Timeout:        p.timeout,
			AllowedUpdates: []string{"message", "callback_query"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			wait := backoffDuration(failures)
			if d, ok := RetryAfter(err); ok {
				wait = d
			}
			obslog.L().Warn("tg_poll_error", zap.Error(err), zap.Duration("wait", wait))
			if err := p.client.sleepWithContext(ctx, wait); err != nil {
				return err
			}
			continue
		}
		failures = 0
		for i := range updates {
			u := updates[i]
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.server.Dispatch(&u)
		}
	}
}
