// Package janitor deletes games nobody finished and tells their surfaces.
package janitor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/park285/tictactoe-telegram-bot/internal/msgcat"
	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"github.com/park285/tictactoe-telegram-bot/internal/surface"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
	"go.uber.org/zap"
)

// Lister finds stale games.
type Lister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]*tictactoe.Game, error)
}

// Abandoner removes a game. An empty actor skips the membership check.
type Abandoner interface {
	Abandon(ctx context.Context, id, actorID string) (*tictactoe.Game, error)
}

// Editor rewrites a board message.
type Editor interface {
	EditText(ctx context.Context, chatID string, messageID int, text string, kb surface.Keyboard) error
}

type Janitor struct {
	games  Lister
	engine Abandoner
	edit   Editor
	cat    *msgcat.Catalog
	age    time.Duration
	batch  int
	now    func() time.Time

	mu sync.Mutex
}

type Option func(*Janitor)

func WithClock(now func() time.Time) Option { return func(j *Janitor) { j.now = now } }

func New(games Lister, engine Abandoner, edit Editor, cat *msgcat.Catalog, age time.Duration, batch int, opts ...Option) *Janitor {
	if batch <= 0 {
		batch = 10
	}
	if age <= 0 {
		age = 24 * time.Hour
	}
	j := &Janitor{games: games, engine: engine, edit: edit, cat: cat, age: age, batch: batch, now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Sweep removes up to one batch of games created before now minus the configured age.
// It returns how many games were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.now().Add(-j.age)
	stale, err := j.games.ListStale(ctx, cutoff, j.batch)
	if err != nil {
		return 0, err
	}
	text := j.cat.Text("game.canceled", nil)
	removed := 0
	for _, g := range stale {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		final, err := j.engine.Abandon(ctx, g.ID, "")
		if errors.Is(err, tictactoe.ErrGameNotFound) {
			continue
		}
		if err != nil {
			obslog.L().Warn("janitor_abandon_error", zap.String("game_id", g.ID), zap.Error(err))
			continue
		}
		removed++
		obslog.L().Info("janitor_game_removed", zap.String("game", final.Describe()), zap.Time("created_at", final.CreatedAt))
		for _, s := range final.Surfaces() {
			j.notify(ctx, final, s, text)
		}
	}
	obslog.L().Info("janitor_sweep", zap.Int("found", len(stale)), zap.Int("removed", removed), zap.Time("cutoff", cutoff))
	return removed, nil
}

func (j *Janitor) notify(ctx context.Context, g *tictactoe.Game, s tictactoe.Surface, text string) {
	if s.MessageID == "" || s.ChatID == "" {
		return
	}
	msgID, err := strconv.Atoi(s.MessageID)
	if err != nil {
		return
	}
	err = j.edit.EditText(ctx, s.ChatID, msgID, text, nil)
	if err != nil && !telegram.IsMessageNotFound(err) && !telegram.IsNotModified(err) {
		obslog.L().Warn("janitor_notify_error", zap.String("game_id", g.ID), zap.String("chat_id", s.ChatID), zap.Error(err))
	}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	obslog.L().Info("janitor_start", zap.Duration("interval", interval), zap.Duration("age", j.age))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.sweepLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("janitor_stop")
			return
		case <-ticker.C:
			j.sweepLogged(ctx)
		}
	}
}

func (j *Janitor) sweepLogged(ctx context.Context) {
	if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
		obslog.L().Error("janitor_sweep_error", zap.Error(err))
	}
}
