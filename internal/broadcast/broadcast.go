// Package broadcast copies one message to every known user in small timed batches.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/tictactoe-telegram-bot/internal/msgcat"
	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"github.com/park285/tictactoe-telegram-bot/internal/stats"
	"github.com/park285/tictactoe-telegram-bot/internal/surface"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
	"go.uber.org/zap"
)

// Audience pages through the users to reach.
type Audience interface {
	CountUsers(ctx context.Context) (int, error)
	ListUsersAfter(ctx context.Context, cursor int64, limit int) ([]*stats.User, error)
}

// Source is the message being broadcast.
type Source struct {
	ChatID    string
	MessageID int
}

// Messenger is the slice of the Bot API the broadcaster needs. Errors are *telegram.APIError
// where the API answered.
type Messenger interface {
	Deliver(ctx context.Context, toChatID string, src Source, asCopy bool) error
	SendText(ctx context.Context, chatID, text string, kb surface.Keyboard) (int, error)
	EditText(ctx context.Context, chatID string, messageID int, text string, kb surface.Keyboard) error
	DeleteMessage(ctx context.Context, chatID string, messageID int) error
	SendDocument(ctx context.Context, chatID, name string, data []byte, caption string) error
}

// Job is the carried state of one broadcast run.
type Job struct {
	ID                string
	Source            Source
	ReportChatID      string
	ProgressMessageID int
	Cursor            int64
	Total             int
	Done              int
	Success           int
	Failed            int
	StartedAt         time.Time
	Log               []string
}

var ErrBusy = errors.New("broadcast already running")

const (
	defaultBatch      = 2
	defaultInterval   = 5 * time.Second
	defaultMaxRetries = 5
)

type Broadcaster struct {
	status   StatusStore
	audience Audience
	msg      Messenger
	cat      *msgcat.Catalog

	batch      int
	interval   time.Duration
	asCopy     bool
	maxRetries int

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	schedule func(d time.Duration, f func())

	wg sync.WaitGroup
}

type Option func(*Broadcaster)

func WithBatch(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.batch = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithCopy selects copyMessage (true) or forwardMessage (false).
func WithCopy(asCopy bool) Option { return func(b *Broadcaster) { b.asCopy = asCopy } }

// WithScheduler replaces the timer used to enqueue the next batch.
func WithScheduler(f func(d time.Duration, run func())) Option {
	return func(b *Broadcaster) { b.schedule = f }
}

// WithSleep replaces the wait used for rate limit retries.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Broadcaster) { b.sleep = f }
}

func WithClock(now func() time.Time) Option { return func(b *Broadcaster) { b.now = now } }

func New(status StatusStore, audience Audience, msg Messenger, cat *msgcat.Catalog, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		status:     status,
		audience:   audience,
		msg:        msg,
		cat:        cat,
		batch:      defaultBatch,
		interval:   defaultInterval,
		asCopy:     true,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	b.schedule = func(d time.Duration, run func()) { time.AfterFunc(d, run) }
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start flips the status to running, posts the progress message and runs the first batch.
// Later batches run on the scheduler under ctx.
func (b *Broadcaster) Start(ctx context.Context, reportChatID string, src Source) (*Job, error) {
	ok, err := b.status.TryStart(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	msgID, err := b.msg.SendText(ctx, reportChatID, b.cat.Text("broadcast.started", nil), b.cancelKeyboard())
	if err != nil {
		_ = b.status.Set(ctx, StatusIdle)
		return nil, fmt.Errorf("post progress message: %w", err)
	}
	job := &Job{
		ID:                uuid.NewString(),
		Source:            src,
		ReportChatID:      reportChatID,
		ProgressMessageID: msgID,
		StartedAt:         b.now(),
	}
	obslog.L().Info("broadcast_start", zap.String("job_id", job.ID), zap.String("source_chat", src.ChatID), zap.Int("source_message", src.MessageID))
	b.wg.Add(1)
	go b.run(ctx, job)
	return job, nil
}

// Wait blocks until every started run has finished.
func (b *Broadcaster) Wait() { b.wg.Wait() }

func (b *Broadcaster) run(ctx context.Context, job *Job) {
	finished, err := b.Step(ctx, job)
	if err != nil {
		obslog.L().Error("broadcast_step_error", zap.String("job_id", job.ID), zap.Error(err))
		_ = b.status.Set(context.WithoutCancel(ctx), StatusIdle)
		b.wg.Done()
		return
	}
	if finished {
		b.wg.Done()
		return
	}
	b.schedule(b.interval, func() { b.run(ctx, job) })
}

// Step delivers one batch. It reports true once the job stopped or completed.
func (b *Broadcaster) Step(ctx context.Context, job *Job) (bool, error) {
	st, err := b.status.Get(ctx)
	if err != nil {
		return false, err
	}
	if st == StatusIdle {
		obslog.L().Info("broadcast_stopped", zap.String("job_id", job.ID), zap.Int("done", job.Done))
		_, err := b.msg.SendText(ctx, job.ReportChatID, b.cat.Text("broadcast.stopped", nil), nil)
		return true, err
	}

	total, err := b.audience.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	job.Total = total
	users, err := b.audience.ListUsersAfter(ctx, job.Cursor, b.batch)
	if err != nil {
		return false, err
	}

	for _, u := range users {
		if line, ok := b.deliver(ctx, u.UserID, job.Source); ok {
			job.Success++
		} else {
			job.Failed++
			job.Log = append(job.Log, line)
		}
		job.Done++
		job.Cursor = u.ID
	}
	obslog.L().Debug("broadcast_batch", zap.String("job_id", job.ID), zap.Int("sent", len(users)), zap.Int64("cursor", job.Cursor))

	if len(users) < b.batch {
		return true, b.finish(ctx, job)
	}

	text := b.cat.Text("broadcast.progress", b.counts(job))
	if err := b.msg.EditText(ctx, job.ReportChatID, job.ProgressMessageID, text, b.cancelKeyboard()); err != nil && !telegram.IsNotModified(err) {
		obslog.L().Warn("broadcast_progress_edit_error", zap.String("job_id", job.ID), zap.Error(err))
	}
	return false, nil
}

// deliver returns ok, or the failure line for the log document.
func (b *Broadcaster) deliver(ctx context.Context, userID string, src Source) (string, bool) {
	var err error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		err = b.msg.Deliver(ctx, userID, src, b.asCopy)
		if err == nil {
			return "", true
		}
		wait, limited := telegram.RetryAfter(err)
		if !limited {
			break
		}
		obslog.L().Warn("broadcast_rate_limited", zap.String("user_id", userID), zap.Duration("retry_after", wait))
		if serr := b.sleep(ctx, wait); serr != nil {
			err = serr
			break
		}
	}
	switch {
	case telegram.IsDeactivated(err):
		return userID + " : deactivated", false
	case telegram.IsBlocked(err):
		return userID + " : blocked the bot", false
	case telegram.IsChatNotFound(err):
		return userID + " : user id invalid", false
	}
	return userID + " : " + err.Error(), false
}

func (b *Broadcaster) finish(ctx context.Context, job *Job) error {
	if err := b.status.Set(ctx, StatusIdle); err != nil {
		return err
	}
	if err := b.msg.DeleteMessage(ctx, job.ReportChatID, job.ProgressMessageID); err != nil && !telegram.IsMessageNotFound(err) {
		obslog.L().Warn("broadcast_progress_delete_error", zap.String("job_id", job.ID), zap.Error(err))
	}
	data := b.counts(job)
	data["Elapsed"] = FormatElapsed(b.now().Sub(job.StartedAt))
	report := b.cat.Text("broadcast.completed", data)
	obslog.L().Info("broadcast_done",
		zap.String("job_id", job.ID),
		zap.Int("total", job.Total),
		zap.Int("success", job.Success),
		zap.Int("failed", job.Failed),
	)
	if len(job.Log) == 0 {
		_, err := b.msg.SendText(ctx, job.ReportChatID, report, nil)
		return err
	}
	doc := []byte(strings.Join(job.Log, "\n") + "\n")
	return b.msg.SendDocument(ctx, job.ReportChatID, b.cat.Text("broadcast.log_name", nil), doc, report)
}

// Cancel flips a running broadcast to idle. It reports false when nothing was running.
func (b *Broadcaster) Cancel(ctx context.Context) (bool, error) {
	st, err := b.status.Get(ctx)
	if err != nil {
		return false, err
	}
	if st == StatusIdle {
		return false, nil
	}
	obslog.L().Info("broadcast_cancel")
	return true, b.status.Set(ctx, StatusIdle)
}

// Running reports whether a broadcast is in progress.
func (b *Broadcaster) Running(ctx context.Context) (bool, error) {
	st, err := b.status.Get(ctx)
	return st == StatusRunning, err
}

func (b *Broadcaster) cancelKeyboard() surface.Keyboard {
	return surface.Single(b.cat.Text("broadcast.cancel_button", nil), surface.VerbCancel)
}

func (b *Broadcaster) counts(job *Job) map[string]any {
	return map[string]any{
		"Total":   job.Total,
		"Done":    job.Done,
		"Success": job.Success,
		"Failed":  job.Failed,
	}
}

// FormatElapsed renders a duration as "HHh MMm SSs".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02dh %02dm %02ds", secs/3600, (secs%3600)/60, secs%60)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
