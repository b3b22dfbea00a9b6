package broadcast

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/park285/tictactoe-telegram-bot/internal/msgcat"
	"github.com/park285/tictactoe-telegram-bot/internal/stats"
	"github.com/park285/tictactoe-telegram-bot/internal/surface"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	chatID string
	text   string
	kb     surface.Keyboard
}

type fakeMessenger struct {
	mu        sync.Mutex
	failures  map[string][]error // per user, consumed in order
	delivered []string
	texts     []sent
	edits     []sent
	deleted   []int
	docName   string
	doc       string
	caption   string
}

func (f *fakeMessenger) Deliver(_ context.Context, to string, _ Source, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.failures[to]; len(errs) > 0 {
		f.failures[to] = errs[1:]
		return errs[0]
	}
	f.delivered = append(f.delivered, to)
	return nil
}

func (f *fakeMessenger) SendText(_ context.Context, chatID, text string, kb surface.Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sent{chatID, text, kb})
	return 100 + len(f.texts), nil
}

func (f *fakeMessenger) EditText(_ context.Context, chatID string, _ int, text string, kb surface.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sent{chatID, text, kb})
	return nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, _ string, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMessenger) SendDocument(_ context.Context, _ string, name string, data []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docName, f.doc, f.caption = name, string(data), caption
	return nil
}

type fixture struct {
	status *RedisStatus
	users  stats.Repository
	msg    *fakeMessenger
	queue  chan func()
	b      *Broadcaster
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cat, err := msgcat.New("")
	require.NoError(t, err)

	users := stats.NewMemoryRepository()
	for i := 1; i <= n; i++ {
		require.NoError(t, users.SaveUser(context.Background(), &stats.User{UserID: strconv.Itoa(1000 + i)}))
	}
	f := &fixture{
		status: NewRedisStatus(rdb),
		users:  users,
		msg:    &fakeMessenger{failures: map[string][]error{}},
		queue:  make(chan func(), 16),
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	f.b = New(f.status, users, f.msg, cat,
		WithBatch(2),
		WithScheduler(func(_ time.Duration, run func()) { f.queue <- run }),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithClock(func() time.Time {
			calls++
			return start.Add(time.Duration(calls-1) * 3725 * time.Second)
		}),
	)
	return f
}

// drain runs queued batches until the job finishes.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() { f.b.Wait(); close(done) }()
	for {
		select {
		case run := <-f.queue:
			run()
		case <-done:
			return
		case <-time.After(2 * time.Second):
			t.Fatal("broadcast did not finish")
		}
	}
}

func TestBroadcastDeliversToEveryUser(t *testing.T) {
	// Given: five users, one blocked and one rate limited once
	f := newFixture(t, 5)
	f.msg.failures["1002"] = []error{&telegram.APIError{Code: 403, Description: "Forbidden: bot was blocked by the user"}}
	f.msg.failures["1004"] = []error{&telegram.APIError{Code: 429, Description: "Too Many Requests", RetryAfter: 3}}
	ctx := context.Background()

	// When
	job, err := f.b.Start(ctx, "1", Source{ChatID: "1", MessageID: 55})
	require.NoError(t, err)
	f.drain(t)

	// Then
	assert.Equal(t, []string{"1001", "1003", "1004", "1005"}, f.msg.delivered)
	assert.Equal(t, 5, job.Done)
	assert.Equal(t, 4, job.Success)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, "broadcast.txt", f.msg.docName)
	assert.Equal(t, "1002 : blocked the bot\n", f.msg.doc)
	assert.Contains(t, f.msg.caption, "Broadcast completed in 01h 02m 05s")
	assert.Contains(t, f.msg.caption, "Total users 5.")
	assert.Equal(t, []int{job.ProgressMessageID}, f.msg.deleted)
	assert.Len(t, f.msg.edits, 2)
	assert.Contains(t, f.msg.edits[0].text, "Total done 2, 1 success and 1 failed.")

	st, err := f.status.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st)
}

func TestBroadcastIsExclusive(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.b.Start(ctx, "1", Source{ChatID: "1", MessageID: 1})
	require.NoError(t, err)
	_, err = f.b.Start(ctx, "1", Source{ChatID: "1", MessageID: 1})
	assert.ErrorIs(t, err, ErrBusy)
	f.drain(t)
}

func TestBroadcastCancelStopsBeforeNextBatch(t *testing.T) {
	// Given: a run with more users than one batch
	f := newFixture(t, 6)
	ctx := context.Background()
	_, err := f.b.Start(ctx, "1", Source{ChatID: "1", MessageID: 1})
	require.NoError(t, err)

	// When: the first batch is out and the owner confirms cancel
	run := <-f.queue
	canceled, err := f.b.Cancel(ctx)
	require.NoError(t, err)
	assert.True(t, canceled)
	run()
	f.drain(t)

	// Then
	assert.Len(t, f.msg.delivered, 2)
	last := f.msg.texts[len(f.msg.texts)-1]
	assert.Equal(t, "Broadcast stopped...", last.text)

	canceled, err = f.b.Cancel(ctx)
	require.NoError(t, err)
	assert.False(t, canceled)
}

func TestFailureReasons(t *testing.T) {
	f := newFixture(t, 0)
	cases := map[string]error{
		"deactivated":     &telegram.APIError{Code: 403, Description: "Forbidden: user is deactivated"},
		"user id invalid": &telegram.APIError{Code: 400, Description: "Bad Request: chat not found"},
	}
	for want, apiErr := range cases {
		f.msg.failures["9"] = []error{apiErr}
		line, ok := f.b.deliver(context.Background(), "9", Source{})
		assert.False(t, ok)
		assert.Equal(t, "9 : "+want, line)
	}
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00h 00m 00s", FormatElapsed(0))
	assert.Equal(t, "01h 02m 05s", FormatElapsed(3725*time.Second))
	assert.Equal(t, "26h 00m 01s", FormatElapsed(26*time.Hour+time.Second))
}
