package bot

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/park285/tictactoe-telegram-bot/internal/boardimg"
	"github.com/park285/tictactoe-telegram-bot/internal/broadcast"
	"github.com/park285/tictactoe-telegram-bot/internal/msgcat"
	"github.com/park285/tictactoe-telegram-bot/internal/stats"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind   string // send, edit, answer, delete, photo
	chatID string
	msgID  int
	view   View
	text   string
	alert  bool
}

type fakeTransport struct {
	mu      sync.Mutex
	next    int
	calls   []call
	missing map[int]bool
	onSend  func(chatID string, v View)
}

func (f *fakeTransport) Send(_ context.Context, chatID string, v View) (int, error) {
	f.mu.Lock()
	f.next++
	id := f.next
	f.calls = append(f.calls, call{kind: "send", chatID: chatID, msgID: id, view: v})
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(chatID, v)
	}
	return id, nil
}

func (f *fakeTransport) Edit(_ context.Context, chatID string, msgID int, v View) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[msgID] {
		return &telegram.APIError{Method: "editMessageText", Code: 400, Description: "Bad Request: message to edit not found"}
	}
	f.calls = append(f.calls, call{kind: "edit", chatID: chatID, msgID: msgID, view: v})
	return nil
}

func (f *fakeTransport) Answer(_ context.Context, _ string, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "answer", text: text, alert: alert})
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, chatID string, msgID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "delete", chatID: chatID, msgID: msgID})
	return nil
}

func (f *fakeTransport) SendPhoto(_ context.Context, chatID, _ string, _ []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "photo", chatID: chatID, text: caption})
	return nil
}

func (f *fakeTransport) filter(kind, chatID string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.kind == kind && (chatID == "" || c.chatID == chatID) {
			out = append(out, c)
		}
	}
	return out
}

// view returns the latest content shown in a message.
func (f *fakeTransport) view(chatID string, msgID int) View {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		c := f.calls[i]
		if (c.kind == "send" || c.kind == "edit") && c.chatID == chatID && c.msgID == msgID {
			return c.view
		}
	}
	return View{}
}

func (f *fakeTransport) lastAnswer() call {
	answers := f.filter("answer", "")
	if len(answers) == 0 {
		return call{}
	}
	return answers[len(answers)-1]
}

var (
	alice = &telegram.User{ID: 100, FirstName: "Alice"}
	bob   = &telegram.User{ID: 200, FirstName: "Bob"}
	carol = &telegram.User{ID: 300, FirstName: "Carol"}
	group = telegram.Chat{ID: -500, Type: "supergroup", Title: "fun"}
)

func private(u *telegram.User) telegram.Chat { return telegram.Chat{ID: u.ID, Type: "private"} }

type harness struct {
	t      *testing.T
	bot    *Bot
	tr     *fakeTransport
	engine *tictactoe.Engine
	users  stats.Repository
	status *broadcast.RedisStatus
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cat, err := msgcat.New("")
	require.NoError(t, err)
	users := stats.NewMemoryRepository()
	engine := tictactoe.NewEngine(tictactoe.NewRedisStore(rdb), users,
		tictactoe.WithComputerDelay(0),
		tictactoe.WithRand(func(int) int { return 0 }))
	tr := &fakeTransport{missing: map[int]bool{}}
	status := broadcast.NewRedisStatus(rdb)
	bc := broadcast.New(status, users, nil, cat)

	opts = append([]Option{WithUsername("tttbot"), WithBroadcaster(bc, "100")}, opts...)
	return &harness{
		t:      t,
		bot:    New(engine, users, tr, cat, opts...),
		tr:     tr,
		engine: engine,
		users:  users,
		status: status,
	}
}

func (h *harness) command(from *telegram.User, chat telegram.Chat, text string, reply *telegram.Message) {
	h.bot.HandleUpdate(context.Background(), &telegram.Update{Message: &telegram.Message{
		MessageID: 1, From: from, Chat: chat, Text: text, ReplyToMessage: reply,
	}})
}

func (h *harness) press(from *telegram.User, chat telegram.Chat, msgID int, data string) {
	h.bot.HandleUpdate(context.Background(), &telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID: "cb", From: *from, Data: data, Message: &telegram.Message{MessageID: msgID, Chat: chat},
	}})
}

// lastSend returns the last message sent to chat.
func (h *harness) lastSend(chatID string) call {
	h.t.Helper()
	sends := h.tr.filter("send", chatID)
	require.NotEmpty(h.t, sends, "nothing sent to %s", chatID)
	return sends[len(sends)-1]
}

func gameIDFrom(kb [][]string) string {
	_, rest, _ := strings.Cut(kb[0][0], "_")
	id, _, _ := strings.Cut(rest, "_")
	return id
}

func actions(v View) [][]string {
	out := make([][]string, len(v.Keyboard))
	for i, row := range v.Keyboard {
		for _, b := range row {
			out[i] = append(out[i], b.Action)
		}
	}
	return out
}

func labels(v View) string {
	var sb strings.Builder
	for _, row := range v.Keyboard {
		for _, b := range row {
			if b.Label == " " {
				sb.WriteByte('.')
			} else {
				sb.WriteString(b.Label)
			}
		}
	}
	return sb.String()
}

// startBattle runs /battle for alice and /start battle<id> for bob. It returns the game id
// and the board message ids of alice and bob.
func (h *harness) startBattle() (string, int, int) {
	h.t.Helper()
	h.command(alice, private(alice), "/battle", nil)
	link := h.lastSend("100").view.Text
	_, id, found := strings.Cut(link, "https://t.me/tttbot?start=battle")
	require.True(h.t, found, link)

	h.command(bob, private(bob), "/start battle"+id, nil)
	bobBoard := h.lastSend("200")
	aliceBoard := h.lastSend("100")
	return id, aliceBoard.msgID, bobBoard.msgID
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in      string
		cmd     string
		payload string
		ok      bool
	}{
		{"/start", "start", "", true},
		{"/start battleabc", "start", "battleabc", true},
		{"/Battle@tttbot", "battle", "", true},
		{"/battle@otherbot", "", "", false},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, c := range cases {
		cmd, payload, ok := parseCommand(c.in, "tttbot")
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.cmd, cmd, c.in)
		assert.Equal(t, c.payload, payload, c.in)
	}
}

func TestStartGreets(t *testing.T) {
	h := newHarness(t)
	h.command(alice, private(alice), "/start", nil)

	assert.Contains(t, h.lastSend("100").view.Text, "Send /tictactoe to start a new game")
	u, err := h.users.GetUser(context.Background(), "100")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Alice", u.FirstName)
	assert.Equal(t, "en", u.LanguageCode)
}

func TestSoloMoveAndComputerReply(t *testing.T) {
	// Given: a fresh solo board
	h := newHarness(t)
	h.command(alice, private(alice), "/tictactoe", nil)
	board := h.lastSend("100")
	assert.Equal(t, "Tap on a Box to place a sign:\n\nYour Turn (X)", board.view.Text)
	id := gameIDFrom(actions(board.view))
	assert.Equal(t, "play_"+id+"_1", actions(board.view)[0][0])

	g, _, err := h.engine.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "1", g.CreatorMessageID)

	// When: alice takes the centre
	h.press(alice, private(alice), board.msgID, "play_"+id+"_5")

	// Then: the computer took the first free cell and it is alice's turn again
	edits := h.tr.filter("edit", "100")
	require.Len(t, edits, 2)
	assert.Equal(t, "Tap on a Box to place a sign:\n\nComputer is thinking... (O)", edits[0].view.Text)
	assert.Equal(t, "....X....", labels(edits[0].view))
	assert.Equal(t, "Tap on a Box to place a sign:\n\nYour Turn (X)", edits[1].view.Text)
	assert.Equal(t, "O...X....", labels(edits[1].view))
	assert.Equal(t, "used_"+id+"_5", actions(edits[1].view)[1][1])
	assert.Equal(t, call{kind: "answer", text: "Computer is thinking..."}, h.tr.lastAnswer())
}

func TestSoloRejections(t *testing.T) {
	h := newHarness(t)
	h.command(alice, private(alice), "/tictacteo", nil)
	board := h.lastSend("100")
	id := gameIDFrom(actions(board.view))

	h.press(bob, private(alice), board.msgID, "play_"+id+"_1")
	assert.Equal(t, call{kind: "answer", text: "❌❌ This is not your game. Send /tictactoe to start a new game", alert: true}, h.tr.lastAnswer())

	h.press(alice, private(alice), board.msgID, "used_"+id+"_1")
	assert.Equal(t, call{kind: "answer", text: "Used Box... Try another one", alert: true}, h.tr.lastAnswer())

	h.press(alice, private(alice), 999, "play_deadbeef_1")
	assert.Equal(t, "Something went wrong... Start a new game.", h.tr.view("100", 999).Text)
}

func TestBattleAcceptance(t *testing.T) {
	h := newHarness(t)
	id, aliceMsg, bobMsg := h.startBattle()

	assert.Equal(t, "Tap on a Box to place a sign:\n\nYour Turn (X)", h.tr.view("200", bobMsg).Text)
	assert.Equal(t, "Tap on a Box to place a sign:\n\nBob's Turn (X)", h.tr.view("100", aliceMsg).Text)
	bobTexts := h.tr.filter("send", "200")
	assert.Equal(t, "Alice invited you to a battle.\n\nBattle started !!", bobTexts[0].view.Text)
	aliceTexts := h.tr.filter("send", "100")
	assert.Equal(t, "Bob accepted your invitation.\n\nBattle started !!", aliceTexts[len(aliceTexts)-2].view.Text)

	g, _, err := h.engine.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, tictactoe.StatusActive, g.Status)
	assert.Equal(t, "200", g.UserTurnID)

	// a third user cannot join, the creator cannot accept their own battle
	h.command(carol, private(carol), "/start battle"+id, nil)
	assert.Equal(t, "The battle has already started...", h.lastSend("300").view.Text)
	h.command(alice, private(alice), "/start battlenope", nil)
	assert.Equal(t, "Battle doesn't exist. \n\nSend /battle to start a new battle.", h.lastSend("100").view.Text)
}

func TestBattleStartFailureCancelsBoards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.command(alice, private(alice), "/battle", nil)
	_, id, _ := strings.Cut(h.lastSend("100").view.Text, "https://t.me/tttbot?start=battle")

	// the game gets opened elsewhere while the creator's board is being sent
	h.tr.onSend = func(chatID string, v View) {
		if chatID == "100" && len(v.Keyboard) == 3 {
			_, err := h.engine.StartBattle(ctx, id, "x", "y")
			require.NoError(t, err)
		}
	}
	h.command(bob, private(bob), "/start battle"+id, nil)

	bobBoard := h.lastSend("200")
	aliceBoard := h.lastSend("100")
	assert.Equal(t, View{Text: "Game canceled..."}, h.tr.view("200", bobBoard.msgID))
	assert.Equal(t, View{Text: "Game canceled..."}, h.tr.view("100", aliceBoard.msgID))
	_, _, err := h.engine.Load(ctx, id)
	assert.ErrorIs(t, err, tictactoe.ErrGameNotFound)
}

func TestBattleSelfAccept(t *testing.T) {
	h := newHarness(t)
	h.command(alice, private(alice), "/battle", nil)
	_, id, _ := strings.Cut(h.lastSend("100").view.Text, "https://t.me/tttbot?start=battle")
	h.command(alice, private(alice), "/start battle"+id, nil)
	assert.True(t, strings.HasPrefix(h.lastSend("100").view.Text, "You can't play with yourself"))
}

func TestBattleWinThenReplay(t *testing.T) {
	// Given
	h := newHarness(t)
	id, aliceMsg, bobMsg := h.startBattle()
	moves := []struct {
		who *telegram.User
		msg int
		pos string
	}{
		{bob, bobMsg, "1"}, {alice, aliceMsg, "4"}, {bob, bobMsg, "2"}, {alice, aliceMsg, "5"},
	}
	for _, mv := range moves {
		h.press(mv.who, private(mv.who), mv.msg, "playbattle_"+id+"_"+mv.pos)
	}
	assert.Equal(t, "Tap on a Box to place a sign:\n\nYour Turn (X)", h.tr.view("200", bobMsg).Text)
	assert.Equal(t, "Tap on a Box to place a sign:\n\nBob's Turn (X)", h.tr.view("100", aliceMsg).Text)
	assert.Equal(t, "XX.OO....", labels(h.tr.view("100", aliceMsg)))

	// out of turn
	h.press(alice, private(alice), aliceMsg, "playbattle_"+id+"_6")
	assert.Equal(t, call{kind: "answer", text: "Wait for your turn..."}, h.tr.lastAnswer())

	// When: bob completes the top row
	h.press(bob, private(bob), bobMsg, "playbattle_"+id+"_3")

	// Then
	assert.Equal(t, call{kind: "answer", text: "You Won...", alert: true}, h.tr.lastAnswer())
	won := h.tr.view("200", bobMsg)
	lost := h.tr.view("100", aliceMsg)
	assert.Equal(t, "You Won...", won.Text)
	assert.Equal(t, "You Loose...", lost.Text)
	assert.Equal(t, [][]string{{"replay_" + id + "_100"}}, actions(won))
	assert.Equal(t, [][]string{{"replay_" + id + "_200"}}, actions(lost))

	ctx := context.Background()
	bu, _ := h.users.GetUser(ctx, "200")
	au, _ := h.users.GetUser(ctx, "100")
	assert.Equal(t, 1, bu.BattleWon)
	assert.Equal(t, 1, au.BattleLost)

	// When: alice asks for a rematch where bob opens
	h.press(alice, private(alice), aliceMsg, "replay_"+id+"_200")

	// Then: same id, round two, empty boards, bob to move with X
	g, _, err := h.engine.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Round)
	assert.Equal(t, "200", g.UserTurnID)
	assert.Equal(t, "Tap on a Box to place a sign:\n\nYour Turn (X)", h.tr.view("200", bobMsg).Text)
	assert.Equal(t, "Tap on a Box to place a sign:\n\nBob's Turn (X)", h.tr.view("100", aliceMsg).Text)
	assert.Equal(t, ".........", labels(h.tr.view("100", aliceMsg)))

	// a second press on the other board does not restart it again
	h.press(bob, private(bob), bobMsg, "replay_"+id+"_100")
	assert.Equal(t, call{kind: "answer", text: "The battle has already started..."}, h.tr.lastAnswer())
}

func TestBattleOpponentLeft(t *testing.T) {
	h := newHarness(t)
	id, aliceMsg, bobMsg := h.startBattle()
	h.tr.missing[aliceMsg] = true

	h.press(bob, private(bob), bobMsg, "playbattle_"+id+"_1")

	assert.Equal(t, "Game canceled. Opponent stopped the game.", h.tr.view("200", bobMsg).Text)
	_, _, err := h.engine.Load(context.Background(), id)
	assert.ErrorIs(t, err, tictactoe.ErrGameNotFound)
}

func TestGroupBattle(t *testing.T) {
	h := newHarness(t, WithResultCards(boardimg.New()))
	ctx := context.Background()

	// without a reply there is no opponent
	h.command(alice, group, "/battle@tttbot", nil)
	assert.Equal(t, "Reply to a message of the player you want to battle with /battle.", h.lastSend("-500").view.Text)

	h.command(alice, group, "/battle", &telegram.Message{MessageID: 7, From: bob, Chat: group, Text: "hi"})
	board := h.lastSend("-500")
	assert.True(t, board.view.HTML)
	assert.Equal(t, "<b>Battle: Alice vs Bob</b>\n\nTap on a Box to place a sign:\n\nBob's Turn (X)", board.view.Text)
	id := gameIDFrom(actions(board.view))
	assert.Equal(t, "groupbattle_"+id+"_1", actions(board.view)[0][0])

	h.press(carol, group, board.msgID, "groupbattle_"+id+"_1")
	assert.Equal(t, call{kind: "answer", text: "Your are not a member of this battle.", alert: true}, h.tr.lastAnswer())

	h.press(bob, group, board.msgID, "groupbattle_"+id+"_5")
	assert.Equal(t, "<b>Battle: Alice vs Bob</b>\n\nTap on a Box to place a sign:\n\nAlice's Turn (O)", h.tr.view("-500", board.msgID).Text)

	// play to a draw: O at 1, X at 9, O at 3, X at 2, O at 8, X at 4, O at 6, X at 7
	seq := []struct {
		who *telegram.User
		pos string
	}{
		{alice, "1"}, {bob, "9"}, {alice, "3"}, {bob, "2"}, {alice, "8"}, {bob, "4"}, {alice, "6"}, {bob, "7"},
	}
	for _, mv := range seq {
		h.press(mv.who, group, board.msgID, "groupbattle_"+id+"_"+mv.pos)
	}
	final := h.tr.view("-500", board.msgID)
	assert.Equal(t, "<b>Battle: Alice vs Bob</b>\n\nBattle Draw !!...", final.Text)
	assert.Equal(t, [][]string{{"replay_" + id + "_100"}}, actions(final))

	for _, u := range []string{"100", "200"} {
		got, err := h.users.GetUser(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, 1, got.BattleDraw, u)
	}
	photos := h.tr.filter("photo", "")
	require.Len(t, photos, 1)
	assert.Equal(t, call{kind: "photo", chatID: "-500", text: "Alice (O) vs Bob (X)"}, photos[0])
}

func TestGroupNamesAreEscaped(t *testing.T) {
	h := newHarness(t)
	evil := &telegram.User{ID: 400, FirstName: "<b>&"}
	h.command(evil, group, "/battle", &telegram.Message{MessageID: 7, From: bob, Chat: group})
	assert.Contains(t, h.lastSend("-500").view.Text, "Battle: &lt;b&gt;&amp; vs Bob")
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.command(alice, private(alice), "/stats", nil)
	v := h.lastSend("100").view
	assert.True(t, v.HTML)
	assert.Contains(t, v.Text, "Total Matches Played: 🏅</b> <i>0</i>")
}

func TestBroadcastControls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// only the owner may use the buttons
	h.press(bob, private(bob), 50, "cancel")
	assert.Equal(t, call{kind: "answer"}, h.tr.lastAnswer())

	h.press(alice, private(alice), 50, "cancel")
	assert.Equal(t, call{kind: "answer", text: "Nothing to cancel...", alert: true}, h.tr.lastAnswer())
	assert.Equal(t, []call{{kind: "delete", chatID: "100", msgID: 50}}, h.tr.filter("delete", ""))

	require.NoError(t, h.status.Set(ctx, broadcast.StatusRunning))
	h.press(alice, private(alice), 50, "cancel")
	confirm := h.lastSend("100")
	assert.Equal(t, "Do you really want to cancel the broadcast ?", confirm.view.Text)
	assert.Equal(t, [][]string{{"yes", "no"}}, actions(confirm.view))

	h.press(alice, private(alice), confirm.msgID, "yes")
	assert.Equal(t, call{kind: "answer", text: "Broadcast will be cancel as soon as possible", alert: true}, h.tr.lastAnswer())
	st, err := h.status.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, broadcast.StatusIdle, st)
}

func TestBroadcastNeedsReply(t *testing.T) {
	h := newHarness(t)
	h.command(bob, private(bob), "/broadcast", nil)
	assert.Empty(t, h.tr.filter("send", "200"))

	h.command(alice, private(alice), "/broadcast", nil)
	assert.Equal(t, "Reply to the message you want to broadcast with /broadcast.", h.lastSend("100").view.Text)
}
