package chat

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdwerff/deskchat/internal/assistant"
	"github.com/avdwerff/deskchat/internal/metrics"
	"github.com/avdwerff/deskchat/internal/models"
	"github.com/avdwerff/deskchat/internal/protocol"
	"github.com/avdwerff/deskchat/internal/realtime"
	"github.com/avdwerff/deskchat/internal/realtime/realtimetest"
	"github.com/avdwerff/deskchat/internal/rest"
)

const eventWait = 2 * time.Second

// fakeAPI backs the session's read path in tests.
type fakeAPI struct {
	mu      sync.Mutex
	own     []models.Message
	byUser  map[string][]models.Message
	threads []models.Thread
}

func (f *fakeAPI) FetchOwnThread(ctx context.Context) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.own...), nil
}

func (f *fakeAPI) FetchThread(ctx context.Context, userID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.byUser[userID]...), nil
}

func (f *fakeAPI) FetchThreads(ctx context.Context) ([]models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Thread(nil), f.threads...), nil
}

func (f *fakeAPI) setThreads(threads []models.Thread) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads = threads
}

type cannedCompleter struct {
	reply string
}

func (c *cannedCompleter) AskAssistant(ctx context.Context, message string, history []rest.ChatTurn) (string, error) {
	return c.reply, nil
}

func newTestSession(t *testing.T, opts Options) (*Session, *realtimetest.Transport) {
	t.Helper()
	tr := realtimetest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Conn = realtime.NewManager("ws://test/chat/ws", tr.Dialer(), logger)
	opts.Logger = logger
	if opts.API == nil {
		opts.API = &fakeAPI{byUser: map[string][]models.Message{}}
	}
	if opts.Completer == nil {
		opts.Completer = &cannedCompleter{reply: "canned"}
	}
	s := NewSession(opts)
	t.Cleanup(s.Logout)
	return s, tr
}

func TestUserConnectLoadsOwnThread(t *testing.T) {
	api := &fakeAPI{own: []models.Message{
		msg("m-1", "u-1", models.SenderUser, "hello"),
		msg("m-2", "u-1", models.SenderAdmin, "hi there"),
	}}
	s, _ := newTestSession(t, Options{Role: RoleUser, SelfID: "u-1", API: api})

	require.NoError(t, s.Connect(context.Background(), "tok"))

	assert.Equal(t, models.Connected, s.ConnState())
	assert.Len(t, s.Messages(), 2)
	assert.Equal(t, ThreadActive, s.ThreadState())
}

func TestSendBeforeConnectIsNoOp(t *testing.T) {
	s, tr := newTestSession(t, Options{Role: RoleUser, SelfID: "u-1"})

	err := s.SendMessage("hello?")
	assert.ErrorIs(t, err, realtime.ErrNotConnected)
	assert.Empty(t, tr.Sent())
	assert.Empty(t, s.Messages())
}

func TestDuplicateDeliveryIsIgnored(t *testing.T) {
	s, tr := newTestSession(t, Options{Role: RoleUser, SelfID: "u-1"})
	require.NoError(t, s.Connect(context.Background(), "tok"))

	m := msg("m-1", "u-1", models.SenderAdmin, "hi")
	tr.PushEvent(protocol.EventMessageNew, protocol.MessageNew{Message: m})
	tr.PushEvent(protocol.EventMessageNew, protocol.MessageNew{Message: m})
	tr.PushEvent(protocol.EventMessageNew, protocol.MessageNew{Message: msg("m-2", "u-1", models.SenderAdmin, "marker")})

	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 2 && msgs[1].ID == "m-2"
	}, eventWait, 5*time.Millisecond)
}

func TestNotifyOnIncomingNotOnOwnEcho(t *testing.T) {
	var rings atomic.Int32
	s, tr := newTestSession(t, Options{
		Role:   RoleUser,
		SelfID: "u-1",
		Notify: func() error { rings.Add(1); return nil },
	})
	require.NoError(t, s.Connect(context.Background(), "tok"))

	tr.PushEvent(protocol.EventMessageNew, protocol.MessageNew{Message: msg("m-1", "u-1", models.SenderUser, "my echo")})
	tr.PushEvent(protocol.EventMessageNew, protocol.MessageNew{Message: msg("m-2", "u-1", models.SenderAdmin, "reply")})

	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, eventWait, 5*time.Millisecond)
	assert.Equal(t, int32(1), rings.Load())
}

func TestWelcomeNoticeInjectedOnceAndNeverSent(t *testing.T) {
	s, tr := newTestSession(t, Options{Role: RoleUser, SelfID: "u-1"})
	require.NoError(t, s.Connect(context.Background(), "tok"))

	s.EnterAssistantMode()
	s.ExitAssistantMode()
	s.EnterAssistantMode()

	welcomes := 0
	for _, m := range s.Messages() {
		if m.IsWelcomeNotice {
			welcomes++
			assert.Equal(t, models.SenderSystem, m.Sender)
			assert.Equal(t, assistant.WelcomeBody, m.Body)
		}
	}
	assert.Equal(t, 1, welcomes)
	assert.Empty(t, tr.Sent(), "welcome notice is local only")
}

func TestModeIsolation(t *testing.T) {
	s, tr := newTestSession(t, Options{
		Role:      RoleUser,
		SelfID:    "u-1",
		Completer: &cannedCompleter{reply: "assistant says hi"},
	})
	require.NoError(t, s.Connect(context.Background(), "tok"))

	tr.PushEvent(protocol.EventMessageNew, protocol.MessageNew{Message: msg("m-1", "u-1", models.SenderAdmin, "operator line")})
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, eventWait, 5*time.Millisecond)

	s.EnterAssistantMode()
	require.NoError(t, s.SendMessage("hi assistant"))
	require.Eventually(t, func() bool {
		// welcome + question + reply
		return len(s.Messages()) == 3
	}, eventWait, 5*time.Millisecond)

	for _, m := range s.Messages() {
		assert.NotEqual(t, models.SenderAdmin, m.Sender, "operator traffic leaked into assistant view")
	}

	s.ExitAssistantMode()
	for _, m := range s.Messages() {
		assert.NotEqual(t, models.SenderAssistant, m.Sender, "assistant traffic leaked into live view")
	}
	require.Len(t, s.Messages(), 1)

	// the assistant exchange never reached the wire
	assert.Empty(t, tr.SentTypes())
}

func TestAssistantSendDoesNotRequireConnection(t *testing.T) {
	s, _ := newTestSession(t, Options{
		Role:      RoleUser,
		SelfID:    "u-1",
		Completer: &cannedCompleter{reply: "offline still works"},
	})

	s.EnterAssistantMode()
	require.NoError(t, s.SendMessage("anyone there?"))
	require.Eventually(t, func() bool { return len(s.Messages()) == 3 }, eventWait, 5*time.Millisecond)
}

func TestTypingSignalDefaultsToOperatorPeer(t *testing.T) {
	s, tr := newTestSession(t, Options{Role: RoleUser, SelfID: "u-1"})
	require.NoError(t, s.Connect(context.Background(), "tok"))

	tr.PushEvent(protocol.EventTypingSignal, protocol.TypingSignal{TS: time.Now()})

	require.Eventually(t, func() bool { return s.IsTyping(OperatorPeer) }, eventWait, 5*time.Millisecond)
}

func TestPresenceUpdateReplacesRoster(t *testing.T) {
	s, tr := newTestSession(t, Options{Role: RoleOperator, SelfID: "op-1"})
	require.NoError(t, s.Connect(context.Background(), "tok"))

	tr.PushEvent(protocol.EventPresenceUpdate, protocol.PresenceUpdate{OnlineUsers: []string{"u-1", "u-2"}, OnlineAdmins: true})
	require.Eventually(t, func() bool { return s.OnlineUsers()["u-2"] }, eventWait, 5*time.Millisecond)

	tr.PushEvent(protocol.EventPresenceUpdate, protocol.PresenceUpdate{OnlineUsers: []string{"u-1"}, OnlineAdmins: true})
	require.Eventually(t, func() bool { return !s.OnlineUsers()["u-2"] }, eventWait, 5*time.Millisecond)
	assert.True(t, s.OnlineUsers()["u-1"])
	assert.True(t, s.AdminsOnline())
}

func TestOperatorOpenThreadMarksRead(t *testing.T) {
	api := &fakeAPI{
		byUser: map[string][]models.Message{
			"u-1": {
				msg("m-1", "u-1", models.SenderUser, "help"),
				msg("m-2", "u-1", models.SenderUser, "please"),
				msg("m-3", "u-1", models.SenderAdmin, "on it"),
			},
		},
		threads: []models.Thread{{OwnerUserID: "u-1", UnreadForAdmin: 2}},
	}
	s, tr := newTestSession(t, Options{Role: RoleOperator, SelfID: "op-1", API: api})
	require.NoError(t, s.Connect(context.Background(), "tok"))

	// the server clears the unread count once the receipt lands
	api.setThreads([]models.Thread{{OwnerUserID: "u-1", UnreadForAdmin: 0}})
	require.NoError(t, s.OpenThread(context.Background(), "u-1"))

	assert.Len(t, s.Messages(), 3)
	assert.Equal(t, ThreadActive, s.ThreadState())

	types := tr.SentTypes()
	require.Contains(t, types, protocol.EventMarkReadAdmin)
	var receipt protocol.MarkReadAdmin
	for _, env := range tr.Sent() {
		if env.Type == protocol.EventMarkReadAdmin {
			require.NoError(t, protocol.Decode(env, &receipt))
		}
	}
	assert.Equal(t, "u-1", receipt.UserID)

	threads := s.Threads()
	require.Len(t, threads, 1)
	assert.Equal(t, 0, threads[0].UnreadForAdmin)
}

func TestOperatorSendTargetsOpenThread(t *testing.T) {
	api := &fakeAPI{byUser: map[string][]models.Message{"u-1": nil}}
	s, tr := newTestSession(t, Options{Role: RoleOperator, SelfID: "op-1", API: api})
	require.NoError(t, s.Connect(context.Background(), "tok"))
	require.NoError(t, s.OpenThread(context.Background(), "u-1"))

	require.NoError(t, s.SendMessage("how can I help?"))

	sent := tr.Sent()
	var payload protocol.MessageSend
	found := false
	for _, env := range sent {
		if env.Type == protocol.EventMessageSend {
			require.NoError(t, protocol.Decode(env, &payload))
			found = true
		}
	}
	require.True(t, found)
	assert.Equal(t, "u-1", payload.TargetUserID)
}

func TestOperatorViewHidesWelcomeNotice(t *testing.T) {
	welcome := msg("m-1", "u-1", models.SenderSystem, assistant.WelcomeBody)
	welcome.IsWelcomeNotice = true
	api := &fakeAPI{byUser: map[string][]models.Message{
		"u-1": {welcome, msg("m-2", "u-1", models.SenderUser, "hi")},
	}}
	s, _ := newTestSession(t, Options{Role: RoleOperator, SelfID: "op-1", API: api})
	require.NoError(t, s.Connect(context.Background(), "tok"))
	require.NoError(t, s.OpenThread(context.Background(), "u-1"))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m-2", msgs[0].ID)
}

func TestThreadDeletedPurgesScopeAndRegistry(t *testing.T) {
	api := &fakeAPI{
		byUser:  map[string][]models.Message{"u-1": {msg("m-1", "u-1", models.SenderUser, "hi")}},
		threads: []models.Thread{{OwnerUserID: "u-1"}},
	}
	s, tr := newTestSession(t, Options{Role: RoleOperator, SelfID: "op-1", API: api})
	require.NoError(t, s.Connect(context.Background(), "tok"))
	require.NoError(t, s.OpenThread(context.Background(), "u-1"))
	require.Len(t, s.Messages(), 1)

	require.NoError(t, s.DeleteThread("u-1"))
	assert.Contains(t, tr.SentTypes(), protocol.EventThreadDelete)
	// local state waits for the authoritative event
	assert.Equal(t, ThreadActive, s.ThreadState())

	api.setThreads(nil)
	tr.PushEvent(protocol.EventThreadDeleted, protocol.ThreadDeleted{User: "u-1"})

	require.Eventually(t, func() bool { return s.ThreadState() == ThreadDeleted }, eventWait, 5*time.Millisecond)
	assert.Empty(t, s.Messages())
	assert.True(t, s.HistoryCleared(), "views show a placeholder, not a log entry")
	require.Eventually(t, func() bool { return len(s.Threads()) == 0 }, eventWait, 5*time.Millisecond)
}

func TestCloseThreadKeepsHistory(t *testing.T) {
	api := &fakeAPI{byUser: map[string][]models.Message{
		"u-1": {msg("m-1", "u-1", models.SenderUser, "hi")},
	}}
	s, tr := newTestSession(t, Options{Role: RoleOperator, SelfID: "op-1", API: api})
	require.NoError(t, s.Connect(context.Background(), "tok"))
	require.NoError(t, s.OpenThread(context.Background(), "u-1"))

	require.NoError(t, s.CloseThread("u-1"))
	assert.Contains(t, tr.SentTypes(), protocol.EventThreadClose)
	assert.Equal(t, ThreadClosed, s.ThreadState())
	assert.Len(t, s.Messages(), 1)

	// the next user message reopens the thread
	tr.PushEvent(protocol.EventMessageNew, protocol.MessageNew{Message: msg("m-2", "u-1", models.SenderUser, "still here")})
	require.Eventually(t, func() bool { return s.ThreadState() == ThreadActive }, eventWait, 5*time.Millisecond)
}

func TestLifecycleCommandsAreOperatorOnly(t *testing.T) {
	s, _ := newTestSession(t, Options{Role: RoleUser, SelfID: "u-1"})

	assert.ErrorIs(t, s.CloseThread("u-1"), ErrOperatorOnly)
	assert.ErrorIs(t, s.DeleteThread("u-1"), ErrOperatorOnly)
	assert.ErrorIs(t, s.OpenThread(context.Background(), "u-1"), ErrOperatorOnly)
	assert.ErrorIs(t, s.RefreshThreads(context.Background()), ErrOperatorOnly)
}

func TestLogoutClearsEverything(t *testing.T) {
	api := &fakeAPI{own: []models.Message{msg("m-1", "u-1", models.SenderUser, "hi")}}
	s, _ := newTestSession(t, Options{Role: RoleUser, SelfID: "u-1", API: api})
	require.NoError(t, s.Connect(context.Background(), "tok"))
	s.EnterAssistantMode()
	s.ExitAssistantMode()
	require.NotEmpty(t, s.Messages())

	s.Logout()

	assert.Equal(t, models.Disconnected, s.ConnState())
	assert.Empty(t, s.Messages())
	s.EnterAssistantMode()
	welcomes := 0
	for _, m := range s.Messages() {
		if m.IsWelcomeNotice {
			welcomes++
		}
	}
	assert.Equal(t, 1, welcomes, "a fresh login gets a fresh welcome")
}

// syncBuffer makes log output readable while the dispatch goroutine may
// still be writing.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func TestLogoutFlushesSessionStats(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tr := realtimetest.New()
	api := &fakeAPI{own: []models.Message{msg("m-1", "u-1", models.SenderUser, "hi")}}
	s := NewSession(Options{
		Role:      RoleUser,
		SelfID:    "u-1",
		Conn:      realtime.NewManager("ws://test/chat/ws", tr.Dialer(), logger),
		API:       api,
		Completer: &cannedCompleter{reply: "canned"},
		Logger:    logger,
	})
	ctx, cancel := context.WithTimeout(context.Background(), eventWait)
	defer cancel()
	require.NoError(t, s.Connect(ctx, "tok"))

	s.Logout()

	out := buf.String()
	assert.Contains(t, out, "session stats")
	assert.Contains(t, out, metrics.OpThreadFetch)
}
