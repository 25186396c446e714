package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avdwerff/deskchat/internal/assistant"
	"github.com/avdwerff/deskchat/internal/metrics"
	"github.com/avdwerff/deskchat/internal/models"
	"github.com/avdwerff/deskchat/internal/protocol"
	"github.com/avdwerff/deskchat/internal/realtime"
)

// Role is the participant role a session runs as.
type Role int

const (
	// RoleUser is an end-user with a single own thread.
	RoleUser Role = iota
	// RoleOperator is a support operator working across all user threads.
	RoleOperator
)

// ErrOperatorOnly is returned when a user session issues an operator
// command.
var ErrOperatorOnly = errors.New("chat: operator-only command")

// Fetcher is the read-path API the session needs. *rest.Client satisfies
// it (together with assistant.Completer for the bridge).
type Fetcher interface {
	FetchOwnThread(ctx context.Context) ([]models.Message, error)
	FetchThread(ctx context.Context, userID string) ([]models.Message, error)
	ThreadLister
}

// Options configures a session.
type Options struct {
	Role   Role
	SelfID string

	Conn      *realtime.Manager
	API       Fetcher
	Completer assistant.Completer

	Logger  *slog.Logger
	Metrics *metrics.Collector

	TypingTTL time.Duration
	Clock     func() time.Time

	// Notify plays the notification sound. Failures are discarded; a nil
	// hook disables notification entirely.
	Notify func() error

	// OnChange fires after any state mutation a view should re-render
	// for. Invoked from the dispatch goroutine; keep it cheap.
	OnChange func()
}

// Session composes the conversation store, presence tracker, thread
// registry and assistant bridge for one authenticated identity, and feeds
// them from the realtime channel. Inbound handlers are registered during
// construction, before any connect, so nothing raised right after the
// handshake is lost.
type Session struct {
	role     Role
	selfID   string
	conn     *realtime.Manager
	api      Fetcher
	logger   *slog.Logger
	metrics  *metrics.Collector
	notify   func() error
	onChange func()

	store     *Store
	presence  *PresenceTracker
	registry  *Registry
	assistant *assistant.Bridge

	mu             sync.Mutex
	mode           ViewMode
	threadState    ThreadState
	historyCleared bool
	onlineUsers    map[string]bool
	onlineAdmins   bool
}

// NewSession builds a session and registers all inbound handlers.
func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := opts.Metrics
	if mc == nil {
		mc = metrics.NewCollector()
	}

	s := &Session{
		role:        opts.Role,
		selfID:      opts.SelfID,
		conn:        opts.Conn,
		api:         opts.API,
		logger:      logger,
		metrics:     mc,
		notify:      opts.Notify,
		onChange:    opts.OnChange,
		store:       NewStore(opts.Conn, logger),
		presence:    NewPresenceTracker(opts.TypingTTL, opts.Clock),
		assistant:   assistant.NewBridge(opts.Completer, opts.SelfID, logger, mc),
		mode:        ModeLive,
		threadState: NoThread,
		onlineUsers: make(map[string]bool),
	}

	if opts.Role == RoleOperator {
		s.registry = NewRegistry(opts.API, logger, mc)
	} else {
		s.store.SetScope(opts.SelfID)
	}

	s.conn.On(protocol.EventMessageNew, s.handleMessageNew)
	s.conn.On(protocol.EventTypingSignal, s.handleTypingSignal)
	s.conn.On(protocol.EventPresenceUpdate, s.handlePresenceUpdate)
	s.conn.On(protocol.EventThreadDeleted, s.handleThreadDeleted)

	return s
}

// Connect brings the channel up for the authenticated identity, then
// performs the initial read: the user's own thread, or the operator thread
// list. Read failures are swallowed, leaving state empty.
func (s *Session) Connect(ctx context.Context, token string) error {
	if err := s.conn.Connect(ctx, token); err != nil {
		return err
	}
	s.presence.StartSweeper(0)

	if s.role == RoleOperator {
		// Failure keeps an empty list until the next refresh.
		_ = s.registry.Refresh(ctx)
		s.changed()
		return nil
	}

	start := time.Now()
	msgs, err := s.api.FetchOwnThread(ctx)
	if err != nil {
		s.metrics.RecordFailure(metrics.OpThreadFetch)
		s.logger.Warn("initial thread fetch failed, starting empty", "error", err)
		return nil
	}
	s.metrics.RecordTiming(metrics.OpThreadFetch, time.Since(start))
	s.store.Replace(msgs)

	s.mu.Lock()
	if len(msgs) > 0 {
		s.threadState = ThreadActive
	}
	s.mu.Unlock()
	s.changed()
	return nil
}

// Logout tears the channel down and clears all locally held messages. The
// session's operation stats are flushed to the log on the way out.
func (s *Session) Logout() {
	snap := s.metrics.Snapshot()
	for op, st := range snap.Ops {
		s.logger.Info("session stats",
			"op", op,
			"count", st.Count,
			"failures", st.Failures,
			"avg_ms", st.AvgTimeMs)
	}

	s.conn.Disconnect()
	s.presence.Stop()
	s.store.Purge()
	s.assistant.Reset()

	s.mu.Lock()
	s.threadState = NoThread
	s.historyCleared = false
	s.onlineUsers = make(map[string]bool)
	s.onlineAdmins = false
	s.mu.Unlock()
	s.changed()
}

// ConnState reports channel connectivity for the offline indicator.
func (s *Session) ConnState() models.ConnState {
	return s.conn.State()
}

// Mode reports the active view mode.
func (s *Session) Mode() ViewMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// EnterAssistantMode switches to the assistant side-channel, injecting the
// local welcome notice on first entry.
func (s *Session) EnterAssistantMode() {
	s.mu.Lock()
	s.mode = ModeAssistant
	s.mu.Unlock()
	s.assistant.EnsureWelcome()
	s.changed()
}

// ExitAssistantMode returns to the live thread. A completion still in
// flight is abandoned; its late reply is discarded when it lands.
func (s *Session) ExitAssistantMode() {
	s.mu.Lock()
	s.mode = ModeLive
	s.mu.Unlock()
	s.assistant.Invalidate()
	s.changed()
}

// SendMessage routes a user intent to the right stream for the active
// mode. In live mode an offline channel makes this a no-op and the error
// reports it; in assistant mode the completion runs asynchronously.
func (s *Session) SendMessage(text string) error {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	if mode == ModeAssistant {
		go func() {
			s.assistant.Ask(context.Background(), text)
			s.changed()
		}()
		return nil
	}

	target := ""
	if s.role == RoleOperator {
		target = s.store.Scope()
	}
	if err := s.store.Send(text, target); err != nil {
		return err
	}
	s.metrics.RecordTiming(metrics.OpEventOut, 0)
	return nil
}

// Typing broadcasts a composing signal for the active scope. Offline, like
// all sends, it is a silent no-op.
func (s *Session) Typing() {
	p := protocol.Typing{}
	if s.role == RoleOperator {
		p.UserID = s.store.Scope()
	}
	_ = s.conn.Send(protocol.EventTyping, p)
}

// MarkRead emits the read receipt for the session's role and scope.
func (s *Session) MarkRead() error {
	return s.store.MarkRead(s.role, s.store.Scope())
}

// OpenThread switches the operator scope to a user's thread: fetch the
// log, emit the admin read receipt and reload the registry.
func (s *Session) OpenThread(ctx context.Context, userID string) error {
	if s.role != RoleOperator {
		return ErrOperatorOnly
	}

	s.store.SetScope(userID)
	s.mu.Lock()
	s.historyCleared = false
	s.threadState = NoThread
	s.mu.Unlock()

	start := time.Now()
	msgs, err := s.api.FetchThread(ctx, userID)
	if err != nil {
		s.metrics.RecordFailure(metrics.OpThreadFetch)
		s.logger.Warn("thread fetch failed, showing empty thread", "user", userID, "error", err)
	} else {
		s.metrics.RecordTiming(metrics.OpThreadFetch, time.Since(start))
		s.store.Replace(msgs)
		if len(msgs) > 0 {
			s.mu.Lock()
			s.threadState = ThreadActive
			s.mu.Unlock()
		}
	}

	if err := s.store.MarkRead(RoleOperator, userID); err != nil {
		s.logger.Warn("mark read failed", "user", userID, "error", err)
	}
	_ = s.registry.Refresh(ctx)
	s.changed()
	return nil
}

// Messages returns the active view. Live mode filters out assistant
// traffic; assistant mode shows only the side-channel; the operator view
// additionally hides welcome notices.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	if mode == ModeAssistant {
		return FilterMessages(s.assistant.Messages(), ModeAssistant)
	}
	view := s.store.View(ModeLive)
	if s.role == RoleOperator {
		view = SuppressWelcome(view)
	}
	return view
}

// Threads returns the operator thread registry view.
func (s *Session) Threads() []models.Thread {
	if s.registry == nil {
		return nil
	}
	return s.registry.List()
}

// RefreshThreads reloads the operator thread list.
func (s *Session) RefreshThreads(ctx context.Context) error {
	if s.role != RoleOperator {
		return ErrOperatorOnly
	}
	return s.registry.Refresh(ctx)
}

// IsTyping reports whether a peer is composing. Users pass OperatorPeer;
// operators pass the thread owner's id.
func (s *Session) IsTyping(peerID string) bool {
	return s.presence.IsTyping(peerID)
}

// OnlineUsers reports which users the server last announced as connected.
func (s *Session) OnlineUsers() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.onlineUsers))
	for k, v := range s.onlineUsers {
		out[k] = v
	}
	return out
}

// AdminsOnline reports whether any operator is connected.
func (s *Session) AdminsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlineAdmins
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Session) handleMessageNew(env protocol.Envelope) {
	start := time.Now()
	var ev protocol.MessageNew
	if err := protocol.Decode(env, &ev); err != nil {
		s.logger.Warn("bad message.new payload", "error", err)
		return
	}
	msg := ev.Message

	if s.store.Apply(msg) {
		s.mu.Lock()
		s.historyCleared = false
		switch {
		case msg.Sender == models.SenderUser:
			// A user message opens a fresh thread and reopens a closed one.
			s.threadState = ThreadActive
		case s.threadState == NoThread || s.threadState == ThreadDeleted:
			s.threadState = ThreadActive
		}
		s.mu.Unlock()

		if s.notify != nil && !s.isOwnEcho(msg) {
			// Playback failures are deliberately dropped.
			_ = s.notify()
		}
	}

	if s.role == RoleOperator {
		// Previews and unread counts changed; full reload over patching.
		go func() { _ = s.registry.Refresh(context.Background()) }()
	}

	s.metrics.RecordTiming(metrics.OpEventIn, time.Since(start))
	s.changed()
}

// isOwnEcho reports whether the message is the server echo of this
// session's own send.
func (s *Session) isOwnEcho(msg models.Message) bool {
	if s.role == RoleOperator {
		return msg.Sender == models.SenderAdmin
	}
	return msg.Sender == models.SenderUser
}

func (s *Session) handleTypingSignal(env protocol.Envelope) {
	var ev protocol.TypingSignal
	if err := protocol.Decode(env, &ev); err != nil {
		s.logger.Warn("bad typing.signal payload", "error", err)
		return
	}
	peer := ev.User
	if peer == "" {
		peer = OperatorPeer
	}
	s.presence.Signal(peer)
	s.changed()
}

func (s *Session) handlePresenceUpdate(env protocol.Envelope) {
	var ev protocol.PresenceUpdate
	if err := protocol.Decode(env, &ev); err != nil {
		s.logger.Warn("bad presence.update payload", "error", err)
		return
	}

	s.mu.Lock()
	s.onlineUsers = make(map[string]bool, len(ev.OnlineUsers))
	for _, u := range ev.OnlineUsers {
		s.onlineUsers[u] = true
	}
	s.onlineAdmins = ev.OnlineAdmins
	s.mu.Unlock()
	s.changed()
}

func (s *Session) handleThreadDeleted(env protocol.Envelope) {
	var ev protocol.ThreadDeleted
	if err := protocol.Decode(env, &ev); err != nil {
		s.logger.Warn("bad thread.deleted payload", "error", err)
		return
	}

	if s.store.Scope() == ev.User {
		s.store.Purge()
		s.mu.Lock()
		s.historyCleared = true
		s.threadState = ThreadDeleted
		s.mu.Unlock()
	}

	if s.registry != nil {
		s.registry.Remove(ev.User)
		go func() { _ = s.registry.Refresh(context.Background()) }()
	}
	s.changed()
}
