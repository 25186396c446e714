package chat

import (
	"log/slog"
	"sync"

	"github.com/avdwerff/deskchat/internal/models"
	"github.com/avdwerff/deskchat/internal/protocol"
)

// ViewMode selects which messages a rendered view shows.
type ViewMode int

const (
	// ModeLive shows the human conversation: everything except
	// assistant-tagged messages.
	ModeLive ViewMode = iota
	// ModeAssistant shows the assistant side-channel: user, system and
	// assistant messages only, never operator traffic.
	ModeAssistant
)

// Channel is the outbound half of the realtime connection the store needs.
// *realtime.Manager satisfies it.
type Channel interface {
	Send(eventType string, payload any) error
	State() models.ConnState
}

// Store is the canonical ordered message log for the active scope: the
// caller's own thread, or the operator-selected user's thread. The store
// never invents entries; in live mode every message arrives from the
// server, so there is no optimistic append on send.
type Store struct {
	conn   Channel
	logger *slog.Logger

	mu      sync.Mutex
	scopeID string
	msgs    []models.Message
	seen    map[string]struct{}
}

// NewStore creates an empty store bound to the channel.
func NewStore(conn Channel, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conn:   conn,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Scope returns the owner user id of the active scope.
func (s *Store) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopeID
}

// SetScope switches the active scope, dropping the previous log.
func (s *Store) SetScope(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopeID = userID
	s.msgs = nil
	s.seen = make(map[string]struct{})
}

// Send emits a message.send intent. While the channel is down this is a
// no-op: nothing is queued, nothing is retried, no optimistic entry is
// added. The returned error only signals the offline condition to the UI.
func (s *Store) Send(text, targetUserID string) error {
	return s.conn.Send(protocol.EventMessageSend, protocol.MessageSend{
		Text:         text,
		TargetUserID: targetUserID,
	})
}

// MarkRead emits the read receipt for the given role. Operators name the
// thread owner; users mark their own thread.
func (s *Store) MarkRead(role Role, scopeID string) error {
	if role == RoleOperator {
		return s.conn.Send(protocol.EventMarkReadAdmin, protocol.MarkReadAdmin{UserID: scopeID})
	}
	return s.conn.Send(protocol.EventMarkReadUser, nil)
}

// Apply appends an authoritative inbound message. A message whose id is
// already present is ignored, making duplicate delivery harmless.
func (s *Store) Apply(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.OwnerUserID != s.scopeID {
		// Not the active scope (or no scope is open yet).
		return false
	}
	if _, dup := s.seen[msg.ID]; dup {
		s.logger.Debug("duplicate message ignored", "id", msg.ID)
		return false
	}
	s.seen[msg.ID] = struct{}{}
	s.msgs = append(s.msgs, msg)
	return true
}

// Replace installs a freshly fetched log, e.g. after the initial thread
// fetch or an operator scope switch.
func (s *Store) Replace(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = make([]models.Message, len(msgs))
	copy(s.msgs, msgs)
	s.seen = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		s.seen[m.ID] = struct{}{}
	}
}

// Purge drops every message for the scope. Used on thread deletion and on
// logout.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.seen = make(map[string]struct{})
}

// Len reports the current log size.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Messages returns a copy of the full log.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// View returns the mode-filtered log.
func (s *Store) View(mode ViewMode) []models.Message {
	return FilterMessages(s.Messages(), mode)
}

// FilterMessages applies the mode predicate to a message list. The
// predicate is pure: it never mutates and depends only on the sender tag.
func FilterMessages(msgs []models.Message, mode ViewMode) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		switch mode {
		case ModeLive:
			if m.Sender != models.SenderAssistant {
				out = append(out, m)
			}
		case ModeAssistant:
			switch m.Sender {
			case models.SenderUser, models.SenderSystem, models.SenderAssistant:
				out = append(out, m)
			case models.SenderAdmin:
				// operator traffic never crosses into the assistant view
			}
		}
	}
	return out
}

// SuppressWelcome removes welcome notices from a list. The operator view
// hides the assistant greeting; the flag comes from the server, so no text
// matching is involved.
func SuppressWelcome(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsWelcomeNotice {
			continue
		}
		out = append(out, m)
	}
	return out
}
