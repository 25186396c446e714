package chat

import (
	"fmt"

	"github.com/avdwerff/deskchat/internal/protocol"
)

// ThreadState is the lifecycle state of the active thread.
type ThreadState int

const (
	// NoThread means no message exists yet for the scope.
	NoThread ThreadState = iota
	// ThreadActive means the thread has messages and is open.
	ThreadActive
	// ThreadClosed means an operator closed the thread; history is kept
	// and the next user message reopens it.
	ThreadClosed
	// ThreadDeleted means the thread was purged. Terminal for this thread
	// identity: a later first message starts a logically new thread.
	ThreadDeleted
)

// String returns a readable name for logging.
func (s ThreadState) String() string {
	switch s {
	case NoThread:
		return "none"
	case ThreadActive:
		return "active"
	case ThreadClosed:
		return "closed"
	case ThreadDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("threadstate(%d)", int(s))
	}
}

// CloseThread asks the server to close a user's thread. The server appends
// the closure system message and broadcasts it; history stays, and the
// thread remains visible to operators.
func (s *Session) CloseThread(userID string) error {
	if s.role != RoleOperator {
		return ErrOperatorOnly
	}
	if err := s.conn.Send(protocol.EventThreadClose, protocol.ThreadClose{UserID: userID}); err != nil {
		return err
	}
	s.mu.Lock()
	if s.store.Scope() == userID {
		s.threadState = ThreadClosed
	}
	s.mu.Unlock()
	return nil
}

// DeleteThread asks the server to purge a user's thread. Local state is
// only touched when the authoritative thread.deleted event comes back.
func (s *Session) DeleteThread(userID string) error {
	if s.role != RoleOperator {
		return ErrOperatorOnly
	}
	return s.conn.Send(protocol.EventThreadDelete, protocol.ThreadDelete{UserID: userID})
}

// ThreadState reports the lifecycle state of the active scope.
func (s *Session) ThreadState() ThreadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadState
}

// HistoryCleared reports whether the active scope was purged and no message
// has arrived since. Views render a "history cleared" placeholder while
// this is set; the placeholder is never a log entry, so the purged log
// stays at length zero.
func (s *Session) HistoryCleared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyCleared
}
