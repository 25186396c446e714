package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdwerff/deskchat/internal/models"
)

// Store is the thread persistence the chat backend runs on. The SurrealDB
// client implements it; MemoryStore backs tests and single-node dev runs.
type Store interface {
	AppendMessage(ctx context.Context, owner string, sender models.Sender, body string) (models.Message, error)
	ListMessages(ctx context.Context, owner string) ([]models.Message, error)
	ListThreads(ctx context.Context) ([]models.Thread, error)
	MarkReadByAdmin(ctx context.Context, owner string) error
	MarkReadByUser(ctx context.Context, owner string) error
	CloseThread(ctx context.Context, owner string) error
	DeleteThread(ctx context.Context, owner string) error
}

// MemoryStore keeps all threads in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string][]models.Message
	closed   map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]models.Message),
		closed:   make(map[string]bool),
	}
}

func (s *MemoryStore) AppendMessage(ctx context.Context, owner string, sender models.Sender, body string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := models.Message{
		ID:          uuid.NewString(),
		Sender:      sender,
		Body:        body,
		CreatedAt:   time.Now(),
		ReadByUser:  sender != models.SenderAdmin && sender != models.SenderSystem,
		ReadByAdmin: sender != models.SenderUser,
		OwnerUserID: owner,
	}
	s.messages[owner] = append(s.messages[owner], msg)
	s.closed[owner] = false
	return msg, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, owner string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages[owner]))
	copy(out, s.messages[owner])
	return out, nil
}

func (s *MemoryStore) ListThreads(ctx context.Context) ([]models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads := make([]models.Thread, 0, len(s.messages))
	for owner, msgs := range s.messages {
		if len(msgs) == 0 {
			continue
		}
		last := msgs[len(msgs)-1]
		t := models.Thread{
			OwnerUserID:  owner,
			LastMessage:  last.Body,
			LastSender:   last.Sender,
			LastActivity: last.CreatedAt,
		}
		for _, m := range msgs {
			if !m.ReadByAdmin {
				t.UnreadForAdmin++
			}
			if !m.ReadByUser {
				t.UnreadForUser++
			}
		}
		threads = append(threads, t)
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastActivity.After(threads[j].LastActivity)
	})
	return threads, nil
}

func (s *MemoryStore) MarkReadByAdmin(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[owner]
	for i := range msgs {
		msgs[i].ReadByAdmin = true
	}
	return nil
}

func (s *MemoryStore) MarkReadByUser(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[owner]
	for i := range msgs {
		msgs[i].ReadByUser = true
	}
	return nil
}

func (s *MemoryStore) CloseThread(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[owner] = true
	return nil
}

func (s *MemoryStore) DeleteThread(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, owner)
	delete(s.closed, owner)
	return nil
}
