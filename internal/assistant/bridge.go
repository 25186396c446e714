// Package assistant bridges the chat client to the AI completion endpoint.
// The assistant conversation is client-only: nothing here touches the live
// thread or the chat backend's storage.
package assistant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdwerff/deskchat/internal/metrics"
	"github.com/avdwerff/deskchat/internal/models"
	"github.com/avdwerff/deskchat/internal/rest"
)

// WelcomeBody is the greeting injected locally on first entry into
// assistant mode. It is never transmitted to the server.
const WelcomeBody = "Hi! I'm the shop assistant. Ask me anything about our products or your orders."

// errorBody is shown when a completion call fails. Failures on this path
// are always surfaced, never swallowed.
const errorBody = "The assistant is unavailable right now. Please try again in a moment."

// historyWindow is how many prior turns accompany each completion request.
const historyWindow = 10

// Completer performs one completion call. *rest.Client satisfies it.
type Completer interface {
	AskAssistant(ctx context.Context, message string, history []rest.ChatTurn) (string, error)
}

// Bridge keeps the assistant-only message list and drives completion
// requests. No request-id correlation exists: replies append in completion
// order. A generation counter discards replies that finish after the
// assistant pane was left.
type Bridge struct {
	completer Completer
	logger    *slog.Logger
	metrics   *metrics.Collector
	ownerID   string

	mu   sync.Mutex
	msgs []models.Message
	gen  int
}

// NewBridge creates an empty bridge for the given user.
func NewBridge(completer Completer, ownerID string, logger *slog.Logger, mc *metrics.Collector) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.NewCollector()
	}
	return &Bridge{
		completer: completer,
		logger:    logger,
		metrics:   mc,
		ownerID:   ownerID,
	}
}

// EnsureWelcome injects the local welcome notice when the list is empty.
// Exactly one notice ever exists; re-entering assistant mode with history
// present does nothing.
func (b *Bridge) EnsureWelcome() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.msgs) > 0 {
		return
	}
	b.msgs = append(b.msgs, models.Message{
		ID:              uuid.NewString(),
		Sender:          models.SenderSystem,
		Body:            WelcomeBody,
		CreatedAt:       time.Now(),
		OwnerUserID:     b.ownerID,
		IsWelcomeNotice: true,
	})
}

// Ask appends an optimistic local user message, performs the completion
// call with the last turns as history, and appends the reply. On failure a
// system error message is appended instead. Callers run Ask from their own
// goroutine; the list lock is only held around mutations.
func (b *Bridge) Ask(ctx context.Context, text string) {
	b.mu.Lock()
	gen := b.gen
	history := b.historyLocked()
	b.msgs = append(b.msgs, models.Message{
		ID:          uuid.NewString(),
		Sender:      models.SenderUser,
		Body:        text,
		CreatedAt:   time.Now(),
		OwnerUserID: b.ownerID,
	})
	b.mu.Unlock()

	start := time.Now()
	reply, err := b.completer.AskAssistant(ctx, text, history)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		// Assistant mode was left while the request was in flight; the
		// reply has no pane to land in.
		b.logger.Debug("late assistant reply discarded")
		return
	}

	if err != nil {
		b.metrics.RecordFailure(metrics.OpAssistantAsk)
		b.logger.Warn("assistant completion failed", "error", err)
		b.msgs = append(b.msgs, models.Message{
			ID:          uuid.NewString(),
			Sender:      models.SenderSystem,
			Body:        errorBody,
			CreatedAt:   time.Now(),
			OwnerUserID: b.ownerID,
		})
		return
	}

	b.metrics.RecordTiming(metrics.OpAssistantAsk, time.Since(start))
	b.msgs = append(b.msgs, models.Message{
		ID:          uuid.NewString(),
		Sender:      models.SenderAssistant,
		Body:        reply,
		CreatedAt:   time.Now(),
		OwnerUserID: b.ownerID,
	})
}

// historyLocked returns the last turns as completion history, oldest
// first. Welcome notices and error notices are skipped; the endpoint only
// understands user and assistant turns.
func (b *Bridge) historyLocked() []rest.ChatTurn {
	turns := make([]rest.ChatTurn, 0, historyWindow)
	for _, m := range b.msgs {
		var role string
		switch m.Sender {
		case models.SenderUser:
			role = "user"
		case models.SenderAssistant:
			role = "assistant"
		default:
			continue
		}
		turns = append(turns, rest.ChatTurn{Role: role, Content: m.Body})
	}
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	return turns
}

// Invalidate discards any in-flight completion's pending append. Called on
// assistant-mode exit and on disconnect.
func (b *Bridge) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
}

// Reset clears the list, e.g. on logout.
func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.msgs = nil
}

// Messages returns a copy of the assistant-only list.
func (b *Bridge) Messages() []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}
