// Package realtimetest provides an in-memory Transport for exercising the
// chat subsystem without a real WebSocket.
package realtimetest

import (
	"context"
	"errors"
	"sync"

	"github.com/avdwerff/deskchat/internal/protocol"
	"github.com/avdwerff/deskchat/internal/realtime"
)

// ErrClosed is returned from reads and writes after Close.
var ErrClosed = errors.New("realtimetest: transport closed")

// Transport is an in-memory realtime.Transport. Inbound events are pushed
// with Push; outbound envelopes are recorded and retrievable with Sent.
type Transport struct {
	inbound chan protocol.Envelope

	mu     sync.Mutex
	sent   []protocol.Envelope
	closed bool
	done   chan struct{}
}

// New creates an open fake transport.
func New() *Transport {
	return &Transport{
		inbound: make(chan protocol.Envelope, 64),
		done:    make(chan struct{}),
	}
}

// Dialer returns a realtime.Dialer handing out this transport.
func (t *Transport) Dialer() realtime.Dialer {
	return func(ctx context.Context, url, token string) (realtime.Transport, error) {
		return t, nil
	}
}

// Push delivers an inbound envelope to the reader.
func (t *Transport) Push(env protocol.Envelope) {
	t.inbound <- env
}

// PushEvent encodes and delivers an inbound event, panicking on a payload
// that cannot marshal (a test bug, not a runtime condition).
func (t *Transport) PushEvent(eventType string, payload any) {
	env, err := protocol.Encode(eventType, payload)
	if err != nil {
		panic(err)
	}
	t.Push(env)
}

// Sent returns a copy of every envelope written so far.
func (t *Transport) Sent() []protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentTypes returns the event types written, in order.
func (t *Transport) SentTypes() []string {
	sent := t.Sent()
	types := make([]string, len(sent))
	for i, env := range sent {
		types[i] = env.Type
	}
	return types
}

func (t *Transport) ReadEnvelope() (protocol.Envelope, error) {
	select {
	case env := <-t.inbound:
		return env, nil
	case <-t.done:
		return protocol.Envelope{}, ErrClosed
	}
}

func (t *Transport) WriteEnvelope(env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.sent = append(t.sent, env)
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}
