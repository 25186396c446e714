// Package realtime owns the lifecycle of the bidirectional chat channel.
// The connection handle is constructed explicitly and injected; nothing in
// this package is ambient or global.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avdwerff/deskchat/internal/models"
	"github.com/avdwerff/deskchat/internal/protocol"
)

// ErrNotConnected is returned by Send while the channel is down. Callers
// treat it as a no-op signal: nothing is queued or retried.
var ErrNotConnected = errors.New("realtime: not connected")

// ErrNoIdentity is returned by Connect when no authenticated identity is
// available yet.
var ErrNoIdentity = errors.New("realtime: no authenticated identity")

const handshakeTimeout = 10 * time.Second

// Transport is a bidirectional envelope stream. The production transport is
// a gorilla WebSocket; tests inject an in-memory fake.
type Transport interface {
	ReadEnvelope() (protocol.Envelope, error)
	WriteEnvelope(protocol.Envelope) error
	Close() error
}

// Dialer opens a Transport to the realtime endpoint, authenticating with
// the bearer token.
type Dialer func(ctx context.Context, url, token string) (Transport, error)

// Handler receives one inbound envelope. Handlers for a connection are
// invoked serially, in arrival order, from a single reader goroutine.
type Handler func(protocol.Envelope)

// wsTransport adapts a gorilla connection to the Transport interface.
type wsTransport struct {
	conn *websocket.Conn

	// gorilla allows one concurrent writer only
	writeMu sync.Mutex
}

func (t *wsTransport) ReadEnvelope() (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := t.conn.ReadJSON(&env); err != nil {
		return protocol.Envelope{}, err
	}
	return env, nil
}

func (t *wsTransport) WriteEnvelope(env protocol.Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(env)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// DialWebSocket opens the production WebSocket transport.
func DialWebSocket(ctx context.Context, url, token string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

// Manager drives the channel through Disconnected -> Connecting -> Connected
// and back. There is no automatic reconnect: an authentication change is the
// only trigger for a fresh connect/disconnect cycle.
type Manager struct {
	url    string
	dial   Dialer
	logger *slog.Logger

	mu        sync.Mutex
	state     models.ConnState
	transport Transport
	gen       int
	handlers  map[string][]Handler
	stateSubs []func(models.ConnState)
}

// NewManager creates a disconnected manager. Register all inbound handlers
// with On before calling Connect, or events raised immediately after the
// handshake are lost.
func NewManager(url string, dial Dialer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		url:      url,
		dial:     dial,
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
}

// On registers a handler for an inbound event type.
func (m *Manager) On(eventType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.Disconnected {
		m.logger.Warn("handler registered on live channel, events may have been missed", "event", eventType)
	}
	m.handlers[eventType] = append(m.handlers[eventType], h)
}

// OnStateChange registers a connectivity observer.
func (m *Manager) OnStateChange(f func(models.ConnState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateSubs = append(m.stateSubs, f)
}

// State reports the current connection state.
func (m *Manager) State() models.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect dials the realtime endpoint. It requires an authenticated
// identity token and is a no-op if the channel is already up or coming up.
func (m *Manager) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoIdentity
	}

	m.mu.Lock()
	if m.state != models.Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(models.Connecting)
	gen := m.gen
	m.mu.Unlock()

	transport, err := m.dial(ctx, m.url, token)

	m.mu.Lock()
	if m.gen != gen || m.state != models.Connecting {
		// Disconnect raced the dial; discard the late transport.
		m.mu.Unlock()
		if transport != nil {
			_ = transport.Close()
		}
		return nil
	}
	if err != nil {
		m.setStateLocked(models.Disconnected)
		m.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}
	m.transport = transport
	m.setStateLocked(models.Connected)
	m.mu.Unlock()

	go m.readLoop(transport, gen)
	return nil
}

// Disconnect tears the channel down. Invoked on logout or loss of
// authentication; safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	transport := m.transport
	m.transport = nil
	if m.state != models.Disconnected {
		m.setStateLocked(models.Disconnected)
	}
	m.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
}

// Send emits an outbound event. Returns ErrNotConnected while the channel
// is down; nothing is queued.
func (m *Manager) Send(eventType string, payload any) error {
	m.mu.Lock()
	transport := m.transport
	connected := m.state == models.Connected
	m.mu.Unlock()

	if !connected || transport == nil {
		return ErrNotConnected
	}

	env, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}
	if err := transport.WriteEnvelope(env); err != nil {
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}

// readLoop reads inbound envelopes until the transport drops, dispatching
// handlers serially. A stale generation means Disconnect already ran.
func (m *Manager) readLoop(transport Transport, gen int) {
	for {
		env, err := transport.ReadEnvelope()
		if err != nil {
			m.mu.Lock()
			stale := m.gen != gen
			if !stale {
				m.transport = nil
				m.setStateLocked(models.Disconnected)
			}
			m.mu.Unlock()
			if !stale {
				m.logger.Info("channel dropped", "error", err)
			}
			return
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		handlers := m.handlers[env.Type]
		m.mu.Unlock()

		if len(handlers) == 0 {
			m.logger.Debug("unhandled event", "type", env.Type)
			continue
		}
		for _, h := range handlers {
			h(env)
		}
	}
}

// setStateLocked updates state and notifies observers. Caller holds mu;
// observers are invoked without the lock released, so they must not call
// back into the manager.
func (m *Manager) setStateLocked(s models.ConnState) {
	if m.state == s {
		return
	}
	m.state = s
	m.logger.Debug("connection state", "state", s.String())
	for _, f := range m.stateSubs {
		f(s)
	}
}
