package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/avdwerff/deskchat/internal/models"
	"github.com/avdwerff/deskchat/internal/protocol"
)

var (
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deskchat_ws_connections",
		Help: "Currently open realtime connections.",
	})
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskchat_messages_total",
		Help: "Messages stored, by sender role.",
	}, []string{"sender"})
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The reference backend serves first-party clients only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// identity is the authenticated principal behind one socket or request.
type identity struct {
	id    string
	admin bool
}

// parseIdentity decodes the dev bearer token, "user:<id>" or "admin:<id>".
func parseIdentity(token string) (identity, error) {
	role, id, ok := strings.Cut(token, ":")
	if !ok || id == "" {
		return identity{}, fmt.Errorf("malformed token")
	}
	switch role {
	case "user":
		return identity{id: id}, nil
	case "admin":
		return identity{id: id, admin: true}, nil
	default:
		return identity{}, fmt.Errorf("unknown role %q", role)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return t
	}
	// browser WebSocket clients cannot set headers
	return r.URL.Query().Get("token")
}

// handleWS upgrades the realtime connection and runs its read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	who, err := parseIdentity(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws: upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn}

	if who.admin {
		s.hub.AddAdmin(client)
	} else {
		s.hub.AddUser(who.id, client)
	}
	wsConnections.Inc()
	defer func() {
		s.hub.Remove(client)
		wsConnections.Dec()
		_ = conn.Close()
	}()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			s.logger.Info("ws: connection closed", "admin", who.admin, "error", err)
			return
		}
		s.dispatch(r.Context(), who, env)
	}
}

func (s *Server) dispatch(ctx context.Context, who identity, env protocol.Envelope) {
	start := time.Now()
	var err error

	switch env.Type {
	case protocol.EventMessageSend:
		err = s.onMessageSend(ctx, who, env)
	case protocol.EventTyping:
		err = s.onTyping(who, env)
	case protocol.EventMarkReadUser:
		if !who.admin {
			err = s.store.MarkReadByUser(ctx, who.id)
		}
	case protocol.EventMarkReadAdmin:
		err = s.onMarkReadAdmin(ctx, who, env)
	case protocol.EventThreadClose:
		err = s.onThreadClose(ctx, who, env)
	case protocol.EventThreadDelete:
		err = s.onThreadDelete(ctx, who, env)
	default:
		s.logger.Warn("ws: unknown event", "type", env.Type)
		return
	}

	if err != nil {
		s.logger.Error("ws: event failed", "type", env.Type, "admin", who.admin, "error", err)
		return
	}
	s.logger.Debug("ws: event handled", "type", env.Type, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Server) onMessageSend(ctx context.Context, who identity, env protocol.Envelope) error {
	var p protocol.MessageSend
	if err := protocol.Decode(env, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("empty message body")
	}

	owner := who.id
	sender := models.SenderUser
	if who.admin {
		if p.TargetUserID == "" {
			return fmt.Errorf("operator send without target thread")
		}
		owner = p.TargetUserID
		sender = models.SenderAdmin
	}

	msg, err := s.store.AppendMessage(ctx, owner, sender, p.Text)
	if err != nil {
		return err
	}
	messagesTotal.WithLabelValues(sender.String()).Inc()

	s.broadcastMessage(msg)
	return nil
}

// broadcastMessage fans a stored message out to the thread owner and every
// operator console.
func (s *Server) broadcastMessage(msg models.Message) {
	payload := protocol.MessageNew{Message: msg}
	s.hub.ToUser(msg.OwnerUserID, protocol.EventMessageNew, payload)
	s.hub.ToAdmins(protocol.EventMessageNew, payload)
}

func (s *Server) onTyping(who identity, env protocol.Envelope) error {
	var p protocol.Typing
	if err := protocol.Decode(env, &p); err != nil {
		return err
	}

	signal := protocol.TypingSignal{TS: time.Now()}
	if who.admin {
		if p.UserID == "" {
			return fmt.Errorf("operator typing without target thread")
		}
		// operator signals carry no user id; clients map them to the
		// operator peer
		s.hub.ToUser(p.UserID, protocol.EventTypingSignal, signal)
		return nil
	}
	signal.User = who.id
	s.hub.ToAdmins(protocol.EventTypingSignal, signal)
	return nil
}

func (s *Server) onMarkReadAdmin(ctx context.Context, who identity, env protocol.Envelope) error {
	if !who.admin {
		return fmt.Errorf("operator-only event")
	}
	var p protocol.MarkReadAdmin
	if err := protocol.Decode(env, &p); err != nil {
		return err
	}
	return s.store.MarkReadByAdmin(ctx, p.UserID)
}

func (s *Server) onThreadClose(ctx context.Context, who identity, env protocol.Envelope) error {
	if !who.admin {
		return fmt.Errorf("operator-only event")
	}
	var p protocol.ThreadClose
	if err := protocol.Decode(env, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return fmt.Errorf("thread close without target thread")
	}
	if err := s.store.CloseThread(ctx, p.UserID); err != nil {
		return err
	}

	// the closure notice is a regular system message in the thread
	msg, err := s.store.AppendMessage(ctx, p.UserID, models.SenderSystem, closureNotice)
	if err != nil {
		return err
	}
	messagesTotal.WithLabelValues(models.SenderSystem.String()).Inc()
	s.broadcastMessage(msg)
	return nil
}

func (s *Server) onThreadDelete(ctx context.Context, who identity, env protocol.Envelope) error {
	if !who.admin {
		return fmt.Errorf("operator-only event")
	}
	var p protocol.ThreadDelete
	if err := protocol.Decode(env, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return fmt.Errorf("thread delete without target thread")
	}
	if err := s.store.DeleteThread(ctx, p.UserID); err != nil {
		return err
	}

	deleted := protocol.ThreadDeleted{User: p.UserID}
	s.hub.ToUser(p.UserID, protocol.EventThreadDeleted, deleted)
	s.hub.ToAdmins(protocol.EventThreadDeleted, deleted)
	return nil
}

// closureNotice is appended to a thread when an operator closes it.
const closureNotice = "This conversation has been closed by our support team. Send a new message to start a new one."
