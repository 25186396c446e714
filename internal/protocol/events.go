// Package protocol defines the JSON wire contract between the chat client
// and the realtime backend: a typed envelope plus one payload struct per
// event. The set of event names is fixed; unknown events are ignored by
// receivers rather than treated as errors.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/avdwerff/deskchat/internal/models"
)

// Outbound event types (client -> server).
const (
	EventMessageSend   = "message.send"
	EventTyping        = "typing"
	EventMarkReadUser  = "thread.markReadUser"
	EventMarkReadAdmin = "thread.markReadAdmin"
	EventThreadClose   = "thread.close"
	EventThreadDelete  = "thread.delete"
)

// Inbound event types (server -> client).
const (
	EventMessageNew     = "message.new"
	EventPresenceUpdate = "presence.update"
	EventTypingSignal   = "typing.signal"
	EventThreadDeleted  = "thread.deleted"
)

// Envelope wraps every event on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageSend asks the server to append a message. TargetUserID is set only
// by operators addressing a specific user's thread.
type MessageSend struct {
	Text         string `json:"text"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

// Typing signals that the sender is composing. UserID is set only by
// operators, naming the thread they are typing into.
type Typing struct {
	UserID string `json:"userId,omitempty"`
}

// MarkReadAdmin marks a user's thread as read by the operator side.
type MarkReadAdmin struct {
	UserID string `json:"userId"`
}

// ThreadClose asks the server to close a user's thread.
type ThreadClose struct {
	UserID string `json:"userId"`
}

// ThreadDelete asks the server to purge a user's thread.
type ThreadDelete struct {
	UserID string `json:"userId"`
}

// MessageNew carries an authoritative server-created message.
type MessageNew struct {
	Message models.Message `json:"message"`
}

// PresenceUpdate reports who is currently connected.
type PresenceUpdate struct {
	OnlineUsers  []string `json:"onlineUsers"`
	OnlineAdmins bool     `json:"onlineAdmins"`
}

// TypingSignal reports that a peer is composing. User is empty when the
// signal comes from the operator side.
type TypingSignal struct {
	User string    `json:"user,omitempty"`
	TS   time.Time `json:"ts"`
}

// ThreadDeleted announces that a user's thread was purged.
type ThreadDeleted struct {
	User string `json:"user"`
}

// Encode wraps a payload in an envelope ready for the wire.
func Encode(eventType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: eventType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// Decode unmarshals an envelope payload into the given struct.
func Decode(env Envelope, payload any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}
