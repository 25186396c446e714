// Package models defines data structures shared by the deskchat client and server.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sender identifies who authored a message. The set is closed: every
// consumer (view filters, unread scoring, rendering) must handle all four.
type Sender int

const (
	SenderUser Sender = iota
	SenderAdmin
	SenderSystem
	SenderAssistant
)

var senderNames = map[Sender]string{
	SenderUser:      "user",
	SenderAdmin:     "admin",
	SenderSystem:    "system",
	SenderAssistant: "assistant",
}

// String returns the wire name of the sender.
func (s Sender) String() string {
	if name, ok := senderNames[s]; ok {
		return name
	}
	return fmt.Sprintf("sender(%d)", int(s))
}

// ParseSender converts a wire name into a Sender.
func ParseSender(s string) (Sender, error) {
	for sender, name := range senderNames {
		if name == s {
			return sender, nil
		}
	}
	return 0, fmt.Errorf("unknown sender %q", s)
}

// MarshalJSON encodes the sender as its wire name.
func (s Sender) MarshalJSON() ([]byte, error) {
	name, ok := senderNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot marshal unknown sender %d", int(s))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a wire name, rejecting anything outside the closed set.
func (s *Sender) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSender(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Message is a single chat message. IDs and CreatedAt are server-assigned;
// CreatedAt is non-decreasing within a thread.
type Message struct {
	ID              string    `json:"id"`
	Sender          Sender    `json:"sender"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"createdAt"`
	ReadByUser      bool      `json:"readByUser"`
	ReadByAdmin     bool      `json:"readByAdmin"`
	OwnerUserID     string    `json:"ownerUserId"`
	IsWelcomeNotice bool      `json:"isWelcomeNotice,omitempty"`
}

// Thread is the operator-facing aggregate view over one user's messages.
// It is preview metadata only, never a substitute for the message log.
type Thread struct {
	OwnerUserID    string    `json:"ownerUserId"`
	LastMessage    string    `json:"lastMessage"`
	LastSender     Sender    `json:"lastSender"`
	LastActivity   time.Time `json:"lastActivity"`
	UnreadForAdmin int       `json:"unreadForAdmin"`
	UnreadForUser  int       `json:"unreadForUser"`
}

// ConnState is the connection lifecycle state of the realtime channel.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

// String returns a readable name for logging.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("connstate(%d)", int(s))
	}
}
