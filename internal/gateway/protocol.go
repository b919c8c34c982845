// Package gateway exposes the running session to a local presentation
// layer over WebSocket: full state snapshots flow out, user actions flow
// in. The gateway holds no session state of its own; every action is
// delegated to the session and every snapshot is read back from it.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/collabsync/session/internal/protocol"
)

// Client -> gateway message types.
const (
	TypeSendMessage      = "send_message"
	TypeDeleteMessage    = "delete_message"
	TypeTyping           = "typing"
	TypeStopTyping       = "stop_typing"
	TypeIncrementCounter = "increment_counter"
	TypeDecrementCounter = "decrement_counter"
	TypeResetCounter     = "reset_counter"
	TypePing             = "ping"
)

// Gateway -> client message types.
const (
	TypeSnapshot = "snapshot"
	TypePong     = "pong"
	TypeError    = "error"
)

// ClientMsg is a parsed client action. Only the fields relevant to the
// given Type are populated.
type ClientMsg struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	ExpirationMs int64  `json:"expirationMs,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
}

// SnapshotMsg carries the full derived session state to a UI client.
type SnapshotMsg struct {
	Type     string                 `json:"type"`
	Self     protocol.Participant   `json:"self"`
	Users    []protocol.Participant `json:"users"`
	Messages []protocol.ChatMessage `json:"messages"`
	Typing   []TypingUser           `json:"typingUsers"`
	Counter  protocol.CounterState  `json:"counter"`
}

// TypingUser is the wire shape of one typing indicator.
type TypingUser struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorMsg reports a rejected action back to the client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ParseClientMessage parses raw WebSocket bytes into a ClientMsg. Unknown
// or gateway-only types are an error.
func ParseClientMessage(data []byte) (ClientMsg, error) {
	var msg ClientMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMsg{}, fmt.Errorf("gateway: failed to parse message: %w", err)
	}

	switch msg.Type {
	case TypeSendMessage:
		if msg.Text == "" {
			return ClientMsg{}, fmt.Errorf("gateway: send_message missing text")
		}
	case TypeDeleteMessage:
		if msg.MessageID == "" {
			return ClientMsg{}, fmt.Errorf("gateway: delete_message missing messageId")
		}
	case TypeTyping, TypeStopTyping, TypeIncrementCounter, TypeDecrementCounter, TypeResetCounter, TypePing:
	case "":
		return ClientMsg{}, fmt.Errorf("gateway: missing or empty \"type\" field")
	default:
		return ClientMsg{}, fmt.Errorf("gateway: unknown client message type: %q", msg.Type)
	}
	return msg, nil
}

// newSnapshot assembles a SnapshotMsg from the session's current state.
func newSnapshot(s SessionView) SnapshotMsg {
	indicators := s.TypingSnapshot()
	typing := make([]TypingUser, len(indicators))
	for i, ti := range indicators {
		typing[i] = TypingUser{UserID: ti.UserID, UserName: ti.UserName, Timestamp: ti.LastSignalAt}
	}

	return SnapshotMsg{
		Type:     TypeSnapshot,
		Self:     s.Self(),
		Users:    s.Roster(),
		Messages: s.OrderedLog(),
		Typing:   typing,
		Counter:  s.CounterState(),
	}
}
