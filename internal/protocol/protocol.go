// Package protocol defines the broadcast payloads exchanged between peers on
// the users, chat, and counter channels, plus the shared record types they
// carry. All payloads are JSON with a type discriminator and an embedded
// epoch-millisecond timestamp; field names are the wire contract and must
// not change. Inbound payloads are untrusted: every Parse helper validates
// the fields required for the claimed type and returns an error for
// malformed events so callers can drop them silently.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Presence event types.
const (
	TypeJoin      = "join"
	TypeHeartbeat = "heartbeat"
	TypeInactive  = "inactive"
)

// Chat event types.
const (
	TypeMessage         = "message"
	TypeRequestHistory  = "request_history"
	TypeHistoryResponse = "history_response"
	TypeTypingStart     = "typing_start"
	TypeTypingStop      = "typing_stop"
	TypeDeleteMessage   = "delete_message"
)

// Counter event types.
const (
	TypeCounterAction       = "counter_action"
	TypeCounterSync         = "counter_sync"
	TypeRequestCounterState = "request_counter_state"
)

// Counter actions.
const (
	ActionIncrement = "increment"
	ActionDecrement = "decrement"
	ActionReset     = "reset"
)

// Participant is one known peer of the session. LastActivity is refreshed by
// heartbeats; Active is derived liveness, never user-set. Records are never
// deleted, only marked inactive, so history referencing a departed peer
// stays renderable.
type Participant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LastActivity int64  `json:"lastActivity"`
	Active       bool   `json:"active"`
}

// ChatMessage is one entry of the shared chat log. Immutable except for the
// Deleted flag, which only ever goes false -> true. ExpiresAt of zero means
// the message never expires.
type ChatMessage struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Deleted   bool   `json:"isDeleted,omitempty"`
}

// Expired reports whether the message's expiry has elapsed at now.
func (m ChatMessage) Expired(now int64) bool {
	return m.ExpiresAt != 0 && m.ExpiresAt <= now
}

// CounterState is the shared counter singleton. LastActionTimestamp is nil
// until the first action anywhere in the session; it drives the late-join
// sync merge.
type CounterState struct {
	Value               int64  `json:"value"`
	LastAction          string `json:"lastAction,omitempty"`
	LastActionUserID    string `json:"lastActionUserId,omitempty"`
	LastActionUserName  string `json:"lastActionUserName,omitempty"`
	LastActionTimestamp *int64 `json:"lastActionTimestamp"`
}

// PresenceEvent is the payload on the users channel.
type PresenceEvent struct {
	Type          string        `json:"type"`
	User          *Participant  `json:"user,omitempty"`
	InactiveUsers []Participant `json:"inactiveUsers,omitempty"`
	Timestamp     int64         `json:"timestamp"`
}

// ChatEvent is the payload on the chat channel. Which optional fields are
// required depends on Type.
type ChatEvent struct {
	Type             string        `json:"type"`
	Message          *ChatMessage  `json:"message,omitempty"`
	Messages         []ChatMessage `json:"messages,omitempty"`
	RequestingUserID string        `json:"requestingUserId,omitempty"`
	TargetUserID     string        `json:"targetUserId,omitempty"`
	UserID           string        `json:"userId,omitempty"`
	UserName         string        `json:"userName,omitempty"`
	MessageID        string        `json:"messageId,omitempty"`
	Timestamp        int64         `json:"timestamp"`
}

// CounterEvent is the payload on the counter channel. NewValue is a pointer
// so that a legitimate value of zero survives the required-field check.
type CounterEvent struct {
	Type             string        `json:"type"`
	Action           string        `json:"action,omitempty"`
	NewValue         *int64        `json:"newValue,omitempty"`
	UserID           string        `json:"userId,omitempty"`
	UserName         string        `json:"userName,omitempty"`
	CounterState     *CounterState `json:"counterState,omitempty"`
	RequestingUserID string        `json:"requestingUserId,omitempty"`
	Timestamp        int64         `json:"timestamp"`
}

// ParsePresenceEvent decodes and validates a users-channel payload.
func ParsePresenceEvent(data []byte) (*PresenceEvent, error) {
	var ev PresenceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("protocol: decode presence event: %w", err)
	}
	if ev.Timestamp == 0 {
		return nil, fmt.Errorf("protocol: presence event missing timestamp")
	}

	switch ev.Type {
	case TypeJoin, TypeHeartbeat:
		if ev.User == nil || ev.User.ID == "" {
			return nil, fmt.Errorf("protocol: %s event missing user", ev.Type)
		}
	case TypeInactive:
		if len(ev.InactiveUsers) == 0 {
			return nil, fmt.Errorf("protocol: inactive event missing inactiveUsers")
		}
	default:
		return nil, fmt.Errorf("protocol: unknown presence event type %q", ev.Type)
	}
	return &ev, nil
}

// ParseChatEvent decodes and validates a chat-channel payload.
func ParseChatEvent(data []byte) (*ChatEvent, error) {
	var ev ChatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("protocol: decode chat event: %w", err)
	}
	if ev.Timestamp == 0 {
		return nil, fmt.Errorf("protocol: chat event missing timestamp")
	}

	switch ev.Type {
	case TypeMessage:
		if ev.Message == nil || ev.Message.ID == "" {
			return nil, fmt.Errorf("protocol: message event missing message")
		}
	case TypeRequestHistory:
		if ev.RequestingUserID == "" {
			return nil, fmt.Errorf("protocol: request_history event missing requestingUserId")
		}
	case TypeHistoryResponse:
		if ev.TargetUserID == "" {
			return nil, fmt.Errorf("protocol: history_response event missing targetUserId")
		}
	case TypeTypingStart:
		if ev.UserID == "" || ev.UserName == "" {
			return nil, fmt.Errorf("protocol: typing_start event missing user identity")
		}
	case TypeTypingStop:
		if ev.UserID == "" {
			return nil, fmt.Errorf("protocol: typing_stop event missing userId")
		}
	case TypeDeleteMessage:
		if ev.MessageID == "" || ev.UserID == "" {
			return nil, fmt.Errorf("protocol: delete_message event missing messageId or userId")
		}
	default:
		return nil, fmt.Errorf("protocol: unknown chat event type %q", ev.Type)
	}
	return &ev, nil
}

// ParseCounterEvent decodes and validates a counter-channel payload.
func ParseCounterEvent(data []byte) (*CounterEvent, error) {
	var ev CounterEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("protocol: decode counter event: %w", err)
	}
	if ev.Timestamp == 0 {
		return nil, fmt.Errorf("protocol: counter event missing timestamp")
	}

	switch ev.Type {
	case TypeCounterAction:
		if ev.NewValue == nil || ev.Action == "" || ev.UserID == "" || ev.UserName == "" {
			return nil, fmt.Errorf("protocol: counter_action event missing fields")
		}
	case TypeCounterSync:
		if ev.CounterState == nil {
			return nil, fmt.Errorf("protocol: counter_sync event missing counterState")
		}
	case TypeRequestCounterState:
		if ev.RequestingUserID == "" {
			return nil, fmt.Errorf("protocol: request_counter_state event missing requestingUserId")
		}
	default:
		return nil, fmt.Errorf("protocol: unknown counter event type %q", ev.Type)
	}
	return &ev, nil
}
