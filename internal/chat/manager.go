// Package chat maintains the shared chat log: an ordered, deduplicated,
// expiry-aware sequence of messages reconstructed from unordered broadcast
// events, plus the ephemeral typing indicators of other peers. Late joiners
// recover history through a request/response exchange with any peer that
// holds messages. The log is bounded to the most recent messages so memory
// stays flat under sustained traffic.
package chat

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/collabsync/session/internal/identity"
	"github.com/collabsync/session/internal/metrics"
	"github.com/collabsync/session/internal/protocol"
)

// Config holds chat tuning parameters.
type Config struct {
	StaleThreshold time.Duration // discard message/delete events older than this
	LogCap         int           // most recent messages retained
	TypingTimeout  time.Duration // indicator lifetime without a fresh signal
	TypingDebounce time.Duration // silence after a keystroke before auto-stop
}

// DefaultConfig returns the standard chat thresholds.
func DefaultConfig() Config {
	return Config{
		StaleThreshold: 60 * time.Second,
		LogCap:         100,
		TypingTimeout:  3 * time.Second,
		TypingDebounce: 2 * time.Second,
	}
}

// TypingIndicator marks one peer as currently typing.
type TypingIndicator struct {
	UserID       string
	UserName     string
	LastSignalAt int64
}

// Manager owns the local chat log and typing indicators. Local sends go
// through the exact same merge path as inbound message events, so sender
// and receivers converge on identical derived state.
type Manager struct {
	cfg      Config
	selfID   string
	selfName string
	send     func(protocol.ChatEvent)
	now      func() int64

	mu       sync.Mutex
	messages []protocol.ChatMessage
	typing   []TypingIndicator

	isTyping    bool
	typingTimer *time.Timer
}

// NewManager creates a Manager for the given local identity. The send
// callback broadcasts an event to all other peers, fire-and-forget.
func NewManager(selfID, selfName string, send func(protocol.ChatEvent), cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		selfID:   selfID,
		selfName: selfName,
		send:     send,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// RequestHistory broadcasts a history request. Any peer holding messages
// answers with a history_response addressed to us; responses merge by
// id-union, so several answers are harmless.
func (m *Manager) RequestHistory() {
	m.send(protocol.ChatEvent{
		Type:             protocol.TypeRequestHistory,
		RequestingUserID: m.selfID,
		Timestamp:        m.now(),
	})
}

// Observe applies one inbound chat event to local state.
func (m *Manager) Observe(ev *protocol.ChatEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stale := now-ev.Timestamp > m.cfg.StaleThreshold.Milliseconds()

	switch ev.Type {
	case protocol.TypeMessage:
		if stale {
			metrics.EventsDropped.WithLabelValues("chat", "stale").Inc()
			return
		}
		m.applyMessage(*ev.Message, now)

	case protocol.TypeTypingStart:
		if ev.UserID == m.selfID {
			return
		}
		m.upsertTyping(ev.UserID, ev.UserName, ev.Timestamp)

	case protocol.TypeTypingStop:
		if ev.UserID == m.selfID {
			return
		}
		m.removeTyping(ev.UserID)

	case protocol.TypeRequestHistory:
		if ev.RequestingUserID == m.selfID {
			return
		}
		history := m.filterExpired(m.messages, now)
		if len(history) == 0 {
			return
		}
		m.send(protocol.ChatEvent{
			Type:         protocol.TypeHistoryResponse,
			Messages:     history,
			TargetUserID: ev.RequestingUserID,
			Timestamp:    now,
		})
		log.Printf("[chat] sent %d message(s) of history to %s", len(history), ev.RequestingUserID)

	case protocol.TypeHistoryResponse:
		if ev.TargetUserID != m.selfID {
			return
		}
		m.mergeHistory(ev.Messages, now)
		log.Printf("[chat] merged history response, log size=%d", len(m.messages))

	case protocol.TypeDeleteMessage:
		if stale {
			metrics.EventsDropped.WithLabelValues("chat", "stale").Inc()
			return
		}
		m.applyDelete(ev.MessageID, ev.UserID, now)
	}
	m.updateGauges()
}

// Send constructs a message from the local identity, applies it locally via
// the shared merge path, and broadcasts it. A zero expiration means the
// message never expires. Sending implicitly stops the local typing
// indicator.
func (m *Manager) Send(text string, expiration time.Duration) (protocol.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if err := ValidateText(text); err != nil {
		return protocol.ChatMessage{}, err
	}

	m.StopTyping()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	msg := protocol.ChatMessage{
		ID:        identity.NewMessageID(),
		UserID:    m.selfID,
		UserName:  m.selfName,
		Text:      text,
		Timestamp: now,
	}
	if expiration > 0 {
		msg.ExpiresAt = now + expiration.Milliseconds()
	}

	m.applyMessage(msg, now)
	m.updateGauges()

	m.send(protocol.ChatEvent{
		Type:      protocol.TypeMessage,
		Message:   &msg,
		UserID:    m.selfID,
		Timestamp: now,
	})
	return msg, nil
}

// Delete soft-deletes a message authored by the local participant and
// broadcasts the deletion. Targeting someone else's message, or an unknown
// id, changes nothing locally; the broadcast is still sent and every
// receiver applies the same author check.
func (m *Manager) Delete(messageID string) {
	m.mu.Lock()
	now := m.now()
	m.applyDelete(messageID, m.selfID, now)
	m.updateGauges()
	m.mu.Unlock()

	m.send(protocol.ChatEvent{
		Type:      protocol.TypeDeleteMessage,
		MessageID: messageID,
		UserID:    m.selfID,
		Timestamp: now,
	})
}

// HandleTyping registers one keystroke-equivalent signal: it starts the
// typing indicator if not already live and pushes the auto-stop deadline
// out by the debounce window.
func (m *Manager) HandleTyping() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isTyping {
		m.isTyping = true
		m.send(protocol.ChatEvent{
			Type:      protocol.TypeTypingStart,
			UserID:    m.selfID,
			UserName:  m.selfName,
			Timestamp: m.now(),
		})
	}

	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.typingTimer = time.AfterFunc(m.cfg.TypingDebounce, m.StopTyping)
}

// StopTyping broadcasts a typing_stop if the local indicator is live.
func (m *Manager) StopTyping() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isTyping {
		return
	}
	m.isTyping = false
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.send(protocol.ChatEvent{
		Type:      protocol.TypeTypingStop,
		UserID:    m.selfID,
		UserName:  m.selfName,
		Timestamp: m.now(),
	})
}

// TickCleanup purges expired messages so they disappear even with no new
// traffic.
func (m *Manager) TickCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = m.filterExpired(m.messages, m.now())
	m.updateGauges()
}

// SweepTyping discards typing indicators that have not been refreshed
// within the typing timeout.
func (m *Manager) SweepTyping() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := m.typing[:0]
	for _, ti := range m.typing {
		if now-ti.LastSignalAt < m.cfg.TypingTimeout.Milliseconds() {
			kept = append(kept, ti)
		}
	}
	m.typing = kept
	m.updateGauges()
}

// OrderedLog returns the non-expired messages, capped and sorted ascending
// by creation time. Soft-deleted messages are included with their flag set.
func (m *Manager) OrderedLog() []protocol.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.filterExpired(m.messages, m.now())
	out := make([]protocol.ChatMessage, len(live))
	copy(out, live)
	return out
}

// TypingSnapshot returns the live typing indicators in first-signal order.
func (m *Manager) TypingSnapshot() []TypingIndicator {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TypingIndicator, len(m.typing))
	copy(out, m.typing)
	return out
}

// applyMessage is the single merge path for both inbound events and local
// sends: expire, dedup by id, append, cap, sort. Callers hold the lock.
func (m *Manager) applyMessage(msg protocol.ChatMessage, now int64) {
	cleaned := m.filterExpired(m.messages, now)

	for _, existing := range cleaned {
		if existing.ID == msg.ID {
			metrics.EventsDropped.WithLabelValues("chat", "duplicate").Inc()
			m.messages = cleaned
			return
		}
	}
	if msg.Expired(now) {
		m.messages = cleaned
		return
	}

	m.messages = m.capAndSort(append(cleaned, msg))
	m.removeTyping(msg.UserID)
}

// mergeHistory unions incoming messages into the log by id; entries already
// present win ties. Callers hold the lock.
func (m *Manager) mergeHistory(incoming []protocol.ChatMessage, now int64) {
	merged := m.filterExpired(m.messages, now)
	seen := make(map[string]bool, len(merged))
	for _, msg := range merged {
		seen[msg.ID] = true
	}
	for _, msg := range m.filterExpired(incoming, now) {
		if !seen[msg.ID] {
			seen[msg.ID] = true
			merged = append(merged, msg)
		}
	}
	m.messages = m.capAndSort(merged)
}

// applyDelete flips the deleted flag if the claimed author matches the
// stored author. The flag is monotonic: nothing ever clears it. Callers
// hold the lock.
func (m *Manager) applyDelete(messageID, userID string, now int64) {
	m.messages = m.filterExpired(m.messages, now)
	for i := range m.messages {
		if m.messages[i].ID == messageID && m.messages[i].UserID == userID {
			m.messages[i].Deleted = true
			return
		}
	}
}

func (m *Manager) filterExpired(msgs []protocol.ChatMessage, now int64) []protocol.ChatMessage {
	kept := make([]protocol.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		if !msg.Expired(now) {
			kept = append(kept, msg)
		}
	}
	return kept
}

// capAndSort keeps the most recent LogCap messages by insertion order, then
// sorts ascending by creation time.
func (m *Manager) capAndSort(msgs []protocol.ChatMessage) []protocol.ChatMessage {
	if len(msgs) > m.cfg.LogCap {
		msgs = msgs[len(msgs)-m.cfg.LogCap:]
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
	return msgs
}

func (m *Manager) upsertTyping(userID, userName string, signalAt int64) {
	for i := range m.typing {
		if m.typing[i].UserID == userID {
			m.typing[i].LastSignalAt = signalAt
			m.typing[i].UserName = userName
			return
		}
	}
	m.typing = append(m.typing, TypingIndicator{
		UserID:       userID,
		UserName:     userName,
		LastSignalAt: signalAt,
	})
}

func (m *Manager) removeTyping(userID string) {
	for i := range m.typing {
		if m.typing[i].UserID == userID {
			m.typing = append(m.typing[:i], m.typing[i+1:]...)
			return
		}
	}
}

func (m *Manager) updateGauges() {
	metrics.ChatLogSize.Set(float64(len(m.messages)))
	metrics.TypingActive.Set(float64(len(m.typing)))
}
