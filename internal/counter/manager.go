// Package counter maintains the shared session counter. Live actions are
// optimistic: each peer computes the new absolute value from its own local
// view and broadcasts it, and receivers adopt whatever arrives last. Late
// joiners converge through a state request/sync exchange that does compare
// timestamps, so a fresh peer always ends up with the newest known state.
// The two merge policies are intentionally different: unifying them would
// change observable behavior for concurrent live edits.
package counter

import (
	"sync"
	"time"

	"github.com/collabsync/session/internal/metrics"
	"github.com/collabsync/session/internal/protocol"
)

// Config holds counter tuning parameters.
type Config struct {
	StaleThreshold time.Duration // discard inbound events older than this
}

// DefaultConfig returns the standard counter thresholds.
func DefaultConfig() Config {
	return Config{StaleThreshold: 10 * time.Second}
}

// Manager owns the local view of the shared counter.
type Manager struct {
	cfg      Config
	selfID   string
	selfName string
	send     func(protocol.CounterEvent)
	now      func() int64

	mu    sync.Mutex
	state protocol.CounterState
}

// NewManager creates a Manager for the given local identity. The send
// callback broadcasts an event to all other peers, fire-and-forget.
func NewManager(selfID, selfName string, send func(protocol.CounterEvent), cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		selfID:   selfID,
		selfName: selfName,
		send:     send,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// RequestState broadcasts a state request. Any peer that has ever seen an
// action answers with a counter_sync carrying its full state.
func (m *Manager) RequestState() {
	m.send(protocol.CounterEvent{
		Type:             protocol.TypeRequestCounterState,
		RequestingUserID: m.selfID,
		Timestamp:        m.now(),
	})
}

// Observe applies one inbound counter event to local state.
func (m *Manager) Observe(ev *protocol.CounterEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now-ev.Timestamp > m.cfg.StaleThreshold.Milliseconds() {
		metrics.EventsDropped.WithLabelValues("counter", "stale").Inc()
		return
	}

	switch ev.Type {
	case protocol.TypeCounterAction:
		// Last writer wins by arrival order: the event overwrites local
		// state unconditionally, so concurrent actions from two peers
		// collapse to whichever broadcast lands last.
		ts := ev.Timestamp
		m.state = protocol.CounterState{
			Value:               *ev.NewValue,
			LastAction:          ev.Action,
			LastActionUserID:    ev.UserID,
			LastActionUserName:  ev.UserName,
			LastActionTimestamp: &ts,
		}

	case protocol.TypeRequestCounterState:
		if ev.RequestingUserID == m.selfID || m.state.LastActionTimestamp == nil {
			return
		}
		state := m.state
		m.send(protocol.CounterEvent{
			Type:         protocol.TypeCounterSync,
			CounterState: &state,
			Timestamp:    now,
		})

	case protocol.TypeCounterSync:
		// Sync adoption compares timestamps: adopt only if we have never
		// acted, or the incoming state is strictly newer.
		incoming := ev.CounterState
		if m.state.LastActionTimestamp == nil ||
			(incoming.LastActionTimestamp != nil &&
				*incoming.LastActionTimestamp > *m.state.LastActionTimestamp) {
			m.state = *incoming
		}
	}
	metrics.CounterValue.Set(float64(m.state.Value))
}

// Increment raises the counter by one from the locally known value.
func (m *Manager) Increment() {
	m.apply(protocol.ActionIncrement, func(v int64) int64 { return v + 1 })
}

// Decrement lowers the counter by one from the locally known value.
func (m *Manager) Decrement() {
	m.apply(protocol.ActionDecrement, func(v int64) int64 { return v - 1 })
}

// Reset sets the counter back to zero.
func (m *Manager) Reset() {
	m.apply(protocol.ActionReset, func(int64) int64 { return 0 })
}

// CurrentState returns a snapshot of the local counter view.
func (m *Manager) CurrentState() protocol.CounterState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.state
	if state.LastActionTimestamp != nil {
		ts := *state.LastActionTimestamp
		state.LastActionTimestamp = &ts
	}
	return state
}

// apply computes the new value from the local view, records the action, and
// broadcasts the absolute value. No coordination: the action is applied
// optimistically and may be overwritten by a concurrent peer's broadcast.
func (m *Manager) apply(action string, compute func(int64) int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	value := compute(m.state.Value)
	m.state = protocol.CounterState{
		Value:               value,
		LastAction:          action,
		LastActionUserID:    m.selfID,
		LastActionUserName:  m.selfName,
		LastActionTimestamp: &now,
	}
	metrics.CounterValue.Set(float64(value))

	m.send(protocol.CounterEvent{
		Type:      protocol.TypeCounterAction,
		Action:    action,
		NewValue:  &value,
		UserID:    m.selfID,
		UserName:  m.selfName,
		Timestamp: now,
	})
}
