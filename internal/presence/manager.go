// Package presence tracks the roster of known session participants and
// their liveness. Peers announce themselves with a join event, keep their
// record fresh with periodic heartbeats, and converge on departures through
// inactive batches plus a local inactivity timeout. Records are never
// removed from the roster, only flagged inactive, so chat history that
// references a departed peer stays renderable.
package presence

import (
	"log"
	"sync"
	"time"

	"github.com/collabsync/session/internal/metrics"
	"github.com/collabsync/session/internal/protocol"
)

// Config holds presence tuning parameters.
type Config struct {
	StaleThreshold    time.Duration // discard inbound events older than this
	InactivityTimeout time.Duration // silence after which a peer is inactive
}

// DefaultConfig returns the standard presence thresholds.
func DefaultConfig() Config {
	return Config{
		StaleThreshold:    10 * time.Second,
		InactivityTimeout: 3 * time.Second,
	}
}

// Manager owns the participant roster. All mutation happens through its own
// methods; callers get copies, never live references.
type Manager struct {
	cfg  Config
	self protocol.Participant
	send func(protocol.PresenceEvent)
	now  func() int64

	mu    sync.Mutex
	order []string
	users map[string]*protocol.Participant
}

// NewManager creates a Manager seeded with the local participant. The send
// callback broadcasts an event to all other peers, fire-and-forget.
func NewManager(self protocol.Participant, send func(protocol.PresenceEvent), cfg Config) *Manager {
	m := &Manager{
		cfg:   cfg,
		self:  self,
		send:  send,
		now:   func() int64 { return time.Now().UnixMilli() },
		users: make(map[string]*protocol.Participant),
	}
	m.upsert(self)
	return m
}

// Self returns the local participant record.
func (m *Manager) Self() protocol.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[m.self.ID]
}

// AnnounceSelf broadcasts the local participant's join event.
func (m *Manager) AnnounceSelf() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	self := m.users[m.self.ID]
	self.LastActivity = now
	self.Active = true

	announced := *self
	m.send(protocol.PresenceEvent{
		Type:      protocol.TypeJoin,
		User:      &announced,
		Timestamp: now,
	})
	log.Printf("[presence] announced self id=%s name=%s", self.ID, self.Name)
}

// SendHeartbeat refreshes the local participant's lastActivity and
// broadcasts a heartbeat event.
func (m *Manager) SendHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	self := m.users[m.self.ID]
	self.LastActivity = now
	self.Active = true

	beat := *self
	m.send(protocol.PresenceEvent{
		Type:      protocol.TypeHeartbeat,
		User:      &beat,
		Timestamp: now,
	})
}

// Observe merges one inbound presence event into the roster. Events older
// than the staleness threshold are discarded; the local participant can
// never be marked inactive by a peer.
func (m *Manager) Observe(ev *protocol.PresenceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now-ev.Timestamp > m.cfg.StaleThreshold.Milliseconds() {
		metrics.EventsDropped.WithLabelValues("users", "stale").Inc()
		return
	}

	switch ev.Type {
	case protocol.TypeJoin, protocol.TypeHeartbeat:
		m.upsert(*ev.User)
	case protocol.TypeInactive:
		for _, u := range ev.InactiveUsers {
			if u.ID == m.self.ID {
				continue
			}
			if known, ok := m.users[u.ID]; ok {
				known.Active = false
			}
		}
	}
	m.updateGauges()
}

// TickInactivityCheck scans the roster for peers whose last activity is
// older than the inactivity timeout, flags them inactive, and broadcasts
// the batch once so other peers converge without each timing the peer out
// independently. Redundant batches from independent timeouts are harmless:
// marking an inactive peer inactive again is a no-op.
func (m *Manager) TickInactivityCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var went []protocol.Participant
	for _, id := range m.order {
		u := m.users[id]
		if id == m.self.ID || !u.Active {
			continue
		}
		if now-u.LastActivity >= m.cfg.InactivityTimeout.Milliseconds() {
			u.Active = false
			went = append(went, *u)
		}
	}

	if len(went) > 0 {
		m.send(protocol.PresenceEvent{
			Type:          protocol.TypeInactive,
			InactiveUsers: went,
			Timestamp:     now,
		})
		log.Printf("[presence] %d participant(s) went inactive", len(went))
	}
	m.updateGauges()
}

// Roster returns all known participants in first-observed order.
func (m *Manager) Roster() []protocol.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]protocol.Participant, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.users[id])
	}
	return out
}

// upsert applies the join/heartbeat merge rule: unknown ids are appended
// active, known ids are revived and their lastActivity refreshed. A rejoin
// after inactivity is indistinguishable from a first join.
func (m *Manager) upsert(u protocol.Participant) {
	if known, ok := m.users[u.ID]; ok {
		known.Active = true
		known.LastActivity = u.LastActivity
		return
	}
	u.Active = true
	copied := u
	m.users[u.ID] = &copied
	m.order = append(m.order, u.ID)
}

func (m *Manager) updateGauges() {
	active, inactive := 0, 0
	for _, u := range m.users {
		if u.Active {
			active++
		} else {
			inactive++
		}
	}
	metrics.RosterSize.WithLabelValues("active").Set(float64(active))
	metrics.RosterSize.WithLabelValues("inactive").Set(float64(inactive))
}
