package presence

import (
	"testing"
	"time"

	"github.com/collabsync/session/internal/protocol"
)

func newTestManager(selfID string, now *int64) (*Manager, *[]protocol.PresenceEvent) {
	var sent []protocol.PresenceEvent
	self := protocol.Participant{ID: selfID, Name: "SelfName", LastActivity: *now, Active: true}
	m := NewManager(self, func(ev protocol.PresenceEvent) {
		sent = append(sent, ev)
	}, DefaultConfig())
	m.now = func() int64 { return *now }
	return m, &sent
}

func TestRosterStartsWithSelf(t *testing.T) {
	now := int64(1000)
	m, _ := newTestManager("self", &now)

	roster := m.Roster()
	if len(roster) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(roster))
	}
	if roster[0].ID != "self" || !roster[0].Active {
		t.Errorf("unexpected self record: %+v", roster[0])
	}
}

func TestJoinAppendsUnknownParticipant(t *testing.T) {
	now := int64(1000)
	m, _ := newTestManager("self", &now)

	m.Observe(&protocol.PresenceEvent{
		Type:      protocol.TypeJoin,
		User:      &protocol.Participant{ID: "peer-1", Name: "Peer", LastActivity: 900},
		Timestamp: 950,
	})

	roster := m.Roster()
	if len(roster) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(roster))
	}
	if roster[1].ID != "peer-1" || !roster[1].Active {
		t.Errorf("peer not appended active: %+v", roster[1])
	}
}

func TestStaleJoinDiscarded(t *testing.T) {
	now := int64(100_000)
	m, _ := newTestManager("self", &now)

	// Event is 11s old, past the 10s staleness threshold.
	m.Observe(&protocol.PresenceEvent{
		Type:      protocol.TypeJoin,
		User:      &protocol.Participant{ID: "peer-1", LastActivity: 89_000},
		Timestamp: 89_000,
	})

	if len(m.Roster()) != 1 {
		t.Fatalf("stale join should not add participant, roster=%d", len(m.Roster()))
	}
}

func TestHeartbeatRevivesInactiveParticipant(t *testing.T) {
	now := int64(1000)
	m, _ := newTestManager("self", &now)

	m.Observe(&protocol.PresenceEvent{
		Type:      protocol.TypeJoin,
		User:      &protocol.Participant{ID: "peer-1", LastActivity: 1000},
		Timestamp: 1000,
	})
	m.Observe(&protocol.PresenceEvent{
		Type:          protocol.TypeInactive,
		InactiveUsers: []protocol.Participant{{ID: "peer-1"}},
		Timestamp:     1000,
	})

	roster := m.Roster()
	if roster[1].Active {
		t.Fatal("peer should be inactive")
	}

	// A fresh heartbeat is indistinguishable from a rejoin.
	now = 2000
	m.Observe(&protocol.PresenceEvent{
		Type:      protocol.TypeHeartbeat,
		User:      &protocol.Participant{ID: "peer-1", LastActivity: 2000},
		Timestamp: 2000,
	})

	roster = m.Roster()
	if !roster[1].Active || roster[1].LastActivity != 2000 {
		t.Errorf("heartbeat should revive and refresh: %+v", roster[1])
	}
}

func TestInactiveBatchNeverMarksSelf(t *testing.T) {
	now := int64(1000)
	m, _ := newTestManager("self", &now)

	m.Observe(&protocol.PresenceEvent{
		Type:          protocol.TypeInactive,
		InactiveUsers: []protocol.Participant{{ID: "self"}},
		Timestamp:     1000,
	})

	if !m.Self().Active {
		t.Fatal("self must stay active regardless of inbound inactive batches")
	}
}

func TestInactivityCheckMarksAndBroadcasts(t *testing.T) {
	now := int64(1000)
	m, sent := newTestManager("self", &now)

	m.Observe(&protocol.PresenceEvent{
		Type:      protocol.TypeHeartbeat,
		User:      &protocol.Participant{ID: "peer-1", Name: "P", LastActivity: 1000},
		Timestamp: 1000,
	})

	// t=3999: 2999ms of silence, still under the 3s timeout.
	now = 3999
	m.TickInactivityCheck()
	if len(*sent) != 0 {
		t.Fatalf("no inactive batch expected yet, got %d event(s)", len(*sent))
	}

	// t=4000: exactly 3000ms of silence crosses the line.
	now = 4000
	m.TickInactivityCheck()

	if len(*sent) != 1 {
		t.Fatalf("expected 1 inactive batch, got %d", len(*sent))
	}
	ev := (*sent)[0]
	if ev.Type != protocol.TypeInactive || len(ev.InactiveUsers) != 1 || ev.InactiveUsers[0].ID != "peer-1" {
		t.Errorf("unexpected inactive batch: %+v", ev)
	}

	roster := m.Roster()
	if roster[1].Active {
		t.Error("peer-1 should be locally inactive after the check")
	}

	// A second tick must not re-broadcast an already-inactive peer.
	now = 5000
	m.TickInactivityCheck()
	if len(*sent) != 1 {
		t.Errorf("inactive peer broadcast again: %d event(s)", len(*sent))
	}
}

func TestInactivityCheckSkipsSelf(t *testing.T) {
	now := int64(1000)
	m, sent := newTestManager("self", &now)

	// Self has been silent far past the timeout; only heartbeat loss at
	// process death may take self down, never the local check.
	now = 60_000
	m.TickInactivityCheck()

	if len(*sent) != 0 {
		t.Fatalf("self must not appear in an inactive batch: %+v", *sent)
	}
	if !m.Self().Active {
		t.Fatal("self must stay active")
	}
}

func TestConvergenceBetweenTwoPeers(t *testing.T) {
	now := int64(1000)
	a, aSent := newTestManager("peer-a", &now)
	b, bSent := newTestManager("peer-b", &now)

	a.AnnounceSelf()
	b.AnnounceSelf()

	// Cross-deliver the join events within the staleness window.
	for _, ev := range *bSent {
		e := ev
		a.Observe(&e)
	}
	for _, ev := range *aSent {
		e := ev
		b.Observe(&e)
	}

	activeIDs := func(m *Manager) map[string]bool {
		ids := make(map[string]bool)
		for _, u := range m.Roster() {
			if u.Active {
				ids[u.ID] = true
			}
		}
		return ids
	}

	aIDs, bIDs := activeIDs(a), activeIDs(b)
	if len(aIDs) != 2 || len(bIDs) != 2 {
		t.Fatalf("expected both rosters to have 2 active ids: a=%v b=%v", aIDs, bIDs)
	}
	for id := range aIDs {
		if !bIDs[id] {
			t.Errorf("id %s present in a but not b", id)
		}
	}
}

func TestHeartbeatBroadcastRefreshesSelf(t *testing.T) {
	now := int64(1000)
	m, sent := newTestManager("self", &now)

	now = 2000
	m.SendHeartbeat()

	if len(*sent) != 1 {
		t.Fatalf("expected 1 heartbeat, got %d", len(*sent))
	}
	ev := (*sent)[0]
	if ev.Type != protocol.TypeHeartbeat || ev.User.LastActivity != 2000 {
		t.Errorf("unexpected heartbeat: %+v", ev)
	}
	if m.Self().LastActivity != 2000 {
		t.Errorf("self lastActivity not refreshed: %d", m.Self().LastActivity)
	}
}

func TestObserveIsIdempotentUnderReplay(t *testing.T) {
	now := int64(1000)
	m, _ := newTestManager("self", &now)

	ev := protocol.PresenceEvent{
		Type:      protocol.TypeJoin,
		User:      &protocol.Participant{ID: "peer-1", LastActivity: 1000},
		Timestamp: 1000,
	}
	m.Observe(&ev)
	m.Observe(&ev)
	m.Observe(&ev)

	if len(m.Roster()) != 2 {
		t.Fatalf("replayed join must not duplicate the record: roster=%d", len(m.Roster()))
	}
}

func TestDefaultConfigThresholds(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.StaleThreshold != 10*time.Second {
		t.Errorf("stale threshold = %s", cfg.StaleThreshold)
	}
	if cfg.InactivityTimeout != 3*time.Second {
		t.Errorf("inactivity timeout = %s", cfg.InactivityTimeout)
	}
}
