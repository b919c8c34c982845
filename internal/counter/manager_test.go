package counter

import (
	"testing"

	"github.com/collabsync/session/internal/protocol"
)

func newTestManager(selfID string, now *int64) (*Manager, *[]protocol.CounterEvent) {
	var sent []protocol.CounterEvent
	m := NewManager(selfID, "SelfName", func(ev protocol.CounterEvent) {
		sent = append(sent, ev)
	}, DefaultConfig())
	m.now = func() int64 { return *now }
	return m, &sent
}

func TestLocalActionsComputeFromLocalValue(t *testing.T) {
	now := int64(1000)
	m, sent := newTestManager("self", &now)

	m.Increment()
	m.Increment()
	m.Decrement()

	state := m.CurrentState()
	if state.Value != 1 {
		t.Fatalf("value = %d, want 1", state.Value)
	}
	if state.LastAction != protocol.ActionDecrement || state.LastActionUserID != "self" {
		t.Errorf("unexpected action metadata: %+v", state)
	}
	if state.LastActionTimestamp == nil || *state.LastActionTimestamp != 1000 {
		t.Errorf("lastActionTimestamp not set: %+v", state.LastActionTimestamp)
	}

	if len(*sent) != 3 {
		t.Fatalf("expected 3 broadcasts, got %d", len(*sent))
	}
	// Broadcasts carry the absolute value, not a delta.
	if *(*sent)[2].NewValue != 1 {
		t.Errorf("broadcast value = %d, want 1", *(*sent)[2].NewValue)
	}
}

func TestResetSetsZero(t *testing.T) {
	now := int64(1000)
	m, _ := newTestManager("self", &now)

	m.Increment()
	m.Increment()
	m.Reset()

	if got := m.CurrentState().Value; got != 0 {
		t.Fatalf("value after reset = %d", got)
	}
}

func TestInboundActionOverwritesByArrival(t *testing.T) {
	now := int64(1000)
	m, _ := newTestManager("self", &now)
	m.Increment() // local value 1, lastActionTimestamp 1000

	// An action with an OLDER embedded timestamp still wins: live
	// propagation is last-writer-wins by arrival, not by timestamp.
	old := int64(500)
	v := int64(7)
	m.Observe(&protocol.CounterEvent{
		Type:      protocol.TypeCounterAction,
		Action:    protocol.ActionIncrement,
		NewValue:  &v,
		UserID:    "peer-a",
		UserName:  "A",
		Timestamp: old,
	})

	state := m.CurrentState()
	if state.Value != 7 || state.LastActionUserID != "peer-a" {
		t.Fatalf("inbound action must overwrite unconditionally: %+v", state)
	}
}

func TestStaleActionDiscarded(t *testing.T) {
	now := int64(20_000)
	m, _ := newTestManager("self", &now)

	v := int64(5)
	m.Observe(&protocol.CounterEvent{
		Type:      protocol.TypeCounterAction,
		Action:    protocol.ActionIncrement,
		NewValue:  &v,
		UserID:    "peer-a",
		UserName:  "A",
		Timestamp: 5000, // 15s old, past the 10s threshold
	})

	if got := m.CurrentState().Value; got != 0 {
		t.Fatalf("stale action must be discarded, value=%d", got)
	}
}

func TestSyncAdoptionByTimestamp(t *testing.T) {
	now := int64(1000)
	m, _ := newTestManager("self", &now)
	m.Increment() // lastActionTimestamp = 1000... set at now

	// Incoming sync with an older action: local state unchanged.
	older := int64(50)
	m.Observe(&protocol.CounterEvent{
		Type: protocol.TypeCounterSync,
		CounterState: &protocol.CounterState{
			Value: 99, LastAction: protocol.ActionIncrement,
			LastActionUserID: "peer-a", LastActionTimestamp: &older,
		},
		Timestamp: 1000,
	})
	if got := m.CurrentState().Value; got != 1 {
		t.Fatalf("older sync must not be adopted, value=%d", got)
	}

	// Incoming sync strictly newer: local state replaced.
	newer := int64(1500)
	m.Observe(&protocol.CounterEvent{
		Type: protocol.TypeCounterSync,
		CounterState: &protocol.CounterState{
			Value: 99, LastAction: protocol.ActionIncrement,
			LastActionUserID: "peer-a", LastActionTimestamp: &newer,
		},
		Timestamp: 1000,
	})
	state := m.CurrentState()
	if state.Value != 99 || *state.LastActionTimestamp != 1500 {
		t.Fatalf("newer sync must be adopted: %+v", state)
	}
}

func TestSyncAdoptedWhenNeverActed(t *testing.T) {
	now := int64(1000)
	m, _ := newTestManager("self", &now)

	ts := int64(900)
	m.Observe(&protocol.CounterEvent{
		Type: protocol.TypeCounterSync,
		CounterState: &protocol.CounterState{
			Value: 2, LastAction: protocol.ActionIncrement,
			LastActionUserID: "peer-a", LastActionTimestamp: &ts,
		},
		Timestamp: 1000,
	})

	if got := m.CurrentState().Value; got != 2 {
		t.Fatalf("peer that never acted must adopt any sync, value=%d", got)
	}
}

func TestStateRequestAnsweredOnlyAfterAction(t *testing.T) {
	now := int64(1000)
	m, sent := newTestManager("self", &now)

	// Never acted: no reply.
	m.Observe(&protocol.CounterEvent{
		Type:             protocol.TypeRequestCounterState,
		RequestingUserID: "peer-b",
		Timestamp:        1000,
	})
	if len(*sent) != 0 {
		t.Fatal("peer with no action history must stay silent")
	}

	m.Increment()
	*sent = nil

	m.Observe(&protocol.CounterEvent{
		Type:             protocol.TypeRequestCounterState,
		RequestingUserID: "peer-b",
		Timestamp:        1000,
	})
	if len(*sent) != 1 {
		t.Fatalf("expected 1 sync reply, got %d", len(*sent))
	}
	reply := (*sent)[0]
	if reply.Type != protocol.TypeCounterSync || reply.CounterState.Value != 1 {
		t.Errorf("unexpected sync reply: %+v", reply)
	}
}

func TestOwnStateRequestIgnored(t *testing.T) {
	now := int64(1000)
	m, sent := newTestManager("self", &now)
	m.Increment()
	*sent = nil

	m.Observe(&protocol.CounterEvent{
		Type:             protocol.TypeRequestCounterState,
		RequestingUserID: "self",
		Timestamp:        1000,
	})
	if len(*sent) != 0 {
		t.Fatal("own request echoed back must not be answered")
	}
}

func TestLateJoinConvergence(t *testing.T) {
	// Peer A incremented twice; peer B joins later with no history. After
	// B's request and A's sync, B holds value 2.
	nowA := int64(1000)
	a, aSent := newTestManager("peer-a", &nowA)
	a.Increment()
	a.Increment()
	*aSent = nil

	nowB := int64(2000)
	b, bSent := newTestManager("peer-b", &nowB)
	b.RequestState()

	if len(*bSent) != 1 {
		t.Fatalf("expected B to broadcast one request, got %d", len(*bSent))
	}
	req := (*bSent)[0]
	nowA = 2000
	a.Observe(&req)

	if len(*aSent) != 1 {
		t.Fatalf("expected A to answer with one sync, got %d", len(*aSent))
	}
	sync := (*aSent)[0]
	b.Observe(&sync)

	if got := b.CurrentState().Value; got != 2 {
		t.Fatalf("B must converge to 2, got %d", got)
	}
}
