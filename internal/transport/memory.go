package transport

import "sync"

// MemoryBus is an in-process Bus for tests. It fans every published payload
// out to all handlers on the subject except those registered by the
// publishing peer, mirroring the real channel's "every other active peer"
// delivery contract. Delivery is synchronous and in publish order; tests
// exercise reordering and duplication by publishing in the order (and with
// the repetition) they want observed.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]*memorySub
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]*memorySub)}
}

// Peer returns a handle that publishes as one distinct peer. Payloads
// published through the handle are not delivered to subscriptions made
// through the same handle.
func (b *MemoryBus) Peer() *MemoryPeer {
	return &MemoryPeer{bus: b, id: new(int)}
}

// MemoryPeer is one peer's view of the MemoryBus.
type MemoryPeer struct {
	bus *MemoryBus
	id  *int // identity marker; compared by pointer
}

type memorySub struct {
	subject string
	handler Handler
	owner   *int
	bus     *MemoryBus
}

// Publish delivers data to every other peer's handlers on the subject.
func (p *MemoryPeer) Publish(subject string, data []byte) error {
	p.bus.mu.Lock()
	subs := make([]*memorySub, 0, len(p.bus.handlers[subject]))
	for _, s := range p.bus.handlers[subject] {
		if s.owner != p.id {
			subs = append(subs, s)
		}
	}
	p.bus.mu.Unlock()

	for _, s := range subs {
		// Copy so a handler mutating the slice cannot affect later deliveries.
		buf := make([]byte, len(data))
		copy(buf, data)
		s.handler(buf)
	}
	return nil
}

// Subscribe registers a handler on the subject for this peer.
func (p *MemoryPeer) Subscribe(subject string, handler Handler) (Subscription, error) {
	s := &memorySub{subject: subject, handler: handler, owner: p.id, bus: p.bus}
	p.bus.mu.Lock()
	p.bus.handlers[subject] = append(p.bus.handlers[subject], s)
	p.bus.mu.Unlock()
	return s, nil
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.handlers[s.subject]
	for i, cur := range subs {
		if cur == s {
			s.bus.handlers[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
