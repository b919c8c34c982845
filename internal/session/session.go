// Package session composes the presence, chat, and counter synchronizers
// into one peer of a collaborative session. It owns the local identity, the
// startup announcements, and every periodic timer, and it is the sole
// surface a presentation layer talks to. Inbound broadcasts are queued into
// per-channel buffers and drained by a single run loop, so every delivered
// event is processed exactly once, in arrival order, and no state mutation
// races another.
package session

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/collabsync/session/internal/chat"
	"github.com/collabsync/session/internal/counter"
	"github.com/collabsync/session/internal/identity"
	"github.com/collabsync/session/internal/metrics"
	"github.com/collabsync/session/internal/presence"
	"github.com/collabsync/session/internal/protocol"
	"github.com/collabsync/session/internal/transport"
)

// Subjects names the transport subjects for the three logical channels.
type Subjects struct {
	Users   string
	Chat    string
	Counter string
}

// Config holds session timer intervals and the per-synchronizer tunables.
type Config struct {
	HeartbeatInterval       time.Duration
	InactivityCheckInterval time.Duration
	TypingSweepInterval     time.Duration
	ChatCleanupInterval     time.Duration
	EventBuffer             int // per-channel inbound queue depth

	Presence presence.Config
	Chat     chat.Config
	Counter  counter.Config
}

// DefaultConfig returns the standard session timings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:       1 * time.Second,
		InactivityCheckInterval: 1 * time.Second,
		TypingSweepInterval:     1 * time.Second,
		ChatCleanupInterval:     5 * time.Second,
		EventBuffer:             256,
		Presence:                presence.DefaultConfig(),
		Chat:                    chat.DefaultConfig(),
		Counter:                 counter.DefaultConfig(),
	}
}

// Session is one running peer. Create with New, start with Start, and stop
// with Close; all timers and subscriptions are registered and torn down
// together.
type Session struct {
	cfg      Config
	bus      transport.Bus
	subjects Subjects

	self     protocol.Participant
	presence *presence.Manager
	chat     *chat.Manager
	counter  *counter.Manager

	usersCh   chan []byte
	chatCh    chan []byte
	counterCh chan []byte

	subs   []transport.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a peer with a freshly generated identity. The identity is
// immutable for the lifetime of the process.
func New(bus transport.Bus, subjects Subjects, cfg Config) *Session {
	self := protocol.Participant{
		ID:           identity.NewParticipantID(),
		Name:         identity.NewDisplayName(),
		LastActivity: time.Now().UnixMilli(),
		Active:       true,
	}

	s := &Session{
		cfg:       cfg,
		bus:       bus,
		subjects:  subjects,
		self:      self,
		usersCh:   make(chan []byte, cfg.EventBuffer),
		chatCh:    make(chan []byte, cfg.EventBuffer),
		counterCh: make(chan []byte, cfg.EventBuffer),
		done:      make(chan struct{}),
	}

	s.presence = presence.NewManager(self, s.sendPresence, cfg.Presence)
	s.chat = chat.NewManager(self.ID, self.Name, s.sendChat, cfg.Chat)
	s.counter = counter.NewManager(self.ID, self.Name, s.sendCounter, cfg.Counter)
	return s
}

// Start subscribes the three channels, announces the local participant, and
// fires the history and counter-state requests. All requests are
// fire-and-forget: convergence relies on the periodic cycles, not on any
// acknowledgment.
func (s *Session) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, ch := range []struct {
		subject string
		queue   chan []byte
		name    string
	}{
		{s.subjects.Users, s.usersCh, transport.ChannelUsers},
		{s.subjects.Chat, s.chatCh, transport.ChannelChat},
		{s.subjects.Counter, s.counterCh, transport.ChannelCounter},
	} {
		queue, name := ch.queue, ch.name
		sub, err := s.bus.Subscribe(ch.subject, func(data []byte) {
			select {
			case queue <- data:
			default:
				// Queue full: the channel tolerates loss, the periodic
				// request cycles re-converge the state.
				log.Printf("[session] %s queue full, dropping event", name)
				metrics.EventsDropped.WithLabelValues(name, "overflow").Inc()
			}
		})
		if err != nil {
			s.teardown()
			return err
		}
		s.subs = append(s.subs, sub)
	}

	go s.run(ctx)

	s.presence.AnnounceSelf()
	s.chat.RequestHistory()
	s.counter.RequestState()

	log.Printf("[session] started id=%s name=%s", s.self.ID, s.self.Name)
	return nil
}

// run drains the inbound queues and drives every periodic tick until the
// session is closed.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	inactivity := time.NewTicker(s.cfg.InactivityCheckInterval)
	defer inactivity.Stop()
	typingSweep := time.NewTicker(s.cfg.TypingSweepInterval)
	defer typingSweep.Stop()
	chatCleanup := time.NewTicker(s.cfg.ChatCleanupInterval)
	defer chatCleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case data := <-s.usersCh:
			metrics.EventsReceived.WithLabelValues(transport.ChannelUsers).Inc()
			ev, err := protocol.ParsePresenceEvent(data)
			if err != nil {
				metrics.EventsDropped.WithLabelValues(transport.ChannelUsers, "malformed").Inc()
				continue
			}
			s.presence.Observe(ev)

		case data := <-s.chatCh:
			metrics.EventsReceived.WithLabelValues(transport.ChannelChat).Inc()
			ev, err := protocol.ParseChatEvent(data)
			if err != nil {
				metrics.EventsDropped.WithLabelValues(transport.ChannelChat, "malformed").Inc()
				continue
			}
			s.chat.Observe(ev)

		case data := <-s.counterCh:
			metrics.EventsReceived.WithLabelValues(transport.ChannelCounter).Inc()
			ev, err := protocol.ParseCounterEvent(data)
			if err != nil {
				metrics.EventsDropped.WithLabelValues(transport.ChannelCounter, "malformed").Inc()
				continue
			}
			s.counter.Observe(ev)

		case <-heartbeat.C:
			s.presence.SendHeartbeat()
		case <-inactivity.C:
			s.presence.TickInactivityCheck()
		case <-typingSweep.C:
			s.chat.SweepTyping()
		case <-chatCleanup.C:
			s.chat.TickCleanup()
		}
	}
}

// Close cancels all timers and subscriptions together and waits for the run
// loop to exit. Peers observe the departure through the missing heartbeat,
// not through any goodbye message.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.teardown()
	log.Printf("[session] closed id=%s", s.self.ID)
}

func (s *Session) teardown() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[session] unsubscribe: %v", err)
		}
	}
	s.subs = nil
}

// Self returns the local participant record.
func (s *Session) Self() protocol.Participant { return s.presence.Self() }

// Roster returns all known participants in first-observed order.
func (s *Session) Roster() []protocol.Participant { return s.presence.Roster() }

// OrderedLog returns the current chat log snapshot.
func (s *Session) OrderedLog() []protocol.ChatMessage { return s.chat.OrderedLog() }

// TypingSnapshot returns the live typing indicators of other peers.
func (s *Session) TypingSnapshot() []chat.TypingIndicator { return s.chat.TypingSnapshot() }

// CounterState returns the local view of the shared counter.
func (s *Session) CounterState() protocol.CounterState { return s.counter.CurrentState() }

// SendMessage sends a chat message with an optional expiration.
func (s *Session) SendMessage(text string, expiration time.Duration) (protocol.ChatMessage, error) {
	return s.chat.Send(text, expiration)
}

// DeleteMessage soft-deletes a message authored by the local participant.
func (s *Session) DeleteMessage(messageID string) { s.chat.Delete(messageID) }

// HandleTyping registers a keystroke-equivalent typing signal.
func (s *Session) HandleTyping() { s.chat.HandleTyping() }

// StopTyping stops the local typing indicator immediately.
func (s *Session) StopTyping() { s.chat.StopTyping() }

// IncrementCounter raises the shared counter by one.
func (s *Session) IncrementCounter() { s.counter.Increment() }

// DecrementCounter lowers the shared counter by one.
func (s *Session) DecrementCounter() { s.counter.Decrement() }

// ResetCounter sets the shared counter to zero.
func (s *Session) ResetCounter() { s.counter.Reset() }

func (s *Session) sendPresence(ev protocol.PresenceEvent) {
	s.publish(s.subjects.Users, transport.ChannelUsers, ev)
}

func (s *Session) sendChat(ev protocol.ChatEvent) {
	s.publish(s.subjects.Chat, transport.ChannelChat, ev)
}

func (s *Session) sendCounter(ev protocol.CounterEvent) {
	s.publish(s.subjects.Counter, transport.ChannelCounter, ev)
}

func (s *Session) publish(subject, channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[session] marshal %s event: %v", channel, err)
		return
	}
	if err := s.bus.Publish(subject, data); err != nil {
		log.Printf("[session] publish %s event: %v", channel, err)
	}
}
