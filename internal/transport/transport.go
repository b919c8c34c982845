// Package transport provides the broadcast channel abstraction the session
// protocol is built on: fire-and-forget publish to a subject, at-least-once
// delivery to every other subscribed peer, no ordering guarantee. The NATS
// implementation is used in production; an in-process bus backs the tests.
package transport

// Channel names for the three slices of shared session state.
const (
	ChannelUsers   = "users"
	ChannelChat    = "chat"
	ChannelCounter = "counter"
)

// Handler receives the raw payload of one delivered broadcast.
type Handler func(data []byte)

// Subscription is an active feed on one subject.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the one-to-many broadcast capability. Publish never blocks on
// delivery and gives no acknowledgment; Subscribe delivers every payload
// published by other peers at least once, in arbitrary order.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
}
