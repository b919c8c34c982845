// Package identity generates participant and message identifiers and the
// friendly display names shown in the roster. IDs combine the wall clock
// with random entropy so they are unique across all peers for the lifetime
// of a session without any coordination.
package identity

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

var adjectives = []string{"Happy", "Clever", "Bright", "Swift", "Kind", "Bold", "Wise", "Calm"}

var nouns = []string{"Fox", "Eagle", "Wolf", "Bear", "Lion", "Tiger", "Owl", "Hawk"}

// NewParticipantID returns an opaque id of the form user-<epochMillis>-<suffix>.
func NewParticipantID() string {
	return newID("user")
}

// NewMessageID returns an opaque id of the form msg-<epochMillis>-<suffix>.
func NewMessageID() string {
	return newID("msg")
}

func newID(prefix string) string {
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}

// NewDisplayName returns a friendly name like CleverFox42.
func NewDisplayName() string {
	adj := adjectives[rand.Intn(len(adjectives))]
	noun := nouns[rand.Intn(len(nouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, rand.Intn(100))
}
