package identity

import (
	"regexp"
	"strings"
	"testing"
)

var idPattern = regexp.MustCompile(`^(user|msg)-\d{13}-[0-9a-f]{8}$`)

func TestParticipantIDShape(t *testing.T) {
	id := NewParticipantID()
	if !strings.HasPrefix(id, "user-") {
		t.Errorf("expected user- prefix, got %q", id)
	}
	if !idPattern.MatchString(id) {
		t.Errorf("id %q does not match expected shape", id)
	}
}

func TestMessageIDShape(t *testing.T) {
	id := NewMessageID()
	if !strings.HasPrefix(id, "msg-") {
		t.Errorf("expected msg- prefix, got %q", id)
	}
	if !idPattern.MatchString(id) {
		t.Errorf("id %q does not match expected shape", id)
	}
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		if seen[id] {
			t.Fatalf("duplicate id after %d generations: %s", i, id)
		}
		seen[id] = true
	}
}

func TestDisplayNameShape(t *testing.T) {
	name := NewDisplayName()
	if !regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+\d{1,2}$`).MatchString(name) {
		t.Errorf("display name %q does not match expected shape", name)
	}
}
