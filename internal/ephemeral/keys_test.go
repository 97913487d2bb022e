package ephemeral

import "testing"

func TestKeyScheme(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"presence", PresenceKey("c1", "u1"), "canvas:c1:presence:u1"},
		{"presence set", PresenceSetKey("c1"), "canvas:c1:presence"},
		{"focus", FocusKey("c1", "v1", "u1"), "canvas:c1:conversation:v1:focus:u1"},
		{"focus set", FocusSetKey("c1", "v1"), "canvas:c1:conversation:v1:focus"},
		{"focus pattern", FocusKeyPattern("c1", "u1"), "canvas:c1:conversation:*:focus:u1"},
		{"lock", LockKey("c1", "v1", "n1"), "canvas:c1:conversation:v1:node:n1:lock"},
		{"lock pattern", LockKeyPattern("c1"), "canvas:c1:conversation:*:node:*:lock"},
		{"cursor", CursorKey("c1", "u1"), "canvas:c1:cursor:u1"},
		{"cursor set", CursorSetKey("c1"), "canvas:c1:cursors"},
		{"typing", TypingKey("c1", "n1", "u1"), "canvas:c1:node:n1:typing:u1"},
		{"typing set", TypingSetKey("c1", "n1"), "canvas:c1:node:n1:typing"},
		{"typing pattern", TypingKeyPattern("c1", "u1"), "canvas:c1:node:*:typing:u1"},
		{"heartbeat", HeartbeatKey("c1", "u1"), "canvas:c1:activity:u1"},
		{"throttle", CursorThrottleKey("u1"), "throttle:cursor:u1"},
		{"events channel", EventsChannel("c1"), "canvas:c1:events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestEventsChannelPattern_MatchesChannels(t *testing.T) {
	if !globMatch(EventsChannelPattern, EventsChannel("canvas-123")) {
		t.Error("pattern should match canvas events channels")
	}
	if globMatch(EventsChannelPattern, "canvas:c1:presence") {
		t.Error("pattern should not match presence keys")
	}
}
