package conversation

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valon-loshaj/utter-sense/messaging"
)

func testState() *State {
	return New(Config{FadeDelay: 10 * time.Millisecond, NotifyDelay: 5 * time.Millisecond})
}

func messageEnvelope(senderRole, displayName, text string) messaging.Envelope {
	inner, _ := json.Marshal(map[string]any{
		"entryType": "CONVERSATION_MESSAGE",
		"abstractMessage": map[string]any{
			"messageType":   "StaticContentMessage",
			"staticContent": map[string]any{"text": text},
		},
	})
	payload, _ := json.Marshal(map[string]any{
		"conversationEntry": map[string]any{
			"identifier":        "m-1",
			"entryPayload":      string(inner),
			"senderDisplayName": displayName,
			"sender":            map[string]any{"role": senderRole},
		},
	})
	return messaging.Envelope{Type: messaging.EventMessage, ConversationID: "conv-1", Payload: payload}
}

func TestUpsertPreviewKeepsSingleEntry(t *testing.T) {
	s := testState()
	s.UpsertPreview("hel")
	s.UpsertPreview("hello")
	s.UpsertPreview("   ")

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Role != RolePreview || entries[0].Text != "hello" {
		t.Errorf("preview = %+v", entries[0])
	}
	if entries[0].IsFinal {
		t.Error("preview must never be final")
	}
}

func TestUserFinalReplacesPreview(t *testing.T) {
	s := testState()
	s.UpsertPreview("hello there")
	s.AddMessage("hello there", RoleUser, "You", false)

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want the final only", len(entries))
	}
	if entries[0].Role != RoleUser || !entries[0].IsFinal {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestResolvePreviewFadesThenRemoves(t *testing.T) {
	s := testState()
	s.UpsertPreview("going away")
	s.ResolvePreview()

	entries := s.Entries()
	if len(entries) != 1 || !entries[0].FadeOut {
		t.Fatalf("expected fading preview, got %+v", entries)
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(s.Entries()); got != 0 {
		t.Errorf("preview still present after fade: %d entries", got)
	}

	// No open preview left; must be a no-op.
	s.ResolvePreview()
}

func TestAgentMessageHookFires(t *testing.T) {
	s := testState()
	got := make(chan Entry, 1)
	s.OnAgentMessage(func(e Entry) { got <- e })

	s.HandleRemoteEvent(messageEnvelope("Chatbot", "Utter Sense", "How can I help?"))

	select {
	case e := <-got:
		if e.Role != RoleAgent || e.Text != "How can I help?" || e.DisplayName != "Utter Sense" {
			t.Errorf("agent entry = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("agent hook never fired")
	}
	if s.AgentTyping() {
		t.Error("agent message should clear the typing flag")
	}
}

func TestEndUserEchoSuppressed(t *testing.T) {
	s := testState()
	s.AddMessage("Hello there", RoleUser, "You", false)

	s.HandleRemoteEvent(messageEnvelope("EndUser", "You", "  hello THERE "))
	if got := len(s.Entries()); got != 1 {
		t.Errorf("echo not suppressed: %d entries", got)
	}

	s.HandleRemoteEvent(messageEnvelope("EndUser", "You", "something else"))
	if got := len(s.Entries()); got != 2 {
		t.Errorf("distinct user message dropped: %d entries", got)
	}
}

func TestUnknownAndMalformedEventsIgnored(t *testing.T) {
	s := testState()
	s.HandleRemoteEvent(messaging.Envelope{Type: "SOMETHING_NEW"})
	s.HandleRemoteEvent(messaging.Envelope{Type: messaging.EventMessage, Payload: []byte(`{"nope`)})
	s.HandleRemoteEvent(messaging.Envelope{Type: messaging.EventMessage, Payload: []byte(`{}`)})

	if got := len(s.Entries()); got != 0 {
		t.Errorf("bad events produced %d entries", got)
	}
}

func TestTypingIndicators(t *testing.T) {
	s := testState()
	s.HandleRemoteEvent(messaging.Envelope{Type: messaging.EventTypingStarted})
	if !s.AgentTyping() {
		t.Error("typing flag not set")
	}
	s.HandleRemoteEvent(messaging.Envelope{Type: messaging.EventTypingStopped})
	if s.AgentTyping() {
		t.Error("typing flag not cleared")
	}
}

func TestParticipantChanged(t *testing.T) {
	s := testState()
	inner, _ := json.Marshal(map[string]any{
		"entryType": "PARTICIPANT_CHANGED",
		"entries": []map[string]any{
			{"operation": "add", "displayName": "Agent Bob", "participant": map[string]any{"role": "Agent"}},
		},
	})
	payload, _ := json.Marshal(map[string]any{
		"conversationEntry": map[string]any{
			"identifier":   "p-1",
			"entryPayload": string(inner),
			"sender":       map[string]any{"role": "System"},
		},
	})
	s.HandleRemoteEvent(messaging.Envelope{Type: messaging.EventParticipantChanged, Payload: payload})

	entries := s.Entries()
	if len(entries) != 1 || entries[0].Role != RoleSystem {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Text != "Agent Bob joined the conversation." {
		t.Errorf("text = %q", entries[0].Text)
	}
}

func TestRoutingFailureBecomesSystemEntry(t *testing.T) {
	s := testState()
	inner, _ := json.Marshal(map[string]any{
		"entryType":   "ROUTING_RESULT",
		"routingType": "Initial",
		"failureType": "RoutingError",
	})
	payload, _ := json.Marshal(map[string]any{
		"conversationEntry": map[string]any{
			"identifier":   "r-1",
			"entryPayload": string(inner),
			"sender":       map[string]any{"role": "System"},
		},
	})
	s.HandleRemoteEvent(messaging.Envelope{Type: messaging.EventRoutingResult, Payload: payload})

	entries := s.Entries()
	if len(entries) != 1 || entries[0].Role != RoleSystem {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestNewestFirstIsPresentationalOnly(t *testing.T) {
	s := testState()
	s.AddMessage("first", RoleUser, "You", false)
	s.AddMessage("second", RoleAgent, "Bot", false)

	rev := s.EntriesNewestFirst()
	if rev[0].Text != "second" || rev[1].Text != "first" {
		t.Errorf("newest-first order wrong: %+v", rev)
	}
	entries := s.Entries()
	if entries[0].Text != "first" {
		t.Error("storage order was mutated")
	}
}

func TestNotificationsCoalesced(t *testing.T) {
	s := testState()
	var calls atomic.Int32
	s.Subscribe(func([]Entry) { calls.Add(1) })

	s.AddMessage("one", RoleUser, "You", false)
	s.UpsertPreview("two")
	s.AddMessage("three", RoleAgent, "Bot", false)

	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("subscriber called %d times for one burst, want 1", got)
	}
}

func TestEntryIDsUnique(t *testing.T) {
	s := testState()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		e := s.AddMessage("msg", RoleUser, "You", false)
		if seen[e.ID] {
			t.Fatal("duplicate entry id")
		}
		seen[e.ID] = true
	}
}
