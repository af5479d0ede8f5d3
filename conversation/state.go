// Package conversation keeps the single mutable ledger of everything said
// in a session. It is the only component that turns raw push events into
// typed entries.
package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valon-loshaj/utter-sense/log"
	"github.com/valon-loshaj/utter-sense/messaging"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleAgent   Role = "agent"
	RoleSystem  Role = "system"
	RolePreview Role = "preview"
)

type Entry struct {
	ID          string
	Text        string
	Role        Role
	DisplayName string
	CreatedAt   time.Time
	FadeIn      bool
	FadeOut     bool
	IsFinal     bool
}

type Config struct {
	FadeDelay   time.Duration // preview removal delay after resolve
	NotifyDelay time.Duration // coalescing window for subscriber snapshots
}

func DefaultConfig() Config {
	return Config{FadeDelay: 300 * time.Millisecond, NotifyDelay: 10 * time.Millisecond}
}

type State struct {
	cfg Config

	mu           sync.Mutex
	entries      []Entry
	previewID    string
	lastUserText string
	agentTyping  bool
	onChange     func([]Entry)
	onAgent      func(Entry)
	fadeTimer    *time.Timer
	notifyTimer  *time.Timer
}

func New(cfg Config) *State {
	return &State{cfg: cfg}
}

// Subscribe registers the snapshot callback. Mutations are coalesced: a
// burst of changes yields one snapshot after NotifyDelay.
func (s *State) Subscribe(fn func([]Entry)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnAgentMessage registers the hook fired once per complete agent entry.
func (s *State) OnAgentMessage(fn func(Entry)) {
	s.mu.Lock()
	s.onAgent = fn
	s.mu.Unlock()
}

// AddMessage appends a final entry. A user entry that matches the open
// preview replaces it in the same mutation, so the text never shows twice.
func (s *State) AddMessage(text string, role Role, displayName string, fadeIn bool) Entry {
	entry := Entry{
		ID:          uuid.NewString(),
		Text:        text,
		Role:        role,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
		FadeIn:      fadeIn,
		IsFinal:     true,
	}
	s.mu.Lock()
	if role == RoleUser {
		s.lastUserText = normalize(text)
		if s.previewID != "" {
			s.removeLocked(s.previewID)
			s.previewID = ""
			s.stopFadeLocked()
		}
	}
	s.entries = append(s.entries, entry)
	s.markDirtyLocked()
	s.mu.Unlock()
	log.ConversationEntry(string(role), text)
	return entry
}

// UpsertPreview creates the open preview or mutates its text in place.
// Blank text is ignored. A preview is never a final message.
func (s *State) UpsertPreview(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.previewID == "" {
		entry := Entry{
			ID:        uuid.NewString(),
			Text:      text,
			Role:      RolePreview,
			CreatedAt: time.Now(),
			FadeIn:    true,
		}
		s.previewID = entry.ID
		s.entries = append(s.entries, entry)
	} else {
		for i := range s.entries {
			if s.entries[i].ID == s.previewID {
				s.entries[i].Text = text
				break
			}
		}
	}
	s.markDirtyLocked()
}

// ResolvePreview fades the open preview out and removes it after FadeDelay.
// No-op without one; safe if a matching final message already removed it.
func (s *State) ResolvePreview() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.previewID == "" {
		return
	}
	id := s.previewID
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].FadeOut = true
			break
		}
	}
	s.markDirtyLocked()
	s.stopFadeLocked()
	s.fadeTimer = time.AfterFunc(s.cfg.FadeDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.previewID != id {
			return
		}
		s.removeLocked(id)
		s.previewID = ""
		s.markDirtyLocked()
	})
}

// HandleRemoteEvent classifies one push envelope and applies it to the
// ledger. Unknown or malformed events are logged and ignored, never fatal.
func (s *State) HandleRemoteEvent(env messaging.Envelope) {
	switch env.Type {
	case messaging.EventMessage:
		s.handleMessage(env)
	case messaging.EventRoutingResult:
		s.handleRoutingResult(env)
	case messaging.EventParticipantChanged:
		s.handleParticipantChanged(env)
	case messaging.EventTypingStarted:
		s.setAgentTyping(true)
	case messaging.EventTypingStopped:
		s.setAgentTyping(false)
	case messaging.EventDeliveryAck, messaging.EventReadAck:
		log.Infof("conversation: %s acknowledged", env.Type)
	case messaging.EventCloseConversation:
		s.AddMessage("The conversation has ended.", RoleSystem, "System", false)
	case messaging.EventConnectionFailed:
		s.AddMessage("Connection to the conversation was lost.", RoleSystem, "System", false)
	default:
		log.Infof("conversation: ignoring unsupported event type %q", env.Type)
	}
}

func (s *State) handleMessage(env messaging.Envelope) {
	entry, err := parseEventPayload(env.Payload)
	if err != nil {
		log.Errorf("conversation: dropping malformed message event: %v", err)
		return
	}
	role, ok := roleFromSender(entry.SenderRole)
	if !ok {
		log.Infof("conversation: ignoring message from unknown role %q", entry.SenderRole)
		return
	}

	if role == RoleUser {
		// The service echoes our own submission back on the stream; the
		// orchestrator already appended it locally.
		s.mu.Lock()
		echo := s.lastUserText != "" && normalize(entry.Text) == s.lastUserText
		s.mu.Unlock()
		if echo {
			log.Infof("conversation: suppressing end-user echo")
			return
		}
	}

	added := s.AddMessage(entry.Text, role, entry.DisplayName, true)
	if role == RoleAgent {
		s.setAgentTyping(false)
		s.mu.Lock()
		hook := s.onAgent
		s.mu.Unlock()
		if hook != nil {
			hook(added)
		}
	}
}

func (s *State) handleRoutingResult(env messaging.Envelope) {
	entry, err := parseEventPayload(env.Payload)
	if err != nil {
		log.Errorf("conversation: dropping malformed routing event: %v", err)
		return
	}
	if entry.FailureType != "" && entry.FailureType != routingNoError {
		s.AddMessage("Could not reach an agent ("+entry.FailureType+").", RoleSystem, "System", false)
		return
	}
	log.Infof("conversation: routing %s succeeded", entry.RoutingType)
}

func (s *State) handleParticipantChanged(env messaging.Envelope) {
	entry, err := parseEventPayload(env.Payload)
	if err != nil {
		log.Errorf("conversation: dropping malformed participant event: %v", err)
		return
	}
	verb := "joined"
	if strings.EqualFold(entry.Operation, "remove") {
		verb = "left"
	}
	s.AddMessage(entry.DisplayName+" "+verb+" the conversation.", RoleSystem, "System", false)
}

func (s *State) setAgentTyping(v bool) {
	s.mu.Lock()
	changed := s.agentTyping != v
	s.agentTyping = v
	if changed {
		s.markDirtyLocked()
	}
	s.mu.Unlock()
}

// AgentTyping reports whether the remote side is composing a reply.
func (s *State) AgentTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentTyping
}

// Entries returns a snapshot in arrival order.
func (s *State) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// EntriesNewestFirst is a presentational copy; storage order is untouched.
func (s *State) EntriesNewestFirst() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out
}

// Clear empties the ledger and cancels pending timers.
func (s *State) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.previewID = ""
	s.lastUserText = ""
	s.agentTyping = false
	s.stopFadeLocked()
	s.markDirtyLocked()
	s.mu.Unlock()
}

func (s *State) removeLocked(id string) {
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *State) stopFadeLocked() {
	if s.fadeTimer != nil {
		s.fadeTimer.Stop()
		s.fadeTimer = nil
	}
}

func (s *State) markDirtyLocked() {
	if s.onChange == nil || s.notifyTimer != nil {
		return
	}
	s.notifyTimer = time.AfterFunc(s.cfg.NotifyDelay, func() {
		s.mu.Lock()
		s.notifyTimer = nil
		cb := s.onChange
		snapshot := append([]Entry(nil), s.entries...)
		s.mu.Unlock()
		if cb != nil {
			cb(snapshot)
		}
	})
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
