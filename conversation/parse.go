package conversation

import (
	"encoding/json"
	"errors"
)

// Participant roles as they appear on the wire.
const (
	senderEndUser = "EndUser"
	senderAgent   = "Agent"
	senderChatbot = "Chatbot"
	senderSystem  = "System"
)

// Routing failure types.
const (
	routingNoError = "NoError"
)

// remoteEntry is the flattened form of one push-event payload.
type remoteEntry struct {
	MessageID   string
	EntryType   string
	Text        string
	SenderRole  string
	DisplayName string
	Operation   string // participant change: "add" or "remove"
	RoutingType string
	FailureType string
}

// The event payload nests the interesting part twice: conversationEntry
// carries entryPayload as a JSON string that has to be decoded again.
type eventPayload struct {
	ConversationEntry struct {
		Identifier        string `json:"identifier"`
		EntryPayload      string `json:"entryPayload"`
		SenderDisplayName string `json:"senderDisplayName"`
		Sender            struct {
			Role string `json:"role"`
		} `json:"sender"`
	} `json:"conversationEntry"`
}

type entryPayload struct {
	EntryType       string `json:"entryType"`
	Text            string `json:"text"`
	AbstractMessage *struct {
		MessageType   string `json:"messageType"`
		Text          string `json:"text"`
		StaticContent *struct {
			Text string `json:"text"`
		} `json:"staticContent"`
	} `json:"abstractMessage"`
	RoutingType string `json:"routingType"`
	FailureType string `json:"failureType"`
	Entries     []struct {
		Operation   string `json:"operation"`
		DisplayName string `json:"displayName"`
		Participant *struct {
			Role string `json:"role"`
		} `json:"participant"`
	} `json:"entries"`
}

func parseEventPayload(raw json.RawMessage) (*remoteEntry, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty event payload")
	}
	var outer eventPayload
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, err
	}
	if outer.ConversationEntry.EntryPayload == "" {
		return nil, errors.New("event payload missing conversationEntry.entryPayload")
	}
	var inner entryPayload
	if err := json.Unmarshal([]byte(outer.ConversationEntry.EntryPayload), &inner); err != nil {
		return nil, err
	}

	entry := &remoteEntry{
		MessageID:   outer.ConversationEntry.Identifier,
		EntryType:   inner.EntryType,
		SenderRole:  outer.ConversationEntry.Sender.Role,
		DisplayName: outer.ConversationEntry.SenderDisplayName,
		RoutingType: inner.RoutingType,
		FailureType: inner.FailureType,
	}

	entry.Text = inner.Text
	if inner.AbstractMessage != nil {
		if inner.AbstractMessage.StaticContent != nil && inner.AbstractMessage.StaticContent.Text != "" {
			entry.Text = inner.AbstractMessage.StaticContent.Text
		} else if inner.AbstractMessage.Text != "" {
			entry.Text = inner.AbstractMessage.Text
		}
	}

	if len(inner.Entries) > 0 {
		first := inner.Entries[0]
		entry.Operation = first.Operation
		if entry.DisplayName == "" {
			entry.DisplayName = first.DisplayName
		}
		if entry.DisplayName == "" && first.Participant != nil {
			entry.DisplayName = first.Participant.Role
		}
	}
	if entry.DisplayName == "" {
		entry.DisplayName = entry.SenderRole
	}
	return entry, nil
}

func roleFromSender(senderRole string) (Role, bool) {
	switch senderRole {
	case senderEndUser:
		return RoleUser, true
	case senderAgent, senderChatbot:
		return RoleAgent, true
	case senderSystem:
		return RoleSystem, true
	default:
		return "", false
	}
}
