package messaging

import (
	"encoding/json"
	"time"
)

// Envelope is one push event as carried on the stream. Payload stays raw
// here; the conversation ledger owns its interpretation.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Event types delivered by the conversation service.
const (
	EventMessage            = "CONVERSATION_MESSAGE"
	EventRoutingResult      = "CONVERSATION_ROUTING_RESULT"
	EventParticipantChanged = "CONVERSATION_PARTICIPANT_CHANGED"
	EventTypingStarted      = "CONVERSATION_TYPING_STARTED_INDICATOR"
	EventTypingStopped      = "CONVERSATION_TYPING_STOPPED_INDICATOR"
	EventDeliveryAck        = "CONVERSATION_DELIVERY_ACKNOWLEDGEMENT"
	EventReadAck            = "CONVERSATION_READ_ACKNOWLEDGEMENT"
	EventCloseConversation  = "CONVERSATION_CLOSE_CONVERSATION"

	// EventConnectionFailed is synthesized locally when the stream gives up
	// reconnecting. It never arrives from the wire.
	EventConnectionFailed = "connection_failed"
)
