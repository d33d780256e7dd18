package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies a session event on the wire.
type Type string

// Inbound event types (client to coordinator).
const (
	TypeAddUser         Type = "add-user"
	TypeJoinRoom        Type = "join-room"
	TypeChatMessage     Type = "chat-message"
	TypeBotChatMessage  Type = "bot-chat-message"
	TypeContinueSession Type = "continue-session"
	TypeUserLeft        Type = "user-left"
	TypeVoiceOffer      Type = "voice-offer"
	TypeVoiceAnswer     Type = "voice-answer"
	TypeVoiceCandidate  Type = "voice-candidate"
)

// Outbound event types (coordinator to client). Chat, bot chat, user-left and
// the voice signaling types are relayed under the same names they arrive with.
const (
	TypeChatHistory    Type = "chat-history"
	TypeBotChatHistory Type = "bot-chat-history"
	TypeStartTimer     Type = "start-timer"
	TypeRoomClosed     Type = "room-closed"
)

// AssistantUsername is the sender identity attached to assistant replies.
const AssistantUsername = "Chatbot"

// Event is the envelope every message on the session channel uses, in both
// directions. Data carries the event-specific payload and may be empty.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChatMessage is a single line of room chat, human or assistant.
type ChatMessage struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// New builds an outbound event envelope around the given payload.
func New(eventType Type, payload any) (Event, error) {
	evt := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		evt.Data = data
	}
	return evt, nil
}

// NewRaw builds an outbound event envelope around an already-encoded payload,
// used when relaying client payloads verbatim.
func NewRaw(eventType Type, data json.RawMessage) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
