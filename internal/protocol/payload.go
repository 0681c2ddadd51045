package protocol

import (
	"time"

	"chat-server/internal/models"
)

// ResponseCode indicates the outcome of a request/response exchange.
type ResponseCode int

const (
	CodeOK ResponseCode = iota
	// CodeForbidden: the sender is not a member of the target room.
	CodeForbidden
	// CodeInvalidMessage: the message body is empty or otherwise invalid.
	CodeInvalidMessage
	// CodeStorageError: persistence failed; the client should mark its
	// optimistic message as failed and offer a retry.
	CodeStorageError
)

type SendMessageRequestPayload struct {
	RoomID string             `json:"roomID"`
	Type   models.MessageType `json:"type"`
	Data   string             `json:"data"`
}

type SendMessageResponsePayload struct {
	Code   ResponseCode `json:"code"`
	RoomID string       `json:"roomID"`
	// MessageID is the server-assigned identity of the message. Zero when
	// Code is not CodeOK.
	MessageID int `json:"messageID"`
	// SentAt is the time the message was persisted, which is the point the
	// delivery is considered successful.
	SentAt time.Time `json:"sentAt"`
}

// ReadMessagePayload marks messages in a room as read. MessageID is the
// highest message to mark; zero means everything currently in the room.
type ReadMessagePayload struct {
	RoomID    string `json:"roomID"`
	MessageID int    `json:"messageID,omitempty"`
}

type BroadcastReadMessagePayload struct {
	RoomID    string    `json:"roomID"`
	MessageID int       `json:"messageID"`
	Username  string    `json:"username"`
	ReadAt    time.Time `json:"readAt"`
}

type BroadcastMessagePayload = models.Message

type TypingEventPayload struct {
	RoomID   string `json:"roomID"`
	Typing   bool   `json:"typing"`
	Username string `json:"username"`
}

type PresencePayload struct {
	Username string `json:"username"`
	Presence bool   `json:"presence"`
}
