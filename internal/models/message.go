package models

import "time"

// MessageType determines how the message data should be interpreted.
type MessageType int

const (
	_ MessageType = iota
	// TextMessage data is a UTF-8 encoded string.
	TextMessage
)

// Message is a chat message. The ID and SentAt are assigned by the server
// once the message is persisted; the struct is immutable afterwards except
// for the append-only Interactions list.
type Message struct {
	ID           int                  `json:"id"`
	RoomID       string               `json:"room_id"`
	Sender       string               `json:"sender"`
	Type         MessageType          `json:"type"`
	Data         string               `json:"data"`
	SentAt       time.Time            `json:"sent_at"`
	Interactions []MessageInteraction `json:"interactions,omitempty"`
}

// MessageInteraction records that a user has read a message. At most one
// interaction exists per (message, username) pair.
type MessageInteraction struct {
	MessageID int       `json:"message_id"`
	Username  string    `json:"username"`
	ReadAt    time.Time `json:"read_at"`
}

// MessageCreateInput is the input for persisting a new message.
type MessageCreateInput struct {
	RoomID string      `json:"room_id" validate:"required"`
	Sender string      `json:"sender" validate:"required"`
	Type   MessageType `json:"type" validate:"required"`
	Data   string      `json:"data" validate:"required"`
}
