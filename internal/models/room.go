package models

import "time"

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomMember is a user's membership in a room. LastMessageRead is the
// highest message ID the member has confirmed reading; it never moves
// backward.
type RoomMember struct {
	RoomID          string `json:"room_id"`
	Username        string `json:"username"`
	LastMessageRead int    `json:"last_message_read"`
}
