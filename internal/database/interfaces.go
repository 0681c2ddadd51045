package database

import (
	"context"
	"errors"
	"time"

	"chat-server/internal/models"
)

// ErrNotFound is returned when a referenced user, room, or membership does
// not exist.
var ErrNotFound = errors.New("not found")

type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
}

type RoomRepository interface {
	CreateRoom(ctx context.Context, name string, members ...string) (*models.Room, error)
	GetRoomByID(ctx context.Context, roomID string) (*models.Room, error)
}

type MembershipRepository interface {
	// GetMembership returns the membership of username in roomID, or
	// ErrNotFound when the user is not a member.
	GetMembership(ctx context.Context, roomID, username string) (*models.RoomMember, error)
	GetRoomMembers(ctx context.Context, roomID string) ([]models.RoomMember, error)
	// GetRelatedUsers returns every user that shares at least one room with
	// username, excluding username itself.
	GetRelatedUsers(ctx context.Context, username string) ([]string, error)
	// AdvanceReadPointer moves the member's read pointer to
	// max(current, messageID) and returns the effective pointer. The pointer
	// never moves backward.
	AdvanceReadPointer(ctx context.Context, roomID, username string, messageID int) (int, error)
}

type MessageRepository interface {
	// SaveMessage persists a message, assigning its ID and SentAt. The
	// sender's own read pointer advances to the new message.
	SaveMessage(ctx context.Context, input models.MessageCreateInput) (*models.Message, error)
	// LatestMessageID returns the highest message ID in the room, zero when
	// the room has no messages.
	LatestMessageID(ctx context.Context, roomID string) (int, error)
	// UnreadMessagesUpTo lists messages in the room with ID <= messageID that
	// were not authored by username and that username has not yet read.
	UnreadMessagesUpTo(ctx context.Context, roomID, username string, messageID int) ([]models.Message, error)
	GetRoomMessages(ctx context.Context, roomID string, offset, limit int) ([]models.Message, error)
}

type InteractionRepository interface {
	// SaveInteraction records that username read messageID. It reports
	// whether a new interaction was inserted; recording the same pair twice
	// is a no-op and returns false.
	SaveInteraction(ctx context.Context, messageID int, username string, readAt time.Time) (bool, error)
}

type Store interface {
	UserRepository
	RoomRepository
	MembershipRepository
	MessageRepository
	InteractionRepository
	Close() error
}
