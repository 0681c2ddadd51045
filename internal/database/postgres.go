package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-server/internal/models"
	"chat-server/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// User Repository Implementation
func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, password_hash, created_at FROM users WHERE username = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (username, password_hash, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id, username, created_at`

	user := &models.User{PasswordHash: string(hash)}
	err = db.pool.QueryRow(ctx, query, req.Username, string(hash)).Scan(
		&user.ID, &user.Username, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Room Repository Implementation
func (db *PostgresDB) CreateRoom(ctx context.Context, name string, members ...string) (*models.Room, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room := &models.Room{}
	query := `
		INSERT INTO rooms (id, name, created_at) VALUES ($1, $2, NOW())
		RETURNING id, name, created_at`
	err = tx.QueryRow(ctx, query, uuid.NewString(), name).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	for _, member := range members {
		_, err := tx.Exec(ctx, `
			INSERT INTO room_members (room_id, username, last_message_read)
			VALUES ($1, $2, 0)
			ON CONFLICT (room_id, username) DO NOTHING`, room.ID, member)
		if err != nil {
			return nil, fmt.Errorf("failed to add member %s: %w", member, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

func (db *PostgresDB) GetRoomByID(ctx context.Context, roomID string) (*models.Room, error) {
	query := `SELECT id, name, created_at FROM rooms WHERE id = $1`

	room := &models.Room{}
	err := db.pool.QueryRow(ctx, query, roomID).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return room, nil
}

// Membership Repository Implementation
func (db *PostgresDB) GetMembership(ctx context.Context, roomID, username string) (*models.RoomMember, error) {
	query := `
		SELECT room_id, username, last_message_read
		FROM room_members WHERE room_id = $1 AND username = $2`

	member := &models.RoomMember{}
	err := db.pool.QueryRow(ctx, query, roomID, username).Scan(
		&member.RoomID, &member.Username, &member.LastMessageRead,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return member, nil
}

func (db *PostgresDB) GetRoomMembers(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	query := `
		SELECT room_id, username, last_message_read
		FROM room_members WHERE room_id = $1
		ORDER BY username`

	rows, err := db.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.RoomMember
	for rows.Next() {
		var m models.RoomMember
		if err := rows.Scan(&m.RoomID, &m.Username, &m.LastMessageRead); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *PostgresDB) GetRelatedUsers(ctx context.Context, username string) ([]string, error) {
	query := `
		SELECT DISTINCT other.username
		FROM room_members own
		JOIN room_members other ON own.room_id = other.room_id
		WHERE own.username = $1 AND other.username <> $1
		ORDER BY other.username`

	rows, err := db.pool.Query(ctx, query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PostgresDB) AdvanceReadPointer(ctx context.Context, roomID, username string, messageID int) (int, error) {
	// GREATEST keeps the pointer monotonic under duplicate or out-of-order delivery.
	query := `
		UPDATE room_members
		SET last_message_read = GREATEST(last_message_read, $3)
		WHERE room_id = $1 AND username = $2
		RETURNING last_message_read`

	var pointer int
	err := db.pool.QueryRow(ctx, query, roomID, username, messageID).Scan(&pointer)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	return pointer, nil
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, input models.MessageCreateInput) (*models.Message, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO messages (room_id, sender, type, data, sent_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, room_id, sender, type, data, sent_at`

	msg := &models.Message{}
	err = tx.QueryRow(ctx, query, input.RoomID, input.Sender, input.Type, input.Data).Scan(
		&msg.ID, &msg.RoomID, &msg.Sender, &msg.Type, &msg.Data, &msg.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	// The sender has read everything up to their own message.
	_, err = tx.Exec(ctx, `
		UPDATE room_members
		SET last_message_read = GREATEST(last_message_read, $3)
		WHERE room_id = $1 AND username = $2`, input.RoomID, input.Sender, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to advance sender read pointer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

func (db *PostgresDB) LatestMessageID(ctx context.Context, roomID string) (int, error) {
	query := `SELECT COALESCE(MAX(id), 0) FROM messages WHERE room_id = $1`

	var id int
	if err := db.pool.QueryRow(ctx, query, roomID).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (db *PostgresDB) UnreadMessagesUpTo(ctx context.Context, roomID, username string, messageID int) ([]models.Message, error) {
	query := `
		SELECT m.id, m.room_id, m.sender, m.type, m.data, m.sent_at
		FROM messages m
		WHERE m.room_id = $1 AND m.id <= $2 AND m.sender <> $3
		  AND NOT EXISTS (
			SELECT 1 FROM message_interactions i
			WHERE i.message_id = m.id AND i.username = $3
		  )
		ORDER BY m.id`

	rows, err := db.pool.Query(ctx, query, roomID, messageID, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (db *PostgresDB) GetRoomMessages(ctx context.Context, roomID string, offset, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT m.id, m.room_id, m.sender, m.type, m.data, m.sent_at
		FROM messages m
		WHERE m.room_id = $1
		ORDER BY m.id DESC
		OFFSET $2 LIMIT $3`

	rows, err := db.pool.Query(ctx, query, roomID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for i := range messages {
		interactions, err := db.getInteractions(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Interactions = interactions
	}

	return messages, nil
}

// Interaction Repository Implementation
func (db *PostgresDB) SaveInteraction(ctx context.Context, messageID int, username string, readAt time.Time) (bool, error) {
	query := `
		INSERT INTO message_interactions (message_id, username, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, username) DO NOTHING`

	tag, err := db.pool.Exec(ctx, query, messageID, username, readAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresDB) getInteractions(ctx context.Context, messageID int) ([]models.MessageInteraction, error) {
	query := `
		SELECT message_id, username, read_at
		FROM message_interactions WHERE message_id = $1
		ORDER BY read_at`

	rows, err := db.pool.Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var interactions []models.MessageInteraction
	for rows.Next() {
		var in models.MessageInteraction
		if err := rows.Scan(&in.MessageID, &in.Username, &in.ReadAt); err != nil {
			return nil, err
		}
		interactions = append(interactions, in)
	}

	return interactions, rows.Err()
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Type, &m.Data, &m.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
