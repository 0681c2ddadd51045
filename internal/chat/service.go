package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"chat-server/internal/database"
	"chat-server/internal/models"
	"chat-server/internal/protocol"
	"chat-server/internal/websocket"
	"chat-server/pkg/logger"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Store is the persistence collaborator of the delivery pipeline.
// *database.PostgresDB satisfies it.
type Store interface {
	GetMembership(ctx context.Context, roomID, username string) (*models.RoomMember, error)
	GetRoomMembers(ctx context.Context, roomID string) ([]models.RoomMember, error)
	GetRelatedUsers(ctx context.Context, username string) ([]string, error)
	AdvanceReadPointer(ctx context.Context, roomID, username string, messageID int) (int, error)
	SaveMessage(ctx context.Context, input models.MessageCreateInput) (*models.Message, error)
	LatestMessageID(ctx context.Context, roomID string) (int, error)
	UnreadMessagesUpTo(ctx context.Context, roomID, username string, messageID int) ([]models.Message, error)
	SaveInteraction(ctx context.Context, messageID int, username string, readAt time.Time) (bool, error)
}

// Gateway is what the pipeline needs from the connection hub.
// *websocket.Hub satisfies it.
type Gateway interface {
	SendTo(sess websocket.Session, p *protocol.Packet)
	Send(username string, p *protocol.Packet)
	Broadcast(usernames []string, p *protocol.Packet)
	IsOnline(username string) bool
}

// Service is the message delivery pipeline: it validates inbound send
// requests, persists them, replies with a correlated response, and fans
// the results out. It also owns read-receipt application and the
// presence/typing broadcasts.
type Service struct {
	store   Store
	gateway Gateway
	logger  *logger.Logger
}

func NewService(store Store, gateway Gateway, log *logger.Logger) *Service {
	if log == nil {
		log = logger.GlobalLogger
	}
	return &Service{store: store, gateway: gateway, logger: log}
}

// HandleSendMessage processes a SendMessageRequest packet. Whatever
// happens, the originating connection gets exactly one response carrying
// the request's correlation ID, so its optimistic message can leave the
// pending state.
func (s *Service) HandleSendMessage(ctx context.Context, sess websocket.Session, p *protocol.Packet) {
	var req protocol.SendMessageRequestPayload
	if err := p.DecodePayload(&req); err != nil {
		s.logger.Warn("send message from %s: %v", sess.Username(), err)
		s.respond(sess, p.CorrelationID, "", protocol.CodeInvalidMessage, nil)
		return
	}

	input := models.MessageCreateInput{
		RoomID: req.RoomID,
		Sender: sess.Username(),
		Type:   req.Type,
		Data:   req.Data,
	}
	if err := validate.Struct(&input); err != nil || strings.TrimSpace(input.Data) == "" {
		s.respond(sess, p.CorrelationID, req.RoomID, protocol.CodeInvalidMessage, nil)
		return
	}

	if _, err := s.store.GetMembership(ctx, req.RoomID, input.Sender); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.respond(sess, p.CorrelationID, req.RoomID, protocol.CodeForbidden, nil)
			return
		}
		s.logger.Error("membership lookup for %s in %s: %v", input.Sender, req.RoomID, err)
		s.respond(sess, p.CorrelationID, req.RoomID, protocol.CodeStorageError, nil)
		return
	}

	msg, err := s.store.SaveMessage(ctx, input)
	if err != nil {
		s.logger.Error("save message from %s to %s: %v", input.Sender, req.RoomID, err)
		s.respond(sess, p.CorrelationID, req.RoomID, protocol.CodeStorageError, nil)
		return
	}

	s.respond(sess, p.CorrelationID, req.RoomID, protocol.CodeOK, msg)
	s.broadcastMessage(ctx, msg)
}

// broadcastMessage delivers the persisted message to every room member
// except the sender; the sender reconciles through the correlated
// response instead, which keeps its optimistic copy from double-inserting.
func (s *Service) broadcastMessage(ctx context.Context, msg *models.Message) {
	members, err := s.store.GetRoomMembers(ctx, msg.RoomID)
	if err != nil {
		s.logger.Error("room members for %s: %v", msg.RoomID, err)
		return
	}

	packet, err := protocol.NewPacket(protocol.BroadcastMessagePacket, 0, msg)
	if err != nil {
		s.logger.Error("encode broadcast for message %d: %v", msg.ID, err)
		return
	}
	packet.From = msg.Sender

	usernames := make([]string, 0, len(members))
	for _, member := range members {
		if member.Username == msg.Sender {
			continue
		}
		usernames = append(usernames, member.Username)
	}
	s.gateway.Broadcast(usernames, packet)
}

func (s *Service) respond(sess websocket.Session, correlationID int, roomID string, code protocol.ResponseCode, msg *models.Message) {
	payload := protocol.SendMessageResponsePayload{Code: code, RoomID: roomID}
	if msg != nil {
		payload.MessageID = msg.ID
		payload.SentAt = msg.SentAt
	}

	packet, err := protocol.NewPacket(protocol.SendMessageResponsePacket, correlationID, payload)
	if err != nil {
		s.logger.Error("encode send response: %v", err)
		return
	}
	s.gateway.SendTo(sess, packet)
}

// HandleReadMessage processes a ReadMessage packet. Read packets are
// fire-and-forget: failures are logged, not answered. Applying the same
// read event twice produces no new interactions and no new broadcasts.
func (s *Service) HandleReadMessage(ctx context.Context, sess websocket.Session, p *protocol.Packet) {
	var req protocol.ReadMessagePayload
	if err := p.DecodePayload(&req); err != nil {
		s.logger.Warn("read message from %s: %v", sess.Username(), err)
		return
	}

	username := sess.Username()
	if _, err := s.store.GetMembership(ctx, req.RoomID, username); err != nil {
		s.logger.Warn("read message: %s is not a member of %s: %v", username, req.RoomID, err)
		return
	}

	upTo := req.MessageID
	if upTo == 0 {
		latest, err := s.store.LatestMessageID(ctx, req.RoomID)
		if err != nil {
			s.logger.Error("latest message for %s: %v", req.RoomID, err)
			return
		}
		upTo = latest
	}
	if upTo == 0 {
		return
	}

	// Unread lookup runs before the interactions are written, so it is the
	// pointer advance plus SaveInteraction's conflict handling that make
	// duplicate delivery a no-op.
	unread, err := s.store.UnreadMessagesUpTo(ctx, req.RoomID, username, upTo)
	if err != nil {
		s.logger.Error("unread messages for %s in %s: %v", username, req.RoomID, err)
		return
	}

	if _, err := s.store.AdvanceReadPointer(ctx, req.RoomID, username, upTo); err != nil {
		s.logger.Error("advance read pointer for %s in %s: %v", username, req.RoomID, err)
		return
	}

	members, err := s.store.GetRoomMembers(ctx, req.RoomID)
	if err != nil {
		s.logger.Error("room members for %s: %v", req.RoomID, err)
		return
	}
	usernames := make([]string, 0, len(members))
	for _, member := range members {
		usernames = append(usernames, member.Username)
	}

	readAt := time.Now()
	for _, msg := range unread {
		inserted, err := s.store.SaveInteraction(ctx, msg.ID, username, readAt)
		if err != nil {
			s.logger.Error("save interaction (%d, %s): %v", msg.ID, username, err)
			continue
		}
		if !inserted {
			continue
		}

		packet, err := protocol.NewPacket(protocol.BroadcastReadMessagePacket, 0, protocol.BroadcastReadMessagePayload{
			RoomID:    req.RoomID,
			MessageID: msg.ID,
			Username:  username,
			ReadAt:    readAt,
		})
		if err != nil {
			s.logger.Error("encode read receipt for %d: %v", msg.ID, err)
			continue
		}
		s.gateway.Broadcast(usernames, packet)
	}
}

// PresenceChanged broadcasts a user's online transition to everyone who
// shares a room with them. Wired to the hub's presence callback.
func (s *Service) PresenceChanged(username string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	related, err := s.store.GetRelatedUsers(ctx, username)
	if err != nil {
		s.logger.Error("related users for %s: %v", username, err)
		return
	}

	packet, err := protocol.NewPacket(protocol.PresencePacket, 0, protocol.PresencePayload{
		Username: username,
		Presence: online,
	})
	if err != nil {
		s.logger.Error("encode presence for %s: %v", username, err)
		return
	}
	s.gateway.Broadcast(related, packet)
}

// ConnectionOpened sends a fresh connection a snapshot of which related
// users are currently online, so the client does not start with a blank
// presence view. Wired to the hub's connect callback.
func (s *Service) ConnectionOpened(sess websocket.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	related, err := s.store.GetRelatedUsers(ctx, sess.Username())
	if err != nil {
		s.logger.Error("related users for %s: %v", sess.Username(), err)
		return
	}

	for _, username := range related {
		if !s.gateway.IsOnline(username) {
			continue
		}
		packet, err := protocol.NewPacket(protocol.PresencePacket, 0, protocol.PresencePayload{
			Username: username,
			Presence: true,
		})
		if err != nil {
			s.logger.Error("encode presence snapshot: %v", err)
			return
		}
		s.gateway.SendTo(sess, packet)
	}
}

// TypingChanged broadcasts a typing transition to the other members of
// the room. Wired to the typing coordinator, which has already debounced
// refreshes and enforced the expiry deadline.
func (s *Service) TypingChanged(roomID, username string, typing bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	members, err := s.store.GetRoomMembers(ctx, roomID)
	if err != nil {
		s.logger.Error("room members for %s: %v", roomID, err)
		return
	}

	packet, err := protocol.NewPacket(protocol.TypingEventPacket, 0, protocol.TypingEventPayload{
		RoomID:   roomID,
		Typing:   typing,
		Username: username,
	})
	if err != nil {
		s.logger.Error("encode typing event: %v", err)
		return
	}
	packet.From = username

	usernames := make([]string, 0, len(members))
	for _, member := range members {
		if member.Username == username {
			continue
		}
		usernames = append(usernames, member.Username)
	}
	s.gateway.Broadcast(usernames, packet)
}
