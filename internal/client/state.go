// Package client implements the minimal state machine a chat client runs
// against the realtime protocol: optimistic local inserts keyed by
// correlation ID, one-for-one reconciliation against correlated
// responses, and idempotent merges of broadcast, read-receipt, presence,
// and typing events. It has no transport or rendering dependencies; the
// caller feeds it decoded payloads and reads the resulting view.
//
// The view is not safe for concurrent use. A client drives it from its
// single receive loop.
package client

import (
	"slices"
	"time"

	"chat-server/internal/models"
	"chat-server/internal/protocol"
)

// PendingStatus is the lifecycle of an optimistically-sent message.
type PendingStatus int

const (
	// StatusPending: staged locally, waiting for the correlated response.
	StatusPending PendingStatus = iota
	// StatusFailed: the server reported a failure; the message stays visible
	// so the user can retry it.
	StatusFailed
)

// PendingMessage is the local shadow of a message that has not been
// confirmed by the server yet.
type PendingMessage struct {
	CorrelationID int
	RoomID        string
	Type          models.MessageType
	Data          string
	StagedAt      time.Time
	Status        PendingStatus
	// Code holds the failure code when Status is StatusFailed.
	Code protocol.ResponseCode
}

// RoomView is the per-room client state: the confirmed message log plus
// the transient optimistic entries and the room's read/typing state.
type RoomView struct {
	roomID    string
	confirmed []models.Message
	byID      map[int]int // message ID -> index into confirmed
	pending   []*PendingMessage
	byCorr    map[int]*PendingMessage
	pointers  map[string]int
	typing    map[string]bool
}

func newRoomView(roomID string) *RoomView {
	return &RoomView{
		roomID:   roomID,
		byID:     make(map[int]int),
		byCorr:   make(map[int]*PendingMessage),
		pointers: make(map[string]int),
		typing:   make(map[string]bool),
	}
}

// Messages returns the confirmed log, ascending by message ID.
func (rv *RoomView) Messages() []models.Message {
	return rv.confirmed
}

// Pending returns the optimistic entries in staging order, including
// failed ones.
func (rv *RoomView) Pending() []*PendingMessage {
	return rv.pending
}

// ReadPointer returns the highest message ID the member is known to have
// read.
func (rv *RoomView) ReadPointer(username string) int {
	return rv.pointers[username]
}

// TypingUsers lists users currently composing in the room.
func (rv *RoomView) TypingUsers() []string {
	users := make([]string, 0, len(rv.typing))
	for username := range rv.typing {
		users = append(users, username)
	}
	slices.Sort(users)
	return users
}

// insert adds a confirmed message keeping the log ordered by ID. Messages
// already present are left untouched.
func (rv *RoomView) insert(msg models.Message) {
	if _, ok := rv.byID[msg.ID]; ok {
		return
	}
	idx, _ := slices.BinarySearchFunc(rv.confirmed, msg, func(a, b models.Message) int {
		return a.ID - b.ID
	})
	rv.confirmed = slices.Insert(rv.confirmed, idx, msg)
	for i := idx; i < len(rv.confirmed); i++ {
		rv.byID[rv.confirmed[i].ID] = i
	}
}

// View is the whole client-side state: rooms, presence, and the
// correlation source for outgoing requests.
type View struct {
	self   string
	corr   protocol.CorrelationSource
	rooms  map[string]*RoomView
	online map[string]bool
}

func NewView(self string) *View {
	return &View{
		self:   self,
		rooms:  make(map[string]*RoomView),
		online: make(map[string]bool),
	}
}

// Room returns the view for roomID, creating it on first use.
func (v *View) Room(roomID string) *RoomView {
	rv, ok := v.rooms[roomID]
	if !ok {
		rv = newRoomView(roomID)
		v.rooms[roomID] = rv
	}
	return rv
}

// Online reports the last known presence of a user.
func (v *View) Online(username string) bool {
	return v.online[username]
}

// SeedHistory merges server-fetched history into the confirmed log.
// Re-fetching an overlapping page is a no-op for messages already known.
func (v *View) SeedHistory(roomID string, history []models.Message) {
	rv := v.Room(roomID)
	for _, msg := range history {
		rv.insert(msg)
	}
}

// StageMessage records an optimistic message and returns its shadow
// entry. The entry's correlation ID goes into the outgoing request; the
// later response reconciles against it.
func (v *View) StageMessage(roomID string, typ models.MessageType, data string) *PendingMessage {
	rv := v.Room(roomID)
	pm := &PendingMessage{
		CorrelationID: v.corr.Next(),
		RoomID:        roomID,
		Type:          typ,
		Data:          data,
		StagedAt:      time.Now(),
		Status:        StatusPending,
	}
	rv.pending = append(rv.pending, pm)
	rv.byCorr[pm.CorrelationID] = pm
	return pm
}

// ApplySendResponse reconciles a correlated response against the matching
// shadow entry: a one-for-one replace on success, a visible failure mark
// otherwise. Redelivered responses are no-ops, so at most one confirmed
// message ever results from one staged message.
func (v *View) ApplySendResponse(correlationID int, resp protocol.SendMessageResponsePayload) {
	rv, pm := v.findPending(correlationID)
	if pm == nil {
		return
	}

	if resp.Code != protocol.CodeOK {
		pm.Status = StatusFailed
		pm.Code = resp.Code
		return
	}

	rv.removePending(pm)
	rv.insert(models.Message{
		ID:     resp.MessageID,
		RoomID: rv.roomID,
		Sender: v.self,
		Type:   pm.Type,
		Data:   pm.Data,
		SentAt: resp.SentAt,
	})
}

// ApplyBroadcast merges a broadcast message from another member.
// Duplicate delivery dedupes by message ID. The server never routes a
// sender's own message back through the broadcast path, so this cannot
// race the correlated response.
func (v *View) ApplyBroadcast(msg models.Message) {
	v.Room(msg.RoomID).insert(msg)
}

// ApplyReadReceipt advances the reader's pointer monotonically and
// records at most one interaction per (message, reader) pair.
func (v *View) ApplyReadReceipt(receipt protocol.BroadcastReadMessagePayload) {
	rv := v.Room(receipt.RoomID)
	if receipt.MessageID > rv.pointers[receipt.Username] {
		rv.pointers[receipt.Username] = receipt.MessageID
	}

	idx, ok := rv.byID[receipt.MessageID]
	if !ok {
		return
	}
	msg := &rv.confirmed[idx]
	for _, in := range msg.Interactions {
		if in.Username == receipt.Username {
			return
		}
	}
	msg.Interactions = append(msg.Interactions, models.MessageInteraction{
		MessageID: receipt.MessageID,
		Username:  receipt.Username,
		ReadAt:    receipt.ReadAt,
	})
}

// ApplyPresence merges an online/offline event. Reapplying the same event
// leaves the view unchanged.
func (v *View) ApplyPresence(p protocol.PresencePayload) {
	if p.Presence {
		v.online[p.Username] = true
	} else {
		delete(v.online, p.Username)
	}
}

// ApplyTyping merges a typing transition for a room.
func (v *View) ApplyTyping(t protocol.TypingEventPayload) {
	rv := v.Room(t.RoomID)
	if t.Typing {
		rv.typing[t.Username] = true
	} else {
		delete(rv.typing, t.Username)
	}
}

func (v *View) findPending(correlationID int) (*RoomView, *PendingMessage) {
	for _, rv := range v.rooms {
		if pm, ok := rv.byCorr[correlationID]; ok {
			return rv, pm
		}
	}
	return nil, nil
}

func (rv *RoomView) removePending(pm *PendingMessage) {
	delete(rv.byCorr, pm.CorrelationID)
	idx := slices.Index(rv.pending, pm)
	if idx != -1 {
		rv.pending = slices.Delete(rv.pending, idx, idx+1)
	}
}
