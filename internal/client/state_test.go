package client

import (
	"testing"
	"time"

	"chat-server/internal/models"
	"chat-server/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageIDs(msgs []models.Message) []int {
	ids := make([]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestStageMessageAssignsUniqueCorrelationIDs(t *testing.T) {
	v := NewView("alice")

	p1 := v.StageMessage("r1", models.TextMessage, "one")
	p2 := v.StageMessage("r1", models.TextMessage, "two")
	p3 := v.StageMessage("r2", models.TextMessage, "three")

	assert.NotZero(t, p1.CorrelationID)
	assert.NotEqual(t, p1.CorrelationID, p2.CorrelationID)
	assert.NotEqual(t, p2.CorrelationID, p3.CorrelationID)

	assert.Len(t, v.Room("r1").Pending(), 2)
	assert.Len(t, v.Room("r2").Pending(), 1)
	assert.Equal(t, StatusPending, p1.Status)
}

func TestSendResponseConfirmsPendingOneForOne(t *testing.T) {
	v := NewView("alice")
	pm := v.StageMessage("r1", models.TextMessage, "hello")

	sentAt := time.Now()
	v.ApplySendResponse(pm.CorrelationID, protocol.SendMessageResponsePayload{
		Code:      protocol.CodeOK,
		RoomID:    "r1",
		MessageID: 7,
		SentAt:    sentAt,
	})

	room := v.Room("r1")
	assert.Empty(t, room.Pending(), "confirmation removes the optimistic entry")

	msgs := room.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 7, msgs[0].ID)
	assert.Equal(t, "alice", msgs[0].Sender)
	assert.Equal(t, "hello", msgs[0].Data)
	assert.True(t, sentAt.Equal(msgs[0].SentAt))
}

func TestSendResponseRedeliveryIsNoop(t *testing.T) {
	v := NewView("alice")
	pm := v.StageMessage("r1", models.TextMessage, "hello")

	resp := protocol.SendMessageResponsePayload{Code: protocol.CodeOK, RoomID: "r1", MessageID: 7}
	v.ApplySendResponse(pm.CorrelationID, resp)
	v.ApplySendResponse(pm.CorrelationID, resp)

	assert.Len(t, v.Room("r1").Messages(), 1)
	assert.Empty(t, v.Room("r1").Pending())
}

func TestSendResponseUnknownCorrelationIsNoop(t *testing.T) {
	v := NewView("alice")
	v.StageMessage("r1", models.TextMessage, "hello")

	v.ApplySendResponse(9999, protocol.SendMessageResponsePayload{Code: protocol.CodeOK, MessageID: 1})

	assert.Empty(t, v.Room("r1").Messages())
	assert.Len(t, v.Room("r1").Pending(), 1)
}

func TestFailedMessageStaysVisibleForRetry(t *testing.T) {
	v := NewView("alice")
	pm := v.StageMessage("r1", models.TextMessage, "hello")

	v.ApplySendResponse(pm.CorrelationID, protocol.SendMessageResponsePayload{
		Code:   protocol.CodeStorageError,
		RoomID: "r1",
	})

	room := v.Room("r1")
	assert.Empty(t, room.Messages())
	require.Len(t, room.Pending(), 1)
	assert.Equal(t, StatusFailed, room.Pending()[0].Status)
	assert.Equal(t, protocol.CodeStorageError, room.Pending()[0].Code)
	assert.Equal(t, "hello", room.Pending()[0].Data)
}

func TestBroadcastsArriveOutOfOrder(t *testing.T) {
	v := NewView("alice")

	for _, id := range []int{3, 1, 2} {
		v.ApplyBroadcast(models.Message{ID: id, RoomID: "r1", Sender: "bob", Data: "m"})
	}

	assert.Equal(t, []int{1, 2, 3}, messageIDs(v.Room("r1").Messages()))
}

func TestBroadcastRedeliveryDedupes(t *testing.T) {
	v := NewView("alice")
	msg := models.Message{ID: 4, RoomID: "r1", Sender: "bob", Data: "once"}

	v.ApplyBroadcast(msg)
	v.ApplyBroadcast(msg)

	assert.Equal(t, []int{4}, messageIDs(v.Room("r1").Messages()))
}

func TestConfirmationInterleavesWithBroadcasts(t *testing.T) {
	v := NewView("alice")
	pm := v.StageMessage("r1", models.TextMessage, "mine")

	v.ApplyBroadcast(models.Message{ID: 1, RoomID: "r1", Sender: "bob", Data: "before"})
	v.ApplySendResponse(pm.CorrelationID, protocol.SendMessageResponsePayload{
		Code: protocol.CodeOK, RoomID: "r1", MessageID: 2,
	})
	v.ApplyBroadcast(models.Message{ID: 3, RoomID: "r1", Sender: "bob", Data: "after"})

	assert.Equal(t, []int{1, 2, 3}, messageIDs(v.Room("r1").Messages()))
}

func TestSeedHistoryMergesOverlappingPages(t *testing.T) {
	v := NewView("alice")

	v.SeedHistory("r1", []models.Message{
		{ID: 2, RoomID: "r1", Sender: "bob"},
		{ID: 3, RoomID: "r1", Sender: "bob"},
	})
	v.SeedHistory("r1", []models.Message{
		{ID: 1, RoomID: "r1", Sender: "bob"},
		{ID: 2, RoomID: "r1", Sender: "bob"},
	})

	assert.Equal(t, []int{1, 2, 3}, messageIDs(v.Room("r1").Messages()))
}

func TestReadReceiptAdvancesPointerMonotonically(t *testing.T) {
	v := NewView("alice")
	v.SeedHistory("r1", []models.Message{
		{ID: 1, RoomID: "r1", Sender: "alice"},
		{ID: 2, RoomID: "r1", Sender: "alice"},
	})

	v.ApplyReadReceipt(protocol.BroadcastReadMessagePayload{RoomID: "r1", MessageID: 2, Username: "bob"})
	v.ApplyReadReceipt(protocol.BroadcastReadMessagePayload{RoomID: "r1", MessageID: 1, Username: "bob"})

	assert.Equal(t, 2, v.Room("r1").ReadPointer("bob"), "a stale receipt must not move the pointer back")
}

func TestReadReceiptRecordsAtMostOneInteraction(t *testing.T) {
	v := NewView("alice")
	v.SeedHistory("r1", []models.Message{{ID: 1, RoomID: "r1", Sender: "alice"}})

	receipt := protocol.BroadcastReadMessagePayload{RoomID: "r1", MessageID: 1, Username: "bob", ReadAt: time.Now()}
	v.ApplyReadReceipt(receipt)
	v.ApplyReadReceipt(receipt)
	v.ApplyReadReceipt(protocol.BroadcastReadMessagePayload{RoomID: "r1", MessageID: 1, Username: "carol"})

	msgs := v.Room("r1").Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Interactions, 2)
	assert.Equal(t, "bob", msgs[0].Interactions[0].Username)
	assert.Equal(t, "carol", msgs[0].Interactions[1].Username)
}

func TestReadReceiptForUnknownMessageOnlyMovesPointer(t *testing.T) {
	v := NewView("alice")

	v.ApplyReadReceipt(protocol.BroadcastReadMessagePayload{RoomID: "r1", MessageID: 5, Username: "bob"})

	assert.Equal(t, 5, v.Room("r1").ReadPointer("bob"))
	assert.Empty(t, v.Room("r1").Messages())
}

func TestPresenceMergesIdempotently(t *testing.T) {
	v := NewView("alice")

	v.ApplyPresence(protocol.PresencePayload{Username: "bob", Presence: true})
	v.ApplyPresence(protocol.PresencePayload{Username: "bob", Presence: true})
	assert.True(t, v.Online("bob"))

	v.ApplyPresence(protocol.PresencePayload{Username: "bob", Presence: false})
	v.ApplyPresence(protocol.PresencePayload{Username: "bob", Presence: false})
	assert.False(t, v.Online("bob"))
	assert.False(t, v.Online("never-seen"))
}

func TestTypingMergesIdempotently(t *testing.T) {
	v := NewView("alice")

	v.ApplyTyping(protocol.TypingEventPayload{RoomID: "r1", Username: "bob", Typing: true})
	v.ApplyTyping(protocol.TypingEventPayload{RoomID: "r1", Username: "bob", Typing: true})
	v.ApplyTyping(protocol.TypingEventPayload{RoomID: "r1", Username: "carol", Typing: true})

	assert.Equal(t, []string{"bob", "carol"}, v.Room("r1").TypingUsers())

	v.ApplyTyping(protocol.TypingEventPayload{RoomID: "r1", Username: "bob", Typing: false})
	v.ApplyTyping(protocol.TypingEventPayload{RoomID: "r1", Username: "bob", Typing: false})

	assert.Equal(t, []string{"carol"}, v.Room("r1").TypingUsers())
}
