package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// PacketType identifies the payload schema of a packet.
type PacketType int

// Packet naming conventions:
// [name] | [request|response]? | packet
// Request/response pairs are used for operations that need feedback from
// the server; the response carries the correlation ID of the request.
const (
	_ PacketType = iota
	// SendMessageRequestPacket is sent by a client to deliver a message to a room.
	SendMessageRequestPacket
	// SendMessageResponsePacket is the server's reply to a SendMessageRequestPacket,
	// carrying the same correlation ID and the assigned message identity.
	SendMessageResponsePacket
	// BroadcastMessagePacket carries a persisted message to the other room members.
	BroadcastMessagePacket
	// ReadMessagePacket is sent by a client to mark room messages as read.
	ReadMessagePacket
	// BroadcastReadMessagePacket notifies room members that a user read a message.
	BroadcastReadMessagePacket
	// PresencePacket notifies a client of another user's online state.
	PresencePacket
	// TypingEventPacket signals a change in a user's typing status.
	TypingEventPacket
)

// ErrMalformedPacket is returned when a wire frame cannot be decoded into a
// packet. It is a protocol violation: callers log and drop the frame but
// keep the connection alive.
var ErrMalformedPacket = errors.New("malformed packet")

// Packet is the unit of wire exchange. Payload is opaque at this layer;
// its schema is determined by Type and validated by the handler.
type Packet struct {
	Type PacketType `json:"type"`
	// CorrelationID is chosen by the request issuer and echoed back verbatim
	// in the response. Uniqueness is scoped to one connection's in-flight
	// requests, not global.
	CorrelationID int `json:"correlationID"`
	// Payload is the encoded packet body. It marshals to a base64 string on
	// the wire.
	Payload []byte `json:"payload"`
	// From is the sender identity. Empty for server-originated pushes. It is
	// set on the server from the authenticated connection and must not be
	// trusted from clients.
	From   string    `json:"from,omitempty"`
	SentAt time.Time `json:"sentAt,omitzero"`
}

// NewPacket builds a packet with the payload marshaled to JSON.
func NewPacket(pt PacketType, correlationID int, payload any) (*Packet, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Packet{
		Type:          pt,
		CorrelationID: correlationID,
		Payload:       b,
		SentAt:        time.Now(),
	}, nil
}

// DecodePayload unmarshals the packet payload into v.
func (p *Packet) DecodePayload(v any) error {
	if err := json.Unmarshal(p.Payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedPacket, err)
	}
	return nil
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet{Type: %d, CorrelationID: %d, From: %s, Payload.Size: %d}",
		p.Type, p.CorrelationID, p.From, len(p.Payload))
}

// Encode writes the packet as a JSON frame.
func Encode(w io.Writer, p *Packet) error {
	if err := json.NewEncoder(w).Encode(p); err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	return nil
}

// Decode reads one JSON frame into a packet. Structural failures are
// reported as ErrMalformedPacket.
func Decode(r io.Reader) (*Packet, error) {
	var p Packet
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	return &p, nil
}
