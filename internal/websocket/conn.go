package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"chat-server/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

// Session is the identity a packet handler sees for the originating
// connection.
type Session interface {
	// ID is the process-unique connection identifier.
	ID() string
	// Username is the authenticated identity bound to the connection for its
	// lifetime.
	Username() string
}

// transport is the wire beneath a connection. It exists so hub and
// dispatch behavior can be tested without a network socket.
type transport interface {
	// ReadPacket blocks for the next inbound packet. It returns
	// protocol.ErrMalformedPacket for an undecodable frame, which is
	// non-fatal; any other error means the transport is dead.
	ReadPacket() (*protocol.Packet, error)
	WritePacket(*protocol.Packet) error
	// WriteClose sends the transport-level close notification.
	WriteClose() error
	Ping() error
	Close() error
}

// Conn is one live transport channel bound to exactly one authenticated
// user. A user may hold several concurrent connections (multi-device).
type Conn struct {
	id        string
	username  string
	createdAt time.Time

	tr    transport
	send  chan *protocol.Packet
	hub   *Hub
	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(hub *Hub, tr transport, username string) *Conn {
	ctx, cancel := context.WithCancel(hub.baseCtx)
	c := &Conn{
		id:        uuid.NewString(),
		username:  username,
		createdAt: time.Now(),
		tr:        tr,
		send:      make(chan *protocol.Packet, hub.sendQueueSize),
		hub:       hub,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Username() string { return c.username }

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) Context() context.Context { return c.ctx }

// enqueue queues a packet for delivery, reporting false when the send
// queue is full.
func (c *Conn) enqueue(p *protocol.Packet) bool {
	select {
	case c.send <- p:
		return true
	default:
		return false
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.hub.logger.Debug("exited read loop for %s (%s)", c.username, c.id)
	}()

	for {
		packet, err := c.tr.ReadPacket()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedPacket) {
				// A bad frame is contained to that frame.
				c.hub.logger.Warn("dropping malformed packet from %s: %v", c.username, err)
				continue
			}
			return
		}

		packet.From = c.username
		c.hub.dispatch(c, packet)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.tr.Close()
		c.state.Store(int32(StateClosed))
		c.hub.logger.Debug("exited write loop for %s (%s)", c.username, c.id)
	}()

	for {
		select {
		case packet, ok := <-c.send:
			if !ok {
				c.tr.WriteClose()
				return
			}
			if err := c.tr.WritePacket(packet); err != nil {
				c.hub.logger.Error("write to %s: %v", c.username, err)
				go c.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			if err := c.tr.Ping(); err != nil {
				go c.hub.Unregister(c)
				return
			}
		}
	}
}

// wsTransport adapts a gorilla websocket connection to the transport
// interface, handling deadlines and keepalive plumbing.
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadPacket() (*protocol.Packet, error) {
	mt, r, err := t.conn.NextReader()
	if err != nil {
		return nil, err
	}
	if mt != websocket.TextMessage {
		return nil, fmt.Errorf("%w: unexpected message type %d", protocol.ErrMalformedPacket, mt)
	}
	return protocol.Decode(r)
}

func (t *wsTransport) WritePacket(p *protocol.Packet) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := t.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := protocol.Encode(w, p); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (t *wsTransport) WriteClose() error {
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (t *wsTransport) Ping() error {
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
