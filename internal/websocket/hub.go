package websocket

import (
	"context"
	"slices"
	"sync"
	"time"

	"chat-server/internal/protocol"
	"chat-server/pkg/logger"

	"github.com/gorilla/websocket"
)

// Handler receives inbound request packets routed by the hub. Typing
// events are consumed by the hub's own typing coordinator and never reach
// the handler.
type Handler interface {
	HandleSendMessage(ctx context.Context, sess Session, p *protocol.Packet)
	HandleReadMessage(ctx context.Context, sess Session, p *protocol.Packet)
}

// PresenceFunc is notified when a user crosses the offline/online
// boundary in either direction.
type PresenceFunc func(username string, online bool)

// ConnectFunc is notified for every new registered connection.
type ConnectFunc func(sess Session)

// Hub owns all live connections, keyed by username. It routes inbound
// packets to the handler and fans outbound packets out to connections.
// Presence refcounts and the typing coordinator are hub instance state,
// injected into whoever needs them; there are no package-level singletons.
type Hub struct {
	mu    sync.RWMutex
	conns map[string][]*Conn

	presence *presenceTracker
	typing   *TypingCoordinator

	handler    Handler
	onPresence PresenceFunc
	onConnect  ConnectFunc

	baseCtx       context.Context
	logger        *logger.Logger
	sendQueueSize int
	closeTimeout  time.Duration
	closed        bool
	wg            sync.WaitGroup
}

type HubOption func(*Hub)

func WithLogger(l *logger.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

func WithBaseContext(ctx context.Context) HubOption {
	return func(h *Hub) { h.baseCtx = ctx }
}

func WithSendQueueSize(n int) HubOption {
	return func(h *Hub) { h.sendQueueSize = n }
}

func WithCloseTimeout(d time.Duration) HubOption {
	return func(h *Hub) { h.closeTimeout = d }
}

func WithTypingTimeout(d time.Duration) HubOption {
	return func(h *Hub) { h.typing = NewTypingCoordinator(d) }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		conns:         make(map[string][]*Conn),
		presence:      newPresenceTracker(),
		typing:        NewTypingCoordinator(DefaultTypingTimeout),
		baseCtx:       context.Background(),
		logger:        logger.GlobalLogger,
		sendQueueSize: 256,
		closeTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetHandler installs the packet handler. Must be called before the hub
// accepts connections.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// OnPresenceChange installs the callback fired when a user comes online or
// goes offline.
func (h *Hub) OnPresenceChange(f PresenceFunc) {
	h.onPresence = f
}

// OnConnect installs the callback fired for every registered connection.
func (h *Hub) OnConnect(f ConnectFunc) {
	h.onConnect = f
}

// Typing exposes the hub's typing coordinator so the composition root can
// wire its transition broadcasts.
func (h *Hub) Typing() *TypingCoordinator {
	return h.typing
}

// ConnectWS binds an upgraded websocket connection to the given user and
// registers it with the hub.
func (h *Hub) ConnectWS(ws *websocket.Conn, username string) *Conn {
	return h.connect(newWSTransport(ws), username)
}

func (h *Hub) connect(tr transport, username string) *Conn {
	c := newConn(h, tr, username)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		tr.Close()
		c.state.Store(int32(StateClosed))
		return nil
	}
	h.conns[username] = append(h.conns[username], c)
	first := h.presence.add(username) == 1
	h.mu.Unlock()

	c.state.Store(int32(StateOpen))
	h.logger.Info("connection %s registered for %s", c.id, username)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()

	if h.onConnect != nil {
		go h.onConnect(c)
	}
	if first && h.onPresence != nil {
		go h.onPresence(username, true)
	}
	return c
}

// Unregister removes the connection and tears it down. It is safe to call
// more than once; teardown runs exactly once, and the user's presence
// refcount is decremented exactly once.
func (h *Hub) Unregister(c *Conn) {
	if c == nil {
		return
	}

	h.mu.Lock()
	removed := h.removeConn(c)
	last := false
	if removed {
		last = h.presence.remove(c.username) == 0
	}
	h.mu.Unlock()

	if !removed {
		return
	}

	c.state.Store(int32(StateClosing))
	c.cancel()
	close(c.send)
	h.logger.Info("connection %s unregistered for %s", c.id, c.username)

	if last && h.onPresence != nil {
		go h.onPresence(c.username, false)
	}
}

// removeConn must be called with h.mu held.
func (h *Hub) removeConn(c *Conn) bool {
	conns, ok := h.conns[c.username]
	if !ok {
		return false
	}
	idx := slices.Index(conns, c)
	if idx == -1 {
		return false
	}
	conns = slices.Delete(conns, idx, idx+1)
	if len(conns) == 0 {
		delete(h.conns, c.username)
	} else {
		h.conns[c.username] = conns
	}
	return true
}

// IsOnline reports whether the user has at least one live connection. It
// never reflects a connection that has completed teardown.
func (h *Hub) IsOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presence.online(username)
}

// Send enqueues the packet to every live connection of the user. A user
// with no connection is silently skipped; there is no store-and-forward
// at this layer.
func (h *Hub) Send(username string, p *protocol.Packet) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.sendLocked(username, p)
}

// Broadcast sends the packet to each named user. Order across users is
// unspecified; delivery to any single connection preserves enqueue order.
func (h *Hub) Broadcast(usernames []string, p *protocol.Packet) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, username := range usernames {
		h.sendLocked(username, p)
	}
}

// SendTo delivers a packet to one specific connection, used for
// correlated responses that must reach only the originating connection.
func (h *Hub) SendTo(sess Session, p *protocol.Packet) {
	c, ok := sess.(*Conn)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !slices.Contains(h.conns[c.username], c) {
		return
	}
	h.sendOrDisconnect(c, p)
}

// sendLocked must be called with h.mu read-held.
func (h *Hub) sendLocked(username string, p *protocol.Packet) {
	for _, c := range h.conns[username] {
		h.sendOrDisconnect(c, p)
	}
}

// sendOrDisconnect enqueues the packet or, when the connection's queue is
// blocked, schedules its teardown. Must be called with h.mu read-held.
func (h *Hub) sendOrDisconnect(c *Conn, p *protocol.Packet) {
	if !c.enqueue(p) {
		h.logger.Warn("send queue full, disconnecting %s (%s)", c.username, c.id)
		go h.Unregister(c)
	}
}

// dispatch routes one inbound packet. Decode failures and handler panics
// are contained to this dispatch; they never take down the connection or
// the hub.
func (h *Hub) dispatch(c *Conn, p *protocol.Packet) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panic on packet type %d from %s: %v", p.Type, c.username, r)
		}
	}()

	switch p.Type {
	case protocol.SendMessageRequestPacket:
		if h.handler != nil {
			h.handler.HandleSendMessage(c.ctx, c, p)
		}
	case protocol.ReadMessagePacket:
		if h.handler != nil {
			h.handler.HandleReadMessage(c.ctx, c, p)
		}
	case protocol.TypingEventPacket:
		var typing protocol.TypingEventPayload
		if err := p.DecodePayload(&typing); err != nil {
			h.logger.Warn("dropping typing event from %s: %v", c.username, err)
			return
		}
		if typing.Typing {
			h.typing.Start(typing.RoomID, c.username)
		} else {
			h.typing.Stop(typing.RoomID, c.username)
		}
	default:
		// Unknown types are ignored so the protocol stays forward-compatible
		// with additive packet kinds.
		h.logger.Warn("ignoring packet with unhandled type %d from %s", p.Type, c.username)
	}
}

// Close tears down every connection and waits for their pumps to exit,
// bounded by the close timeout.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Conn
	for _, conns := range h.conns {
		all = append(all, conns...)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.Unregister(c)
	}
	h.typing.Shutdown()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(h.closeTimeout)
	defer timer.Stop()
	select {
	case <-done:
		h.logger.Info("hub closed gracefully")
	case <-timer.C:
		h.logger.Warn("hub closed with timeout")
	}
}

// connCount reports the number of live connections for a user. Test hook.
func (h *Hub) connCount(username string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[username])
}
