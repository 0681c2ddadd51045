package websocket

import (
	"context"
	"errors"
	"sync"

	"chat-server/internal/protocol"
)

var errTransportClosed = errors.New("transport closed")

type readResult struct {
	packet *protocol.Packet
	err    error
}

// mockTransport stands in for a websocket so hub behavior can be tested
// without a network. Inbound frames are fed through a channel; outbound
// packets are recorded.
type mockTransport struct {
	reads chan readResult

	mu    sync.Mutex
	wrote []*protocol.Packet

	// blockWrites, when set before connecting, stalls WritePacket until the
	// channel is closed. Used to simulate a peer that stops draining.
	blockWrites chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		reads: make(chan readResult, 16),
		done:  make(chan struct{}),
	}
}

func (t *mockTransport) ReadPacket() (*protocol.Packet, error) {
	select {
	case r := <-t.reads:
		return r.packet, r.err
	case <-t.done:
		return nil, errTransportClosed
	}
}

func (t *mockTransport) WritePacket(p *protocol.Packet) error {
	if t.blockWrites != nil {
		<-t.blockWrites
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	t.wrote = append(t.wrote, p)
	return nil
}

func (t *mockTransport) WriteClose() error { return nil }

func (t *mockTransport) Ping() error { return nil }

func (t *mockTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// feed delivers an inbound packet as if the peer had sent it.
func (t *mockTransport) feed(p *protocol.Packet) {
	t.reads <- readResult{packet: p}
}

// failRead makes the next read return a fatal transport error, simulating
// a dropped peer.
func (t *mockTransport) failRead() {
	t.reads <- readResult{err: errors.New("connection reset")}
}

// sent returns a snapshot of everything written to the peer so far.
func (t *mockTransport) sent() []*protocol.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*protocol.Packet, len(t.wrote))
	copy(out, t.wrote)
	return out
}

func (t *mockTransport) sentOfType(pt protocol.PacketType) []*protocol.Packet {
	var out []*protocol.Packet
	for _, p := range t.sent() {
		if p.Type == pt {
			out = append(out, p)
		}
	}
	return out
}

// recordingHandler captures dispatched request packets along with the
// session identity the hub attached to them.
type recordingHandler struct {
	mu        sync.Mutex
	sends     []*protocol.Packet
	reads     []*protocol.Packet
	sendUsers []string
	panicNext bool
}

func (h *recordingHandler) HandleSendMessage(_ context.Context, sess Session, p *protocol.Packet) {
	h.mu.Lock()
	if h.panicNext {
		h.panicNext = false
		h.mu.Unlock()
		panic("handler blew up")
	}
	h.sends = append(h.sends, p)
	h.sendUsers = append(h.sendUsers, sess.Username())
	h.mu.Unlock()
}

func (h *recordingHandler) HandleReadMessage(_ context.Context, _ Session, p *protocol.Packet) {
	h.mu.Lock()
	h.reads = append(h.reads, p)
	h.mu.Unlock()
}

func (h *recordingHandler) sendCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sends)
}

func (h *recordingHandler) readCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reads)
}

// presenceRecorder collects presence transitions fired by the hub.
type presenceRecorder struct {
	mu     sync.Mutex
	events []presenceEvent
}

type presenceEvent struct {
	username string
	online   bool
}

func (r *presenceRecorder) record(username string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, presenceEvent{username: username, online: online})
}

func (r *presenceRecorder) all() []presenceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]presenceEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *presenceRecorder) count(username string, online bool) int {
	n := 0
	for _, e := range r.all() {
		if e.username == username && e.online == online {
			n++
		}
	}
	return n
}
