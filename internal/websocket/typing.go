package websocket

import (
	"sync"
	"time"
)

// DefaultTypingTimeout is how long a typing flag survives without a
// refresh before the coordinator clears it on the user's behalf.
const DefaultTypingTimeout = 5 * time.Second

// TypingTransitionFunc is notified on every actual typing transition:
// typing=true on false→true, typing=false on true→false (explicit stop or
// deadline expiry). Refreshes do not fire it.
type TypingTransitionFunc func(roomID, username string, typing bool)

type typingKey struct {
	roomID   string
	username string
}

type typingEntry struct {
	timer    *time.Timer
	deadline time.Time
}

// TypingCoordinator maintains a self-expiring typing flag per
// (room, user). Each flag has its own deadline timer that is rearmed on
// every refresh, so expiry fires exactly once per true→false transition.
type TypingCoordinator struct {
	mu      sync.Mutex
	entries map[typingKey]*typingEntry
	timeout time.Duration
	notify  TypingTransitionFunc
	stopped bool
}

func NewTypingCoordinator(timeout time.Duration) *TypingCoordinator {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingCoordinator{
		entries: make(map[typingKey]*typingEntry),
		timeout: timeout,
	}
}

// OnTransition installs the transition callback. Must be set before the
// coordinator receives events.
func (tc *TypingCoordinator) OnTransition(f TypingTransitionFunc) {
	tc.notify = f
}

// Start sets or refreshes the typing flag. Only a false→true transition
// produces a notification.
func (tc *TypingCoordinator) Start(roomID, username string) {
	key := typingKey{roomID: roomID, username: username}

	tc.mu.Lock()
	if tc.stopped {
		tc.mu.Unlock()
		return
	}
	if e, ok := tc.entries[key]; ok {
		// Refresh: push the deadline out, no transition.
		e.deadline = time.Now().Add(tc.timeout)
		e.timer.Reset(tc.timeout)
		tc.mu.Unlock()
		return
	}
	e := &typingEntry{deadline: time.Now().Add(tc.timeout)}
	e.timer = time.AfterFunc(tc.timeout, func() { tc.expire(key) })
	tc.entries[key] = e
	tc.mu.Unlock()

	if tc.notify != nil {
		tc.notify(roomID, username, true)
	}
}

// Stop clears the typing flag. A stop with no flag set is a no-op, so
// double-stops never produce duplicate notifications.
func (tc *TypingCoordinator) Stop(roomID, username string) {
	key := typingKey{roomID: roomID, username: username}

	tc.mu.Lock()
	e, ok := tc.entries[key]
	if !ok {
		tc.mu.Unlock()
		return
	}
	e.timer.Stop()
	delete(tc.entries, key)
	tc.mu.Unlock()

	if tc.notify != nil {
		tc.notify(roomID, username, false)
	}
}

// Typing reports whether the flag is currently set.
func (tc *TypingCoordinator) Typing(roomID, username string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	_, ok := tc.entries[typingKey{roomID: roomID, username: username}]
	return ok
}

// expire fires when a flag's deadline passes without a refresh. A fire
// that raced a concurrent refresh sees the pushed-out deadline and rearms
// instead of clearing.
func (tc *TypingCoordinator) expire(key typingKey) {
	tc.mu.Lock()
	e, ok := tc.entries[key]
	if !ok {
		tc.mu.Unlock()
		return
	}
	if remaining := time.Until(e.deadline); remaining > 0 {
		e.timer.Reset(remaining)
		tc.mu.Unlock()
		return
	}
	delete(tc.entries, key)
	tc.mu.Unlock()

	if tc.notify != nil {
		tc.notify(key.roomID, key.username, false)
	}
}

// Shutdown cancels all pending timers without emitting transitions.
func (tc *TypingCoordinator) Shutdown() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.stopped = true
	for key, e := range tc.entries {
		e.timer.Stop()
		delete(tc.entries, key)
	}
}
