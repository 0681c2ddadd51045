package websocket

// presenceTracker derives per-user online state from a connection
// reference count. Guarded by the hub mutex: the count and the connection
// registry must change atomically together, otherwise two near-simultaneous
// disconnects of a user's last two connections could leave a stale count.
type presenceTracker struct {
	counts map[string]int
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{counts: make(map[string]int)}
}

// add increments the user's connection count and returns the new count.
// A return of 1 means the user just came online.
func (t *presenceTracker) add(username string) int {
	t.counts[username]++
	return t.counts[username]
}

// remove decrements the user's connection count and returns the new
// count. A return of 0 means the user just went offline.
func (t *presenceTracker) remove(username string) int {
	n, ok := t.counts[username]
	if !ok {
		return 0
	}
	n--
	if n <= 0 {
		delete(t.counts, username)
		return 0
	}
	t.counts[username] = n
	return n
}

func (t *presenceTracker) online(username string) bool {
	return t.counts[username] > 0
}
