package protocol

import "sync/atomic"

// CorrelationSource issues correlation IDs for one connection's requests.
// IDs are a monotonic counter rather than a random draw: correlation scope
// is per connection, so a counter guarantees no collision among in-flight
// requests without any coordination.
type CorrelationSource struct {
	n atomic.Int64
}

// Next returns the next correlation ID. The zero ID is skipped so that 0
// can mean "uncorrelated" in server-originated pushes.
func (s *CorrelationSource) Next() int {
	return int(s.n.Add(1))
}
