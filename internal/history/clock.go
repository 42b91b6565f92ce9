package history

import "sync/atomic"

// Timestamp is a logical time within one procedure's analysis. It orders
// events produced by that analysis only; timestamps of different procedures
// are unrelated unless spliced together by a Call event.
type Timestamp int64

// Clock is a monotonic logical clock for event ordering.
//
// NEVER use wall-clock time for ordering events: replaying the same analysis
// must produce identical histories.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// Next returns the next timestamp and advances the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() Timestamp {
	return Timestamp(c.seq.Add(1))
}

// Current returns the last issued timestamp without advancing.
func (c *Clock) Current() Timestamp {
	return Timestamp(c.seq.Load())
}
