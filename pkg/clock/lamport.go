// Package clock provides the Lamport logical clock used to stamp protocol
// messages.
package clock

import "sync/atomic"

// Lamport is a monotonically non-decreasing logical clock. The zero value
// starts at 0 and is ready to use.
type Lamport struct {
	time atomic.Uint64
}

// Now returns the current value without advancing it.
func (c *Lamport) Now() uint64 {
	return c.time.Load()
}

// Tick records a local event and returns the new value.
func (c *Lamport) Tick() uint64 {
	return c.time.Add(1)
}

// Witness merges a timestamp carried by a received message:
// the clock becomes max(local, t) + 1.
func (c *Lamport) Witness(t uint64) uint64 {
	for {
		cur := c.time.Load()
		next := max(cur, t) + 1
		if c.time.CompareAndSwap(cur, next) {
			return next
		}
	}
}
