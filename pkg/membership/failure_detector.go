package membership

import "maps"

// Counts consecutive silences per peer. A peer is Suspect after its first
// miss and Dead once the count reaches the threshold.

type FailureDetector interface {
	Observe(id ID)  // peer was heard from; clears its count
	Miss(id ID) int // peer stayed silent; returns the new count
	State(id ID) State
	Reset() // forget every count, called after an expulsion
	Snapshot() map[ID]int
}

type State uint8

const (
	StateAlive State = iota
	StateSuspect
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// MissCounter is the FailureDetector used by the mutex process. It is not
// safe for concurrent use; the owning process is its only writer.
type MissCounter struct {
	threshold int
	misses    map[ID]int
}

func NewMissCounter(threshold int) *MissCounter {
	if threshold <= 0 {
		threshold = 3
	}
	return &MissCounter{threshold: threshold, misses: make(map[ID]int)}
}

func (c *MissCounter) Threshold() int { return c.threshold }

func (c *MissCounter) Observe(id ID) {
	delete(c.misses, id)
}

func (c *MissCounter) Miss(id ID) int {
	c.misses[id]++
	return c.misses[id]
}

func (c *MissCounter) State(id ID) State {
	switch n := c.misses[id]; {
	case n == 0:
		return StateAlive
	case n < c.threshold:
		return StateSuspect
	default:
		return StateDead
	}
}

func (c *MissCounter) Reset() {
	clear(c.misses)
}

// Snapshot copies the current counts.
func (c *MissCounter) Snapshot() map[ID]int {
	return maps.Clone(c.misses)
}
