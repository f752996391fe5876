package transport

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Mailbox is an unbounded FIFO inbox shared by the transport implementations.
// Put never blocks, so a slow receiver cannot stall the sender side.
type Mailbox struct {
	mu     sync.Mutex
	queue  []Packet
	notify chan struct{}
	closed bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Put appends p. Packets put after Close are dropped.
func (m *Mailbox) Put(p Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queue = append(m.queue, p)

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of pending packets.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Take returns the oldest packet sent by one of sources, waiting up to
// timeout. Packets from anyone else found ahead of it are discarded: the
// source set only ever shrinks, so they come from processes that are no
// longer members.
func (m *Mailbox) Take(ctx context.Context, sources []ID, timeout time.Duration) (Packet, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p, ok, err := m.pop(sources)
		if ok || err != nil {
			return p, ok, err
		}

		select {
		case <-m.notify:
		case <-timer.C:
			return Packet{}, false, nil
		case <-ctx.Done():
			return Packet{}, false, ctx.Err()
		}
	}
}

func (m *Mailbox) pop(sources []ID) (Packet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Packet{}, false, ErrClosed
	}
	for len(m.queue) > 0 {
		p := m.queue[0]
		m.queue[0] = Packet{}
		m.queue = m.queue[1:]
		if slices.Contains(sources, p.From) {
			return p, true, nil
		}
	}
	return Packet{}, false, nil
}

// Close wakes up any waiter; later Take calls fail with ErrClosed.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	close(m.notify)
}
