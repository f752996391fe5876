// Package inmem is an in-process Transport: every endpoint of a Hub lives in
// the same address space and packets move through per-receiver mailboxes.
// It backs the simulation driver and multi-peer tests.
package inmem

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrmutex/pkg/transport"
)

type ID = transport.ID

// Hub connects the endpoints. Ids are allocated sequentially starting at 1.
type Hub struct {
	mu      sync.RWMutex
	next    ID
	groups  map[string][]ID
	boxes   map[ID]*transport.Mailbox
	crashed map[ID]bool
	expect  map[string]int
}

func NewHub() *Hub {
	return &Hub{
		groups:  make(map[string][]ID),
		boxes:   make(map[ID]*transport.Mailbox),
		crashed: make(map[ID]bool),
		expect:  make(map[string]int),
	}
}

// Expect makes Subgroup(group) wait until n processes have joined, so that
// peers started concurrently agree on the initial membership.
func (h *Hub) Expect(group string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expect[group] = n
}

// Endpoint returns a fresh transport attached to the hub. Each process
// needs its own endpoint.
func (h *Hub) Endpoint() *Endpoint {
	return &Endpoint{hub: h}
}

// Crash makes id silent: everything it sends and everything sent to it is
// dropped from now on.
func (h *Hub) Crash(id ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.crashed[id] = true
}

// Pending reports how many packets wait in id's mailbox.
func (h *Hub) Pending(id ID) int {
	h.mu.RLock()
	box := h.boxes[id]
	h.mu.RUnlock()
	if box == nil {
		return 0
	}
	return box.Len()
}

func (h *Hub) join(group string) ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.groups[group] = append(h.groups[group], h.next)
	return h.next
}

func (h *Hub) bind(id ID) (*transport.Mailbox, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.boxes[id]; ok {
		return nil, fmt.Errorf("inmem: %v already bound", id)
	}
	box := transport.NewMailbox()
	h.boxes[id] = box
	return box, nil
}

func (h *Hub) subgroup(group string) ([]ID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.groups[group]) < h.expect[group] {
		return nil, false
	}
	ids := slices.Clone(h.groups[group])
	slices.Sort(ids)
	return ids, true
}

// deliver holds the write lock so that a multicast lands in every target
// mailbox before any other packet does.
func (h *Hub) deliver(from ID, targets []ID, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.crashed[from] {
		return
	}
	for _, to := range targets {
		box, ok := h.boxes[to]
		if !ok || h.crashed[to] {
			continue
		}
		box.Put(transport.Packet{From: from, Payload: slices.Clone(payload)})
	}
}

func (h *Hub) unbind(id ID) {
	h.mu.Lock()
	box := h.boxes[id]
	delete(h.boxes, id)
	h.mu.Unlock()
	if box != nil {
		box.Close()
	}
}

// Endpoint is one process's view of the hub.
type Endpoint struct {
	hub *Hub

	mu   sync.Mutex
	id   ID
	box  *transport.Mailbox
	done bool
}

func (e *Endpoint) Join(_ context.Context, group string) (ID, error) {
	return e.hub.join(group), nil
}

func (e *Endpoint) Bind(_ context.Context, id ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return transport.ErrClosed
	}
	box, err := e.hub.bind(id)
	if err != nil {
		return err
	}
	e.id, e.box = id, box
	return nil
}

func (e *Endpoint) Subgroup(ctx context.Context, group string) ([]ID, error) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if ids, ok := e.hub.subgroup(group); ok {
			return ids, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("inmem: waiting for %s: %w", group, ctx.Err())
		}
	}
}

func (e *Endpoint) SendTo(_ context.Context, targets []ID, payload []byte) error {
	id, _, err := e.bound()
	if err != nil {
		return err
	}
	e.hub.deliver(id, targets, payload)
	return nil
}

func (e *Endpoint) ReceiveFrom(ctx context.Context, sources []ID, timeout time.Duration) (transport.Packet, bool, error) {
	_, box, err := e.bound()
	if err != nil {
		return transport.Packet{}, false, err
	}
	return box.Take(ctx, sources, timeout)
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return nil
	}
	e.done = true
	if e.box != nil {
		e.hub.unbind(e.id)
	}
	return nil
}

func (e *Endpoint) bound() (ID, *transport.Mailbox, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.done:
		return 0, nil, transport.ErrClosed
	case e.box == nil:
		return 0, nil, transport.ErrNotBound
	}
	return e.id, e.box, nil
}
