package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrClosed   = errors.New("transport: closed")
	ErrNotBound = errors.New("transport: not bound")
)

// ID identifies a process inside a group. Ids are handed out by Join and
// compare numerically.
type ID uint64

func (id ID) String() string {
	return "Proc-" + strconv.FormatUint(uint64(id), 10)
}

// ParseID accepts both the bare number and the "Proc-<n>" form.
func ParseID(s string) (ID, error) {
	s = strings.TrimPrefix(s, "Proc-")
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", s, err)
	}
	return ID(n), nil
}

// Packet is one payload as delivered to a receiver, tagged with the id of the
// process that sent it.
type Packet struct {
	From    ID
	Payload []byte
}

// Transport is everything the mutex process needs from the network:
// group membership and best-effort multicast with a bounded receive.
//
// Implementations must preserve per-sender FIFO order.
type Transport interface {
	// Join registers a new identity in group and returns it.
	Join(ctx context.Context, group string) (ID, error)
	// Bind makes id reachable. Peers cannot deliver to it before Bind returns.
	Bind(ctx context.Context, id ID) error
	// Subgroup returns the membership of group at call time, sorted.
	Subgroup(ctx context.Context, group string) ([]ID, error)
	// SendTo multicasts payload to targets. Delivery is not acknowledged.
	SendTo(ctx context.Context, targets []ID, payload []byte) error
	// ReceiveFrom blocks up to timeout for a packet from one of sources.
	// ok is false when the timeout expired.
	ReceiveFrom(ctx context.Context, sources []ID, timeout time.Duration) (p Packet, ok bool, err error)
	Close() error
}
