package node

import (
	"time"

	"github.com/ryandielhenn/zephyrmutex/pkg/mutex"
)

// StatusSource is anything publishing a mutex status snapshot.
type StatusSource interface {
	Status() mutex.Status
}

// Node is the HTTP face of one peer: liveness, status and metrics.
type Node struct {
	proc    StatusSource
	addr    string
	started time.Time
}

func NewNode(proc StatusSource, addr string) *Node {
	return &Node{proc: proc, addr: addr, started: time.Now()}
}

// Addr is the address peers reach the process at.
func (n *Node) Addr() string {
	return n.addr
}
