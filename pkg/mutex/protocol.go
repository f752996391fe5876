package mutex

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmutex/internal/telemetry"
)

// RequestToEnter stamps a new ENTER, queues it and multicasts it to the
// other members. The request stays pending until Release.
func (p *Process) RequestToEnter(ctx context.Context) error {
	msg := Message{Time: p.clock.Tick(), Pid: p.self, Kind: KindEnter}
	p.queue.push(msg)
	p.requesting = true
	p.requestedAt = time.Now()
	p.log.Debug("requesting critical section", zap.Stringer("msg", msg))

	defer p.publish()
	return p.send(ctx, p.view.Others(), msg)
}

// AllowToEnter grants requester's pending ENTER.
func (p *Process) AllowToEnter(ctx context.Context, requester ID) error {
	msg := Message{Time: p.clock.Tick(), Pid: p.self, Kind: KindAllow}
	return p.send(ctx, []ID{requester}, msg)
}

// AllowedToEnter is the admission predicate: the head of the queue is this
// process's own ENTER and every other member has spoken after it, either by
// allowing it or with a later ENTER of its own. An empty queue admits.
func (p *Process) AllowedToEnter() bool {
	head, ok := p.queue.head()
	if !ok {
		return true
	}
	if head.Pid != p.self || head.Kind != KindEnter {
		return false
	}

	spoke := p.queue.spokeAfterHead()
	for _, peer := range p.view.Others() {
		if _, ok := spoke[peer]; !ok {
			return false
		}
	}
	return true
}

// Release leaves the critical section. The head of the queue must be this
// process's own ENTER; the remaining queue keeps only later ENTERs.
func (p *Process) Release(ctx context.Context) error {
	head, ok := p.queue.head()
	if !ok || head.Pid != p.self || head.Kind != KindEnter {
		err := &ViolationError{Op: "release", Message: Message{Pid: p.self, Kind: KindRelease}}
		if ok {
			err.Head = &head
		}
		telemetry.Violations.WithLabelValues(p.self.String()).Inc()
		p.log.Error("inconsistent local release", zap.Error(err), zap.Stringers("queue", []Message(p.queue)))
		return err
	}

	p.queue = p.queue.entersAfterHead()
	p.requesting = false
	p.holding = false
	msg := Message{Time: p.clock.Tick(), Pid: p.self, Kind: KindRelease}
	p.log.Info("left critical section", zap.Stringer("msg", msg))

	defer p.publish()
	return p.send(ctx, p.view.Others(), msg)
}

// Acquire requests the critical section and services the network until
// admitted.
func (p *Process) Acquire(ctx context.Context) error {
	if err := p.RequestToEnter(ctx); err != nil {
		return err
	}
	for !p.AllowedToEnter() {
		if err := p.ReceiveStep(ctx); err != nil {
			return err
		}
	}

	p.holding = true
	pid := p.self.String()
	telemetry.Entries.WithLabelValues(pid).Inc()
	telemetry.WaitDuration.WithLabelValues(pid).Observe(time.Since(p.requestedAt).Seconds())
	p.log.Info("entered critical section", zap.Uint64("clock", p.clock.Now()))
	p.publish()
	return nil
}

func (p *Process) send(ctx context.Context, targets []ID, msg Message) error {
	if len(targets) == 0 {
		return nil
	}
	if err := p.tr.SendTo(ctx, targets, msg.Encode()); err != nil {
		return fmt.Errorf("send %v: %w", msg.Kind, err)
	}
	telemetry.MessagesSent.WithLabelValues(p.self.String(), msg.Kind.String()).Add(float64(len(targets)))
	return nil
}
