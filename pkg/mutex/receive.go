package mutex

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmutex/internal/telemetry"
)

// ReceiveStep performs one bounded receive from the other members and
// applies the result to the local state. A timeout feeds the failure
// detector; malformed payloads are dropped.
func (p *Process) ReceiveStep(ctx context.Context) error {
	others := p.view.Others()
	pkt, ok, err := p.tr.ReceiveFrom(ctx, others, p.cfg.ReceiveTimeout)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	defer p.publish()

	if !ok {
		return p.onSilence(ctx, others)
	}

	msg, err := DecodeMessage(pkt.Payload)
	if err != nil {
		p.log.Warn("dropping packet", zap.Stringer("from", pkt.From), zap.Error(err))
		return nil
	}

	p.clock.Witness(msg.Time)
	p.misses.Observe(pkt.From)
	telemetry.MessagesReceived.WithLabelValues(p.self.String(), msg.Kind.String()).Inc()
	p.log.Debug("received",
		zap.Stringer("from", pkt.From),
		zap.Stringer("msg", msg),
		zap.Uint64("clock", p.clock.Now()),
	)

	if err := p.dispatch(ctx, pkt.From, msg); err != nil {
		return err
	}
	p.queue.normalize()
	return nil
}

func (p *Process) dispatch(ctx context.Context, from ID, msg Message) error {
	switch msg.Kind {
	case KindEnter:
		return p.onEnter(ctx, msg)
	case KindAllow:
		p.queue.push(msg)
	case KindRelease:
		return p.onRelease(from, msg)
	case KindTimeoutStep:
		return p.onTimeoutStep(ctx, msg)
	case KindTimeout:
		p.onTimeout(msg)
	}
	return nil
}

func (p *Process) onEnter(ctx context.Context, msg Message) error {
	if msg.Pid == p.self {
		// A peer moved our request back in its queue. Track the new stamp.
		if !p.requesting {
			p.log.Warn("ignoring reintegrated request while idle", zap.Stringer("msg", msg))
			return nil
		}
		p.queue.remove(func(m Message) bool { return m.Pid == p.self && m.Kind == KindEnter })
		p.queue.push(msg)
		return nil
	}
	if !p.view.Contains(msg.Pid) {
		p.log.Debug("ignoring request of non-member", zap.Stringer("msg", msg))
		return nil
	}

	p.queue.push(msg)
	return p.AllowToEnter(ctx, msg.Pid)
}

func (p *Process) onRelease(from ID, msg Message) error {
	if msg.Pid != from {
		if msg.Pid == p.self {
			// A peer moved our request back in its queue. The ENTER that
			// follows carries the new stamp; until then ours stays queued.
			p.log.Debug("ignoring release issued on our behalf", zap.Stringer("msg", msg), zap.Stringer("from", from))
			return nil
		}
		// Released on behalf of a suspected peer: its oldest request goes,
		// wherever it sits.
		if !p.queue.removeFirst(func(m Message) bool { return m.Pid == msg.Pid && m.Kind == KindEnter }) {
			p.log.Debug("no request to release", zap.Stringer("msg", msg), zap.Stringer("from", from))
		}
		return nil
	}

	head, ok := p.queue.head()
	if !ok || head.Pid != msg.Pid || head.Kind != KindEnter {
		err := &ViolationError{Op: "remote release", Message: msg}
		if ok {
			err.Head = &head
		}
		telemetry.Violations.WithLabelValues(p.self.String()).Inc()
		p.log.Error("inconsistent remote release", zap.Error(err), zap.Stringers("queue", []Message(p.queue)))
		return err
	}
	p.queue.popHead()
	return nil
}
