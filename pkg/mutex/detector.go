package mutex

import (
	"context"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmutex/internal/telemetry"
	"github.com/ryandielhenn/zephyrmutex/pkg/membership"
)

// onSilence runs when a receive step timed out. Every member that has not
// spoken after the head of the queue collects a miss; at the threshold it
// is expelled, below it the others are warned with a TIMEOUT_STEP.
func (p *Process) onSilence(ctx context.Context, others []ID) error {
	telemetry.ReceiveTimeouts.WithLabelValues(p.self.String()).Inc()
	if len(p.queue) == 0 {
		return nil
	}
	p.log.Info("receive timed out", zap.Stringers("queue", []Message(p.queue)))

	spoke := p.queue.spokeAfterHead()
	for _, peer := range others {
		if _, ok := spoke[peer]; ok || !p.view.Contains(peer) {
			continue
		}

		n := p.misses.Miss(peer)
		state := p.misses.State(peer)
		telemetry.Suspicions.WithLabelValues(p.self.String(), peer.String()).Inc()
		p.log.Warn("peer silent", zap.Stringer("suspect", peer), zap.Int("misses", n), zap.Stringer("state", state))

		switch state {
		case membership.StateDead:
			p.expel(peer)
			if err := p.send(ctx, p.view.Others(), Message{Time: timeoutStamp, Pid: peer, Kind: KindTimeout}); err != nil {
				return err
			}
		case membership.StateSuspect:
			step := Message{Time: timeoutStepStamp, Pid: peer, Kind: KindTimeoutStep}
			p.queue.push(step)
			if err := p.send(ctx, p.view.Others(), step); err != nil {
				return err
			}
		}
	}
	return nil
}

// onTimeoutStep handles a peer's warning about suspect.
func (p *Process) onTimeoutStep(ctx context.Context, msg Message) error {
	suspect := msg.Pid
	if suspect == p.self {
		p.log.Warn("suspected by a peer", zap.Stringer("msg", msg))
		return nil
	}
	if !p.view.Contains(suspect) {
		return nil
	}

	p.misses.Miss(suspect)
	telemetry.Suspicions.WithLabelValues(p.self.String(), suspect.String()).Inc()
	if p.misses.State(suspect) == membership.StateDead {
		p.expel(suspect)
		return p.send(ctx, p.view.Others(), Message{Time: timeoutStamp, Pid: suspect, Kind: KindTimeout})
	}

	p.queue.remove(func(m Message) bool { return m.Pid == suspect && m.Kind == KindTimeoutStep })
	if head, ok := p.queue.head(); ok && head.Pid == suspect && head.Kind == KindEnter {
		return p.reintegrate(ctx, suspect)
	}
	return nil
}

// onTimeout handles a peer's decision to expel suspect.
func (p *Process) onTimeout(msg Message) {
	if msg.Pid == p.self {
		p.log.Warn("expelled by a peer", zap.Stringer("msg", msg))
		return
	}
	p.queue.remove(func(m Message) bool { return m.Pid == msg.Pid })
	p.expel(msg.Pid)
}

// expel removes peer from the view and drops its queue entries. Every miss
// count starts over afterwards.
func (p *Process) expel(peer ID) {
	p.misses.Reset()
	p.queue.remove(func(m Message) bool {
		return m.Pid == peer || m.Kind == KindTimeoutStep || m.Kind == KindTimeout
	})
	p.queue.normalize()
	if !p.view.Contains(peer) {
		return
	}

	p.view = p.view.Without(peer)
	telemetry.Expulsions.WithLabelValues(p.self.String()).Inc()
	p.log.Warn("peer presumed crashed, removed from coordination",
		zap.Stringer("peer", peer),
		zap.Stringers("members", p.view.All()),
	)
}

// reintegrate moves suspect's request, which sits at the head, to the back
// of the queue: it is released on suspect's behalf and requested again with
// a fresh stamp, then allowed.
func (p *Process) reintegrate(ctx context.Context, suspect ID) error {
	p.queue.popHead()

	release := Message{Time: p.clock.Tick(), Pid: suspect, Kind: KindRelease}
	if err := p.send(ctx, p.view.Others(), release); err != nil {
		return err
	}

	enter := Message{Time: p.clock.Tick(), Pid: suspect, Kind: KindEnter}
	p.queue.push(enter)
	if err := p.send(ctx, p.view.Others(), enter); err != nil {
		return err
	}

	telemetry.Reintegrations.WithLabelValues(p.self.String()).Inc()
	p.log.Warn("reintegrating suspect request",
		zap.Stringer("suspect", suspect),
		zap.Stringer("msg", enter),
		zap.Stringers("queue", []Message(p.queue)),
	)
	return p.AllowToEnter(ctx, suspect)
}
