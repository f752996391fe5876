package mutex

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmutex/internal/telemetry"
)

// Run drives the process until ctx is cancelled. While more than one member
// remains an active process competes for the critical section on a coin
// flip; otherwise it serves requests on another coin flip or idles.
//
// Run returns nil on cancellation and the first protocol or transport error
// otherwise.
func (p *Process) Run(ctx context.Context) error {
	p.log.Info("running", zap.Stringer("behavior", p.behavior))
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("stopping", zap.Error(err))
			return err
		}
	}
}

func (p *Process) step(ctx context.Context) error {
	if p.view.Len() > 1 && p.behavior == Active && p.flip() {
		return p.enterOnce(ctx)
	}
	if p.flip() {
		return p.ReceiveStep(ctx)
	}

	t := time.NewTimer(p.cfg.IdleInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return nil
}

// enterOnce acquires the critical section, holds it for a random duration
// and releases it.
func (p *Process) enterOnce(ctx context.Context) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}

	hold := time.Duration(p.cfg.Rand.Int64N(int64(p.cfg.MaxHold) + 1))
	p.log.Debug("holding critical section", zap.Duration("hold", hold))
	start := time.Now()
	csErr := p.cfg.CriticalSection(ctx, p.self, hold)
	telemetry.HoldDuration.WithLabelValues(p.self.String()).Observe(time.Since(start).Seconds())

	// Peers wait on our release even when we are shutting down.
	if err := p.Release(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if csErr != nil && ctx.Err() == nil {
		return csErr
	}
	return nil
}

func (p *Process) flip() bool {
	return p.cfg.Rand.IntN(2) == 0
}
