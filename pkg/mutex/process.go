package mutex

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmutex/internal/telemetry"
	"github.com/ryandielhenn/zephyrmutex/pkg/clock"
	"github.com/ryandielhenn/zephyrmutex/pkg/membership"
	"github.com/ryandielhenn/zephyrmutex/pkg/transport"
)

// Behavior decides whether a process competes for the critical section.
type Behavior uint8

const (
	// Active processes request entry from time to time.
	Active Behavior = iota
	// Passive processes never request but grant every request.
	Passive
)

func (b Behavior) String() string {
	if b == Passive {
		return "passive"
	}
	return "active"
}

// ParseBehavior accepts "active" and "passive".
func ParseBehavior(s string) (Behavior, error) {
	switch s {
	case "active", "ACTIVE":
		return Active, nil
	case "passive", "PASSIVE":
		return Passive, nil
	}
	return 0, fmt.Errorf("unknown behavior %q", s)
}

// CriticalSection is the work done while holding the lock. It runs on the
// process goroutine and should return once hold has elapsed.
type CriticalSection func(ctx context.Context, self ID, hold time.Duration) error

type Config struct {
	Group              string        // group to join, default "proc"
	ReceiveTimeout     time.Duration // bound of one receive step, default 3s
	MaxHold            time.Duration // upper bound of a random hold, default 2s, kept below ReceiveTimeout
	SuspicionThreshold int           // misses before expulsion, default 3
	IdleInterval       time.Duration // pause of the run loop when it neither requests nor receives, default 10ms
	Rand               *rand.Rand    // coin flips and hold times, default seeded from the runtime
	CriticalSection    CriticalSection
	Logger             *zap.Logger
}

func (c *Config) setDefaults() {
	if c.Group == "" {
		c.Group = "proc"
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = 3 * time.Second
	}
	if c.MaxHold <= 0 {
		c.MaxHold = 2 * time.Second
	}
	// A holder stays silent while inside; peers must not give up on it.
	if c.MaxHold >= c.ReceiveTimeout {
		c.MaxHold = c.ReceiveTimeout / 2
	}
	if c.SuspicionThreshold <= 0 {
		c.SuspicionThreshold = 3
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 10 * time.Millisecond
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if c.CriticalSection == nil {
		c.CriticalSection = sleep
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

func sleep(ctx context.Context, _ ID, hold time.Duration) error {
	t := time.NewTimer(hold)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process is one participant of the distributed mutual exclusion protocol.
//
// A Process is a single-writer actor: Init, RequestToEnter, AllowToEnter,
// Release, ReceiveStep, Acquire and Run must all be called from the same
// goroutine. Status may be called from anywhere.
type Process struct {
	cfg Config
	tr  transport.Transport
	log *zap.Logger

	self     ID
	name     string
	behavior Behavior

	clock  clock.Lamport
	queue  queue
	view   membership.View
	misses membership.FailureDetector

	requesting  bool
	holding     bool
	requestedAt time.Time

	status atomic.Pointer[Status]
}

func New(tr transport.Transport, cfg Config) *Process {
	cfg.setDefaults()
	p := &Process{
		cfg:    cfg,
		tr:     tr,
		log:    cfg.Logger,
		misses: membership.NewMissCounter(cfg.SuspicionThreshold),
	}
	p.publish()
	return p
}

// Init joins the group, binds and takes the membership snapshot the process
// coordinates with for the rest of its life.
func (p *Process) Init(ctx context.Context, name string, behavior Behavior) error {
	id, err := p.tr.Join(ctx, p.cfg.Group)
	if err != nil {
		return fmt.Errorf("join %s: %w", p.cfg.Group, err)
	}
	if err := p.tr.Bind(ctx, id); err != nil {
		return fmt.Errorf("bind %v: %w", id, err)
	}
	members, err := p.tr.Subgroup(ctx, p.cfg.Group)
	if err != nil {
		return fmt.Errorf("subgroup %s: %w", p.cfg.Group, err)
	}

	p.self = id
	p.name = name
	p.behavior = behavior
	p.view = membership.NewView(id, members)
	p.log = p.cfg.Logger.With(zap.Stringer("pid", id), zap.String("peer", name))

	p.log.Info("joined group",
		zap.String("group", p.cfg.Group),
		zap.Stringer("behavior", behavior),
		zap.Stringers("members", p.view.All()),
	)
	p.publish()
	return nil
}

func (p *Process) ID() ID { return p.self }

func (p *Process) Behavior() Behavior { return p.behavior }

// View returns the current membership view.
func (p *Process) View() membership.View { return p.view }

// Clock returns the current logical clock value.
func (p *Process) Clock() uint64 { return p.clock.Now() }

// Queue returns a copy of the local queue.
func (p *Process) Queue() []Message { return p.queue.clone() }

// Status is a point-in-time copy of the process state.
type Status struct {
	ID         ID            `json:"id"`
	Name       string        `json:"name"`
	Behavior   string        `json:"behavior"`
	Clock      uint64        `json:"clock"`
	Queue      []string      `json:"queue"`
	All        []ID          `json:"all"`
	Others     []ID          `json:"others"`
	Requesting bool          `json:"requesting"`
	Holding    bool          `json:"holding"`
	Misses     map[ID]int    `json:"misses"`
	Health     map[ID]string `json:"health"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Status returns the snapshot published after the last step.
func (p *Process) Status() Status {
	return *p.status.Load()
}

func (p *Process) publish() {
	others := p.view.Others()
	health := make(map[ID]string, len(others))
	for _, id := range others {
		health[id] = p.misses.State(id).String()
	}
	q := make([]string, len(p.queue))
	for i, m := range p.queue {
		q[i] = m.String()
	}
	p.status.Store(&Status{
		ID:         p.self,
		Name:       p.name,
		Behavior:   p.behavior.String(),
		Clock:      p.clock.Now(),
		Queue:      q,
		All:        p.view.All(),
		Others:     others,
		Requesting: p.requesting,
		Holding:    p.holding,
		Misses:     p.misses.Snapshot(),
		Health:     health,
		UpdatedAt:  time.Now(),
	})

	if p.self != 0 {
		pid := p.self.String()
		telemetry.QueueLength.WithLabelValues(pid).Set(float64(len(p.queue)))
		telemetry.Clock.WithLabelValues(pid).Set(float64(p.clock.Now()))
		telemetry.Members.WithLabelValues(pid).Set(float64(p.view.Len()))
	}
}
