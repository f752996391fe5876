package mutex

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/ryandielhenn/zephyrmutex/pkg/critical"
	"github.com/ryandielhenn/zephyrmutex/pkg/transport/inmem"
)

func TestRunMutualExclusion(t *testing.T) {
	const n = 4
	var cs critical.Section

	hub := inmem.NewHub()
	hub.Expect("proc", n)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	errs := make(chan error, n)
	procs := make([]*Process, n)
	var wg sync.WaitGroup
	for i := range n {
		ep := hub.Endpoint()
		defer ep.Close()

		behavior := Active
		if i == n-1 {
			behavior = Passive
		}
		p := New(ep, Config{
			// Longer than the run so that nobody is ever suspected.
			ReceiveTimeout:  5 * time.Second,
			MaxHold:         5 * time.Millisecond,
			IdleInterval:    time.Millisecond,
			Rand:            rand.New(rand.NewPCG(uint64(i), 7)),
			CriticalSection: cs.Hold,
		})
		procs[i] = p

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Init(ctx, "peer", behavior); err != nil {
				errs <- err
				return
			}
			errs <- p.Run(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("process stopped: %v", err)
		}
	}
	if o := cs.Overlaps(); o != 0 {
		t.Fatalf("%d overlapping critical sections", o)
	}
	if cs.Entries() == 0 {
		t.Fatal("nobody entered the critical section")
	}
	passive := procs[n-1].ID()
	if got := cs.PerHolder()[passive]; got != 0 {
		t.Fatalf("passive process %v entered %d times", passive, got)
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	_, g := newGroup(t, 1, Config{IdleInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g[0].Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunSurvivesCrash(t *testing.T) {
	const n = 4
	var cs critical.Section

	hub := inmem.NewHub()
	hub.Expect("proc", n)

	procs := make([]*Process, n)
	for i := range n {
		ep := hub.Endpoint()
		defer ep.Close()
		procs[i] = New(ep, Config{
			ReceiveTimeout:  30 * time.Millisecond,
			MaxHold:         10 * time.Millisecond,
			IdleInterval:    time.Millisecond,
			Rand:            rand.New(rand.NewPCG(uint64(i), 11)),
			CriticalSection: cs.Hold,
		})
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelInit()
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.Init(initCtx, "peer", Active)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("Init: %v", err)
		}
	}

	crashed := procs[n-1]
	hub.Crash(crashed.ID())
	survivors := procs[:n-1]

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	for i, p := range survivors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.Run(ctx)
		}()
	}
	wg.Wait()

	for i, p := range survivors {
		if errs[i] != nil {
			t.Fatalf("%v stopped: %v", p.ID(), errs[i])
		}
		if p.View().Contains(crashed.ID()) {
			t.Fatalf("%v still waits on crashed %v", p.ID(), crashed.ID())
		}
	}
	if o := cs.Overlaps(); o != 0 {
		t.Fatalf("%d overlapping critical sections", o)
	}
	if cs.Entries() == 0 {
		t.Fatal("nobody entered the critical section after the crash")
	}
	if got := cs.PerHolder()[crashed.ID()]; got != 0 {
		t.Fatalf("crashed process entered %d times", got)
	}
}
