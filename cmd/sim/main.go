package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmutex/internal/logging"
	"github.com/ryandielhenn/zephyrmutex/pkg/critical"
	"github.com/ryandielhenn/zephyrmutex/pkg/mutex"
	"github.com/ryandielhenn/zephyrmutex/pkg/transport/inmem"
)

type peer struct {
	proc   *mutex.Process
	ep     *inmem.Endpoint
	cancel context.CancelFunc
	err    error
}

func main() {
	n := flag.Int("n", 3, "number of peers")
	passive := flag.Int("passive", 0, "how many of them never request")
	duration := flag.Duration("duration", 10*time.Second, "length of the run")
	timeout := flag.Duration("timeout", 500*time.Millisecond, "receive timeout")
	hold := flag.Duration("hold", 200*time.Millisecond, "maximum time in the critical section")
	crash := flag.Int("crash", 0, "peers to crash during the run")
	crashAfter := flag.Duration("crash-after", 2*time.Second, "when to crash them")
	seed := flag.Uint64("seed", 0, "random seed, 0 picks one")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if *n < 1 || *passive < 0 || *passive > *n || *crash < 0 || *crash >= *n {
		fmt.Fprintln(os.Stderr, "need n >= 1, 0 <= passive <= n and 0 <= crash < n")
		os.Exit(2)
	}
	if *hold >= *timeout {
		fmt.Fprintln(os.Stderr, "need hold < timeout, a silent holder would be expelled")
		os.Exit(2)
	}
	if *seed == 0 {
		*seed = rand.Uint64()
	}
	log := logging.Must(*debug)
	defer log.Sync()

	hub := inmem.NewHub()
	hub.Expect("proc", *n)
	var cs critical.Section

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	peers := make([]*peer, *n)
	var wg sync.WaitGroup
	for i := range *n {
		behavior := mutex.Active
		if i >= *n-*passive {
			behavior = mutex.Passive
		}
		pctx, pcancel := context.WithCancel(ctx)
		ep := hub.Endpoint()
		p := &peer{
			ep:     ep,
			cancel: pcancel,
			proc: mutex.New(ep, mutex.Config{
				ReceiveTimeout:  *timeout,
				MaxHold:         *hold,
				Rand:            rand.New(rand.NewPCG(*seed, uint64(i))),
				CriticalSection: cs.Hold,
				Logger:          log,
			}),
		}
		peers[i] = p

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer ep.Close()
			if err := p.proc.Init(pctx, fmt.Sprintf("sim-%d", i), behavior); err != nil {
				p.err = err
				return
			}
			p.err = p.proc.Run(pctx)
		}()
	}

	if *crash > 0 {
		go func() {
			select {
			case <-time.After(*crashAfter):
			case <-ctx.Done():
				return
			}
			r := rand.New(rand.NewPCG(*seed, 0xc0ffee))
			for _, i := range r.Perm(*n)[:*crash] {
				id := peers[i].proc.Status().ID
				log.Warn("crashing peer", zap.Stringer("pid", id))
				hub.Crash(id)
				peers[i].cancel()
			}
		}()
	}

	start := time.Now()
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("seed %d, %d peers (%d passive, %d crashed) for %s\n", *seed, *n, *passive, *crash, elapsed.Round(time.Millisecond))
	fmt.Printf("critical section: %d entries, %d overlaps\n", cs.Entries(), cs.Overlaps())
	per := cs.PerHolder()
	failed := cs.Overlaps() > 0
	for _, p := range peers {
		s := p.proc.Status()
		fmt.Printf("  %v %-8s entries=%-4d clock=%-6d view=%v", s.ID, s.Behavior, per[s.ID], s.Clock, s.All)
		if p.err != nil {
			fmt.Printf(" error=%v", p.err)
			failed = true
		}
		fmt.Println()
	}
	if failed {
		os.Exit(1)
	}
}
