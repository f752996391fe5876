package clock

import (
	"sync"
	"testing"
)

func TestZeroValue(t *testing.T) {
	var c Lamport
	if got := c.Now(); got != 0 {
		t.Fatalf("Now on zero clock = %d, want 0", got)
	}
	if got := c.Tick(); got != 1 {
		t.Fatalf("first Tick = %d, want 1", got)
	}
}

func TestWitness(t *testing.T) {
	tests := []struct {
		name    string
		current uint64
		witness uint64
		want    uint64
	}{
		{"smaller", 5, 3, 6},
		{"larger", 5, 10, 11},
		{"equal", 5, 5, 6},
		{"zero stamp", 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Lamport
			c.time.Store(tt.current)
			if got := c.Witness(tt.witness); got != tt.want {
				t.Fatalf("Witness(%d) = %d, want %d", tt.witness, got, tt.want)
			}
			if got := c.Now(); got != tt.want {
				t.Fatalf("Now after Witness = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMonotonic(t *testing.T) {
	var c Lamport
	var last uint64
	for i := range 1000 {
		var cur uint64
		if i%2 == 0 {
			cur = c.Tick()
		} else {
			cur = c.Witness(uint64(i / 3))
		}
		if cur <= last {
			t.Fatalf("clock went from %d to %d", last, cur)
		}
		last = cur
	}
}

func TestConcurrentTicks(t *testing.T) {
	var c Lamport
	const workers, ops = 50, 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for range ops {
				c.Tick()
			}
		}()
	}
	wg.Wait()

	if got := c.Now(); got != workers*ops {
		t.Fatalf("Now = %d, want %d", got, workers*ops)
	}
}

func TestCausality(t *testing.T) {
	var a, b Lamport
	a.Tick()
	sent := a.Tick()

	if got := b.Witness(sent); got <= sent {
		t.Fatalf("receiver clock %d not after send stamp %d", got, sent)
	}
}
