package membership

import (
	"slices"
	"testing"
)

func TestNewViewSortsNumerically(t *testing.T) {
	v := NewView(10, []ID{10, 2, 33, 2, 4})

	if want := []ID{2, 4, 10, 33}; !slices.Equal(v.All(), want) {
		t.Fatalf("All = %v, want %v", v.All(), want)
	}
	if want := []ID{2, 4, 33}; !slices.Equal(v.Others(), want) {
		t.Fatalf("Others = %v, want %v", v.Others(), want)
	}
	if v.Self() != 10 || v.Len() != 4 {
		t.Fatalf("Self/Len = %v/%d", v.Self(), v.Len())
	}
}

func TestNewViewAddsSelf(t *testing.T) {
	v := NewView(5, []ID{1, 2})
	if !v.Contains(5) || len(v.Others()) != 2 {
		t.Fatalf("view %v/%v does not contain self exactly once", v.All(), v.Others())
	}
}

func TestWithoutIsCopyOnWrite(t *testing.T) {
	v := NewView(1, []ID{1, 2, 3})
	others := v.Others()

	w := v.Without(2)
	if w.Contains(2) || slices.Contains(w.Others(), 2) {
		t.Fatalf("Without(2) still contains 2: %v", w.All())
	}
	if !slices.Equal(others, []ID{2, 3}) || !v.Contains(2) {
		t.Fatalf("Without mutated the receiver: %v / %v", v.All(), others)
	}

	if got := w.Without(1); !slices.Equal(got.All(), w.All()) {
		t.Fatalf("Without(self) changed the view: %v", got.All())
	}
	if got := w.Without(99); !slices.Equal(got.All(), w.All()) {
		t.Fatalf("Without(unknown) changed the view: %v", got.All())
	}
}

func TestMissCounterStates(t *testing.T) {
	c := NewMissCounter(3)

	if s := c.State(7); s != StateAlive {
		t.Fatalf("initial state = %v, want alive", s)
	}
	for want := 1; want <= 3; want++ {
		if got := c.Miss(7); got != want {
			t.Fatalf("Miss #%d = %d", want, got)
		}
	}
	if s := c.State(7); s != StateDead {
		t.Fatalf("state after 3 misses = %v, want dead", s)
	}

	c.Miss(8)
	if s := c.State(8); s != StateSuspect {
		t.Fatalf("state after 1 miss = %v, want suspect", s)
	}
	c.Observe(8)
	if s := c.State(8); s != StateAlive {
		t.Fatalf("Observe did not clear the count")
	}

	snap := c.Snapshot()
	c.Reset()
	if c.State(7) != StateAlive || snap[7] != 3 {
		t.Fatalf("Reset/Snapshot mismatch: state=%v snap=%d", c.State(7), snap[7])
	}
}

func TestMissCounterDefaultThreshold(t *testing.T) {
	var fd FailureDetector = NewMissCounter(0)
	fd.Miss(5)
	fd.Miss(5)
	if s := fd.State(5); s != StateSuspect {
		t.Fatalf("state after 2 misses = %v, want suspect", s)
	}
	fd.Miss(5)
	if s := fd.State(5); s != StateDead {
		t.Fatalf("state after 3 misses = %v, want dead", s)
	}
}
