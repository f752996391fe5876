// Package critical provides a shared resource that notices when two holders
// are inside it at the same time. Simulations and tests route every
// critical section through it to check mutual exclusion.
package critical

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrmutex/pkg/transport"
)

type ID = transport.ID

var ErrOverlap = errors.New("critical: overlapping holders")

// Event records one visit to the section.
type Event struct {
	Holder  ID
	Entered time.Time
	Exited  time.Time
}

type Section struct {
	mu       sync.Mutex
	holder   ID
	held     bool
	entered  time.Time
	trace    []Event
	overlaps int
}

// Enter marks holder as inside. If someone else is already inside the
// overlap is counted and an error naming both is returned.
func (s *Section) Enter(holder ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		s.overlaps++
		return fmt.Errorf("%w: %v entered while %v holds", ErrOverlap, holder, s.holder)
	}
	s.holder, s.held, s.entered = holder, true, time.Now()
	return nil
}

// Exit marks holder as gone. Exiting a section held by someone else is a
// no-op.
func (s *Section) Exit(holder ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held || s.holder != holder {
		return
	}
	s.trace = append(s.trace, Event{Holder: holder, Entered: s.entered, Exited: time.Now()})
	s.held = false
}

// Hold enters, waits for hold or ctx and exits. Its signature matches the
// critical-section callback of the mutex process.
func (s *Section) Hold(ctx context.Context, self ID, hold time.Duration) error {
	if err := s.Enter(self); err != nil {
		return err
	}
	defer s.Exit(self)

	t := time.NewTimer(hold)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries counts completed visits.
func (s *Section) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trace)
}

func (s *Section) Overlaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlaps
}

// Trace returns a copy of the completed visits in exit order.
func (s *Section) Trace() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.trace))
	copy(out, s.trace)
	return out
}

// PerHolder counts completed visits by holder.
func (s *Section) PerHolder() map[ID]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[ID]int)
	for _, e := range s.trace {
		counts[e.Holder]++
	}
	return counts
}
