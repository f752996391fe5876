package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseID(t *testing.T) {
	for in, want := range map[string]ID{
		"7":      7,
		"Proc-7": 7,
		"0":      0,
	} {
		got, err := ParseID(in)
		if err != nil || got != want {
			t.Fatalf("ParseID(%q) = (%v,%v), want (%v,nil)", in, got, err, want)
		}
	}
	if _, err := ParseID("Proc-x"); err == nil {
		t.Fatalf("ParseID(Proc-x) succeeded, want error")
	}
	if got := ID(3).String(); got != "Proc-3" {
		t.Fatalf("String = %q, want Proc-3", got)
	}
}

func TestMailboxFIFO(t *testing.T) {
	m := NewMailbox()
	for i := range 5 {
		m.Put(Packet{From: 1, Payload: []byte{byte(i)}})
	}

	for i := range 5 {
		p, ok, err := m.Take(context.Background(), []ID{1}, time.Second)
		if err != nil || !ok {
			t.Fatalf("Take #%d = (%v,%v)", i, ok, err)
		}
		if p.Payload[0] != byte(i) {
			t.Fatalf("Take #%d returned payload %d, want %d", i, p.Payload[0], i)
		}
	}
}

func TestMailboxDropsNonSources(t *testing.T) {
	m := NewMailbox()
	m.Put(Packet{From: 9, Payload: []byte("stale")})
	m.Put(Packet{From: 2, Payload: []byte("fresh")})

	p, ok, err := m.Take(context.Background(), []ID{1, 2}, time.Second)
	if err != nil || !ok {
		t.Fatalf("Take = (%v,%v)", ok, err)
	}
	if p.From != 2 {
		t.Fatalf("Take returned packet from %v, want Proc-2", p.From)
	}
	if m.Len() != 0 {
		t.Fatalf("Len = %d, want 0", m.Len())
	}
}

func TestMailboxTimeout(t *testing.T) {
	m := NewMailbox()
	start := time.Now()
	_, ok, err := m.Take(context.Background(), []ID{1}, 50*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("Take on empty mailbox = (%v,%v), want (false,nil)", ok, err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("Take returned before the timeout")
	}
}

func TestMailboxWakesOnPut(t *testing.T) {
	m := NewMailbox()
	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Put(Packet{From: 1})
	}()

	_, ok, err := m.Take(context.Background(), []ID{1}, 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("Take = (%v,%v), want packet", ok, err)
	}
}

func TestMailboxCloseAndCancel(t *testing.T) {
	m := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := m.Take(ctx, []ID{1}, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("Take with cancelled ctx err = %v, want context.Canceled", err)
	}

	m.Close()
	m.Put(Packet{From: 1})
	if _, _, err := m.Take(context.Background(), []ID{1}, time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("Take after Close err = %v, want ErrClosed", err)
	}
}
