package mutex

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeDecode(t *testing.T) {
	msgs := []Message{
		{Time: 1, Pid: 1, Kind: KindEnter},
		{Time: 42, Pid: 7, Kind: KindAllow},
		{Time: 1 << 40, Pid: 3, Kind: KindRelease},
		{Time: timeoutStepStamp, Pid: 2, Kind: KindTimeoutStep},
		{Time: timeoutStamp, Pid: 9, Kind: KindTimeout},
	}
	for _, m := range msgs {
		got, err := DecodeMessage(m.Encode())
		if err != nil {
			t.Fatalf("DecodeMessage(%v): %v", m, err)
		}
		if got != m {
			t.Fatalf("DecodeMessage = %v, want %v", got, m)
		}
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	m := Message{Time: 5, Pid: 2, Kind: KindAllow}
	b := m.Encode()
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	b = protowire.AppendTag(b, 10, protowire.VarintType)
	b = protowire.AppendVarint(b, 77)

	got, err := DecodeMessage(b)
	if err != nil || got != m {
		t.Fatalf("DecodeMessage = (%v,%v), want %v", got, err, m)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := Message{Time: 300, Pid: 2, Kind: KindEnter}.Encode()
	badKind := protowire.AppendVarint(protowire.AppendTag(nil, fieldKind, protowire.VarintType), 99)
	hugeKind := protowire.AppendVarint(protowire.AppendTag(nil, fieldKind, protowire.VarintType), 1<<33+1)
	noKind := protowire.AppendVarint(protowire.AppendTag(nil, fieldTime, protowire.VarintType), 4)

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"truncated", valid[:len(valid)-2]},
		{"garbage", []byte{0xff, 0xff, 0xff}},
		{"bad kind", badKind},
		{"kind overflow", hugeKind},
		{"missing kind", noKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeMessage(tt.in); !errors.Is(err, ErrMalformed) {
				t.Fatalf("DecodeMessage err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestMessageOrder(t *testing.T) {
	tests := []struct {
		a, b Message
		want bool
	}{
		{Message{Time: 1, Pid: 5, Kind: KindEnter}, Message{Time: 2, Pid: 1, Kind: KindEnter}, true},
		{Message{Time: 3, Pid: 1, Kind: KindEnter}, Message{Time: 3, Pid: 2, Kind: KindEnter}, true},
		{Message{Time: 3, Pid: 2, Kind: KindEnter}, Message{Time: 3, Pid: 1, Kind: KindEnter}, false},
		{Message{Time: 3, Pid: 10, Kind: KindEnter}, Message{Time: 3, Pid: 9, Kind: KindEnter}, false},
		{Message{Time: 3, Pid: 1, Kind: KindEnter}, Message{Time: 3, Pid: 1, Kind: KindEnter}, false},
	}
	for _, tt := range tests {
		if got := tt.a.Less(tt.b); got != tt.want {
			t.Fatalf("%v.Less(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMessageString(t *testing.T) {
	m := Message{Time: 4, Pid: 2, Kind: KindTimeoutStep}
	if got, want := m.String(), "(4, Proc-2, TIMEOUT_STEP)"; got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
}
