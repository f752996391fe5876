package mutex

import (
	"cmp"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ryandielhenn/zephyrmutex/pkg/transport"
)

type ID = transport.ID

// Kind is the type of a protocol message.
type Kind uint8

const (
	KindEnter Kind = iota + 1
	KindAllow
	KindRelease
	KindTimeoutStep
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindEnter:
		return "ENTER"
	case KindAllow:
		return "ALLOW"
	case KindRelease:
		return "RELEASE"
	case KindTimeoutStep:
		return "TIMEOUT_STEP"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "INVALID"
	}
}

func (k Kind) valid() bool {
	return k >= KindEnter && k <= KindTimeout
}

// Stamps of the failure-detection messages. TIMEOUT is below every ENTER.
// A TIMEOUT_STEP ties with an ENTER stamped 1 and may sort behind it; it
// never counts as having spoken and is purged on expulsion and release.
const (
	timeoutStamp     uint64 = 0
	timeoutStepStamp uint64 = 1
)

// Message is the (timestamp, process, kind) tuple exchanged by peers.
//
// For ENTER, ALLOW and RELEASE, Pid is the process the message is about:
// the sender itself, except for reintegration messages sent on behalf of a
// suspected peer. For TIMEOUT_STEP and TIMEOUT, Pid is the suspected peer.
type Message struct {
	Time uint64
	Pid  ID
	Kind Kind
}

func (m Message) String() string {
	return fmt.Sprintf("(%d, %v, %v)", m.Time, m.Pid, m.Kind)
}

// compareMessages orders by (Time, Pid). Kind only breaks the remaining ties
// so that sorting is deterministic.
func compareMessages(a, b Message) int {
	if c := cmp.Compare(a.Time, b.Time); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Pid, b.Pid); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

// Less reports whether m is ordered before o.
func (m Message) Less(o Message) bool {
	return compareMessages(m, o) < 0
}

var ErrMalformed = errors.New("mutex: malformed message")

const (
	fieldTime protowire.Number = 1
	fieldPid  protowire.Number = 2
	fieldKind protowire.Number = 3
)

// Encode serializes m in protobuf wire format.
func (m Message) Encode() []byte {
	b := make([]byte, 0, 32)
	b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Time)
	b = protowire.AppendTag(b, fieldPid, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Pid))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))
	return b
}

// DecodeMessage parses a payload produced by Encode. Unknown fields are
// skipped.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldTime:
			m.Time = v
		case fieldPid:
			m.Pid = ID(v)
		case fieldKind:
			if v > uint64(KindTimeout) {
				return Message{}, fmt.Errorf("%w: kind %d", ErrMalformed, v)
			}
			m.Kind = Kind(v)
		}
	}

	if !m.Kind.valid() {
		return Message{}, fmt.Errorf("%w: kind %d", ErrMalformed, m.Kind)
	}
	return m, nil
}
