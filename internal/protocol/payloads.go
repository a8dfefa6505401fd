package protocol

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// NewEventID returns a fresh 128-bit event id in its string form, for
// producers that don't already have one (spec §4.4 Event.id).
func NewEventID() string {
	return uuid.NewString()
}

// Payload is the marker interface for the oneof carried by a Frame.
// Exactly one concrete type (or none, for AuthAck/AuthError/Ack) is
// ever attached to a given Frame.
type Payload interface {
	marshal() []byte
	payloadKind() Kind
}

// --- Auth -------------------------------------------------------------

// Auth carries a client's credentials and the namespaces it wants to
// authenticate for.
type Auth struct {
	ClientID   string
	Token      string
	Namespaces []string
}

func (a *Auth) payloadKind() Kind { return KindAuth }

func (a *Auth) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, a.ClientID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, a.Token)
	for _, ns := range a.Namespaces {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, ns)
	}
	return b
}

func unmarshalAuth(buf []byte) (*Auth, error) {
	a := &Auth{}
	return a, walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			a.ClientID = string(v)
		case 2:
			a.Token = string(v)
		case 3:
			a.Namespaces = append(a.Namespaces, string(v))
		}
		return nil
	})
}

// --- Ping / Pong --------------------------------------------------------

// Ping is the liveness probe, always accepted even before authentication.
type Ping struct {
	TimestampMs uint64
	Seq         uint64
}

func (p *Ping) payloadKind() Kind { return KindPing }

func (p *Ping) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, p.TimestampMs)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Seq)
	return b
}

func unmarshalPing(buf []byte) (*Ping, error) {
	p := &Ping{}
	return p, walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		n, err := consumeVarint(v)
		if err != nil {
			return err
		}
		switch num {
		case 1:
			p.TimestampMs = n
		case 2:
			p.Seq = n
		}
		return nil
	})
}

// Pong answers a Ping, echoing its fields and reporting server time.
type Pong struct {
	EchoTimestampMs uint64
	ServerTimeMs    uint64
	Seq             uint64
}

func (p *Pong) payloadKind() Kind { return KindPong }

func (p *Pong) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, p.EchoTimestampMs)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, p.ServerTimeMs)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Seq)
	return b
}

func unmarshalPong(buf []byte) (*Pong, error) {
	p := &Pong{}
	return p, walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		n, err := consumeVarint(v)
		if err != nil {
			return err
		}
		switch num {
		case 1:
			p.EchoTimestampMs = n
		case 2:
			p.ServerTimeMs = n
		case 3:
			p.Seq = n
		}
		return nil
	})
}

// --- Event / EventsBatch -------------------------------------------------

// Event is the unit of payload published by a producer and persisted
// until acknowledged.
type Event struct {
	ID        string
	Namespace string
	Type      string
	Message   string
	Data      []byte
	Timestamp int64
	Metadata  map[string]string
}

func (e *Event) payloadKind() Kind { return KindEvent }

func (e *Event) marshal() []byte {
	return appendEvent(nil, e)
}

func appendEvent(b []byte, e *Event) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, e.ID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, e.Namespace)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, e.Type)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, e.Message)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Data)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Timestamp))
	for k, v := range e.Metadata {
		entry := protowire.AppendTag(nil, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendString(entry, v)
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func unmarshalEvent(buf []byte) (*Event, error) {
	e := &Event{Metadata: map[string]string{}}
	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			e.ID = string(v)
		case 2:
			e.Namespace = string(v)
		case 3:
			e.Type = string(v)
		case 4:
			e.Message = string(v)
		case 5:
			e.Data = append([]byte(nil), v...)
		case 6:
			n, err := consumeVarint(v)
			if err != nil {
				return err
			}
			e.Timestamp = int64(n)
		case 7:
			key, val, err := unmarshalMapEntry(v)
			if err != nil {
				return err
			}
			e.Metadata[key] = val
		}
		return nil
	})
	return e, err
}

func unmarshalMapEntry(buf []byte) (key, val string, err error) {
	err = walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			key = string(v)
		case 2:
			val = string(v)
		}
		return nil
	})
	return key, val, err
}

// EventsBatch carries a set of events pushed in reply to FetchEvents,
// or (client→server, if ever used) a sequence of Event publishes.
type EventsBatch struct {
	Events []*Event
}

func (b *EventsBatch) payloadKind() Kind { return KindEventsBatch }

func (b *EventsBatch) marshal() []byte {
	var out []byte
	for _, e := range b.Events {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, appendEvent(nil, e))
	}
	return out
}

func unmarshalEventsBatch(buf []byte) (*EventsBatch, error) {
	eb := &EventsBatch{}
	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 {
			return nil
		}
		ev, err := unmarshalEvent(v)
		if err != nil {
			return err
		}
		eb.Events = append(eb.Events, ev)
		return nil
	})
	return eb, err
}

// --- FetchEvents / AckEvent ----------------------------------------------

// FetchEvents requests up to Limit persisted events per namespace
// (Limit == 0 means "server default cap").
type FetchEvents struct {
	Namespaces []string
	Limit      uint32
}

func (f *FetchEvents) payloadKind() Kind { return KindFetchEvents }

func (f *FetchEvents) marshal() []byte {
	var b []byte
	for _, ns := range f.Namespaces {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, ns)
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Limit))
	return b
}

func unmarshalFetchEvents(buf []byte) (*FetchEvents, error) {
	f := &FetchEvents{}
	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			f.Namespaces = append(f.Namespaces, string(v))
		case 2:
			n, err := consumeVarint(v)
			if err != nil {
				return err
			}
			f.Limit = uint32(n)
		}
		return nil
	})
	return f, err
}

// AckEvent removes a persisted event from its namespace partition,
// whether received as part of a fetch drain or on a fresh stream.
type AckEvent struct {
	Namespace string
	EventID   string
}

func (a *AckEvent) payloadKind() Kind { return KindAckEvent }

func (a *AckEvent) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, a.Namespace)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, a.EventID)
	return b
}

func unmarshalAckEvent(buf []byte) (*AckEvent, error) {
	a := &AckEvent{}
	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			a.Namespace = string(v)
		case 2:
			a.EventID = string(v)
		}
		return nil
	})
	return a, err
}

// --- shared decode helpers ------------------------------------------------

// walkFields iterates the tag/value pairs of a protobuf-encoded
// message, calling fn with the field number, wire type, and raw value
// bytes for each. Unknown field numbers are simply not matched by the
// caller's switch, giving forward-compatible skip-on-decode for free.
func walkFields(buf []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("protocol: malformed tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]

		var val []byte
		switch typ {
		case protowire.VarintType:
			_, m := protowire.ConsumeVarint(buf)
			if m < 0 {
				return fmt.Errorf("protocol: malformed varint field: %w", protowire.ParseError(m))
			}
			val = buf[:m]
			buf = buf[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(buf)
			if m < 0 {
				return fmt.Errorf("protocol: malformed bytes field: %w", protowire.ParseError(m))
			}
			val = v
			buf = buf[m:]
		case protowire.Fixed32Type:
			_, m := protowire.ConsumeFixed32(buf)
			if m < 0 {
				return fmt.Errorf("protocol: malformed fixed32 field: %w", protowire.ParseError(m))
			}
			buf = buf[m:]
			continue
		case protowire.Fixed64Type:
			_, m := protowire.ConsumeFixed64(buf)
			if m < 0 {
				return fmt.Errorf("protocol: malformed fixed64 field: %w", protowire.ParseError(m))
			}
			buf = buf[m:]
			continue
		default:
			m := protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return fmt.Errorf("protocol: malformed field %d: %w", num, protowire.ParseError(m))
			}
			buf = buf[m:]
			continue
		}

		if err := fn(num, typ, val); err != nil {
			return err
		}
	}
	return nil
}

func consumeVarint(v []byte) (uint64, error) {
	n, m := protowire.ConsumeVarint(v)
	if m < 0 {
		return 0, fmt.Errorf("protocol: malformed varint: %w", protowire.ParseError(m))
	}
	return n, nil
}
