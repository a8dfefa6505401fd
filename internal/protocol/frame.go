package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Version is the only protocol version this implementation speaks.
// Frames carrying any other value are rejected per spec §3 invariant 4.
const Version uint32 = 1

// field numbers for Frame itself, and for the payload oneof. Stable
// once shipped; see spec §4.1.
const (
	fieldVersion  protowire.Number = 1
	fieldStreamID protowire.Number = 2
	fieldKind     protowire.Number = 3

	fieldAuth        protowire.Number = 10
	fieldPing        protowire.Number = 13
	fieldPong        protowire.Number = 14
	fieldEvent       protowire.Number = 15
	fieldEventsBatch protowire.Number = 16
	fieldFetchEvents protowire.Number = 17
	fieldAckEvent    protowire.Number = 18
)

// Frame is the wire envelope: a version, a producer-chosen correlation
// id, a kind tag, and at most one typed payload.
type Frame struct {
	Version  uint32
	StreamID uint32
	Kind     Kind
	Payload  Payload
}

// Encode serializes f to its protobuf-compatible wire body (without the
// outer length prefix — see WriteOne/ReadOne for that).
func (f *Frame) Encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Version))
	b = protowire.AppendTag(b, fieldStreamID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.StreamID))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int32(f.Kind)))

	if f.Payload != nil {
		tag, ok := payloadFieldFor(f.Payload.payloadKind())
		if ok {
			b = protowire.AppendTag(b, tag, protowire.BytesType)
			b = protowire.AppendBytes(b, f.Payload.marshal())
		}
	}
	return b
}

func payloadFieldFor(k Kind) (protowire.Number, bool) {
	switch k {
	case KindAuth:
		return fieldAuth, true
	case KindPing:
		return fieldPing, true
	case KindPong:
		return fieldPong, true
	case KindEvent:
		return fieldEvent, true
	case KindEventsBatch:
		return fieldEventsBatch, true
	case KindFetchEvents:
		return fieldFetchEvents, true
	case KindAckEvent:
		return fieldAckEvent, true
	default:
		return 0, false
	}
}

// Decode parses a Frame from its wire body (as produced by Encode).
// Unknown fields, including an unrecognized payload tag, are skipped
// rather than rejected, for forward compatibility.
func Decode(buf []byte) (*Frame, error) {
	f := &Frame{}
	var payloadBytes []byte
	var payloadField protowire.Number

	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldVersion:
			n, err := consumeVarint(v)
			if err != nil {
				return err
			}
			f.Version = uint32(n)
		case fieldStreamID:
			n, err := consumeVarint(v)
			if err != nil {
				return err
			}
			f.StreamID = uint32(n)
		case fieldKind:
			n, err := consumeVarint(v)
			if err != nil {
				return err
			}
			f.Kind = Kind(int32(n))
		case fieldAuth, fieldPing, fieldPong, fieldEvent, fieldEventsBatch, fieldFetchEvents, fieldAckEvent:
			payloadField = num
			payloadBytes = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if payloadBytes != nil {
		payload, err := decodePayload(payloadField, payloadBytes)
		if err != nil {
			return nil, err
		}
		f.Payload = payload
	}
	return f, nil
}

func decodePayload(field protowire.Number, buf []byte) (Payload, error) {
	switch field {
	case fieldAuth:
		return unmarshalAuth(buf)
	case fieldPing:
		return unmarshalPing(buf)
	case fieldPong:
		return unmarshalPong(buf)
	case fieldEvent:
		return unmarshalEvent(buf)
	case fieldEventsBatch:
		return unmarshalEventsBatch(buf)
	case fieldFetchEvents:
		return unmarshalFetchEvents(buf)
	case fieldAckEvent:
		return unmarshalAckEvent(buf)
	default:
		return nil, fmt.Errorf("protocol: unknown payload field %d", field)
	}
}
