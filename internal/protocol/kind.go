// Package protocol implements the H3X wire frame: a length-delimited,
// protobuf-compatible binary envelope carrying one typed payload, plus
// the reader/writer that frame a byte stream with it.
package protocol

import "fmt"

// Kind tags the payload carried by a Frame. Values are part of the wire
// protocol and MUST NOT be renumbered once shipped.
type Kind int32

const (
	KindPing        Kind = 1
	KindPong        Kind = 2
	KindAuth        Kind = 3
	KindAuthAck     Kind = 4
	KindAuthError   Kind = 5
	KindEvent       Kind = 6
	KindEventsBatch Kind = 7
	KindFetchEvents Kind = 8
	KindAckEvent    Kind = 9
	KindAck         Kind = 10
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindAuth:
		return "Auth"
	case KindAuthAck:
		return "AuthAck"
	case KindAuthError:
		return "AuthError"
	case KindEvent:
		return "Event"
	case KindEventsBatch:
		return "EventsBatch"
	case KindFetchEvents:
		return "FetchEvents"
	case KindAckEvent:
		return "AckEvent"
	case KindAck:
		return "Ack"
	default:
		return fmt.Sprintf("Kind(%d)", int32(k))
	}
}

// Known reports whether k is one of the frame kinds named above. An
// unrecognized kind is a soft protocol violation: the dispatcher logs
// and skips the frame rather than closing the stream.
func (k Kind) Known() bool {
	switch k {
	case KindPing, KindPong, KindAuth, KindAuthAck, KindAuthError,
		KindEvent, KindEventsBatch, KindFetchEvents, KindAckEvent, KindAck:
		return true
	default:
		return false
	}
}
