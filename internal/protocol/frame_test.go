package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTripEvent(t *testing.T) {
	f := &Frame{
		Version:  Version,
		StreamID: 7,
		Kind:     KindEvent,
		Payload: &Event{
			ID:        "00000000-0000-0000-0000-000000000001",
			Namespace: "ns1",
			Type:      "Error",
			Message:   "m",
			Data:      []byte{},
			Timestamp: 1700000000,
			Metadata:  map[string]string{"k": "v"},
		},
	}

	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	require.Equal(t, f.Version, decoded.Version)
	require.Equal(t, f.StreamID, decoded.StreamID)
	require.Equal(t, f.Kind, decoded.Kind)

	ev, ok := decoded.Payload.(*Event)
	require.True(t, ok)
	want := f.Payload.(*Event)
	require.Equal(t, want.ID, ev.ID)
	require.Equal(t, want.Namespace, ev.Namespace)
	require.Equal(t, want.Type, ev.Type)
	require.Equal(t, want.Message, ev.Message)
	require.Equal(t, want.Timestamp, ev.Timestamp)
	require.Equal(t, want.Metadata, ev.Metadata)
}

func TestFrameRoundTripNoPayload(t *testing.T) {
	f := &Frame{Version: Version, StreamID: 42, Kind: KindAuthAck}
	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	require.Equal(t, f.Kind, decoded.Kind)
	require.Nil(t, decoded.Payload)
}

func TestPingFieldsRoundTrip(t *testing.T) {
	f := &Frame{Version: Version, Kind: KindPing, Payload: &Ping{TimestampMs: 42, Seq: 7}}
	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	ping := decoded.Payload.(*Ping)
	require.Equal(t, uint64(42), ping.TimestampMs)
	require.Equal(t, uint64(7), ping.Seq)
}

func TestWriteOneReadOneRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	f := &Frame{
		Version:  Version,
		StreamID: 1,
		Kind:     KindFetchEvents,
		Payload:  &FetchEvents{Namespaces: []string{"ns1", "ns2"}, Limit: 10},
	}
	require.NoError(t, WriteOne(w, f))

	br := bufio.NewReader(&buf)
	got, err := ReadOne(br, 1<<20)
	require.NoError(t, err)
	require.Equal(t, f.StreamID, got.StreamID)
	fe := got.Payload.(*FetchEvents)
	require.Equal(t, []string{"ns1", "ns2"}, fe.Namespaces)
	require.Equal(t, uint32(10), fe.Limit)
}

func TestReadOneCleanEOFYieldsSentinel(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader(nil))
	_, err := ReadOne(br, 1<<20)
	require.ErrorIs(t, err, ErrNoMoreFrames)
}

func TestReadOneMidVarintIsFatal(t *testing.T) {
	// 0x80 has its continuation bit set but no following byte.
	br := bufio.NewReader(bytes.NewReader([]byte{0x80}))
	_, err := ReadOne(br, 1<<20)
	require.Error(t, err)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadOneMidBodyIsFatal(t *testing.T) {
	var lenBuf [MaxVarintLen]byte
	var buf bytes.Buffer
	buf.Write(lenBuf[:1])
	buf.Bytes()[0] = 10 // claim 10 body bytes, write none
	br := bufio.NewReader(&buf)
	_, err := ReadOne(br, 1<<20)
	require.Error(t, err)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadOneRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	f := &Frame{Version: Version, Kind: KindPing, Payload: &Ping{TimestampMs: 1, Seq: 1}}
	require.NoError(t, WriteOne(w, f))

	br := bufio.NewReader(&buf)
	_, err := ReadOne(br, 1) // smaller than the encoded body
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestLengthPrefixMatchesBodyLength(t *testing.T) {
	f := &Frame{Version: Version, Kind: KindEvent, Payload: &Event{ID: "x", Namespace: "ns", Metadata: map[string]string{}}}
	wire := Encode(f)
	body := f.Encode()

	br := bufio.NewReader(bytes.NewReader(wire))
	n, err := binary.ReadUvarint(br)
	require.NoError(t, err)
	require.EqualValues(t, len(body), n)
	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	require.Equal(t, body, rest)
}

func TestNewEventIDIsUnique(t *testing.T) {
	a := NewEventID()
	b := NewEventID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
