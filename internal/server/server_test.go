package server

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/DLiSWE/H3X/internal/metrics"
	"github.com/DLiSWE/H3X/internal/protocol"
	"github.com/DLiSWE/H3X/internal/queue"
	"github.com/DLiSWE/H3X/internal/registry"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 10 * time.Millisecond
)

// pipeStream adapts a net.Conn half to the rwCloser interface
// serveStream expects, so tests can drive it without a real QUIC
// connection.
type pipeStream struct {
	net.Conn
}

func newHandlers(t *testing.T) *Handlers {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "events.db"), log.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	reg := registry.New()
	reg.Put(registry.NewCredential("client_id:test", "s3cret", []string{"ns1"}))

	return &Handlers{
		Registry: reg,
		Queue:    q,
		Log:      log.Default(),
		Metrics:  metrics.New(prometheus.NewRegistry()),
		FetchCap: 100,
	}
}

func newTestServer(t *testing.T) *Server {
	h := newHandlers(t)
	return &Server{Handlers: h, Log: log.Default(), Metrics: h.Metrics}
}

func TestServeStreamRejectsUnauthenticatedEvent(t *testing.T) {
	srv := newTestServer(t)
	client, serverSide := net.Pipe()
	defer client.Close()

	go srv.serveStream(pipeStream{serverSide}, newConnState())

	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	req := &protocol.Frame{Version: protocol.Version, Kind: protocol.KindEvent, Payload: &protocol.Event{ID: "e1", Namespace: "ns1", Metadata: map[string]string{}}}
	require.NoError(t, protocol.WriteOne(w, req))

	reply, err := protocol.ReadOne(r, 1<<20)
	require.NoError(t, err)
	require.Equal(t, protocol.KindAuthError, reply.Kind)

	_, err = protocol.ReadOne(r, 1<<20)
	require.ErrorIs(t, err, protocol.ErrNoMoreFrames)
}

func TestServeStreamAuthThenPublishThenFetch(t *testing.T) {
	h := newHandlers(t)
	srv := &Server{Handlers: h, Log: log.Default(), Metrics: h.Metrics}

	// Authenticate on one stream.
	client, serverSide := net.Pipe()
	state := newConnState()
	go srv.serveStream(pipeStream{serverSide}, state)

	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)

	auth := &protocol.Frame{Version: protocol.Version, Kind: protocol.KindAuth, Payload: &protocol.Auth{
		ClientID: "client_id:test", Token: "s3cret", Namespaces: []string{"ns1"},
	}}
	require.NoError(t, protocol.WriteOne(w, auth))

	reply, err := protocol.ReadOne(r, 1<<20)
	require.NoError(t, err)
	require.Equal(t, protocol.KindAuthAck, reply.Kind)
	client.Close()

	require.True(t, state.isAuthenticated())
	require.True(t, state.allowed("ns1"))
	require.False(t, state.allowed("ns2"))

	// Publish an event on a second stream, sharing the same connState.
	client2, serverSide2 := net.Pipe()
	go srv.serveStream(pipeStream{serverSide2}, state)

	w2 := bufio.NewWriter(client2)
	r2 := bufio.NewReader(client2)

	ev := &protocol.Event{ID: "e1", Namespace: "ns1", Type: "Test", Metadata: map[string]string{}}
	pub := &protocol.Frame{Version: protocol.Version, Kind: protocol.KindEvent, Payload: ev}
	require.NoError(t, protocol.WriteOne(w2, pub))

	ack, err := protocol.ReadOne(r2, 1<<20)
	require.NoError(t, err)
	require.Equal(t, protocol.KindAck, ack.Kind)
	client2.Close()

	depth, err := h.Queue.Depth("ns1")
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	// Fetch on a third stream, then ack and confirm removal.
	client3, serverSide3 := net.Pipe()
	go srv.serveStream(pipeStream{serverSide3}, state)

	w3 := bufio.NewWriter(client3)
	r3 := bufio.NewReader(client3)

	fetch := &protocol.Frame{Version: protocol.Version, Kind: protocol.KindFetchEvents, Payload: &protocol.FetchEvents{Namespaces: []string{"ns1"}}}
	require.NoError(t, protocol.WriteOne(w3, fetch))

	batchFrame, err := protocol.ReadOne(r3, 1<<20)
	require.NoError(t, err)
	require.Equal(t, protocol.KindEventsBatch, batchFrame.Kind)
	batch := batchFrame.Payload.(*protocol.EventsBatch)
	require.Len(t, batch.Events, 1)
	require.Equal(t, "e1", batch.Events[0].ID)

	ackEvent := &protocol.Frame{Version: protocol.Version, Kind: protocol.KindAckEvent, Payload: &protocol.AckEvent{Namespace: "ns1", EventID: "e1"}}
	require.NoError(t, protocol.WriteOne(w3, ackEvent))
	client3.Close()

	require.Eventually(t, func() bool {
		depth, err := h.Queue.Depth("ns1")
		return err == nil && depth == 0
	}, testTimeout, testTick)
}
