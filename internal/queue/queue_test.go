package queue

import (
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/DLiSWE/H3X/internal/protocol"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	dir := t.TempDir()
	q, err := Open(filepath.Join(dir, "events.db"), log.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func eventFrame(id, ns string) *protocol.Frame {
	return &protocol.Frame{
		Version: protocol.Version,
		Kind:    protocol.KindEvent,
		Payload: &protocol.Event{ID: id, Namespace: ns, Type: "Test", Metadata: map[string]string{}},
	}
}

func TestEnqueueFetchPreservesInsertionOrder(t *testing.T) {
	q := openTestQueue(t)

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(eventFrame(id, "ns1")))
	}

	frames, err := q.Fetch("ns1", 0)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for i, id := range ids {
		ev := frames[i].Payload.(*protocol.Event)
		require.Equal(t, id, ev.ID)
	}
}

func TestFetchRespectsMax(t *testing.T) {
	q := openTestQueue(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(eventFrame(id, "ns1")))
	}

	frames, err := q.Fetch("ns1", 2)
	require.NoError(t, err)
	require.Len(t, frames, 2)
}

func TestRemoveIsIdempotent(t *testing.T) {
	q := openTestQueue(t)
	require.NoError(t, q.Enqueue(eventFrame("a", "ns1")))

	require.NoError(t, q.Remove("ns1", "a"))
	require.NoError(t, q.Remove("ns1", "a")) // second removal: no-op, no error

	frames, err := q.Fetch("ns1", 0)
	require.NoError(t, err)
	require.Empty(t, frames)
}

func TestRemoveUnknownEventIsNoop(t *testing.T) {
	q := openTestQueue(t)
	require.NoError(t, q.Remove("ns1", "does-not-exist"))
}

func TestNamespacesAreIsolated(t *testing.T) {
	q := openTestQueue(t)
	require.NoError(t, q.Enqueue(eventFrame("a", "ns1")))
	require.NoError(t, q.Enqueue(eventFrame("b", "ns2")))

	frames, err := q.Fetch("ns1", 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, "a", frames[0].Payload.(*protocol.Event).ID)

	depth, err := q.Depth("ns2")
	require.NoError(t, err)
	require.Equal(t, 1, depth)
}

func TestFetchUnknownNamespaceIsEmpty(t *testing.T) {
	q := openTestQueue(t)
	frames, err := q.Fetch("nonexistent", 0)
	require.NoError(t, err)
	require.Empty(t, frames)
}
