package server

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/DLiSWE/H3X/internal/metrics"
	"github.com/DLiSWE/H3X/internal/protocol"
	"github.com/DLiSWE/H3X/internal/queue"
	"github.com/DLiSWE/H3X/internal/registry"
)

// Handlers implements spec §4.4: the protocol state machine's side
// effects, grounded on the original source's server/handlers.rs shape (one
// function per frame kind) but restructured as methods sharing a
// per-connection auth state rather than free functions.
type Handlers struct {
	Registry *registry.Registry
	Queue    *queue.Queue
	Log      *log.Logger
	Metrics  *metrics.Metrics
	FetchCap int
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// handlePing answers spec §4.4 Ping: always allowed, even unauthenticated.
func (h *Handlers) handlePing(w *bufio.Writer, frame *protocol.Frame) error {
	reply := &protocol.Frame{Version: protocol.Version, StreamID: frame.StreamID, Kind: protocol.KindPong}
	if ping, ok := frame.Payload.(*protocol.Ping); ok {
		reply.Payload = &protocol.Pong{
			EchoTimestampMs: ping.TimestampMs,
			ServerTimeMs:    nowMs(),
			Seq:             ping.Seq,
		}
	}
	return protocol.WriteOne(w, reply)
}

// handleAuth answers spec §4.4 Auth. Returns closeStream=true whenever
// the response is AuthError, per spec: "respond with AuthError and
// close the stream."
func (h *Handlers) handleAuth(w *bufio.Writer, state *connState, frame *protocol.Frame) (closeStream bool, err error) {
	auth, ok := frame.Payload.(*protocol.Auth)
	if !ok {
		return true, fmt.Errorf("server: Auth frame missing payload")
	}

	cred := h.Registry.Lookup(auth.ClientID)
	if cred == nil || !cred.TokenMatches(auth.Token) {
		h.Log.Warnf("auth rejected for client_id=%s", auth.ClientID)
		h.Metrics.AuthFailures.Inc()
		reply := &protocol.Frame{Version: protocol.Version, StreamID: frame.StreamID, Kind: protocol.KindAuthError}
		if err := protocol.WriteOne(w, reply); err != nil {
			return true, err
		}
		return true, nil
	}

	granted := cred.AllowedNamespaces(auth.Namespaces)
	state.authenticate(auth.ClientID, granted)
	h.Log.Infof("authenticated client_id=%s namespaces=%v", auth.ClientID, granted)

	reply := &protocol.Frame{Version: protocol.Version, StreamID: frame.StreamID, Kind: protocol.KindAuthAck}
	return false, protocol.WriteOne(w, reply)
}

// handleEvent answers spec §4.4 Event (publish). The connection must
// already be authenticated for event.Namespace — the dispatcher
// enforces the "unauthenticated connections touch nothing but the
// registry lookup" invariant (spec §3 invariant 3) before calling any
// handler but Auth/Ping, so by the time we're here state.allowed is
// the only namespace-scoped check left.
func (h *Handlers) handleEvent(w *bufio.Writer, frame *protocol.Frame, state *connState) error {
	ev, ok := frame.Payload.(*protocol.Event)
	if !ok {
		return fmt.Errorf("server: Event frame missing payload")
	}
	if !state.allowed(ev.Namespace) {
		h.Log.Warnf("event rejected: namespace %q not authorized for client_id=%s", ev.Namespace, state.clientID)
		return nil
	}

	stored := &protocol.Frame{Version: protocol.Version, StreamID: frame.StreamID, Kind: protocol.KindEvent, Payload: ev}
	if err := h.Queue.Enqueue(stored); err != nil {
		// Durability errors are not currently surfaced to the client
		// (spec §7) — logged here, the publish is silently lost from
		// the client's perspective.
		h.Log.Errorf("failed to persist event %s in namespace %s: %v", ev.ID, ev.Namespace, err)
		return nil
	}
	h.Metrics.EventsEnqueued.WithLabelValues(ev.Namespace).Inc()

	// spec §9: "treat publish succeeds if the server-side enqueue
	// returns success as the contract and add a protocol field to
	// carry that result" — Ack (kind 10) already exists for exactly
	// this, so a successful publish gets one.
	reply := &protocol.Frame{Version: protocol.Version, StreamID: frame.StreamID, Kind: protocol.KindAck}
	return protocol.WriteOne(w, reply)
}

// handleEventsBatchPublish answers the client→server direction of
// EventsBatch (spec §4.4): each event is enqueued like a standalone
// Event publish, and each gets its own AckEvent reply, grounded
// directly on the original source's handle_events_batch.
func (h *Handlers) handleEventsBatchPublish(w *bufio.Writer, frame *protocol.Frame, state *connState) error {
	batch, ok := frame.Payload.(*protocol.EventsBatch)
	if !ok {
		return fmt.Errorf("server: EventsBatch frame missing payload")
	}

	for _, ev := range batch.Events {
		if !state.allowed(ev.Namespace) {
			h.Log.Warnf("batch event rejected: namespace %q not authorized for client_id=%s", ev.Namespace, state.clientID)
			continue
		}

		stored := &protocol.Frame{Version: protocol.Version, StreamID: frame.StreamID, Kind: protocol.KindEvent, Payload: ev}
		if err := h.Queue.Enqueue(stored); err != nil {
			h.Log.Errorf("failed to persist batch event %s in namespace %s: %v", ev.ID, ev.Namespace, err)
			continue
		}
		h.Metrics.EventsEnqueued.WithLabelValues(ev.Namespace).Inc()

		ack := &protocol.Frame{
			Version:  protocol.Version,
			StreamID: frame.StreamID,
			Kind:     protocol.KindAckEvent,
			Payload:  &protocol.AckEvent{Namespace: ev.Namespace, EventID: ev.ID},
		}
		if err := protocol.WriteOne(w, ack); err != nil {
			return err
		}
	}
	return nil
}

// handleAckEvent answers spec §4.4 AckEvent received on a fresh
// stream (not as part of a fetch drain) — e.g. acking a server-pushed
// event. Idempotent: acking an unknown or already-removed event is a
// no-op (spec §8 property 2).
func (h *Handlers) handleAckEvent(frame *protocol.Frame) error {
	ack, ok := frame.Payload.(*protocol.AckEvent)
	if !ok {
		return fmt.Errorf("server: AckEvent frame missing payload")
	}
	if err := h.Queue.Remove(ack.Namespace, ack.EventID); err != nil {
		h.Log.Errorf("failed to remove acked event %s in namespace %s: %v", ack.EventID, ack.Namespace, err)
		return nil
	}
	h.Metrics.EventsAcked.WithLabelValues(ack.Namespace).Inc()
	return nil
}

// handleFetchEvents answers spec §4.4 FetchEvents: scan, reply with
// one EventsBatch, then drain AckEvents from recv until the client
// half-closes the stream.
func (h *Handlers) handleFetchEvents(w *bufio.Writer, r *bufio.Reader, frame *protocol.Frame, state *connState, maxFrameLen uint64) error {
	req, ok := frame.Payload.(*protocol.FetchEvents)
	if !ok {
		return fmt.Errorf("server: FetchEvents frame missing payload")
	}

	limit := int(req.Limit)
	if limit == 0 {
		limit = h.FetchCap
	}

	var events []*protocol.Event
	for _, ns := range req.Namespaces {
		if !state.allowed(ns) {
			continue
		}
		frames, err := h.Queue.Fetch(ns, limit)
		if err != nil {
			h.Log.Errorf("fetch failed for namespace %s: %v", ns, err)
			continue
		}
		for _, f := range frames {
			if ev, ok := f.Payload.(*protocol.Event); ok {
				events = append(events, ev)
			}
		}
	}

	reply := &protocol.Frame{
		Version:  protocol.Version,
		StreamID: frame.StreamID,
		Kind:     protocol.KindEventsBatch,
		Payload:  &protocol.EventsBatch{Events: events},
	}
	if err := protocol.WriteOne(w, reply); err != nil {
		return err
	}
	h.Log.Debugf("sent EventsBatch with %d event(s)", len(events))

	return h.drainAcks(r, state, maxFrameLen)
}

// drainAcks reads frames until EOF, removing the durable record for
// each AckEvent received. Other kinds are logged and skipped (spec
// §4.4). It returns nil on a clean client half-close; that is the
// expected, successful end of a fetch.
func (h *Handlers) drainAcks(r *bufio.Reader, state *connState, maxFrameLen uint64) error {
	for {
		frame, err := protocol.ReadOne(r, maxFrameLen)
		if err != nil {
			if errors.Is(err, protocol.ErrNoMoreFrames) {
				return nil
			}
			h.Log.Warnf("ack drain: %v", err)
			return nil
		}

		if frame.Kind != protocol.KindAckEvent {
			h.Log.Debugf("ack drain: ignoring frame kind %s", frame.Kind)
			continue
		}
		ack, ok := frame.Payload.(*protocol.AckEvent)
		if !ok {
			h.Log.Warnf("ack drain: AckEvent frame missing payload")
			continue
		}
		if !state.allowed(ack.Namespace) {
			continue
		}
		if err := h.Queue.Remove(ack.Namespace, ack.EventID); err != nil {
			h.Log.Errorf("ack drain: failed to remove %s/%s: %v", ack.Namespace, ack.EventID, err)
			continue
		}
		h.Metrics.EventsAcked.WithLabelValues(ack.Namespace).Inc()
	}
}
