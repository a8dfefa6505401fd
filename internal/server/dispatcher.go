package server

import (
	"bufio"
	"errors"
	"io"

	"github.com/DLiSWE/H3X/internal/protocol"
)

// maxFrameLen bounds a single frame's body per spec §4.1 ("reject
// frames that claim an implausible length before allocating for
// them"); events carry arbitrary client payloads, so this is generous
// rather than tight.
const maxFrameLen = 16 << 20

// serveStream runs the per-stream frame loop described in spec §4.3:
// until the connection has authenticated, only Auth and Ping are
// accepted; anything else gets AuthError and the stream closes.
func (s *Server) serveStream(stream rwCloser, state *connState) {
	s.Metrics.StreamsActive.Inc()
	defer s.Metrics.StreamsActive.Dec()
	defer stream.Close()

	r := bufio.NewReader(stream)
	w := bufio.NewWriter(stream)

	for {
		frame, err := protocol.ReadOne(r, maxFrameLen)
		if err != nil {
			if !errors.Is(err, protocol.ErrNoMoreFrames) {
				s.Log.Debugf("stream read error: %v", err)
			}
			return
		}

		if frame.Version != protocol.Version {
			s.Log.Warnf("rejecting frame with version %d (want %d)", frame.Version, protocol.Version)
			return
		}

		if !state.isAuthenticated() && frame.Kind != protocol.KindAuth && frame.Kind != protocol.KindPing {
			reply := &protocol.Frame{Version: protocol.Version, StreamID: frame.StreamID, Kind: protocol.KindAuthError}
			_ = protocol.WriteOne(w, reply)
			return
		}

		if s.dispatch(r, w, frame, state) {
			return
		}
	}
}

// dispatch routes one frame to its handler. It returns true when the
// stream should close after this frame (auth failure, fetch drain
// completion, or a handler-level I/O error).
func (s *Server) dispatch(r *bufio.Reader, w *bufio.Writer, frame *protocol.Frame, state *connState) (closeStream bool) {
	switch frame.Kind {
	case protocol.KindPing:
		if err := s.Handlers.handlePing(w, frame); err != nil {
			s.Log.Debugf("ping: %v", err)
			return true
		}
		return false

	case protocol.KindAuth:
		closeStream, err := s.Handlers.handleAuth(w, state, frame)
		if err != nil {
			s.Log.Debugf("auth: %v", err)
			return true
		}
		return closeStream

	case protocol.KindEvent:
		if err := s.Handlers.handleEvent(w, frame, state); err != nil {
			s.Log.Debugf("event: %v", err)
			return true
		}
		return false

	case protocol.KindEventsBatch:
		if err := s.Handlers.handleEventsBatchPublish(w, frame, state); err != nil {
			s.Log.Debugf("events_batch: %v", err)
			return true
		}
		return false

	case protocol.KindFetchEvents:
		if err := s.Handlers.handleFetchEvents(w, r, frame, state, maxFrameLen); err != nil {
			s.Log.Debugf("fetch_events: %v", err)
		}
		// A fetch's ack-drain runs until the client half-closes;
		// there's nothing left for this stream to do afterward.
		return true

	case protocol.KindAckEvent:
		if err := s.Handlers.handleAckEvent(frame); err != nil {
			s.Log.Debugf("ack_event: %v", err)
			return true
		}
		return false

	case protocol.KindAck:
		s.Log.Debugf("ack received for stream %d", frame.StreamID)
		return false

	default:
		if !frame.Kind.Known() {
			s.Log.Debugf("ignoring unknown frame kind %d", frame.Kind)
		} else {
			s.Log.Debugf("no handler wired for frame kind %s", frame.Kind)
		}
		return false
	}
}

// rwCloser is the subset of quic.Stream the dispatcher needs; it lets
// tests exercise serveStream against an in-memory pipe.
type rwCloser interface {
	io.Reader
	io.Writer
	io.Closer
}
