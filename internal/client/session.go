// Package client implements the subscriber/producer side of spec §4:
// dial, authenticate, publish, and the fetch+ack receive loop, plus a
// DIAL -> AUTH -> STEADY -> DISCONNECTED reconnect state machine.
//
// The reconnect backoff is adapted from the teacher's
// client2/connection.go doConnect loop, which backs off an atomic
// retryDelay on every failed dial attempt and resets it to zero on
// success; this version swaps the teacher's fixed 15s increment /
// 2min cap for an exponential 1s->30s schedule to match spec §4.6, and
// swaps its halt-channel select for internal/worker's equivalent.
// The per-event ack-with-retry loop is grounded directly on the
// original source's client/event.rs handle_event_frame.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	quic "github.com/quic-go/quic-go"

	"github.com/DLiSWE/H3X/internal/certutil"
	"github.com/DLiSWE/H3X/internal/config"
	"github.com/DLiSWE/H3X/internal/protocol"
	"github.com/DLiSWE/H3X/internal/worker"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2

	maxAckRetries  = 5
	ackInitDelay   = 1 * time.Second
	ackBackoffFact = 2
)

// EventHandler processes one delivered event. It returns nothing: the
// session acks the event once the handler returns, and only the ack
// write is retried, never the delivery.
type EventHandler func(ev *protocol.Event)

// Session owns one client's QUIC connection and drives its lifecycle.
type Session struct {
	cfg     config.Client
	tlsConf *tls.Config
	log     *log.Logger
	onEvent EventHandler

	worker worker.Worker

	retryDelay int64 // atomic time.Duration, mirrors the teacher's connection.retryDelay
}

// New builds a Session. certDER is the pinned server certificate (spec
// §4.2/§6); pass the bytes certutil.LoadOrGenerate returned on the
// server side, shared out of band.
func New(cfg config.Client, certDER []byte, logger *log.Logger, onEvent EventHandler) (*Session, error) {
	pool, err := certutil.RootCertPool(certDER)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg: cfg,
		tlsConf: &tls.Config{
			RootCAs:    pool,
			ServerName: cfg.ServerName,
			NextProtos: []string{"h3x"},
			MinVersion: tls.VersionTLS13,
		},
		log:     logger,
		onEvent: onEvent,
	}, nil
}

// Run drives DIAL -> AUTH -> STEADY repeatedly until ctx is canceled,
// reconnecting with exponential backoff whenever the connection drops.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.worker.HaltCh():
			return nil
		default:
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.log.Warnf("dial failed: %v", err)
			if !s.backoffWait(ctx) {
				return nil
			}
			continue
		}

		atomic.StoreInt64(&s.retryDelay, 0)
		s.log.Infof("connected to %s", s.cfg.ServerAddr)

		if err := s.authenticate(ctx, conn); err != nil {
			s.log.Warnf("auth failed: %v", err)
			conn.CloseWithError(0, "auth failed")
			if !s.backoffWait(ctx) {
				return nil
			}
			continue
		}

		if err := s.steady(ctx, conn); err != nil {
			s.log.Warnf("connection lost: %v", err)
		}
		conn.CloseWithError(0, "")
		if !s.backoffWait(ctx) {
			return nil
		}
	}
}

// Halt stops Run's reconnect loop.
func (s *Session) Halt() {
	s.worker.Halt()
}

func (s *Session) dial(ctx context.Context) (*quic.Conn, error) {
	return quicDial(ctx, s.cfg.ServerAddr, s.tlsConf)
}

// backoffWait sleeps the current retry delay (advancing it per spec
// §4.6's exponential schedule), returning false if ctx or Halt fired
// during the wait.
func (s *Session) backoffWait(ctx context.Context) bool {
	delay := time.Duration(atomic.LoadInt64(&s.retryDelay))
	if delay == 0 {
		delay = initialBackoff
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return false
	case <-s.worker.HaltCh():
		return false
	}

	next := delay * backoffFactor
	if next > maxBackoff {
		next = maxBackoff
	}
	atomic.StoreInt64(&s.retryDelay, int64(next))
	return true
}

// authenticate opens a bidirectional stream and runs the Auth
// handshake, grounded on the original source's client/connection.rs
// authenticate.
func (s *Session) authenticate(ctx context.Context, conn *quic.Conn) error {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	r := bufio.NewReader(stream)
	w := bufio.NewWriter(stream)

	req := &protocol.Frame{
		Version: protocol.Version,
		Kind:    protocol.KindAuth,
		Payload: &protocol.Auth{
			ClientID:   s.cfg.ClientID,
			Token:      s.cfg.Token,
			Namespaces: s.cfg.Namespaces,
		},
	}
	if err := protocol.WriteOne(w, req); err != nil {
		return err
	}

	reply, err := protocol.ReadOne(r, maxFrameLen)
	if err != nil {
		return err
	}
	switch reply.Kind {
	case protocol.KindAuthAck:
		return nil
	case protocol.KindAuthError:
		return errors.New("client: auth rejected by server")
	default:
		return errors.New("client: unexpected frame during auth: " + reply.Kind.String())
	}
}

const maxFrameLen = 16 << 20

// steady opens the fetch stream and runs the receive loop until the
// stream closes or ctx is canceled, matching the original source's
// client/connection.rs receive_loop.
func (s *Session) steady(ctx context.Context, conn *quic.Conn) error {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	r := bufio.NewReader(stream)
	w := bufio.NewWriter(stream)

	fetch := &protocol.Frame{
		Version: protocol.Version,
		Kind:    protocol.KindFetchEvents,
		Payload: &protocol.FetchEvents{Namespaces: s.cfg.Namespaces, Limit: 0},
	}
	if err := protocol.WriteOne(w, fetch); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.worker.HaltCh():
			return nil
		default:
		}

		frame, err := protocol.ReadOne(r, maxFrameLen)
		if err != nil {
			if errors.Is(err, protocol.ErrNoMoreFrames) {
				return nil
			}
			return err
		}

		switch frame.Kind {
		case protocol.KindEvent:
			if ev, ok := frame.Payload.(*protocol.Event); ok {
				s.deliver(w, frame.StreamID, ev)
			}
		case protocol.KindEventsBatch:
			if batch, ok := frame.Payload.(*protocol.EventsBatch); ok {
				for _, ev := range batch.Events {
					s.deliver(w, frame.StreamID, ev)
				}
			}
		case protocol.KindAck:
			s.log.Debugf("publish acked for stream %d", frame.StreamID)
		default:
			s.log.Debugf("steady: ignoring frame kind %s", frame.Kind)
		}
	}
}

// deliver hands ev to the caller's handler, then acks it with the
// retry-with-backoff schedule from the original source's
// handle_event_frame: up to 5 attempts, 1s initial delay, doubling.
func (s *Session) deliver(w *bufio.Writer, streamID uint32, ev *protocol.Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}

	delay := ackInitDelay
	for attempt := 1; attempt <= maxAckRetries; attempt++ {
		ack := &protocol.Frame{
			Version:  protocol.Version,
			StreamID: streamID,
			Kind:     protocol.KindAckEvent,
			Payload:  &protocol.AckEvent{Namespace: ev.Namespace, EventID: ev.ID},
		}
		if err := protocol.WriteOne(w, ack); err == nil {
			s.log.Debugf("acked event %s", ev.ID)
			return
		} else if attempt < maxAckRetries {
			s.log.Warnf("failed to ack event %s (attempt %d): %v", ev.ID, attempt, err)
			time.Sleep(delay)
			delay *= ackBackoffFact
		}
	}
	s.log.Errorf("giving up acking event %s after %d attempts", ev.ID, maxAckRetries)
}

// Connect dials the server and runs the Auth handshake once, returning
// the live connection for one-shot callers (cmd/h3x-inject) that don't
// want the full reconnecting Run loop.
func (s *Session) Connect(ctx context.Context) (*quic.Conn, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authenticate(ctx, conn); err != nil {
		conn.CloseWithError(0, "auth failed")
		return nil, err
	}
	return conn, nil
}

// Publish opens a fresh stream and sends a single Event, per spec §4.4.
func (s *Session) Publish(ctx context.Context, conn *quic.Conn, ev *protocol.Event) error {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	w := bufio.NewWriter(stream)
	frame := &protocol.Frame{Version: protocol.Version, Kind: protocol.KindEvent, Payload: ev}
	return protocol.WriteOne(w, frame)
}

func quicDial(ctx context.Context, addr string, tlsConf *tls.Config) (*quic.Conn, error) {
	return quic.DialAddr(ctx, addr, tlsConf, &quic.Config{})
}
