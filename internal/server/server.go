// Package server implements the broker side of spec §4: the QUIC
// accept loop, per-connection auth state, and the per-stream protocol
// dispatcher. Grounded on the teacher's server/listener.go accept-loop
// shape (one goroutine per connection, one per stream) and on the
// original source's server/mod.rs run loop for the overall shape of
// what a connection's lifetime looks like.
package server

import (
	"context"
	"crypto/tls"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	quic "github.com/quic-go/quic-go"

	"github.com/DLiSWE/H3X/internal/config"
	"github.com/DLiSWE/H3X/internal/metrics"
	"github.com/DLiSWE/H3X/internal/queue"
	"github.com/DLiSWE/H3X/internal/registry"
	"github.com/DLiSWE/H3X/internal/transport"
	"github.com/DLiSWE/H3X/internal/worker"
)

// Server owns the broker's durable queue, client registry, and QUIC
// listener, and drives the accept loop described in spec §4.2.
type Server struct {
	Handlers *Handlers
	Queue    *queue.Queue
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Log      *log.Logger

	listener *transport.Listener
	worker   worker.Worker
}

// New builds a Server from a loaded config and a TLS certificate
// (spec §6 — cert is generated or loaded by the caller via
// internal/certutil before reaching here).
func New(cfg config.Server, cert tls.Certificate, q *queue.Queue, reg *prometheus.Registry, logger *log.Logger) *Server {
	m := metrics.New(reg)
	creds := registry.New()
	for _, c := range cfg.Clients {
		creds.Put(registry.NewCredential(c.ClientID, c.Token, c.Namespaces))
	}

	return &Server{
		Handlers: &Handlers{
			Registry: creds,
			Queue:    q,
			Log:      logger,
			Metrics:  m,
			FetchCap: cfg.FetchCap,
		},
		Queue:    q,
		Registry: creds,
		Metrics:  m,
		Log:      logger,
	}
}

// tlsConfig builds the server-side TLS config for the QUIC listener:
// the pinned self-signed cert and the "h3x" ALPN spec §4.2 specifies.
func tlsConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3x"},
		MinVersion:   tls.VersionTLS13,
	}
}

// Run binds addr and serves connections until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string, cert tls.Certificate) error {
	ln, err := transport.Listen(addr, tlsConfig(cert))
	if err != nil {
		return err
	}
	s.listener = ln
	defer ln.Close()

	s.Log.Infof("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.worker.Wait()
				return nil
			}
			s.Log.Warnf("accept: %v", err)
			continue
		}
		s.worker.Go(func() {
			s.serveConnection(ctx, conn)
		})
	}
}

// Halt stops accepting connections and waits for the per-connection
// goroutines started by Run to return. Stream goroutines are not
// tracked, so Halt does not wait for them.
func (s *Server) Halt() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.worker.Halt()
	s.worker.Wait()
}

// serveConnection spawns one goroutine per bidirectional stream the
// peer opens, sharing a single connState across all of them (spec §9:
// auth is per-connection, not per-stream).
func (s *Server) serveConnection(ctx context.Context, conn *quic.Conn) {
	s.Metrics.ConnectionsActive.Inc()
	defer s.Metrics.ConnectionsActive.Dec()
	defer conn.CloseWithError(0, "")

	state := newConnState()

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.serveStream(stream, state)
	}
}
