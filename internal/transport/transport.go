// Package transport establishes QUIC connections and bidirectional
// streams for the broker (spec §4.2). It is adapted from the teacher's
// sockatz/common.QUICProxyConn, which drives quic.Dial/quic.Listen and
// AcceptStream/OpenStream over a custom net.PacketConn; this version
// drops the PacketConn indirection (that existed so katzenpost could
// tunnel QUIC inside Sphinx packets) and binds a real UDP socket,
// since the broker talks QUIC directly over loopback.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"

	quic "github.com/quic-go/quic-go"
)

// Listener accepts QUIC connections on a UDP socket.
type Listener struct {
	ln *quic.Listener
}

// Listen binds addr and returns a Listener speaking QUIC with tlsConf.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks until a new QUIC connection arrives or ctx is done.
func (l *Listener) Accept(ctx context.Context) (*quic.Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return conn, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the bound local address.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Dial opens a QUIC connection to addr, verifying serverName against
// tlsConf's pinned root (spec §4.2/§6).
func Dial(ctx context.Context, addr, serverName string, tlsConf *tls.Config) (*quic.Conn, error) {
	cfg := *tlsConf
	cfg.ServerName = serverName
	conn, err := quic.DialAddr(ctx, addr, &cfg, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return conn, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{}
}
