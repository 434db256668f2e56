// Package transport is the server-side counterpart to pkg/protocol's
// client Dial: a TLS accept loop that hands each inbound connection to
// the Tally Server as a framed *protocol.Conn, per spec.md §6
// "Inter-node protocol" (the TS is the only role that listens; DC and
// SK are always the dialing side).
package transport

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/privcount/privcount/pkg/protocol"
)

// Listener accepts TLS connections and wraps each one in the message
// framing every PrivCount role speaks.
type Listener struct {
	ln net.Listener
}

// Listen binds addr and wraps it for TLS using cfg. cfg must carry at
// least one server certificate; PrivCount layers its own HMAC
// handshake (pkg/handshake) on top of TLS for peer authentication, so
// cfg's ClientAuth is left at its zero value (no mutual-TLS requirement).
func Listen(addr string, cfg *tls.Config) (*Listener, error) {
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s failed: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks until a client dials in, returning its framed
// connection. It returns a non-nil error only when the listener itself
// is no longer usable (e.g. Close was called), matching net.Listener's
// contract so callers can loop Accept until shutdown.
func (l *Listener) Accept() (*protocol.Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	tlsConn, ok := c.(*tls.Conn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("transport: accepted non-TLS connection")
	}
	return protocol.NewConn(tlsConn), nil
}

// Close stops the listener; any blocked Accept returns an error.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}
