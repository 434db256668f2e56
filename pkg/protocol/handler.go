package protocol

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/privcount/privcount/internal/round"
)

// Conn wraps a TLS connection with the framing of message.go. Each DC,
// SK, and TS role opens one Conn per peer connection — the "one
// goroutine per connection" model of SPEC_FULL.md's concurrency design.
type Conn struct {
	tlsConn *tls.Conn
	reader  *bufio.Reader
	mu      sync.Mutex
}

// NewConn wraps an already-established TLS connection.
func NewConn(c *tls.Conn) *Conn {
	return &Conn{tlsConn: c, reader: bufio.NewReader(c)}
}

// Dial opens a new TLS connection to addr and wraps it.
func Dial(addr string, cfg *tls.Config) (*Conn, error) {
	c, err := tls.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("protocol: dial %s failed: %w", addr, err)
	}
	return NewConn(c), nil
}

// Send frames and writes msg. Safe for concurrent callers.
func (c *Conn) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteMessage(c.tlsConn, msg)
}

// Receive blocks for the next framed message.
func (c *Conn) Receive() (*Message, error) {
	return ReadMessage(c.reader)
}

func (c *Conn) Close() error { return c.tlsConn.Close() }

func (c *Conn) RemoteAddr() net.Addr { return c.tlsConn.RemoteAddr() }

// Handler gates inbound messages against the current round.Session
// before handing them to a role's own phase logic, mirroring the
// teacher's CanAccept/Accept split: cheap structural checks first, and
// the caller only sees a message once it is known to belong to the
// session in progress.
type Handler struct {
	mu      sync.Mutex
	session round.Session
	inbox   chan *Message
}

// NewHandler creates a Handler bound to session, with inbox capacity
// sized for its participant count.
func NewHandler(session round.Session) *Handler {
	n := len(session.PartyIDs())
	if n < 1 {
		n = 1
	}
	return &Handler{session: session, inbox: make(chan *Message, 2*n)}
}

// CanAccept reports whether msg is addressed to this session: correct
// recipient, correct SSID, and sender is a known participant. A round
// ID mismatch or unknown sender is dropped silently rather than
// treated as fatal, since a stray message from an unrelated round is
// expected background noise on a long-lived listener.
func (h *Handler) CanAccept(msg *Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if msg == nil {
		return false
	}
	if !msg.IsFor(h.session.SelfID()) {
		return false
	}
	if !bytes.Equal(msg.SSID, h.session.SSID()) {
		return false
	}
	if msg.From != "" && !h.session.PartyIDs().Contains(msg.From) {
		return false
	}
	return true
}

// Accept enqueues msg for delivery via Listen if it passes CanAccept.
func (h *Handler) Accept(msg *Message) {
	if !h.CanAccept(msg) {
		return
	}
	h.inbox <- msg
}

// Listen returns the channel a role's phase loop reads incoming,
// already-validated messages from.
func (h *Handler) Listen() <-chan *Message {
	return h.inbox
}

// Rebind updates the session a Handler gates against, used when a node
// advances from one phase to the next within the same round.
func (h *Handler) Rebind(session round.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = session
}

// Close stops delivery by closing the Listen channel. An Accept call
// that delivers a message after Close panics (send on a closed
// channel), so callers must stop calling Accept before Close.
func (h *Handler) Close() {
	close(h.inbox)
}
