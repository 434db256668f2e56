// Package torevent implements the Data Collector's event source: a
// line-oriented client for a Tor relay's control port (spec.md §6
// "Event source (input to DC)").
package torevent

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// EventType is one of the eight event types the DC subscribes to.
type EventType string

const (
	EventDNSResolved           EventType = "PRIVCOUNT_DNS_RESOLVED"
	EventStreamBytesTransferred EventType = "PRIVCOUNT_STREAM_BYTES_TRANSFERRED"
	EventStreamEnded           EventType = "PRIVCOUNT_STREAM_ENDED"
	EventCircuitEnded          EventType = "PRIVCOUNT_CIRCUIT_ENDED"
	EventConnectionEnded       EventType = "PRIVCOUNT_CONNECTION_ENDED"
	EventHSDirCacheStore       EventType = "PRIVCOUNT_HSDIR_CACHE_STORE"
	EventCircuitCell           EventType = "PRIVCOUNT_CIRCUIT_CELL"
	EventCircuitClose          EventType = "PRIVCOUNT_CIRCUIT_CLOSE"
)

// AllEvents is the full subscription list the DC issues at round start.
var AllEvents = []EventType{
	EventDNSResolved,
	EventStreamBytesTransferred,
	EventStreamEnded,
	EventCircuitEnded,
	EventConnectionEnded,
	EventHSDirCacheStore,
	EventCircuitCell,
	EventCircuitClose,
}

// Event is one tagged field set received from the control port.
type Event struct {
	Type   EventType
	Fields map[string]string
}

// AuthMethod is a control-port authentication mechanism, tried in the
// preference order spec.md §6 specifies.
type AuthMethod string

const (
	AuthSafeCookie      AuthMethod = "SAFECOOKIE"
	AuthHashedPassword  AuthMethod = "HASHEDPASSWORD"
	AuthNull            AuthMethod = "NULL"
)

// PreferenceOrder is the fixed auth negotiation order from spec.md §6.
var PreferenceOrder = []AuthMethod{AuthSafeCookie, AuthHashedPassword, AuthNull}

// Client is a connection to a Tor relay's control port.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Credentials carries whichever secret a given AuthMethod needs.
type Credentials struct {
	CookieFile string // SAFECOOKIE: path to the control_auth_cookie file
	Password   string // HASHEDPASSWORD: the configured control password
	ReadCookie func(path string) ([]byte, error)
}

// Dial connects to the control port at addr (e.g. "127.0.0.1:9051").
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("torevent: dial %s failed: %w", addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (c *Client) writeLine(line string) error {
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *Client) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("torevent: read failed: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Authenticate authenticates with the first method in PreferenceOrder
// that appears in supported. It does not issue PROTOCOLINFO itself, and
// if that method fails it returns the error without trying the
// remaining methods.
func (c *Client) Authenticate(supported []AuthMethod, creds Credentials) (AuthMethod, error) {
	available := make(map[AuthMethod]bool, len(supported))
	for _, m := range supported {
		available[m] = true
	}

	for _, method := range PreferenceOrder {
		if !available[method] {
			continue
		}
		if err := c.authenticateWith(method, creds); err != nil {
			return "", fmt.Errorf("torevent: %s authentication failed: %w", method, err)
		}
		return method, nil
	}
	return "", fmt.Errorf("torevent: no supported auth method in preference order %v", PreferenceOrder)
}

func (c *Client) authenticateWith(method AuthMethod, creds Credentials) error {
	switch method {
	case AuthNull:
		return c.command("AUTHENTICATE")
	case AuthHashedPassword:
		return c.command(fmt.Sprintf("AUTHENTICATE %s", quoteHex(creds.Password)))
	case AuthSafeCookie:
		cookie, err := creds.ReadCookie(creds.CookieFile)
		if err != nil {
			return fmt.Errorf("read cookie: %w", err)
		}
		mac := hmac.New(sha256.New, []byte("Tor safe cookie authentication server-to-controller hash"))
		mac.Write(cookie)
		return c.command(fmt.Sprintf("AUTHENTICATE %s", hex.EncodeToString(mac.Sum(nil))))
	default:
		return fmt.Errorf("unknown auth method %q", method)
	}
}

func quoteHex(s string) string {
	return hex.EncodeToString([]byte(s))
}

// command sends a single control-port command and expects a "250 OK"
// reply.
func (c *Client) command(cmd string) error {
	if err := c.writeLine(cmd); err != nil {
		return fmt.Errorf("torevent: write %q failed: %w", cmd, err)
	}
	reply, err := c.readLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "250") {
		return fmt.Errorf("torevent: command %q rejected: %s", cmd, reply)
	}
	return nil
}

// EnablePrivCount issues SETCONF EnablePrivCount=1, which must happen
// before SUBSCRIBE: events for objects created earlier are silently
// dropped by the relay (spec.md §6).
func (c *Client) EnablePrivCount() error {
	return c.command("SETCONF EnablePrivCount=1")
}

// Subscribe issues SETEVENTS for the given event types.
func (c *Client) Subscribe(events []EventType) error {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = string(e)
	}
	return c.command("SETEVENTS " + strings.Join(names, " "))
}

// Events returns a channel of decoded asynchronous events. The
// goroutine reading from conn exits and closes the channel when the
// control port connection closes, surfacing as EventSourceDown to the
// caller (spec.md §7).
func (c *Client) Events() <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			line, err := c.readLine()
			if err != nil {
				return
			}
			if !strings.HasPrefix(line, "650 ") {
				continue
			}
			ev, ok := parseEvent(line)
			if ok {
				out <- ev
			}
		}
	}()
	return out
}

// parseEvent decodes a "650 TYPE key=value key=value ..." async reply
// into an Event. Events of a type we don't recognize are dropped.
func parseEvent(line string) (Event, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Event{}, false
	}
	ev := Event{Type: EventType(fields[1]), Fields: make(map[string]string)}
	known := false
	for _, t := range AllEvents {
		if t == ev.Type {
			known = true
			break
		}
	}
	if !known {
		return Event{}, false
	}
	for _, kv := range fields[2:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			ev.Fields[parts[0]] = parts[1]
		}
	}
	return ev, true
}

// Close closes the underlying control-port connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
