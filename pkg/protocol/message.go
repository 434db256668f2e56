// Package protocol implements the inter-node wire format of spec.md §6
// "Inter-node protocol": a length-prefixed message framed over a TLS
// connection, capped at 64 KiB per message.
package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/privcount/privcount/pkg/party"
)

// MaxMessageSize is the hard cap on a single framed message (spec.md §6).
const MaxMessageSize = 64 * 1024

// Type names every message exchanged between DC, SK, and TS.
type Type string

const (
	// TypeHandshake1-3 carry the three steps of pkg/handshake's
	// challenge-response (ServerHello, ClientResponse, ServerConfirm) as
	// raw bytes in Data, before a connection has a round to belong to;
	// RoundID and SSID are empty on all three.
	TypeHandshake1  Type = "HANDSHAKE1"
	TypeHandshake2  Type = "HANDSHAKE2"
	TypeHandshake3  Type = "HANDSHAKE3"
	TypeRegister    Type = "REGISTER"
	TypeConfig      Type = "CONFIG"
	TypePrepared    Type = "PREPARED"
	TypeStart       Type = "START"
	TypeEnvelope    Type = "ENVELOPE"
	TypeTally       Type = "TALLY"
	TypeShareReveal Type = "SHARE_REVEAL"
	TypeOutcome     Type = "OUTCOME"
	TypeCheckin     Type = "CHECKIN"
	TypeAbort       Type = "ABORT"
)

// Message is one framed protocol exchange. SSID binds it to a single
// round so a stale or cross-round message is rejected rather than
// silently mixed into the wrong tally (spec.md I1).
type Message struct {
	Type    Type     `cbor:"1,keyasint"`
	RoundID string   `cbor:"2,keyasint"`
	SSID    []byte   `cbor:"3,keyasint"`
	From    party.ID `cbor:"4,keyasint"`
	To      party.ID `cbor:"5,keyasint"`
	Data    []byte   `cbor:"6,keyasint"`
}

// IsFor reports whether the message is addressed to id, or broadcast
// (empty To) to every participant.
func (m *Message) IsFor(id party.ID) bool {
	return m.To == "" || m.To == id
}

// WriteMessage frames msg as a 4-byte big-endian length prefix followed
// by its CBOR encoding, and writes it to w.
func WriteMessage(w io.Writer, msg *Message) error {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protocol: encode message failed: %w", err)
	}
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("protocol: message of %d bytes exceeds %d byte cap", len(payload), MaxMessageSize)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("protocol: write length prefix failed: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write payload failed: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame from r and decodes it.
func ReadMessage(r *bufio.Reader) (*Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, fmt.Errorf("protocol: read length prefix failed: %w", err)
	}
	size := binary.BigEndian.Uint32(lenPrefix[:])
	if size > MaxMessageSize {
		return nil, fmt.Errorf("protocol: framed message of %d bytes exceeds %d byte cap", size, MaxMessageSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read payload failed: %w", err)
	}
	var msg Message
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode message failed: %w", err)
	}
	return &msg, nil
}
