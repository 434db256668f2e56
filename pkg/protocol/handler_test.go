package protocol_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/internal/round"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/pkg/protocol"
)

func TestMessageRoundTripsThroughFraming(t *testing.T) {
	msg := &protocol.Message{
		Type:    protocol.TypeEnvelope,
		RoundID: "r1",
		SSID:    []byte("ssid"),
		From:    "dc-1",
		To:      "sk-1",
		Data:    []byte("payload"),
	}

	var buf bytes.Buffer
	require.NoError(t, protocol.WriteMessage(&buf, msg))

	got, err := protocol.ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.RoundID, got.RoundID)
	assert.Equal(t, msg.SSID, got.SSID)
	assert.Equal(t, msg.From, got.From)
	assert.Equal(t, msg.Data, got.Data)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := protocol.ReadMessage(bufio.NewReader(&buf))
	assert.Error(t, err)
}

type fakeSession struct {
	self  party.ID
	ids   party.IDSlice
	ssid  []byte
	phase round.Phase
}

func (s fakeSession) SelfID() party.ID         { return s.self }
func (s fakeSession) PartyIDs() party.IDSlice  { return s.ids }
func (s fakeSession) SSID() []byte             { return s.ssid }
func (s fakeSession) Phase() round.Phase       { return s.phase }

func TestHandlerRejectsWrongSSID(t *testing.T) {
	session := fakeSession{self: "sk-1", ids: party.IDSlice{"dc-1", "sk-1"}, ssid: []byte("good")}
	h := protocol.NewHandler(session)

	h.Accept(&protocol.Message{To: "sk-1", From: "dc-1", SSID: []byte("bad")})
	select {
	case <-h.Listen():
		t.Fatal("expected message with mismatched SSID to be dropped")
	default:
	}

	h.Accept(&protocol.Message{To: "sk-1", From: "dc-1", SSID: []byte("good")})
	select {
	case msg := <-h.Listen():
		assert.Equal(t, party.ID("dc-1"), msg.From)
	default:
		t.Fatal("expected valid message to be delivered")
	}
}

func TestHandlerDropsMessageFromUnknownParty(t *testing.T) {
	session := fakeSession{self: "sk-1", ids: party.IDSlice{"dc-1", "sk-1"}, ssid: []byte("good")}
	h := protocol.NewHandler(session)

	h.Accept(&protocol.Message{To: "sk-1", From: "dc-9", SSID: []byte("good")})
	select {
	case <-h.Listen():
		t.Fatal("expected message from unknown party to be dropped")
	default:
	}
}
