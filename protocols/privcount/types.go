// Package privcount ties the field/counter/share/noise/config packages
// together into the round messages and role interfaces that
// roundfsm/dc/sk/ts build on.
package privcount

import (
	"time"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/pkg/share"
)

// Round is the live state every role tracks for one round, built from
// the TS's published RoundConfig plus locally derived identifiers.
type Round struct {
	ID     string
	SSID   []byte
	Config config.RoundConfig
	DCs    party.IDSlice
	SKs    party.IDSlice
	Start  time.Time
}

// EnvelopeDelivery is one DC's sealed share delivery to one SK, routed
// through the TS (spec.md §4.2 "Submits envelopes to the TS, which
// routes each to its SK").
type EnvelopeDelivery struct {
	RoundID string
	From    party.ID
	To      party.ID
	Sealed  *share.Envelope
}

// ShareReveal is one SK's accumulated share sum, sent to the TS at
// TALLYING (spec.md §4.7).
type ShareReveal struct {
	RoundID string
	From    party.ID
	Sum     map[string][]field.Elem
}

// CounterSnapshot is one DC's masked counter totals, with its noise
// already folded in, sent to the TS at TALLYING (spec.md §4.1
// "snapshot").
type CounterSnapshot struct {
	RoundID string
	From    party.ID
	Totals  map[string][]field.Elem
}
