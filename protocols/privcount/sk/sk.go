// Package sk implements the Share Keeper role of spec.md §4.2: holding
// one RSA keypair, decrypting each DC's envelope, and accumulating the
// blinding shares into a single reveal at TALLYING.
package sk

import (
	"crypto/rsa"

	"github.com/cronokirby/saferith"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/pkg/perrors"
	"github.com/privcount/privcount/pkg/share"
	"github.com/privcount/privcount/protocols/privcount/roundfsm"
)

// SK is one Share Keeper's live round state.
type SK struct {
	ID   party.ID
	Key  *rsa.PrivateKey
	FSM  *roundfsm.Machine
	q    *saferith.Modulus
	acc  *share.Accumulator
	defs map[string]int // counter name -> bin count, for the current round
}

// New creates an SK identity holding the given RSA keypair.
func New(id party.ID, key *rsa.PrivateKey, q *saferith.Modulus) *SK {
	return &SK{ID: id, Key: key, FSM: roundfsm.New(), q: q}
}

// Configure validates the round's counter configuration and allocates
// a fresh accumulator. Unlike the DC/TS, the SK accepts any counter
// name (spec.md §4.6: "SKs accept any name for forward compatibility")
// since it never inspects counter semantics, only sums blinded shares.
func (s *SK) Configure(roundID string, cfg config.RoundConfig) error {
	if err := s.FSM.Register(roundID); err != nil {
		return err
	}
	if err := cfg.ValidateInitial(false, s.q); err != nil {
		return perrors.New(perrors.KindConfigInvalid, roundID, err)
	}
	defs, err := cfg.Definitions()
	if err != nil {
		return perrors.New(perrors.KindConfigInvalid, roundID, err)
	}
	binCounts := make(map[string]int, len(defs))
	for _, def := range defs {
		binCounts[def.Name] = len(def.Bins)
	}
	s.defs = binCounts
	s.acc = share.NewAccumulator(s.q, binCounts)
	if err := s.FSM.Prepare(); err != nil {
		return err
	}
	return s.FSM.Collect()
}

// Receive decrypts one DC's envelope and folds its shares into the
// running accumulator. A decryption failure is the "SK unable to
// decrypt" case of spec.md §4.2, reported as DeliveryFailed rather
// than aborting the whole round.
func (s *SK) Receive(env *share.Envelope) error {
	payload, err := share.Open(s.Key, env)
	if err != nil {
		return perrors.New(perrors.KindDeliveryFailed, s.FSM.RoundID(), err)
	}
	shares, err := share.FromPayload(s.q, *payload)
	if err != nil {
		return perrors.New(perrors.KindDeliveryFailed, s.FSM.RoundID(), err)
	}
	s.acc.Add(shares)
	return nil
}

// Reveal advances COLLECTING -> TALLYING and returns the accumulated
// share sum to send the TS (spec.md §4.7).
func (s *SK) Reveal() (map[string][]field.Elem, error) {
	if err := s.FSM.Tally(); err != nil {
		return nil, err
	}
	return s.acc.Sum(), nil
}

// Done returns this SK to IDLE once the TS has published its outcome.
func (s *SK) Done() error {
	return s.FSM.Finish()
}
