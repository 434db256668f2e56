// Package dc implements the Data Collector role of spec.md §4.1-§4.3:
// maintaining the masked counter store, drawing noise, and
// distributing blinding shares to the Share Keepers.
package dc

import (
	"crypto/rsa"
	"fmt"

	"github.com/cronokirby/saferith"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/counter"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/noise"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/pkg/perrors"
	"github.com/privcount/privcount/pkg/share"
	"github.com/privcount/privcount/pkg/torevent"
	"github.com/privcount/privcount/protocols/privcount/roundfsm"
)

// DC is one Data Collector's live round state.
type DC struct {
	ID    party.ID
	FSM   *roundfsm.Machine
	q     *saferith.Modulus
	store *counter.Store
	defs  map[string]counter.Definition
	round config.RoundConfig
}

// New creates a DC identity bound to field modulus q.
func New(id party.ID, q *saferith.Modulus) *DC {
	return &DC{ID: id, FSM: roundfsm.New(), q: q}
}

// Configure validates and accepts a round's counter configuration
// (spec.md §4.6) and allocates the counter store, moving IDLE ->
// REGISTERED. PREPARED and then COLLECTING are entered later by
// Initialize, once the local mask and noise are ready (see
// GenerateShares/DrawNoise).
func (d *DC) Configure(roundID string, cfg config.RoundConfig) error {
	if err := d.FSM.Register(roundID); err != nil {
		return err
	}
	if err := cfg.ValidateInitial(true, d.q); err != nil {
		return perrors.New(perrors.KindConfigInvalid, roundID, err)
	}
	defs, err := cfg.Definitions()
	if err != nil {
		return perrors.New(perrors.KindConfigInvalid, roundID, err)
	}
	for _, def := range defs {
		if verr := def.Validate(); verr != nil {
			return perrors.New(perrors.KindConfigInvalid, roundID, verr)
		}
	}
	d.defs = make(map[string]counter.Definition, len(defs))
	binCounts := make(map[string]int, len(defs))
	for _, def := range defs {
		d.defs[def.Name] = def
		binCounts[def.Name] = len(def.Bins)
	}
	d.round = cfg
	d.store = counter.NewStore(d.q, defs)
	return nil
}

// binCounts returns the (counter name -> bin count) map for the
// currently configured round, used by share.Sample/Sum.
func (d *DC) binCounts() map[string]int {
	out := make(map[string]int, len(d.defs))
	for name, def := range d.defs {
		out[name] = len(def.Bins)
	}
	return out
}

// GenerateShares draws the blinding shares r_{d,s,c,b} for every SK in
// sks (spec.md §4.2 step 1) and returns both the per-SK payloads to
// seal and this DC's local mask S_{d,c,b} (the sum over all SKs).
func (d *DC) GenerateShares(sks party.IDSlice) (map[party.ID]share.Payload, map[string][]field.Elem, error) {
	perSK := make(map[party.ID]map[string][]field.Elem, len(sks))
	for _, sk := range sks {
		draws, err := share.Sample(d.q, d.binCounts())
		if err != nil {
			return nil, nil, perrors.New(perrors.KindFatal, d.FSM.RoundID(), err)
		}
		perSK[sk] = draws
	}

	payloads := make(map[party.ID]share.Payload, len(sks))
	for sk, draws := range perSK {
		p, err := share.ToPayload(d.FSM.RoundID(), d.ID, sk, draws)
		if err != nil {
			return nil, nil, err
		}
		payloads[sk] = p
	}

	localMask := share.Sum(d.q, perSK, d.binCounts())
	return payloads, localMask, nil
}

// SealEnvelopes wraps each per-SK payload in a hybrid envelope under
// that SK's RSA-OAEP public key (spec.md §4.2 step 3).
func (d *DC) SealEnvelopes(pubKeys map[party.ID]*rsa.PublicKey, payloads map[party.ID]share.Payload) (map[party.ID]*share.Envelope, error) {
	out := make(map[party.ID]*share.Envelope, len(payloads))
	for sk, payload := range payloads {
		pub, ok := pubKeys[sk]
		if !ok {
			return nil, fmt.Errorf("dc: no public key for SK %s", sk)
		}
		env, err := share.Seal(pub, payload)
		if err != nil {
			return nil, perrors.New(perrors.KindDeliveryFailed, d.FSM.RoundID(), err)
		}
		out[sk] = env
	}
	return out, nil
}

// DrawNoise samples this DC's noise contribution for every counter
// that requires it, scaled by this DC's configured weight (spec.md
// §4.3).
func (d *DC) DrawNoise(weight float64) (map[string][]field.Elem, error) {
	out := make(map[string][]field.Elem, len(d.defs))
	for name, def := range d.defs {
		row := make([]field.Elem, len(def.Bins))
		for b := range def.Bins {
			if !def.NoiseRequired || def.Sigma <= 0 {
				row[b] = field.Zero(d.q)
				continue
			}
			n, err := noise.Draw(def.Sigma, weight)
			if err != nil {
				return nil, perrors.New(perrors.KindFatal, d.FSM.RoundID(), err)
			}
			row[b] = noise.ToField(d.q, n)
		}
		out[name] = row
	}
	return out, nil
}

// Initialize seeds the masked counter store from the local share mask
// and noise draw, then advances PREPARED -> COLLECTING (spec.md §4.1
// "initialize").
func (d *DC) Initialize(localMask, noise map[string][]field.Elem) error {
	if err := d.FSM.Prepare(); err != nil {
		return err
	}
	if err := d.store.Initialize(localMask, noise); err != nil {
		return perrors.New(perrors.KindConfigInvalid, d.FSM.RoundID(), err)
	}
	return d.FSM.Collect()
}

// OnEvent maps one Tor control-port event to counter increments via
// mapper, a pure function injected by the caller so the event-to-
// counter mapping (the largest and most Tor-version-specific piece of
// spec.md's event source) stays out of this role's core logic.
// ErrBinGap from a single increment is logged by the caller and does
// not abort the round (spec.md §4.1).
func (d *DC) OnEvent(ev torevent.Event, mapper func(torevent.Event) []Increment) []error {
	var errs []error
	for _, inc := range mapper(ev) {
		if err := d.Apply(inc); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Apply increments one counter bin directly, the primitive OnEvent and
// any other caller (e.g. a simulation harness) builds on.
func (d *DC) Apply(inc Increment) error {
	return d.store.Increment(inc.Counter, inc.Value, inc.Delta)
}

// Increment is one (counter, bin value, delta) update an event mapper
// produces.
type Increment struct {
	Counter string
	Value   float64
	Delta   uint64
}

// Snapshot takes the final masked totals and advances COLLECTING ->
// TALLYING (spec.md §4.1 "snapshot").
func (d *DC) Snapshot() (map[string][]field.Elem, error) {
	if err := d.FSM.Tally(); err != nil {
		return nil, err
	}
	return d.store.Snapshot(), nil
}

// Done returns this DC to IDLE once the TS has published its outcome.
func (d *DC) Done() error {
	return d.FSM.Finish()
}
