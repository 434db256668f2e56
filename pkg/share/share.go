// Package share implements the blinding-share distribution layer of
// spec.md §4.2: per-(SK, counter, bin) uniform Z_q draws, packed into a
// per-SK payload and delivered under a hybrid RSA/AEAD envelope.
package share

import (
	"github.com/cronokirby/saferith"

	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/party"
)

// Payload is the set of blinding shares one DC sends to one SK: for
// every (counter, bin) a uniformly sampled r_{s,c,b}.
type Payload struct {
	RoundID string              `cbor:"round_id"`
	From    party.ID            `cbor:"from"`
	To      party.ID            `cbor:"to"`
	Shares  map[string][]string `cbor:"shares"` // counter name -> per-bin decimal Elem strings
}

// Sample draws {r_{s,c,b}} for every (counter, bin) in counterBinCounts, for a
// single SK, per spec.md §4.2 step 1 ("samples r_{s,c,b} uniformly in
// [0, q) from a CSPRNG").
func Sample(q *saferith.Modulus, counterBinCounts map[string]int) (map[string][]field.Elem, error) {
	out := make(map[string][]field.Elem, len(counterBinCounts))
	for name, n := range counterBinCounts {
		row := make([]field.Elem, n)
		for b := 0; b < n; b++ {
			r, err := field.Random(q)
			if err != nil {
				return nil, err
			}
			row[b] = r
		}
		out[name] = row
	}
	return out, nil
}

// Sum aggregates one DC's per-SK draws into S_{d,c,b} = sum_s r_{d,s,c,b},
// the local mask subtracted at DC initialization (spec.md §3 "Share").
func Sum(q *saferith.Modulus, perSK map[party.ID]map[string][]field.Elem, counterBinCounts map[string]int) map[string][]field.Elem {
	out := make(map[string][]field.Elem, len(counterBinCounts))
	for name, n := range counterBinCounts {
		row := make([]field.Elem, n)
		for b := 0; b < n; b++ {
			row[b] = field.Zero(q)
		}
		out[name] = row
	}
	for _, perCounter := range perSK {
		for name, row := range perCounter {
			for b, v := range row {
				out[name][b] = out[name][b].Add(v)
			}
		}
	}
	return out
}

// ToPayload converts an in-memory share map into its wire Payload
// representation for one SK.
func ToPayload(roundID string, from, to party.ID, shares map[string][]field.Elem) (Payload, error) {
	wire := make(map[string][]string, len(shares))
	for name, row := range shares {
		strs := make([]string, len(row))
		for i, v := range row {
			text, err := v.MarshalText()
			if err != nil {
				return Payload{}, err
			}
			strs[i] = string(text)
		}
		wire[name] = strs
	}
	return Payload{RoundID: roundID, From: from, To: to, Shares: wire}, nil
}

// FromPayload decodes a wire Payload back into field elements bound to q.
func FromPayload(q *saferith.Modulus, p Payload) (map[string][]field.Elem, error) {
	out := make(map[string][]field.Elem, len(p.Shares))
	for name, strs := range p.Shares {
		row := make([]field.Elem, len(strs))
		for i, s := range strs {
			v, err := field.UnmarshalTextWithModulus(q, []byte(s))
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		out[name] = row
	}
	return out, nil
}

// Accumulator is the Share Keeper's running sum of the shares
// r_{d,s,c,b} it has received from every DC for the current round, kept
// per (counter, bin): the share_sum the SK reveals at round end.
type Accumulator struct {
	q   *saferith.Modulus
	sum map[string][]field.Elem
}

// NewAccumulator starts an empty running sum for the given counter
// bin-counts.
func NewAccumulator(q *saferith.Modulus, counterBinCounts map[string]int) *Accumulator {
	sum := make(map[string][]field.Elem, len(counterBinCounts))
	for name, n := range counterBinCounts {
		row := make([]field.Elem, n)
		for b := range row {
			row[b] = field.Zero(q)
		}
		sum[name] = row
	}
	return &Accumulator{q: q, sum: sum}
}

// Add folds one DC's decrypted payload into the running sum.
func (a *Accumulator) Add(shares map[string][]field.Elem) {
	for name, row := range shares {
		for b, v := range row {
			if b >= len(a.sum[name]) {
				continue
			}
			a.sum[name][b] = a.sum[name][b].Add(v)
		}
	}
}

// Sum returns a copy of Sigma_d r_{d,s,c,b} mod q for every (counter,
// bin), the share_sum the SK sends the TS at TALLYING (spec.md §4.7).
func (a *Accumulator) Sum() map[string][]field.Elem {
	out := make(map[string][]field.Elem, len(a.sum))
	for name, row := range a.sum {
		cp := make([]field.Elem, len(row))
		copy(cp, row)
		out[name] = cp
	}
	return out
}
