// Package counter implements the PrivCount counter/histogram data model
// (spec.md §3 "Counter", §4.1 "Field Arithmetic & Counter Store").
package counter

import (
	"fmt"
	"math"

	"github.com/cronokirby/saferith"

	"github.com/privcount/privcount/pkg/field"
)

// Kind enumerates the three counter varieties named by SPEC_FULL.md §2A
// (design note §9 "Dynamic types over YAML": enumerate variants instead
// of consuming loosely-typed config).
type Kind int

const (
	KindScalar Kind = iota
	KindHistogram
	KindTrafficModel
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindHistogram:
		return "histogram"
	case KindTrafficModel:
		return "traffic_model"
	default:
		return "unknown"
	}
}

// Bin is a half-open interval [Lo, Hi) of a histogram counter. The last
// bin of a counter may be closed, with Hi = +Inf.
type Bin struct {
	Lo float64
	Hi float64
}

func (b Bin) contains(v float64) bool {
	if v == math.Inf(1) && b.Hi == math.Inf(1) {
		return true
	}
	return v >= b.Lo && v < b.Hi
}

// Definition is the static description of one counter: its name, its
// bins, its noise parameters, and whether noise is mandatory.
type Definition struct {
	Name          string
	Bins          []Bin
	Sigma         float64
	NoiseRequired bool
}

// Scalar builds a one-bin, (-inf, +inf) counter definition.
func Scalar(name string, sigma float64, noiseRequired bool) Definition {
	return Definition{
		Name:          name,
		Bins:          []Bin{{Lo: math.Inf(-1), Hi: math.Inf(1)}},
		Sigma:         sigma,
		NoiseRequired: noiseRequired,
	}
}

// Histogram builds a multi-bin counter definition. Bins must already be
// sorted and non-overlapping; use Validate to check that invariant
// (spec.md I3).
func Histogram(name string, bins []Bin, sigma float64, noiseRequired bool) Definition {
	return Definition{Name: name, Bins: bins, Sigma: sigma, NoiseRequired: noiseRequired}
}

// Validate enforces spec.md I2 and I3: sorted, non-overlapping bins with
// lo < hi, and a non-negative sigma that is present whenever noise is
// required.
func (d Definition) Validate() error {
	if len(d.Bins) == 0 {
		return fmt.Errorf("counter: %s has no bins", d.Name)
	}
	if d.Sigma < 0 {
		return fmt.Errorf("counter: %s has negative sigma %f", d.Name, d.Sigma)
	}
	if d.NoiseRequired && d.Sigma <= 0 {
		return fmt.Errorf("counter: %s requires noise but sigma is %f", d.Name, d.Sigma)
	}
	prevHi := math.Inf(-1)
	for i, b := range d.Bins {
		if !(b.Lo < b.Hi) {
			return fmt.Errorf("counter: %s bin %d has lo >= hi (%f, %f)", d.Name, i, b.Lo, b.Hi)
		}
		if b.Lo < prevHi {
			return fmt.Errorf("counter: %s bins are not sorted/non-overlapping at index %d", d.Name, i)
		}
		prevHi = b.Hi
	}
	return nil
}

// BinIndex finds the unique bin containing v. It returns ErrBinGap if
// no bin matches (spec.md §4.1 "Fails with BinGap ... logged but not
// fatal").
func (d Definition) BinIndex(v float64) (int, error) {
	for i, b := range d.Bins {
		if b.contains(v) {
			return i, nil
		}
	}
	return -1, ErrBinGap{Counter: d.Name, Value: v}
}

// ErrBinGap is returned when an increment targets a value that matches
// no configured bin. Per spec.md §4.1, this is a per-statistic drop,
// never a fatal condition.
type ErrBinGap struct {
	Counter string
	Value   float64
}

func (e ErrBinGap) Error() string {
	return fmt.Sprintf("counter: %s has no bin containing %f", e.Counter, e.Value)
}

// Store is a Data Collector's masked counter state: counter name -> bin
// index -> masked Z_q value (spec.md §4.1).
type Store struct {
	q     *saferith.Modulus
	bins  map[string][]field.Elem
	defs  map[string]Definition
}

// NewStore allocates an empty store for the given counter definitions,
// bound to field modulus q.
func NewStore(q *saferith.Modulus, defs []Definition) *Store {
	s := &Store{q: q, bins: make(map[string][]field.Elem, len(defs)), defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		s.defs[d.Name] = d
		s.bins[d.Name] = make([]field.Elem, len(d.Bins))
	}
	return s
}

// Initialize sets store[c][b] = (noise[c][b] - shareSum[c][b]) mod q for
// every counter and bin, per spec.md §4.1 "initialize". A counter with
// no noise allocated for a bin contributes a zero noise term.
func (s *Store) Initialize(shareSums map[string][]field.Elem, noise map[string][]field.Elem) error {
	for name, def := range s.defs {
		sums, ok := shareSums[name]
		if !ok || len(sums) != len(def.Bins) {
			return fmt.Errorf("counter: missing share sums for %s", name)
		}
		n := noise[name]
		row := make([]field.Elem, len(def.Bins))
		for b := range def.Bins {
			var nb field.Elem
			if n != nil && b < len(n) {
				nb = n[b]
			} else {
				nb = field.Zero(s.q)
			}
			row[b] = nb.Sub(sums[b])
		}
		s.bins[name] = row
	}
	return nil
}

// Increment adds delta (a small positive integer) to the masked value
// of the bin matching v, per spec.md §4.1 "increment". It returns
// ErrBinGap (non-fatal) if v matches no bin of the counter.
func (s *Store) Increment(name string, v float64, delta uint64) error {
	def, ok := s.defs[name]
	if !ok {
		return fmt.Errorf("counter: unknown counter %q", name)
	}
	idx, err := def.BinIndex(v)
	if err != nil {
		return err
	}
	s.bins[name][idx] = s.bins[name][idx].Add(field.FromUint64(s.q, delta))
	return nil
}

// Snapshot produces the masked totals mapping for transmission to the
// Tally Server (spec.md §4.1 "snapshot").
func (s *Store) Snapshot() map[string][]field.Elem {
	out := make(map[string][]field.Elem, len(s.bins))
	for name, row := range s.bins {
		cp := make([]field.Elem, len(row))
		copy(cp, row)
		out[name] = cp
	}
	return out
}

// Definitions returns the counter definitions backing this store.
func (s *Store) Definitions() map[string]Definition {
	return s.defs
}
