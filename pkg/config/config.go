// Package config implements PrivCount's validated configuration
// records: node configs parsed from YAML, and the per-round counter
// configuration validated per spec.md §4.6.
//
// SPEC_FULL.md's "Dynamic types over YAML" design note calls for
// enumerated variants instead of consuming loosely-typed YAML; AuthMode
// below is such a variant. Parsing and validation are one step for it:
// its UnmarshalYAML rejects anything that does not parse into one of the
// known constants. EventType is a plain string type with no
// UnmarshalYAML, so an unknown event name is not rejected at parse time.
package config

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/cronokirby/saferith"

	"github.com/privcount/privcount/pkg/counter"
	"github.com/privcount/privcount/pkg/party"
)

// AuthMode is the Tor control-port authentication method a DC tries, in
// the preference order spec.md §6 names.
type AuthMode int

const (
	AuthSafeCookie AuthMode = iota
	AuthHashedPassword
	AuthNull
)

func (m AuthMode) String() string {
	switch m {
	case AuthSafeCookie:
		return "safecookie"
	case AuthHashedPassword:
		return "hashedpassword"
	case AuthNull:
		return "null"
	default:
		return "unknown"
	}
}

// UnmarshalYAML implements the enumerated-variant parse-and-validate
// pattern for AuthMode.
func (m *AuthMode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch s {
	case "safecookie":
		*m = AuthSafeCookie
	case "hashedpassword":
		*m = AuthHashedPassword
	case "null":
		*m = AuthNull
	default:
		return fmt.Errorf("config: unknown auth mode %q", s)
	}
	return nil
}

// EventType tags the Tor control-port events a DC subscribes to
// (spec.md §6 "Event source").
type EventType string

const (
	EventDNSResolved           EventType = "PRIVCOUNT_DNS_RESOLVED"
	EventStreamBytesTransfered EventType = "PRIVCOUNT_STREAM_BYTES_TRANSFERRED"
	EventStreamEnded           EventType = "PRIVCOUNT_STREAM_ENDED"
	EventCircuitEnded          EventType = "PRIVCOUNT_CIRCUIT_ENDED"
	EventConnectionEnded       EventType = "PRIVCOUNT_CONNECTION_ENDED"
	EventHSDirCacheStore       EventType = "PRIVCOUNT_HSDIR_CACHE_STORE"
	EventCircuitCell           EventType = "PRIVCOUNT_CIRCUIT_CELL"
	EventCircuitClose          EventType = "PRIVCOUNT_CIRCUIT_CLOSE"
)

// AllEventTypes is the full subscription set a DC requests, per
// spec.md §6.
var AllEventTypes = []EventType{
	EventDNSResolved, EventStreamBytesTransfered, EventStreamEnded,
	EventCircuitEnded, EventConnectionEnded, EventHSDirCacheStore,
	EventCircuitCell, EventCircuitClose,
}

// CounterSpec is one counter's YAML representation: a name, an optional
// list of bin edges (omitted for scalar counters), a sigma, and whether
// noise is mandatory.
type CounterSpec struct {
	Name          string    `yaml:"name"`
	Kind          string    `yaml:"kind"` // "scalar" | "histogram" | "traffic_model"
	BinEdges      []float64 `yaml:"bin_edges,omitempty"`
	Sigma         float64   `yaml:"sigma"`
	NoiseRequired bool      `yaml:"noise_required"`
}

// ToDefinition converts a YAML CounterSpec into a validated
// counter.Definition.
func (c CounterSpec) ToDefinition() (counter.Definition, error) {
	name := counter.Canonicalize(c.Name)
	switch c.Kind {
	case "scalar":
		return counter.Scalar(name, c.Sigma, c.NoiseRequired), nil
	case "histogram", "traffic_model":
		if len(c.BinEdges) < 2 {
			return counter.Definition{}, fmt.Errorf("config: counter %s needs >= 2 bin edges", name)
		}
		bins := make([]counter.Bin, 0, len(c.BinEdges)-1)
		for i := 0; i+1 < len(c.BinEdges); i++ {
			bins = append(bins, counter.Bin{Lo: c.BinEdges[i], Hi: c.BinEdges[i+1]})
		}
		return counter.Histogram(name, bins, c.Sigma, c.NoiseRequired), nil
	default:
		return counter.Definition{}, fmt.Errorf("config: unknown counter kind %q for %s", c.Kind, name)
	}
}

// Periods is the round's timing parameters, validated per spec.md §4.6
// "Periods".
type Periods struct {
	CollectPeriod time.Duration `yaml:"collect_period"`
	EventPeriod   time.Duration `yaml:"event_period"`
	CheckinPeriod time.Duration `yaml:"checkin_period"`
	GracePeriod   time.Duration `yaml:"grace_period"`
	DelayPeriod   time.Duration `yaml:"delay_period"`
}

// RoundConfig is the counter+noise configuration the TS publishes and
// every DC/SK must validate and accept before PREPARED (spec.md §3
// "Round", §4.6).
type RoundConfig struct {
	RoundID          string        `yaml:"round_id"`
	Counters         []CounterSpec `yaml:"counters"`
	NoiseWeights     map[string]float64 `yaml:"noise_weights"` // DC ID -> w_d
	Periods          Periods       `yaml:"periods"`
	DCThreshold      int           `yaml:"dc_threshold"`
	SKThreshold      int           `yaml:"sk_threshold"`
	AlwaysDelay      bool          `yaml:"always_delay"`
	KnownCounterSet  []string      `yaml:"-"` // populated by the TS/DC from the frozen registry, not from YAML
}

// Definitions converts every CounterSpec to a counter.Definition.
func (r RoundConfig) Definitions() ([]counter.Definition, error) {
	defs := make([]counter.Definition, 0, len(r.Counters))
	for _, c := range r.Counters {
		d, err := c.ToDefinition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// ValidateInitial runs spec.md §4.6's "Initial checks", independent of
// any prior round. strictCounterNames controls counter-name validation:
// when true (DC and TS), names are checked against KnownCounterSet if it
// is non-empty; SKs pass false and accept any name for forward
// compatibility. q is the field modulus the round's shares and
// masked counters live in; pass nil to skip the ∑ w_d·max_bin < q
// overflow check (used by callers, such as tests, that do not yet have
// a modulus to hand).
func (r RoundConfig) ValidateInitial(strictCounterNames bool, q *saferith.Modulus) error {
	if len(r.Counters) == 0 {
		return fmt.Errorf("config: round has no counters")
	}
	seen := make(map[string]bool, len(r.Counters))
	var maxBin float64
	for _, c := range r.Counters {
		name := counter.Canonicalize(c.Name)
		if seen[name] {
			return fmt.Errorf("config: duplicate counter %s", name)
		}
		seen[name] = true

		def, err := c.ToDefinition()
		if err != nil {
			return err
		}
		if err := def.Validate(); err != nil {
			return err
		}
		if strictCounterNames && len(r.KnownCounterSet) > 0 && !contains(r.KnownCounterSet, name) {
			return fmt.Errorf("config: unknown counter %s", name)
		}
		for _, b := range def.Bins {
			if !math.IsInf(b.Hi, 0) && math.Abs(b.Hi) > maxBin {
				maxBin = math.Abs(b.Hi)
			}
			if !math.IsInf(b.Lo, 0) && math.Abs(b.Lo) > maxBin {
				maxBin = math.Abs(b.Lo)
			}
		}
	}

	var weightSum float64
	for dc, w := range r.NoiseWeights {
		if w < 0 {
			return fmt.Errorf("config: noise weight for %s is negative", dc)
		}
		weightSum += w
	}
	if len(r.NoiseWeights) > 0 {
		if diff := weightSum - 1.0; diff > 1e-6 || diff < -1e-6 {
			return fmt.Errorf("config: noise weights must sum to 1, got %f", weightSum)
		}
	}

	// spec.md §4.6 "Initial checks": σ_c ≥ 0, w_d ≥ 0 (both enforced
	// above), and ∑ w_d·max_bin < q, so that the largest bin a DC could
	// legitimately observe, scaled by its noise weight, cannot wrap the
	// field on its own.
	if q != nil && maxBin > 0 && weightSum > 0 {
		bound := new(big.Float).Mul(big.NewFloat(weightSum), big.NewFloat(maxBin))
		qFloat := new(big.Float).SetInt(q.Big())
		if bound.Cmp(qFloat) >= 0 {
			return fmt.Errorf("config: noise weight sum %f times max bin %f must be < field modulus q", weightSum, maxBin)
		}
	}

	if r.Periods.CollectPeriod < 4*time.Second {
		return fmt.Errorf("config: collect_period must be >= 4s")
	}
	if r.Periods.EventPeriod < 2*time.Second {
		return fmt.Errorf("config: event_period must be >= 2s")
	}
	if r.Periods.CheckinPeriod > r.Periods.EventPeriod {
		return fmt.Errorf("config: checkin_period must be <= event_period")
	}
	if r.Periods.CollectPeriod < 2*r.Periods.EventPeriod {
		return fmt.Errorf("config: collect_period must span >= 2 event_periods")
	}
	if r.DCThreshold < 1 {
		return fmt.Errorf("config: dc_threshold must be >= 1")
	}
	if r.SKThreshold < 1 {
		return fmt.Errorf("config: sk_threshold must be >= 1")
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// PartyIDs returns the DC IDs with a configured noise weight.
func (r RoundConfig) PartyIDs() party.IDSlice {
	ids := make(party.IDSlice, 0, len(r.NoiseWeights))
	for id := range r.NoiseWeights {
		ids = append(ids, party.ID(id))
	}
	return ids.Sorted()
}
