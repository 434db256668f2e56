// Package outcomes implements the published-results JSON format of
// spec.md §6 "Outcomes file" and the validity check of §4.7.
package outcomes

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/privcount/privcount/pkg/counter"
)

// Bin is one published (lo, hi, value) triple. Infinities serialize as
// the literal strings ".inf" / "-.inf" per spec.md §6.
type Bin struct {
	Lo    float64
	Hi    float64
	Value int64
}

// MarshalJSON writes [lo, hi, value] with ±Inf spelled out specially.
func (b Bin) MarshalJSON() ([]byte, error) {
	lo, err := floatToken(b.Lo)
	if err != nil {
		return nil, err
	}
	hi, err := floatToken(b.Hi)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("[%s,%s,%d]", lo, hi, b.Value)), nil
}

func floatToken(f float64) (string, error) {
	switch {
	case math.IsInf(f, 1):
		return `".inf"`, nil
	case math.IsInf(f, -1):
		return `"-.inf"`, nil
	case math.IsNaN(f):
		return "", fmt.Errorf("outcomes: cannot serialize NaN bin edge")
	default:
		return fmt.Sprintf("%g", f), nil
	}
}

// CounterOutcome is the per-counter published result.
type CounterOutcome struct {
	Sigma float64 `json:"sigma"`
	Bins  []Bin   `json:"bins"`
}

// Context is the round metadata published alongside the tally.
type Context struct {
	RoundID         string    `json:"round_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Participants    []string  `json:"participants"`
	Valid           bool      `json:"valid"`
	InvalidityCause string    `json:"invalidity_cause,omitempty"`
}

// Outcomes is the full published JSON document, shaped as spec.md §6
// requires: `{Context: {...}, Tally: {counter_name: {sigma, bins}}}`.
type Outcomes struct {
	Context Context                    `json:"Context"`
	Tally   map[string]CounterOutcome `json:"Tally"`
}

// Validate enforces spec.md I5 / §4.7's validity check: the reserved
// ZeroCount counter must aggregate to exactly 0, or the outcome is
// invalid and must not be released to analysts.
func Validate(tally map[string]CounterOutcome) error {
	zc, ok := tally[counter.ZeroCountName]
	if !ok {
		return fmt.Errorf("outcomes: missing required %s counter", counter.ZeroCountName)
	}
	for _, b := range zc.Bins {
		if b.Value != 0 {
			return fmt.Errorf("outcomes: %s is non-zero (%d): round is invalid", counter.ZeroCountName, b.Value)
		}
	}
	return nil
}

// Encode marshals the full outcomes document.
func Encode(o Outcomes) ([]byte, error) {
	return json.MarshalIndent(o, "", "  ")
}
