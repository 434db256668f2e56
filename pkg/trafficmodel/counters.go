package trafficmodel

import (
	"fmt"
	"math"

	"github.com/privcount/privcount/pkg/counter"
)

// TransitionCounterName names the template counter for one (src, dst)
// state transition (spec.md §4.4.2).
func TransitionCounterName(src, dst string) string {
	return fmt.Sprintf("Transition_%s_%s", src, dst)
}

// EmissionCounterName names the template counter for one (state,
// direction) pair's packet-size histogram.
func EmissionCounterName(state string, dir Direction) string {
	return fmt.Sprintf("Emission_%s_%s", state, dir)
}

// LogDelayTimeCounterName and SquaredLogDelayTimeCounterName name the
// first and second moment counters used to recover the delay
// distribution's mean and variance at aggregation time.
func LogDelayTimeCounterName(state string, dir Direction) string {
	return fmt.Sprintf("LogDelayTime_%s_%s", state, dir)
}

func SquaredLogDelayTimeCounterName(state string, dir Direction) string {
	return fmt.Sprintf("SquaredLogDelayTime_%s_%s", state, dir)
}

// Expand produces one template counter Definition per spec.md §4.4.2
// for every (src, dst) transition and every (state, direction) pair,
// using sigma/noiseRequired/bins supplied by the round config for each
// template kind.
func Expand(m Model, dirs []Direction, transitionDef, emissionDef, delayDef func(name string) counter.Definition) []counter.Definition {
	var defs []counter.Definition
	for src, row := range m.Transitions {
		for dst := range row {
			defs = append(defs, transitionDef(TransitionCounterName(src, dst)))
		}
	}
	for _, s := range m.States {
		for _, d := range dirs {
			defs = append(defs, emissionDef(EmissionCounterName(s, d)))
			defs = append(defs, delayDef(LogDelayTimeCounterName(s, d)))
			defs = append(defs, delayDef(SquaredLogDelayTimeCounterName(s, d)))
		}
	}
	return defs
}

// Increment is one template-counter update implied by a decoded path,
// as produced by Increments. The caller (the DC's event loop) is
// responsible for feeding these into a counter.Store.
type Increment struct {
	CounterName string
	Value       float64
}

// Increments walks path/obs in lockstep, producing one Transition
// increment per consecutive state pair and one Emission/LogDelayTime/
// SquaredLogDelayTime increment per observation.
//
// The log-delay cast truncates toward zero rather than rounding, to
// match the upstream model's integer-truncation semantics bit for bit
// when delay is already an integer number of time units.
func Increments(path []string, obs []Observation) []Increment {
	var out []Increment
	for i, state := range path {
		o := obs[i]
		out = append(out, Increment{CounterName: EmissionCounterName(state, o.Direction), Value: o.Size})

		logDelay := 0.0
		if o.Delay > 0 {
			logDelay = math.Trunc(math.Log(o.Delay))
		}
		out = append(out, Increment{CounterName: LogDelayTimeCounterName(state, o.Direction), Value: logDelay})
		out = append(out, Increment{CounterName: SquaredLogDelayTimeCounterName(state, o.Direction), Value: logDelay * logDelay})

		if i > 0 {
			out = append(out, Increment{CounterName: TransitionCounterName(path[i-1], state), Value: 1})
		}
	}
	return out
}
