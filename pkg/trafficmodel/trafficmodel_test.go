package trafficmodel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/trafficmodel"
)

func twoStateModel() trafficmodel.Model {
	return trafficmodel.Model{
		States: []string{"A", "B"},
		Start:  map[string]float64{"A": 0.9, "B": 0.1},
		Transitions: map[string]map[string]float64{
			"A": {"A": 0.7, "B": 0.3},
			"B": {"A": 0.4, "B": 0.6},
		},
		Emissions: map[string]trafficmodel.Distribution{
			"A": trafficmodel.Gaussian{Mean: 100, StdDev: 10},
			"B": trafficmodel.Gaussian{Mean: 1400, StdDev: 50},
		},
		Delays: map[string]trafficmodel.Distribution{
			"A": trafficmodel.Gaussian{Mean: 0.01, StdDev: 0.005},
			"B": trafficmodel.Gaussian{Mean: 0.2, StdDev: 0.05},
		},
	}
}

func TestModelValidateAcceptsWellFormedModel(t *testing.T) {
	require.NoError(t, twoStateModel().Validate())
}

func TestModelValidateRejectsUnknownTransitionState(t *testing.T) {
	m := twoStateModel()
	m.Transitions["A"]["C"] = 0.1
	assert.Error(t, m.Validate())
}

// TestDecodePrefersObviousState mirrors spec.md §4.4's Viterbi
// semantics: an observation sequence that looks exactly like state B's
// emission/delay profile should decode entirely to B.
func TestDecodePrefersObviousState(t *testing.T) {
	m := twoStateModel()
	obs := []trafficmodel.Observation{
		{Size: 1400, Direction: trafficmodel.DirectionOut, Delay: 0.2},
		{Size: 1390, Direction: trafficmodel.DirectionOut, Delay: 0.21},
		{Size: 1410, Direction: trafficmodel.DirectionOut, Delay: 0.19},
	}
	path := trafficmodel.Decode(m, obs)
	require.Len(t, path, 3)
	for _, s := range path {
		assert.Equal(t, "B", s)
	}
}

func TestSplitAssignsAllDelayToFirstPacket(t *testing.T) {
	obs := trafficmodel.Split(3200, trafficmodel.DirectionOut, 0.5)
	require.Len(t, obs, 3) // ceil(3200/1500) = 3
	assert.Equal(t, 0.5, obs[0].Delay)
	assert.Equal(t, 0.0, obs[1].Delay)
	assert.Equal(t, 0.0, obs[2].Delay)
	assert.Equal(t, float64(1500), obs[0].Size)
	assert.Equal(t, float64(1500), obs[1].Size)
	assert.Equal(t, float64(200), obs[2].Size)
}

func TestIncrementsEmitsOneTransitionPerStep(t *testing.T) {
	path := []string{"A", "A", "B"}
	obs := []trafficmodel.Observation{
		{Size: 100, Direction: trafficmodel.DirectionOut, Delay: 0.01},
		{Size: 110, Direction: trafficmodel.DirectionOut, Delay: 0.01},
		{Size: 1400, Direction: trafficmodel.DirectionOut, Delay: 0.2},
	}
	incs := trafficmodel.Increments(path, obs)

	var transitions int
	for _, inc := range incs {
		if inc.CounterName == trafficmodel.TransitionCounterName("A", "A") ||
			inc.CounterName == trafficmodel.TransitionCounterName("A", "B") {
			transitions++
		}
	}
	assert.Equal(t, 2, transitions)
}
