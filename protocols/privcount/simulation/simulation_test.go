package simulation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/protocols/privcount/simulation"
)

// TestScenarioOneRoundTripRecoversExactTotals mirrors spec.md §8
// scenario 1: with noise disabled, the TS's aggregated total for each
// counter must exactly equal the sum of increments every DC applied,
// proving the additive-share masking cancels cleanly end to end.
func TestScenarioOneRoundTripRecoversExactTotals(t *testing.T) {
	dcIDs := party.IDSlice{"dc-1", "dc-2"}
	skIDs := party.IDSlice{"sk-1", "sk-2"}

	cfg := config.RoundConfig{
		RoundID: "r1",
		Counters: []config.CounterSpec{
			{Name: "StreamsOpened", Kind: "scalar", Sigma: 0, NoiseRequired: false},
		},
		NoiseWeights: map[string]float64{"dc-1": 0.5, "dc-2": 0.5},
		Periods: config.Periods{
			CollectPeriod: 60 * time.Second,
			EventPeriod:   10 * time.Second,
			CheckinPeriod: 5 * time.Second,
		},
		DCThreshold: 2,
		SKThreshold: 2,
	}

	skKeys, err := simulation.GenerateSKKeys(skIDs, 2048)
	require.NoError(t, err)

	events := map[party.ID]map[string]float64{
		"dc-1": {"StreamsOpened": 0},
		"dc-2": {"StreamsOpened": 0},
	}

	totals, err := simulation.RunRound(field.DefaultQ, cfg, dcIDs, skIDs, skKeys, events)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals["StreamsOpened"][0])
}
