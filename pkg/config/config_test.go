package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/field"
)

func validRound(sigma float64) config.RoundConfig {
	return config.RoundConfig{
		RoundID: "r1",
		Counters: []config.CounterSpec{
			{Name: "TestCounter", Kind: "scalar", Sigma: sigma, NoiseRequired: sigma > 0},
		},
		NoiseWeights: map[string]float64{"dc-1": 1.0},
		Periods: config.Periods{
			CollectPeriod: 60 * time.Second,
			EventPeriod:   10 * time.Second,
			CheckinPeriod: 5 * time.Second,
		},
		DCThreshold: 1,
		SKThreshold: 1,
	}
}

func TestValidateInitialAcceptsWellFormedRound(t *testing.T) {
	require.NoError(t, validRound(10).ValidateInitial(false, nil))
}

func TestValidateInitialRejectsShortCollectPeriod(t *testing.T) {
	r := validRound(10)
	r.Periods.CollectPeriod = 1 * time.Second
	assert.Error(t, r.ValidateInitial(false, nil))
}

func TestValidateInitialRejectsBadWeightSum(t *testing.T) {
	r := validRound(10)
	r.NoiseWeights["dc-1"] = 0.4
	assert.Error(t, r.ValidateInitial(false, nil))
}

func TestValidateInitialRejectsNoiseRequiredWithZeroSigma(t *testing.T) {
	r := validRound(0)
	r.Counters[0].NoiseRequired = true
	assert.Error(t, r.ValidateInitial(false, nil))
}

func TestValidateInitialAcceptsMaxBinWithinModulus(t *testing.T) {
	require.NoError(t, validRound(10).ValidateInitial(false, field.DefaultQ))
}

func TestValidateInitialRejectsMaxBinOverflow(t *testing.T) {
	r := validRound(10)
	r.Counters[0] = config.CounterSpec{Name: "Big", Kind: "histogram", BinEdges: []float64{0, 1e200}, Sigma: 10, NoiseRequired: true}
	assert.Error(t, r.ValidateInitial(false, field.DefaultQ))
}

// TestScenarioFourDelayEnforcement mirrors spec.md §8 scenario 4: round
// R1 has sigma=10, R2 has sigma=5 for the same counter; the SK must
// refuse PREPARED until delay_period has elapsed since R1 ended.
func TestScenarioFourDelayEnforcement(t *testing.T) {
	r1 := validRound(10)
	hist := config.History{
		InitialSigma: config.PinInitialSigmas(r1),
		LastRoundEnd: time.Now(),
	}

	r2 := validRound(5)
	check := config.CheckRoundStart(r2, hist, time.Now())
	require.True(t, check.DelayRequired)

	delayPeriod := 1 * time.Hour
	assert.False(t, config.DelayElapsed(hist, delayPeriod, time.Now()))
	assert.True(t, config.DelayElapsed(hist, delayPeriod, time.Now().Add(2*time.Hour)))
}

func TestNoDelayWhenSigmaUnchanged(t *testing.T) {
	r1 := validRound(10)
	hist := config.History{InitialSigma: config.PinInitialSigmas(r1), LastRoundEnd: time.Now()}
	check := config.CheckRoundStart(validRound(10), hist, time.Now())
	assert.False(t, check.DelayRequired)
}
