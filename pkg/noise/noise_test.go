package noise_test

import (
	"math"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/noise"
)

func TestStandardGaussianIsFinite(t *testing.T) {
	for i := 0; i < 100; i++ {
		z, err := noise.StandardGaussian()
		require.NoError(t, err)
		assert.False(t, math.IsNaN(z))
		assert.False(t, math.IsInf(z, 0))
	}
}

func TestDrawZeroSigmaIsZero(t *testing.T) {
	n, err := noise.Draw(0, 1.0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// TestScenarioTwoAggregateNoiseMatchesSigma exercises spec.md §8
// scenario 2: three DCs with equal weights, sigma=10; the aggregate
// noise (sum of each DC's scaled draw) should be distributed as
// N(0, 10^2). We sample many trials and check empirical mean/stddev
// against the configured sigma's statistical tolerances.
func TestScenarioTwoAggregateNoiseMatchesSigma(t *testing.T) {
	const trials = 2000
	const sigma = 10.0
	const numDCs = 3
	weight := 1.0 / numDCs

	totals := make([]float64, trials)
	for i := 0; i < trials; i++ {
		var sum int64
		for d := 0; d < numDCs; d++ {
			n, err := noise.Draw(sigma, weight)
			require.NoError(t, err)
			sum += n
		}
		totals[i] = float64(sum)
	}

	mean, err := stats.Mean(totals)
	require.NoError(t, err)
	stddev, err := stats.StandardDeviation(totals)
	require.NoError(t, err)

	assert.InDelta(t, 0, mean, 2.0, "empirical mean should be near 0")
	assert.InDelta(t, sigma, stddev, sigma*0.25, "empirical stddev should track sigma")
}
