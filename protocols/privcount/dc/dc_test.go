package dc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/protocols/privcount/dc"
)

func testRound() config.RoundConfig {
	return config.RoundConfig{
		RoundID: "r1",
		Counters: []config.CounterSpec{
			{Name: "TestCounter", Kind: "scalar", Sigma: 0, NoiseRequired: false},
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

func TestConfigureGenerateSharesAndSnapshot(t *testing.T) {
	d := dc.New("dc-1", field.DefaultQ)
	require.NoError(t, d.Configure("r1", testRound()))

	sks := party.IDSlice{"sk-1", "sk-2"}
	payloads, localMask, err := d.GenerateShares(sks)
	require.NoError(t, err)
	assert.Len(t, payloads, 2)
	assert.Contains(t, localMask, "TestCounter")

	noiseDraw, err := d.DrawNoise(1.0)
	require.NoError(t, err)
	require.NoError(t, d.Initialize(localMask, noiseDraw))

	totals, err := d.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, totals, "TestCounter")
}

func TestConfigureRejectsInvalidRound(t *testing.T) {
	d := dc.New("dc-1", field.DefaultQ)
	bad := testRound()
	bad.Periods.CollectPeriod = 0
	assert.Error(t, d.Configure("r1", bad))
}
