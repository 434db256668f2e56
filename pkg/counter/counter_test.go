package counter_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/counter"
	"github.com/privcount/privcount/pkg/field"
)

func TestHistogramBinLookup(t *testing.T) {
	def := counter.Histogram("Stream", []counter.Bin{
		{Lo: 0, Hi: 10},
		{Lo: 10, Hi: 100},
		{Lo: 100, Hi: math.Inf(1)},
	}, 0, false)
	require.NoError(t, def.Validate())

	cases := []struct {
		v    float64
		want int
	}{
		{0, 0}, {9, 0}, {10, 1}, {99, 1}, {100, 2}, {math.Inf(1), 2},
	}
	for _, c := range cases {
		idx, err := def.BinIndex(c.v)
		require.NoError(t, err)
		assert.Equal(t, c.want, idx, "value %v", c.v)
	}
}

func TestBinGapIsNonFatal(t *testing.T) {
	def := counter.Histogram("Gapped", []counter.Bin{{Lo: 0, Hi: 5}, {Lo: 10, Hi: 20}}, 0, false)
	_, err := def.BinIndex(7)
	var gapErr counter.ErrBinGap
	require.ErrorAs(t, err, &gapErr)
}

// TestScenarioOne mirrors spec.md §8 scenario 1: single DC, two SKs,
// scalar counter, sigma=0, 7 increments -> published total 7.
func TestScenarioOneSingleDCTwoSKsNoNoise(t *testing.T) {
	q := field.DefaultQ
	def := counter.Scalar("TestCounter", 0, false)
	store := counter.NewStore(q, []counter.Definition{def})

	// Two SKs each hold a uniformly random share; their sum masks the DC.
	r1, err := field.Random(q)
	require.NoError(t, err)
	r2, err := field.Random(q)
	require.NoError(t, err)
	shareSum := r1.Add(r2)

	require.NoError(t, store.Initialize(
		map[string][]field.Elem{"TestCounter": {shareSum}},
		nil,
	))

	for i := 0; i < 7; i++ {
		require.NoError(t, store.Increment("TestCounter", 0, 1))
	}

	masked := store.Snapshot()["TestCounter"][0]
	total := masked.Add(shareSum) // TS adds SK share_sum back, per §4.7
	assert.Equal(t, int64(7), total.Big().Int64())
}

// TestScenarioThree mirrors spec.md §8 scenario 3: bins [0,10)[10,100)
// [100, inf); observations 0, 9, 10, 1000 -> bin counts [2, 1, 1].
func TestScenarioThreeHistogramCounts(t *testing.T) {
	q := field.DefaultQ
	def := counter.Histogram("HistTest", []counter.Bin{
		{Lo: 0, Hi: 10}, {Lo: 10, Hi: 100}, {Lo: 100, Hi: math.Inf(1)},
	}, 0, false)
	store := counter.NewStore(q, []counter.Definition{def})
	require.NoError(t, store.Initialize(map[string][]field.Elem{
		"HistTest": {field.Zero(q), field.Zero(q), field.Zero(q)},
	}, nil))

	for _, v := range []float64{0, 9, 10, 1000} {
		require.NoError(t, store.Increment("HistTest", v, 1))
	}

	row := store.Snapshot()["HistTest"]
	assert.Equal(t, []int64{2, 1, 1}, []int64{row[0].Big().Int64(), row[1].Big().Int64(), row[2].Big().Int64()})
}

func TestRotatingSetAgesOutAfterTwoRotations(t *testing.T) {
	s := counter.NewRotatingSet()
	assert.True(t, s.Observe("1.2.3.4"))
	assert.False(t, s.Observe("1.2.3.4"))

	s.Rotate() // 1.2.3.4 now only in prior
	assert.False(t, s.Observe("1.2.3.4"), "still known in prior generation")
	// That Observe recorded 1.2.3.4 in current again, so two more
	// rotations without an observation are needed to age it out.

	s.Rotate() // 1.2.3.4 now only in prior
	s.Rotate() // 1.2.3.4 now aged out of both generations
	assert.True(t, s.Observe("1.2.3.4"), "should be treated as new again")
}

func TestCanonicalizeResolvesSynonyms(t *testing.T) {
	assert.Equal(t, "EntryCircuitInboundCellHistogram", counter.Canonicalize("EntryCircuitInboundCellCount"))
	assert.Equal(t, "SomethingElse", counter.Canonicalize("SomethingElse"))
}
