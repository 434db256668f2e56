package ts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/counter"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/protocols/privcount/ts"
)

func TestFSMRefusesStartBeforeThresholdsMet(t *testing.T) {
	f := ts.NewFSM(2, 1)
	require.NoError(t, f.EnterWaitingForThresholds())

	f.NotePrepared(true, "dc-1")
	assert.Error(t, f.Start())

	f.NotePrepared(true, "dc-2")
	f.NotePrepared(false, "sk-1")
	require.NoError(t, f.Start())
	assert.Equal(t, ts.PhaseStarted, f.Phase())
}

func TestFSMFullLifecycle(t *testing.T) {
	f := ts.NewFSM(1, 1)
	require.NoError(t, f.EnterWaitingForThresholds())
	f.NotePrepared(true, "dc-1")
	f.NotePrepared(false, "sk-1")
	require.NoError(t, f.Start())
	require.NoError(t, f.Sum())
	require.NoError(t, f.Publish())
	require.NoError(t, f.Finish())
	assert.Equal(t, ts.PhaseIdle, f.Phase())
}

func TestAggregateCancelsComplementaryMasks(t *testing.T) {
	q := field.DefaultQ
	defs := map[string]counter.Definition{
		"C": counter.Scalar("C", 0, false),
	}

	mask, err := field.Random(q)
	require.NoError(t, err)
	noise := field.FromUint64(q, 5)

	// DC snapshot holds (noise - mask); SK share_sum holds mask. Their
	// sum should recover exactly the noise term.
	dcSnapshots := map[party.ID]map[string][]field.Elem{
		"dc-1": {"C": {noise.Sub(mask)}},
	}
	skSums := map[party.ID]map[string][]field.Elem{
		"sk-1": {"C": {mask}},
	}

	totals := ts.Aggregate(q, defs, dcSnapshots, skSums)
	assert.Equal(t, int64(5), totals["C"][0])
}

func TestHealthTrackerAliveWithinTwoCheckinPeriods(t *testing.T) {
	h := ts.NewHealthTracker(5 * time.Second)
	now := time.Now()
	h.Checkin("dc-1", now)

	assert.True(t, h.IsAlive("dc-1", now.Add(9*time.Second)))
	assert.False(t, h.IsAlive("dc-1", now.Add(11*time.Second)))
	assert.False(t, h.IsAlive("dc-unknown", now))
}
