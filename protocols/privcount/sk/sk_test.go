package sk_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/share"
	"github.com/privcount/privcount/protocols/privcount/sk"
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

func TestReceiveAccumulatesAcrossDCs(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	s := sk.New("sk-1", key, field.DefaultQ)
	require.NoError(t, s.Configure("r1", testRound()))

	draws1, err := share.Sample(field.DefaultQ, map[string]int{"TestCounter": 1})
	require.NoError(t, err)
	payload1, err := share.ToPayload("r1", "dc-1", "sk-1", draws1)
	require.NoError(t, err)
	env1, err := share.Seal(&key.PublicKey, payload1)
	require.NoError(t, err)

	draws2, err := share.Sample(field.DefaultQ, map[string]int{"TestCounter": 1})
	require.NoError(t, err)
	payload2, err := share.ToPayload("r1", "dc-2", "sk-1", draws2)
	require.NoError(t, err)
	env2, err := share.Seal(&key.PublicKey, payload2)
	require.NoError(t, err)

	require.NoError(t, s.Receive(env1))
	require.NoError(t, s.Receive(env2))

	sum, err := s.Reveal()
	require.NoError(t, err)

	want := draws1["TestCounter"][0].Add(draws2["TestCounter"][0])
	got := sum["TestCounter"][0]
	assert.Equal(t, want.Big(), got.Big())
}

func TestReceiveRejectsEnvelopeForWrongKey(t *testing.T) {
	correctKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	s := sk.New("sk-1", correctKey, field.DefaultQ)
	require.NoError(t, s.Configure("r1", testRound()))

	draws, err := share.Sample(field.DefaultQ, map[string]int{"TestCounter": 1})
	require.NoError(t, err)
	payload, err := share.ToPayload("r1", "dc-1", "sk-1", draws)
	require.NoError(t, err)
	env, err := share.Seal(&otherKey.PublicKey, payload)
	require.NoError(t, err)

	assert.Error(t, s.Receive(env))
}
