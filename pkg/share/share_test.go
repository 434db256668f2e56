package share_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/pkg/share"
)

func TestMaskingRoundTripLawNoNoise(t *testing.T) {
	q := field.DefaultQ
	counterBins := map[string]int{"C1": 1}

	dcSKShares := map[party.ID]map[string][]field.Elem{}
	sk1, err := share.Sample(q, counterBins)
	require.NoError(t, err)
	sk2, err := share.Sample(q, counterBins)
	require.NoError(t, err)
	dcSKShares["sk-1"] = sk1
	dcSKShares["sk-2"] = sk2

	localMask := share.Sum(q, dcSKShares, counterBins)

	// DC's true count x = 7, no noise.
	x := field.FromUint64(q, 7)
	masked := x.Sub(localMask["C1"][0])

	// Each SK's running accumulator only sees its own shares.
	acc1 := share.NewAccumulator(q, counterBins)
	acc1.Add(sk1)
	acc2 := share.NewAccumulator(q, counterBins)
	acc2.Add(sk2)

	total := masked.Add(acc1.Sum()["C1"][0]).Add(acc2.Sum()["C1"][0])
	assert.Equal(t, int64(7), total.Big().Int64())
}

func TestEnvelopeSealOpenRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	payload := share.Payload{
		RoundID: "round-1",
		From:    "dc-1",
		To:      "sk-1",
		Shares:  map[string][]string{"C1": {"123456789"}},
	}

	env, err := share.Seal(&priv.PublicKey, payload)
	require.NoError(t, err)

	got, err := share.Open(priv, env)
	require.NoError(t, err)
	assert.Equal(t, payload, *got)
}

func TestEnvelopeOpenFailsWithWrongKey(t *testing.T) {
	priv1, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv2, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	env, err := share.Seal(&priv1.PublicKey, share.Payload{RoundID: "r", From: "dc", To: "sk"})
	require.NoError(t, err)

	_, err = share.Open(priv2, env)
	assert.Error(t, err)
}
