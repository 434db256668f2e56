package field_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/field"
)

func TestAddWrapsModQ(t *testing.T) {
	q := field.DefaultQ
	a := field.FromUint64(q, 7)
	b := field.FromUint64(q, 5)
	sum := a.Add(b)
	assert.Equal(t, big.NewInt(12), sum.Big())
}

func TestSubNegativeWrapsToQMinus(t *testing.T) {
	q := field.DefaultQ
	a := field.FromUint64(q, 3)
	b := field.FromUint64(q, 10)
	diff := a.Sub(b)
	// 3 - 10 mod q == q - 7
	expected := new(big.Int).Sub(q.Big(), big.NewInt(7))
	assert.Equal(t, expected, diff.Big())
}

func TestNegateIsAdditiveInverse(t *testing.T) {
	q := field.DefaultQ
	a := field.FromUint64(q, 42)
	sum := a.Add(a.Negate())
	assert.True(t, sum.IsZero())
}

func TestRandomIsBounded(t *testing.T) {
	q := field.DefaultQ
	r, err := field.Random(q)
	require.NoError(t, err)
	assert.True(t, r.Big().Cmp(q.Big()) < 0)
	assert.True(t, r.Big().Sign() >= 0)
}

func TestLiftSignsValuesAboveHalfQ(t *testing.T) {
	q := field.DefaultQ
	half := new(big.Int).Rsh(q.Big(), 1)

	below := field.Lift(q, big.NewInt(10))
	assert.Equal(t, big.NewInt(10), below)

	above := new(big.Int).Add(half, big.NewInt(1))
	lifted := field.Lift(q, above)
	assert.True(t, lifted.Sign() < 0)
}

func TestRoundTripTextMarshal(t *testing.T) {
	q := field.DefaultQ
	a := field.FromUint64(q, 99999)
	text, err := a.MarshalText()
	require.NoError(t, err)
	b, err := field.UnmarshalTextWithModulus(q, text)
	require.NoError(t, err)
	assert.Equal(t, a.Big(), b.Big())
}
