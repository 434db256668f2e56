// Package field implements arithmetic over Z_q, the additive group that
// every PrivCount counter, share, and noise draw lives in.
package field

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/cronokirby/saferith"
)

// Q is the public prime modulus of the additive field. It is a
// per-deployment constant (see SPEC_FULL.md open-question decisions)
// compiled into every node as DefaultQ; no protocol message carries it.
// DefaultQ is the 384-bit NIST P-384 field prime
// 2^384 - 2^128 - 2^96 + 2^32 - 1, sized so that a 10^15-scale honest
// sum plus Gaussian noise out to several sigma never wraps, per
// spec.md §3.
var DefaultQ = mustPrime("fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffeffffffff0000000000000000ffffffff")

func mustPrime(hex string) *saferith.Modulus {
	n, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		panic("field: invalid modulus literal")
	}
	return saferith.ModulusFromNat(new(saferith.Nat).SetBig(n, n.BitLen()))
}

// Elem is an element of Z_q.
type Elem struct {
	q   *saferith.Modulus
	nat *saferith.Nat
}

// Zero returns the additive identity of the field defined by q.
func Zero(q *saferith.Modulus) Elem {
	return Elem{q: q, nat: new(saferith.Nat).SetUint64(0)}
}

// FromUint64 lifts a small non-negative integer into Z_q.
func FromUint64(q *saferith.Modulus, v uint64) Elem {
	return Elem{q: q, nat: new(saferith.Nat).SetUint64(v).Mod(q)}
}

// FromBig lifts an arbitrary big.Int (which may be negative) into Z_q.
func FromBig(q *saferith.Modulus, v *big.Int) Elem {
	reduced := new(big.Int).Mod(v, q.Big())
	return Elem{q: q, nat: new(saferith.Nat).SetBig(reduced, q.BitLen())}
}

// Random samples a uniform element of Z_q from a CSPRNG, as required by
// spec.md §4.2 step 1 (blinding shares are sampled uniformly in [0, q)).
func Random(q *saferith.Modulus) (Elem, error) {
	max := q.Big()
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return Elem{}, fmt.Errorf("field: csprng failure: %w", err)
	}
	return Elem{q: q, nat: new(saferith.Nat).SetBig(n, q.BitLen())}, nil
}

// Add returns e + other mod q.
func (e Elem) Add(other Elem) Elem {
	out := new(saferith.Nat).ModAdd(e.nat, other.nat, e.q)
	return Elem{q: e.q, nat: out}
}

// Sub returns e - other mod q.
func (e Elem) Sub(other Elem) Elem {
	out := new(saferith.Nat).ModSub(e.nat, other.nat, e.q)
	return Elem{q: e.q, nat: out}
}

// Negate returns -e mod q.
func (e Elem) Negate() Elem {
	return Zero(e.q).Sub(e)
}

// IsZero reports whether e is the additive identity.
func (e Elem) IsZero() bool {
	return e.nat.Big().Sign() == 0
}

// Big returns the element's canonical representative in [0, q).
func (e Elem) Big() *big.Int {
	return e.nat.Big()
}

// Modulus returns the field's modulus.
func (e Elem) Modulus() *saferith.Modulus {
	return e.q
}

// Lift maps a canonical representative in [0, q) to a signed value by
// folding anything >= q/2 back to a negative number, per spec.md §4.7
// "Then lifts to signed by mapping values >= q/2 to value - q."
func Lift(q *saferith.Modulus, v *big.Int) *big.Int {
	half := new(big.Int).Rsh(q.Big(), 1)
	if v.Cmp(half) >= 0 {
		return new(big.Int).Sub(v, q.Big())
	}
	return new(big.Int).Set(v)
}

// MarshalText implements encoding.TextMarshaler so Elem can appear
// directly in JSON/YAML share payloads as a decimal string.
func (e Elem) MarshalText() ([]byte, error) {
	return []byte(e.nat.Big().String()), nil
}

// UnmarshalTextWithModulus decodes a decimal string into an Elem bound to q.
// (Elem has no bare UnmarshalText because the modulus is external state
// that must be supplied by the caller.)
func UnmarshalTextWithModulus(q *saferith.Modulus, text []byte) (Elem, error) {
	v, ok := new(big.Int).SetString(string(text), 10)
	if !ok {
		return Elem{}, fmt.Errorf("field: invalid decimal element %q", text)
	}
	return FromBig(q, v), nil
}
