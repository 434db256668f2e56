// Package identity manages each node's long-term identity keypair. The
// fingerprint derived from it is the stable identity spec.md §4.5
// requires to survive a node's IP address changing ("its logical
// identity ... persists; dead-by-IP false positives are avoided").
package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/zeebo/blake3"
)

// Fingerprint is a node's stable identity, independent of transport
// address: blake3(compressed long-term public key).
type Fingerprint string

// KeyPair is a node's long-term secp256k1 identity key, used to derive
// its Fingerprint and, out-of-band, as the trust anchor an SK checks an
// incoming DC's RSA share-encryption key against (spec.md §4.2).
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Public  *secp256k1.PublicKey
}

// Generate creates a fresh long-term identity keypair.
func Generate() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: key generation failed: %w", err)
	}
	return &KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// FromPrivateBytes restores a keypair from a persisted 32-byte scalar.
func FromPrivateBytes(b []byte) (*KeyPair, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("identity: private key must be 32 bytes, got %d", len(b))
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	return &KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// FingerprintOf derives the stable node identity from a public key.
func FingerprintOf(pub *secp256k1.PublicKey) Fingerprint {
	sum := blake3.Sum256(pub.SerializeCompressed())
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Fingerprint returns this keypair's fingerprint.
func (k *KeyPair) Fingerprint() Fingerprint {
	return FingerprintOf(k.Public)
}

// VerifyFingerprint checks that a claimed public key (e.g. presented in
// a REGISTER message) actually hashes to the fingerprint the TS has on
// file for that node — the out-of-band trust anchor check spec.md §4.2
// requires before an SK accepts a DC's hybrid-envelope key binding.
func VerifyFingerprint(pubBytes []byte, want Fingerprint) (bool, error) {
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("identity: invalid public key bytes: %w", err)
	}
	return FingerprintOf(pub) == want, nil
}
