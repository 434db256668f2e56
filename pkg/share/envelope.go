package share

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/sixafter/nanoid"
	"golang.org/x/crypto/chacha20poly1305"
)

// Envelope is the hybrid ciphertext of spec.md §4.2 step 3: a random
// symmetric key encrypts the CBOR-packed Payload under an authenticated
// cipher (this lifts RSA's plaintext-size limit), and the symmetric key
// itself is encrypted under the recipient SK's RSA-OAEP/SHA-256 public
// key.
type Envelope struct {
	// ID is a short correlation token distinguishing this specific
	// envelope from a retransmission, independent of the round ID.
	ID            string `json:"id"`
	EncryptedKey  []byte `json:"encrypted_key"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
}

// Seal packs payload as CBOR, encrypts it under a fresh ChaCha20-Poly1305
// key, and wraps that key under the SK's RSA-OAEP public key.
func Seal(pub *rsa.PublicKey, payload Payload) (*Envelope, error) {
	packed, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("share: cbor pack failed: %w", err)
	}

	symKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(symKey); err != nil {
		return nil, fmt.Errorf("share: csprng failure generating symmetric key: %w", err)
	}
	aead, err := chacha20poly1305.New(symKey)
	if err != nil {
		return nil, fmt.Errorf("share: aead init failed: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("share: csprng failure generating nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, packed, nil)

	encryptedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, symKey, nil)
	if err != nil {
		return nil, fmt.Errorf("share: rsa-oaep key wrap failed: %w", err)
	}

	id, err := nanoid.New()
	if err != nil {
		return nil, fmt.Errorf("share: envelope id generation failed: %w", err)
	}

	return &Envelope{
		ID:           id,
		EncryptedKey: encryptedKey,
		Nonce:        nonce,
		Ciphertext:   ciphertext,
	}, nil
}

// Open reverses Seal using the SK's RSA private key, recovering the
// Payload. A decryption failure here is the "SK unable to decrypt
// reports failure to TS" case in spec.md §4.2.
func Open(priv *rsa.PrivateKey, env *Envelope) (*Payload, error) {
	symKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, env.EncryptedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("share: rsa-oaep key unwrap failed: %w", err)
	}
	aead, err := chacha20poly1305.New(symKey)
	if err != nil {
		return nil, fmt.Errorf("share: aead init failed: %w", err)
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("share: malformed envelope nonce")
	}
	packed, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("share: aead authentication failed: %w", err)
	}
	var payload Payload
	if err := cbor.Unmarshal(packed, &payload); err != nil {
		return nil, fmt.Errorf("share: cbor unpack failed: %w", err)
	}
	return &payload, nil
}
