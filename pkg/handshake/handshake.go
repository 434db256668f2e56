// Package handshake implements the SHA-256 challenge-response proving
// knowledge of a shared secret handshake key, per spec.md §4.5
// "Handshake".
package handshake

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

const nonceSize = 32

// ServerHello is step 1: the server's random nonce N_s.
type ServerHello struct {
	Nonce [nonceSize]byte
}

// ClientResponse is step 2: the client's nonce N_c and its HMAC over
// K || "client" || N_s || N_c.
type ClientResponse struct {
	Nonce [nonceSize]byte
	MAC   []byte
}

// ServerConfirm is step 3: the server's HMAC over K || "server" || N_s || N_c.
type ServerConfirm struct {
	MAC []byte
}

func randomNonce() ([nonceSize]byte, error) {
	var n [nonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("handshake: csprng failure: %w", err)
	}
	return n, nil
}

func tag(key []byte, role string, ns, nc [nonceSize]byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(role))
	mac.Write(ns[:])
	mac.Write(nc[:])
	return mac.Sum(nil)
}

// NewServerHello produces step 1, sent by the TS to a connecting DC/SK.
func NewServerHello() (*ServerHello, error) {
	n, err := randomNonce()
	if err != nil {
		return nil, err
	}
	return &ServerHello{Nonce: n}, nil
}

// RespondAsClient produces step 2. key is the shared handshake secret K,
// known only to this client and the TS; it is never transmitted.
func RespondAsClient(key []byte, hello *ServerHello) (*ClientResponse, error) {
	nc, err := randomNonce()
	if err != nil {
		return nil, err
	}
	return &ClientResponse{
		Nonce: nc,
		MAC:   tag(key, "client", hello.Nonce, nc),
	}, nil
}

// VerifyClientAndConfirm performs the server's step 3: it verifies the
// client's HMAC from step 2 and, on success, returns the server's own
// confirmation HMAC. A verification failure (spec.md §7 AuthFailed)
// means the connection must be dropped without a confirm.
func VerifyClientAndConfirm(key []byte, hello *ServerHello, resp *ClientResponse) (*ServerConfirm, error) {
	expected := tag(key, "client", hello.Nonce, resp.Nonce)
	if !hmac.Equal(expected, resp.MAC) {
		return nil, ErrAuthFailed
	}
	return &ServerConfirm{MAC: tag(key, "server", hello.Nonce, resp.Nonce)}, nil
}

// VerifyServerConfirm lets the client check the server's step 3 MAC.
func VerifyServerConfirm(key []byte, hello *ServerHello, resp *ClientResponse, confirm *ServerConfirm) bool {
	expected := tag(key, "server", hello.Nonce, resp.Nonce)
	return subtle.ConstantTimeCompare(expected, confirm.MAC) == 1
}

// ErrAuthFailed is returned when an HMAC fails to verify during the
// handshake (spec.md §7 "AuthFailed ... drop connection, reconnect with
// backoff").
var ErrAuthFailed = fmt.Errorf("handshake: authentication failed")
