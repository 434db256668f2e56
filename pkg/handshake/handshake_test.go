package handshake_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/handshake"
)

func TestHandshakeRoundTrip(t *testing.T) {
	key := []byte("shared-secret-handshake-key-0001")

	hello, err := handshake.NewServerHello()
	require.NoError(t, err)

	resp, err := handshake.RespondAsClient(key, hello)
	require.NoError(t, err)

	confirm, err := handshake.VerifyClientAndConfirm(key, hello, resp)
	require.NoError(t, err)

	assert.True(t, handshake.VerifyServerConfirm(key, hello, resp, confirm))
}

func TestHandshakeRejectsWrongKey(t *testing.T) {
	hello, err := handshake.NewServerHello()
	require.NoError(t, err)

	resp, err := handshake.RespondAsClient([]byte("correct-key"), hello)
	require.NoError(t, err)

	_, err = handshake.VerifyClientAndConfirm([]byte("wrong-key-entirely"), hello, resp)
	require.ErrorIs(t, err, handshake.ErrAuthFailed)
}
