package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateMachine(t *testing.T) {
	conn := newConnection("c1", "10.0.0.2:9", &fakeConn{})
	assert.Equal(t, StateAwaitingHandshake, conn.State())
	assert.True(t, conn.Healthy())

	// The cipher must be unreachable before the handshake completes.
	_, err := conn.Cipher()
	require.Error(t, err)

	require.NoError(t, conn.installKey(make([]byte, 32)))
	assert.Equal(t, StateReady, conn.State())

	cipher, err := conn.Cipher()
	require.NoError(t, err)
	require.NotNil(t, cipher)

	conn.close()
	assert.Equal(t, StateClosed, conn.State())
	_, err = conn.Cipher()
	require.Error(t, err, "cipher must be unreachable after close")
}

func TestConnectionRejectsBadKey(t *testing.T) {
	conn := newConnection("c1", "10.0.0.2:9", &fakeConn{})
	require.Error(t, conn.installKey(make([]byte, 16)))
	assert.Equal(t, StateAwaitingHandshake, conn.State())
}
