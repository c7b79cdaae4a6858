package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFrame(t *testing.T) {
	cases := []struct {
		name string
		text string
		want FrameKind
	}{
		// A control message without a pipe is routed as control, never to
		// the decryption path.
		{"control json", `{"type":"connection_status","status":"x"}`, FrameControl},
		// Anything containing a pipe is the encrypted format, even if it
		// would parse as JSON.
		{"encrypted frame", "AAAAAAAAAAAAAAAA|BBBBBBBBBBBBBBBBBBBB", FrameEncrypted},
		{"json with pipe", `{"type":"a|b"}`, FrameEncrypted},
		// A failed JSON parse falls through to the encrypted path rather
		// than being rejected.
		{"garbage", "definitely not json", FrameEncrypted},
		{"truncated json", `{"type":`, FrameEncrypted},
		{"empty object", `{}`, FrameControl},
		{"json number", `42`, FrameEncrypted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyFrame(tc.text))
		})
	}
}

func TestControlType(t *testing.T) {
	assert.Equal(t, "error_report", ControlType(`{"type":"error_report","message":"m"}`))
	assert.Equal(t, "", ControlType(`{}`))
	assert.Equal(t, "", ControlType("garbage"))
}

func TestKeyExchangeAckWireForm(t *testing.T) {
	ok, err := MarshalControl(NewKeyExchangeAck(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"key_exchange_ack","status":"ok"}`, ok)

	failed, err := MarshalControl(NewKeyExchangeAck("bad key"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"key_exchange_ack","status":"error","message":"bad key"}`, failed)
}

func TestConnectionStatusWireForm(t *testing.T) {
	text, err := MarshalControl(&ConnectionStatus{
		Type:      TypeConnectionStatus,
		Status:    "connected",
		Timestamp: 123,
		Stats:     ConnectionStats{MessagesSent: 1, MessagesReceived: 2, Uptime: 3},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connection_status","status":"connected","timestamp":123,
		"stats":{"messages_sent":1,"messages_received":2,"uptime":3}}`, text)
}
