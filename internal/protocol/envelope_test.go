package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appconnect-dev/appconnect/internal/crypto"
)

func TestNewTextEnvelope(t *testing.T) {
	before := time.Now().UnixMilli()
	env := NewTextEnvelope("hello clipboard", "My-PC")
	after := time.Now().UnixMilli()

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "hello clipboard", env.Content)
	assert.Equal(t, ContentTypeText, env.ContentType)
	assert.GreaterOrEqual(t, env.Timestamp, before)
	assert.LessOrEqual(t, env.Timestamp, after)
	assert.EqualValues(t, 86400000, env.TTL)
	assert.False(t, env.Synced)
	assert.Equal(t, "My-PC", env.SourceDeviceID)
	assert.Equal(t, crypto.Hash("hello clipboard"), env.Hash)
}

func TestNewTextEnvelopeFreshIDAndHash(t *testing.T) {
	a := NewTextEnvelope("same", "dev")
	b := NewTextEnvelope("same", "dev")
	assert.NotEqual(t, a.ID, b.ID, "every send gets a fresh id")

	// The hash is recomputed per envelope, never cached across contents.
	c := NewTextEnvelope("different", "dev")
	assert.NotEqual(t, a.Hash, c.Hash)
	assert.Equal(t, crypto.Hash("different"), c.Hash)
}

func TestEnvelopeWireFieldNames(t *testing.T) {
	env := NewTextEnvelope("content", "dev")
	text, err := env.Encode()
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(text), &fields))
	for _, name := range []string{"id", "content", "contentType", "timestamp", "ttl", "synced", "sourceDeviceId", "hash"} {
		assert.Contains(t, fields, name)
	}
	assert.Len(t, fields, 8)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewTextEnvelope("round trip", "dev")
	text, err := env.Encode()
	require.NoError(t, err)

	got, err := DecodeEnvelope(text)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"not json", "garbage"},
		{"json array", `[1,2,3]`},
		{"missing fields", `{"content":"x"}`},
		{"missing hash", `{"id":"a","content":"x","contentType":"TEXT","timestamp":1,"ttl":1,"synced":false}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEnvelope(tc.text)
			require.Error(t, err)
		})
	}
}
