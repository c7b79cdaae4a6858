package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExchange(t *testing.T) *KeyExchange {
	t.Helper()
	private, err := rsa.GenerateKey(rand.Reader, DefaultRSAKeySize)
	require.NoError(t, err)
	x, err := NewKeyExchange(private)
	require.NoError(t, err)
	return x
}

func TestDecryptSessionKeyRoundTrip(t *testing.T) {
	x := testExchange(t)
	session := testKey(t)

	encrypted, err := EncryptSessionKey(&x.private.PublicKey, session)
	require.NoError(t, err)

	got, err := x.DecryptSessionKey(encrypted)
	require.NoError(t, err)
	assert.Equal(t, session, got)
}

func TestDecryptSessionKeyToleratesStrippedPadding(t *testing.T) {
	x := testExchange(t)
	session := testKey(t)

	encrypted, err := EncryptSessionKey(&x.private.PublicKey, session)
	require.NoError(t, err)

	got, err := x.DecryptSessionKey(strings.TrimRight(encrypted, "="))
	require.NoError(t, err)
	assert.Equal(t, session, got)
}

func TestDecryptSessionKeyRejectsWrongLength(t *testing.T) {
	x := testExchange(t)

	short := make([]byte, 16)
	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &x.private.PublicKey, short, nil)
	require.NoError(t, err)

	_, err = x.DecryptSessionKey(base64.StdEncoding.EncodeToString(encrypted))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestDecryptSessionKeyRejectsGarbage(t *testing.T) {
	x := testExchange(t)

	_, err := x.DecryptSessionKey("")
	require.ErrorIs(t, err, ErrKeyExchange)

	_, err = x.DecryptSessionKey("!!!not-base64!!!")
	require.ErrorIs(t, err, ErrKeyExchange)

	// Valid base64 but not a valid OAEP ciphertext.
	_, err = x.DecryptSessionKey(base64.StdEncoding.EncodeToString(make([]byte, 256)))
	require.ErrorIs(t, err, ErrKeyExchange)
}

func TestNewKeyExchangeRejectsSmallKeys(t *testing.T) {
	// crypto/rsa refuses to generate sub-1024-bit keys since Go 1.24;
	// lift the floor so the constructor's own check is what rejects.
	t.Setenv("GODEBUG", "rsa1024min=0")
	private, err := rsa.GenerateKey(rand.Reader, 512)
	require.NoError(t, err)

	_, err = NewKeyExchange(private)
	require.ErrorIs(t, err, ErrKeyExchange)
}

func TestLoadOrGenerateRSAKeyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsa_private.pem")

	generated, err := LoadOrGenerateRSAKey(path)
	require.NoError(t, err)
	require.Equal(t, DefaultRSAKeySize, generated.N.BitLen())

	loaded, err := LoadOrGenerateRSAKey(path)
	require.NoError(t, err)
	assert.Zero(t, generated.N.Cmp(loaded.N), "reload must return the same key")
}

func TestPublicKeyBase64(t *testing.T) {
	x := testExchange(t)

	b64, err := x.PublicKeyBase64()
	require.NoError(t, err)

	der, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	parsed, err := x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)

	public, ok := parsed.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Zero(t, public.N.Cmp(x.private.PublicKey.N))
}
