package identity

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths(t *testing.T) (certFile, keyFile, rsaKeyFile string) {
	dir := t.TempDir()
	return filepath.Join(dir, "server.crt"),
		filepath.Join(dir, "server.key"),
		filepath.Join(dir, "rsa_private.pem")
}

func TestLoadOrCreateGenerates(t *testing.T) {
	certFile, keyFile, rsaKeyFile := testPaths(t)

	id, err := LoadOrCreate(certFile, keyFile, rsaKeyFile, "Test-PC")
	require.NoError(t, err)

	assert.FileExists(t, certFile)
	assert.FileExists(t, keyFile)
	assert.FileExists(t, rsaKeyFile)

	tlsCfg := id.TLSConfig()
	require.Len(t, tlsCfg.Certificates, 1)
	require.NotNil(t, id.Exchange())
}

func TestLoadOrCreateReloadsSameIdentity(t *testing.T) {
	certFile, keyFile, rsaKeyFile := testPaths(t)

	first, err := LoadOrCreate(certFile, keyFile, rsaKeyFile, "Test-PC")
	require.NoError(t, err)
	second, err := LoadOrCreate(certFile, keyFile, rsaKeyFile, "Test-PC")
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	assert.Equal(t, mustPublicKey(t, first), mustPublicKey(t, second))
}

func TestFingerprintFormat(t *testing.T) {
	certFile, keyFile, rsaKeyFile := testPaths(t)

	id, err := LoadOrCreate(certFile, keyFile, rsaKeyFile, "Test-PC")
	require.NoError(t, err)

	fp := id.Fingerprint()
	assert.Regexp(t, regexp.MustCompile(`^SHA256:[0-9A-F]{64}$`), fp)
}

func TestFingerprintMatchesCertificateDigest(t *testing.T) {
	certFile, keyFile, rsaKeyFile := testPaths(t)

	id, err := LoadOrCreate(certFile, keyFile, rsaKeyFile, "Test-PC")
	require.NoError(t, err)

	pemBytes, err := os.ReadFile(certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(pemBytes)
	require.NotNil(t, block)
	digest := sha256.Sum256(block.Bytes)

	want := "SHA256:" + strings.ToUpper(hex.EncodeToString(digest[:]))
	assert.Equal(t, want, id.Fingerprint())
}

func TestCertificateCoversLoopback(t *testing.T) {
	certFile, keyFile, rsaKeyFile := testPaths(t)

	id, err := LoadOrCreate(certFile, keyFile, rsaKeyFile, "Test-PC")
	require.NoError(t, err)

	assert.Contains(t, id.leaf.DNSNames, "localhost")
	found := false
	for _, ip := range id.leaf.IPAddresses {
		if ip.String() == "127.0.0.1" {
			found = true
		}
	}
	assert.True(t, found, "certificate lists 127.0.0.1")
}

func TestPairingInfoEncode(t *testing.T) {
	certFile, keyFile, rsaKeyFile := testPaths(t)
	id, err := LoadOrCreate(certFile, keyFile, rsaKeyFile, "Test-PC")
	require.NoError(t, err)

	info := PairingInfo{
		DeviceName:  "Test-PC",
		IP:          "192.168.1.10",
		Port:        8765,
		Fingerprint: id.Fingerprint(),
		PublicKey:   mustPublicKey(t, id),
	}
	payload, err := info.Encode()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"device_name": "Test-PC",
		"ip": "192.168.1.10",
		"port": 8765,
		"fingerprint": `+quoted(info.Fingerprint)+`,
		"public_key": `+quoted(info.PublicKey)+`
	}`, payload)
}

func TestRenderQRWrites(t *testing.T) {
	var sb strings.Builder
	RenderQR(&sb, `{"device_name":"Test-PC"}`)
	assert.NotEmpty(t, sb.String())
}

func mustPublicKey(t *testing.T, id *Identity) string {
	t.Helper()
	pub, err := id.Exchange().PublicKeyBase64()
	require.NoError(t, err)
	der, err := base64.StdEncoding.DecodeString(pub)
	require.NoError(t, err)
	_, err = x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)
	return pub
}

func quoted(s string) string {
	return `"` + s + `"`
}
