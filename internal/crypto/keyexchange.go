package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// RSA key size limits in bits.
const (
	DefaultRSAKeySize = 2048
	MinRSAKeySize     = 1024
)

// KeyExchange decrypts session keys submitted by pairing peers with a
// persistent RSA private key. The peer encrypts a fresh 32-byte AES key
// with RSA-OAEP(SHA-256/MGF1-SHA-256) against the public key it scanned
// from the pairing QR.
type KeyExchange struct {
	private *rsa.PrivateKey
}

// NewKeyExchange wraps an already loaded private key.
func NewKeyExchange(private *rsa.PrivateKey) (*KeyExchange, error) {
	if private == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrKeyExchange)
	}
	if bits := private.N.BitLen(); bits < MinRSAKeySize {
		return nil, fmt.Errorf("%w: RSA key size %d bits is too small (minimum %d)", ErrKeyExchange, bits, MinRSAKeySize)
	}
	return &KeyExchange{private: private}, nil
}

// LoadOrGenerateRSAKey loads a PEM-encoded PKCS#8 private key from path,
// generating and persisting a fresh 2048-bit key when the file is absent.
func LoadOrGenerateRSAKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return generateRSAKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrKeyExchange, path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: key file %s is empty", ErrKeyExchange, path)
	}
	return ParseRSAPrivateKeyPEM(data)
}

// ParseRSAPrivateKeyPEM parses a PEM block containing a PKCS#8 or PKCS#1
// RSA private key and enforces the minimum key size.
func ParseRSAPrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyExchange)
	}
	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: PEM block is not an RSA key", ErrKeyExchange)
		}
		key = rsaKey
	} else if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = parsed
	} else {
		return nil, fmt.Errorf("%w: unparseable private key PEM", ErrKeyExchange)
	}
	if bits := key.N.BitLen(); bits < MinRSAKeySize {
		return nil, fmt.Errorf("%w: RSA key size %d bits is too small (minimum %d)", ErrKeyExchange, bits, MinRSAKeySize)
	}
	return key, nil
}

func generateRSAKey(path string) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, DefaultRSAKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: generating key: %v", ErrKeyExchange, err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding key: %v", ErrKeyExchange, err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", ErrKeyExchange, path, err)
	}
	return key, nil
}

// DecryptSessionKey recovers the 32-byte AES session key from a base64
// RSA-OAEP ciphertext. The base64 may arrive with padding stripped. A
// decrypted key of any other length is rejected with ErrInvalidKey; it
// means the peer used the wrong algorithm or the payload was tampered with.
func (x *KeyExchange) DecryptSessionKey(encryptedKeyB64 string) ([]byte, error) {
	if encryptedKeyB64 == "" {
		return nil, fmt.Errorf("%w: missing encrypted_key", ErrKeyExchange)
	}
	encrypted, err := DecodeBase64Lenient(encryptedKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encrypted_key base64: %v", ErrKeyExchange, err)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, x.private, encrypted, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: RSA-OAEP decryption: %v", ErrKeyExchange, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: decrypted session key is %d bytes, expected %d", ErrInvalidKey, len(key), KeySize)
	}
	return key, nil
}

// PublicKeyBase64 returns the DER SubjectPublicKeyInfo of the exchange key
// as a single base64 string, the form carried inside the pairing QR.
func (x *KeyExchange) PublicKeyBase64() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&x.private.PublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: encoding public key: %v", ErrKeyExchange, err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// EncryptSessionKey is the client half of the exchange: it OAEP-encrypts a
// session key against a public key. The server never calls this; it exists
// for pairing tools and the end-to-end tests.
func EncryptSessionKey(public *rsa.PublicKey, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("%w: session key must be %d bytes", ErrInvalidKey, KeySize)
	}
	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, public, key, nil)
	if err != nil {
		return "", fmt.Errorf("%w: RSA-OAEP encryption: %v", ErrKeyExchange, err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}
