// Package crypto implements the AES-256-GCM codec, the wire framing for
// encrypted payloads, and the RSA-OAEP session key exchange.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Sizes shared with the mobile implementation.
const (
	KeySize = 32 // AES-256
	IVSize  = 12 // 96-bit GCM nonce
	TagSize = 16 // 128-bit GCM tag
)

// Codec seals and opens clipboard payloads with AES-256-GCM. One Codec is
// created per connection and owns that connection's session key; the raw
// key bytes are not reachable once wrapped. Secure erasure of the key on
// disposal is best-effort only; Go's garbage collector may keep copies.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec wraps a 32-byte session key. The key slice is not retained.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: session key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return &Codec{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random 12-byte IV. The returned
// sealed slice is the ciphertext with the 16-byte GCM tag appended. No
// associated data is used, matching the mobile peer.
func (c *Codec) Seal(plaintext string) (iv, sealed []byte, err error) {
	if c == nil || c.aead == nil {
		return nil, nil, fmt.Errorf("%w: encryption key not set", ErrEncryption)
	}
	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	sealed = c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return iv, sealed, nil
}

// Open decrypts sealed data produced by Seal. Tag verification failure
// returns ErrDecryption without leaking partial plaintext.
func (c *Codec) Open(iv, sealed []byte) (string, error) {
	if c == nil || c.aead == nil {
		return "", fmt.Errorf("%w: encryption key not set", ErrDecryption)
	}
	if len(iv) != IVSize {
		return "", fmt.Errorf("%w: IV must be %d bytes, got %d", ErrDecryption, IVSize, len(iv))
	}
	if len(sealed) < TagSize {
		return "", fmt.Errorf("%w: sealed data too short (%d bytes, need at least the %d-byte tag)", ErrDecryption, len(sealed), TagSize)
	}
	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plaintext), nil
}

// EncodeForTransmission seals plaintext and formats it as
// "{ivBase64}|{cipherBase64}". Base64 is emitted with standard padding and
// no line breaks (the mobile side's NO_WRAP mode keeps padding too).
func (c *Codec) EncodeForTransmission(plaintext string) (string, error) {
	iv, sealed, err := c.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(iv) + "|" + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecodeFromTransmission parses a "{ivBase64}|{cipherBase64}" frame and
// opens it. The split is on the first '|' only. Base64 halves may arrive
// with padding stripped; padding is re-added before decoding. Do not make
// this symmetric with EncodeForTransmission: some peers strip padding and
// the tolerance here is what keeps them interoperable.
func (c *Codec) DecodeFromTransmission(message string) (string, error) {
	ivB64, cipherB64, found := strings.Cut(message, "|")
	if !found {
		return "", fmt.Errorf("%w: missing pipe separator", ErrInvalidMessageFormat)
	}
	if ivB64 == "" || cipherB64 == "" {
		return "", fmt.Errorf("%w: IV or ciphertext segment is empty", ErrInvalidMessageFormat)
	}
	iv, err := DecodeBase64Lenient(ivB64)
	if err != nil {
		return "", fmt.Errorf("%w: bad IV base64: %v", ErrInvalidMessageFormat, err)
	}
	if len(iv) != IVSize {
		return "", fmt.Errorf("%w: decoded IV is %d bytes, expected %d", ErrInvalidMessageFormat, len(iv), IVSize)
	}
	sealed, err := DecodeBase64Lenient(cipherB64)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext base64: %v", ErrInvalidMessageFormat, err)
	}
	return c.Open(iv, sealed)
}

// Hash returns the SHA-256 digest of content as 64 lowercase hex characters.
func Hash(content string) string {
	digest := sha256.Sum256([]byte(content))
	return hex.EncodeToString(digest[:])
}

// DecodeBase64Lenient decodes standard base64, re-adding stripped padding
// when the input length is not a multiple of four.
func DecodeBase64Lenient(s string) ([]byte, error) {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.StdEncoding.DecodeString(s)
}
