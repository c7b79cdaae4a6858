package crypto

import "errors"

// Sentinel errors for the codec and handshake. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	// ErrKeyExchange covers handshake protocol, timeout, and format violations.
	ErrKeyExchange = errors.New("key exchange failed")

	// ErrInvalidKey is returned when a decrypted session key has the wrong length.
	ErrInvalidKey = errors.New("invalid key")

	// ErrEncryption is returned when sealing fails or no key is installed.
	ErrEncryption = errors.New("encryption failed")

	// ErrDecryption is returned when opening fails, including GCM tag
	// verification failure.
	ErrDecryption = errors.New("decryption failed")

	// ErrInvalidMessageFormat is returned for malformed wire frames.
	ErrInvalidMessageFormat = errors.New("invalid message format")
)
