package protocol

import (
	"encoding/json"
	"strings"
)

// Control message type discriminators.
const (
	TypeKeyExchange         = "key_exchange"
	TypeKeyExchangeAck      = "key_exchange_ack"
	TypeErrorReport         = "error_report"
	TypeConnectionStatus    = "connection_status"
	TypeClipboardSyncResult = "clipboard_sync_result"
)

// Error report error_type values sent to peers.
const (
	ErrorDecryptionFailed     = "decryption_failed"
	ErrorClipboardWriteFailed = "clipboard_write_failed"
	ErrorSendFailed           = "send_failed"
)

// KeyExchange is the client's opening message: the RSA-OAEP encrypted
// session key, base64 encoded (possibly without padding).
type KeyExchange struct {
	Type         string `json:"type"`
	EncryptedKey string `json:"encrypted_key"`
}

// KeyExchangeAck confirms or rejects the handshake.
type KeyExchangeAck struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewKeyExchangeAck builds an ok ack, or an error ack carrying message.
func NewKeyExchangeAck(message string) *KeyExchangeAck {
	if message == "" {
		return &KeyExchangeAck{Type: TypeKeyExchangeAck, Status: "ok"}
	}
	return &KeyExchangeAck{Type: TypeKeyExchangeAck, Status: "error", Message: message}
}

// ConnectionStats is the counters block inside a connection_status message.
type ConnectionStats struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	Uptime           int64 `json:"uptime"`
}

// ConnectionStatus reports connection state and counters. The server sends
// one right after a successful handshake; clients may report their own.
type ConnectionStatus struct {
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Timestamp int64           `json:"timestamp"`
	Stats     ConnectionStats `json:"stats"`
}

// ErrorReport describes a recoverable protocol failure to the peer without
// exposing internals.
type ErrorReport struct {
	Type      string         `json:"type"`
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// ClipboardSyncResult is the client's acknowledgement of a prior send,
// keyed by envelope id.
type ClipboardSyncResult struct {
	Type        string `json:"type"`
	Success     bool   `json:"success"`
	ClipboardID string `json:"clipboard_id"`
	Message     string `json:"message,omitempty"`
}

// FrameKind is the outcome of wire-frame disambiguation.
type FrameKind int

const (
	// FrameControl is a cleartext JSON control message.
	FrameControl FrameKind = iota
	// FrameEncrypted is an "{ivB64}|{cipherB64}" payload frame.
	FrameEncrypted
)

// ClassifyFrame disambiguates an inbound text frame. A frame containing a
// '|' is always the encrypted format, even if it would parse as JSON. A
// frame without '|' is a control message when it parses as a JSON object
// carrying a "type" discriminator; when the JSON parse fails it falls
// through to the encrypted path rather than being rejected, which keeps
// malformed legacy clients on the decryption error path they expect.
func ClassifyFrame(text string) FrameKind {
	if strings.Contains(text, "|") {
		return FrameEncrypted
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return FrameEncrypted
	}
	return FrameControl
}

// ControlType extracts the "type" discriminator from a control frame.
// Returns "" when the field is absent.
func ControlType(text string) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return ""
	}
	return probe.Type
}

// MarshalControl serializes any control message to its wire form.
func MarshalControl(msg any) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
