// Package protocol defines the clipboard envelope carried inside encrypted
// frames and the cleartext control messages, plus the logic that tells the
// two apart on the wire.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appconnect-dev/appconnect/internal/crypto"
)

// Content types. Only TEXT is produced and consumed by this server; IMAGE
// and FILE are representable for forward compatibility with the mobile app.
const (
	ContentTypeText  = "TEXT"
	ContentTypeImage = "IMAGE"
	ContentTypeFile  = "FILE"
)

// TextTTL is the fixed time-to-live for TEXT envelopes: 24 hours in
// milliseconds.
const TextTTL = 24 * 60 * 60 * 1000

// Envelope is the clipboard payload format shared with the mobile
// implementation. Field names are part of the wire contract.
type Envelope struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	ContentType    string `json:"contentType"`
	Timestamp      int64  `json:"timestamp"`
	TTL            int64  `json:"ttl"`
	Synced         bool   `json:"synced"`
	SourceDeviceID string `json:"sourceDeviceId"`
	Hash           string `json:"hash"`
}

// NewTextEnvelope builds a TEXT envelope with a fresh id, the producer's
// current clock, and a freshly computed content hash. The hash is never
// cached across different content values.
func NewTextEnvelope(content, sourceDeviceID string) *Envelope {
	return &Envelope{
		ID:             uuid.NewString(),
		Content:        content,
		ContentType:    ContentTypeText,
		Timestamp:      time.Now().UnixMilli(),
		TTL:            TextTTL,
		Synced:         false,
		SourceDeviceID: sourceDeviceID,
		Hash:           crypto.Hash(content),
	}
}

// Encode serializes the envelope to its JSON wire form.
func (e *Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}
	return string(data), nil
}

// DecodeEnvelope parses the JSON wire form of an envelope. Presence of the
// mandatory fields is enforced; the hash is not re-verified here (the
// sender owes a fresh hash, the receiver trusts the authenticated channel).
func DecodeEnvelope(text string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(text), &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if e.ID == "" || e.ContentType == "" || e.Hash == "" {
		return nil, fmt.Errorf("decoding envelope: missing mandatory fields")
	}
	return &e, nil
}
