package identity

import (
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/katzenpost/qrterminal"
)

// PairingInfo is the payload the phone scans to pair: where to connect,
// what certificate to expect, and which public key to encrypt the session
// key against.
type PairingInfo struct {
	DeviceName  string `json:"device_name"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"public_key"`
}

// Encode serializes the pairing payload to its QR wire form.
func (p *PairingInfo) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding pairing info: %w", err)
	}
	return string(data), nil
}

// RenderQR draws the pairing payload as a terminal QR code.
func RenderQR(w io.Writer, payload string) {
	qrterminal.GenerateWithConfig(payload, qrterminal.Config{
		Level:      qrterminal.L,
		Writer:     w,
		HalfBlocks: true,
		QuietZone:  1,
	})
}

// LocalIP guesses the LAN address of the primary interface by opening a
// UDP socket toward a public address. No packet is sent.
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("detecting local IP: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
