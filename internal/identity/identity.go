// Package identity bootstraps the server's transport credentials: the
// self-signed TLS certificate, its human-verifiable fingerprint, and the
// persistent RSA keypair used by the session key exchange.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	"github.com/appconnect-dev/appconnect/internal/crypto"
	"github.com/appconnect-dev/appconnect/internal/util"
)

const certValidity = 10 * 365 * 24 * time.Hour

// Identity bundles the TLS certificate and the key-exchange RSA key.
type Identity struct {
	cert     tls.Certificate
	leaf     *x509.Certificate
	exchange *crypto.KeyExchange
}

// LoadOrCreate loads the certificate and RSA exchange key from disk,
// generating any that are missing. Generated files are written with 0600.
func LoadOrCreate(certFile, keyFile, rsaKeyFile, deviceName string) (*Identity, error) {
	if _, err := os.Stat(certFile); os.IsNotExist(err) {
		if err := generateCertificate(certFile, keyFile, deviceName); err != nil {
			return nil, err
		}
		util.LogInfo("generated TLS certificate: %s", certFile)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}

	rsaKey, err := crypto.LoadOrGenerateRSAKey(rsaKeyFile)
	if err != nil {
		return nil, err
	}
	exchange, err := crypto.NewKeyExchange(rsaKey)
	if err != nil {
		return nil, err
	}

	return &Identity{cert: cert, leaf: leaf, exchange: exchange}, nil
}

// Fingerprint returns the certificate SHA-256 fingerprint in the form the
// mobile app displays for human verification: "SHA256:" followed by 64
// uppercase hex characters of the DER digest.
func (id *Identity) Fingerprint() string {
	digest := sha256.Sum256(id.leaf.Raw)
	return "SHA256:" + strings.ToUpper(hex.EncodeToString(digest[:]))
}

// TLSConfig terminates the wss:// transport with the server certificate.
func (id *Identity) TLSConfig() *tls.Config {
	return &tls.Config{Certificates: []tls.Certificate{id.cert}}
}

// Exchange returns the RSA session key exchange.
func (id *Identity) Exchange() *crypto.KeyExchange {
	return id.exchange
}

func generateCertificate(certFile, keyFile, deviceName string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generating certificate key: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = deviceName
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generating serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"AppConnect"},
			CommonName:   hostname,
		},
		NotBefore:             now,
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{hostname, "localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", certFile, err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("encoding certificate key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", keyFile, err)
	}
	return nil
}
