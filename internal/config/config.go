// Package config holds the server configuration, loaded from an optional
// YAML file with APPCONNECT_* environment overrides.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Port is the wss:// listen port.
	Port int `yaml:"port"`

	// DeviceName identifies this device in envelopes, the pairing QR, and
	// the mDNS instance name.
	DeviceName string `yaml:"device_name"`

	// CertDir holds the generated credentials when the individual paths
	// below are left empty.
	CertDir string `yaml:"cert_dir"`

	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	RSAKeyFile string `yaml:"rsa_key_file"`

	// PreSharedKey, when set, is a base64 32-byte session key that
	// disables the RSA key exchange. Deployment/testing aid.
	PreSharedKey string `yaml:"pre_shared_key"`

	// MDNS toggles LAN service advertisement.
	MDNS bool `yaml:"mdns"`

	// Clipboard tunes the local change monitor.
	Clipboard ClipboardConfig `yaml:"clipboard"`
}

// ClipboardConfig tunes the polling monitor.
type ClipboardConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	DebounceMs     int `yaml:"debounce_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:       8765,
		DeviceName: "My-PC",
		CertDir:    "certs",
		MDNS:       true,
		Clipboard: ClipboardConfig{
			PollIntervalMs: 100,
			DebounceMs:     500,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, and fills derived defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.CertFile == "" {
		cfg.CertFile = filepath.Join(cfg.CertDir, "server.crt")
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join(cfg.CertDir, "server.key")
	}
	if cfg.RSAKeyFile == "" {
		cfg.RSAKeyFile = filepath.Join(cfg.CertDir, "rsa_private.pem")
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}

// DecodePreSharedKey returns the configured pre-shared key bytes, or nil
// when none is set. The key must decode to exactly 32 bytes.
func (c *Config) DecodePreSharedKey() ([]byte, error) {
	if c.PreSharedKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.PreSharedKey)
	if err != nil {
		return nil, fmt.Errorf("pre-shared key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("pre-shared key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// EnsureCertDir creates the credential directory when it does not exist.
func (c *Config) EnsureCertDir() error {
	return os.MkdirAll(filepath.Dir(c.CertFile), 0o700)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("APPCONNECT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("APPCONNECT_DEVICE_NAME"); v != "" {
		cfg.DeviceName = v
	}
	if v := os.Getenv("APPCONNECT_CERT_FILE"); v != "" {
		cfg.CertFile = v
	}
	if v := os.Getenv("APPCONNECT_KEY_FILE"); v != "" {
		cfg.KeyFile = v
	}
	if v := os.Getenv("APPCONNECT_RSA_KEY_FILE"); v != "" {
		cfg.RSAKeyFile = v
	}
	if v := os.Getenv("APPCONNECT_PRE_SHARED_KEY"); v != "" {
		cfg.PreSharedKey = v
	}
}
