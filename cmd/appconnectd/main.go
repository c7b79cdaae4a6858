// Appconnectd — clipboard synchronization server.
//
// It pairs with the mobile app over a QR code (certificate fingerprint +
// RSA public key), then synchronizes clipboard content both ways over an
// authenticated, encrypted WebSocket channel on the local network.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/appconnect-dev/appconnect/internal/channel"
	"github.com/appconnect-dev/appconnect/internal/clipboard"
	"github.com/appconnect-dev/appconnect/internal/config"
	"github.com/appconnect-dev/appconnect/internal/discovery"
	"github.com/appconnect-dev/appconnect/internal/identity"
	"github.com/appconnect-dev/appconnect/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "Listen port (overrides config)")
	name := flag.String("name", "", "Device name (overrides config)")
	noQR := flag.Bool("no-qr", false, "Skip rendering the pairing QR code")
	noMDNS := flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("AppConnect server — v%s", version))
	pterm.Println()

	if err := run(ctx, *configPath, *port, *name, *noQR, *noMDNS); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, portFlag int, nameFlag string, noQR, noMDNS bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Port = portFlag
	}
	if nameFlag != "" {
		cfg.DeviceName = nameFlag
	}

	// ── 1. Identity bootstrap ──────────────────────────────────────────
	if err := cfg.EnsureCertDir(); err != nil {
		return fmt.Errorf("creating cert dir: %w", err)
	}
	id, err := identity.LoadOrCreate(cfg.CertFile, cfg.KeyFile, cfg.RSAKeyFile, cfg.DeviceName)
	if err != nil {
		return err
	}
	util.LogInfo("certificate fingerprint: %s", id.Fingerprint())

	psk, err := cfg.DecodePreSharedKey()
	if err != nil {
		return err
	}
	if psk != nil {
		util.LogInfo("pre-shared key configured, RSA key exchange disabled")
	}

	// ── 2. Pairing QR ──────────────────────────────────────────────────
	ip, err := identity.LocalIP()
	if err != nil {
		return err
	}
	publicKey, err := id.Exchange().PublicKeyBase64()
	if err != nil {
		return err
	}
	pairing := &identity.PairingInfo{
		DeviceName:  cfg.DeviceName,
		IP:          ip,
		Port:        cfg.Port,
		Fingerprint: id.Fingerprint(),
		PublicKey:   publicKey,
	}
	payload, err := pairing.Encode()
	if err != nil {
		return err
	}
	if noQR {
		util.LogInfo("pairing payload: %s", payload)
	} else {
		pterm.Println()
		identity.RenderQR(os.Stdout, payload)
		pterm.Println()
		util.LogInfo("scan the QR code with the mobile app to pair (%s:%d)", ip, cfg.Port)
	}

	// ── 3. Channel server ──────────────────────────────────────────────
	sink, err := clipboard.NewSystemClipboard()
	if err != nil {
		return err
	}

	var monitor *clipboard.Monitor
	server := channel.New(channel.Config{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		DeviceID:     cfg.DeviceName,
		TLS:          id.TLSConfig(),
		Exchange:     id.Exchange(),
		PreSharedKey: psk,
		Sink:         sink,
		OnClipboardReceived: func(content string) {
			// Record peer content as seen so it does not bounce back.
			if monitor != nil {
				monitor.SetContent(content)
			}
		},
	})

	// ── 4. Clipboard monitor → bridge ──────────────────────────────────
	// Created before Start so the received callback never observes a nil
	// monitor.
	monitor = clipboard.NewMonitor(
		sink,
		server.OnLocalChange,
		time.Duration(cfg.Clipboard.PollIntervalMs)*time.Millisecond,
		time.Duration(cfg.Clipboard.DebounceMs)*time.Millisecond,
	)

	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()
	monitor.Start(ctx)

	// ── 5. mDNS advertisement ──────────────────────────────────────────
	if cfg.MDNS && !noMDNS {
		adv, err := discovery.Advertise(cfg.DeviceName, cfg.Port)
		if err != nil {
			util.LogWarning("%v (pairing via QR still works)", err)
		} else {
			defer adv.Shutdown()
		}
	}

	util.StartStatsReporter(ctx)
	util.LogInfo("ready on wss://%s:%d", ip, cfg.Port)

	<-ctx.Done()
	util.LogInfo("shutting down")
	return nil
}
