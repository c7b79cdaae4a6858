// Package discovery advertises the server on the local network over
// DNS-SD so the mobile app can find it without typing an address.
package discovery

import (
	"fmt"

	"github.com/libp2p/zeroconf/v2"

	"github.com/appconnect-dev/appconnect/internal/util"
)

// Service registration constants shared with the mobile app's browser.
const (
	ServiceType = "_appconnect._tcp"
	AppID       = "dev.appconnect"
)

// Advertiser owns one registered mDNS service instance.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the service instance on the LAN. Failure to register
// is not fatal to the caller: pairing still works via the QR payload.
func Advertise(instanceName string, port int) (*Advertiser, error) {
	server, err := zeroconf.Register(
		instanceName,
		ServiceType,
		"local.",
		port,
		[]string{"app_id=" + AppID},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("mDNS registration: %w", err)
	}
	util.LogInfo("mDNS advertising %s.%s on port %d", instanceName, ServiceType, port)
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	util.LogInfo("mDNS advertising stopped")
}
