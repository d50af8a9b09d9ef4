// Package wifi joins user network and hosts temporary soft access point.
package wifi

import (
	"context"
	"net"
)

type LinkState uint8

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkFailed
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	}
	return "invalid"
}

type Network struct {
	SSID    string
	Signal  uint8 // percent
	Secured bool
}

type AccessPoint struct {
	SSID       string
	Passphrase string
	Address    *net.IPNet // gateway address is Address.IP
}

// Radio is station+AP capable wireless interface.
// Associate must return without waiting for link, progress is observed via Status.
type Radio interface {
	Scan(ctx context.Context) ([]Network, error)
	Associate(ctx context.Context, ssid, passphrase string) error
	Status(ctx context.Context) (LinkState, error)
	Disconnect(ctx context.Context) error
	StartAccessPoint(ctx context.Context, ap AccessPoint) error
	StopAccessPoint(ctx context.Context) error
	// ResumeAccessPoint brings started AP back after station use took shared radio over.
	// No-op when AP is running or was never started.
	ResumeAccessPoint(ctx context.Context) error
	HardwareAddr() (net.HardwareAddr, error)
}
