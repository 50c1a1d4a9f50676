// Package network reports the unit's network connectivity.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// ErrNoNetwork is returned when no usable address appeared in time.
var ErrNoNetwork = errors.New("no network")

// pi-helper env var names (written to /run/pi-helper.env).
const (
	EnvType       = "NETWORK_TYPE"
	EnvIP         = "NETWORK_IP"
	EnvStatus     = "NETWORK_STATUS"
	EnvGateway    = "NETWORK_GATEWAY"
	EnvWifiStatus = "NETWORK_WIFI_STATUS"
	EnvWifiSSID   = "NETWORK_WIFI_SSID"
)

// Info is the network state published by pi-helper.
type Info struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// ReadEnv returns the pi-helper network info, or nil when NETWORK_STATUS is
// unset.
func ReadEnv() *Info {
	s := os.Getenv(EnvStatus)
	if s == "" {
		return nil
	}
	return &Info{
		Type:       os.Getenv(EnvType),
		IP:         os.Getenv(EnvIP),
		Status:     s,
		Gateway:    os.Getenv(EnvGateway),
		WifiStatus: os.Getenv(EnvWifiStatus),
		SSID:       os.Getenv(EnvWifiSSID),
	}
}

// AddrsFunc lists interface addresses. net.InterfaceAddrs satisfies it.
type AddrsFunc func() ([]net.Addr, error)

// Monitor checks connectivity by looking for a routable IPv4 address.
type Monitor struct {
	addrs    AddrsFunc
	interval time.Duration
}

// NewMonitor creates a Monitor over the host's interfaces.
func NewMonitor() *Monitor {
	return NewMonitorWith(net.InterfaceAddrs, 500*time.Millisecond)
}

// NewMonitorWith creates a Monitor with a custom address source and poll
// interval.
func NewMonitorWith(addrs AddrsFunc, interval time.Duration) *Monitor {
	return &Monitor{addrs: addrs, interval: interval}
}

// LocalIP returns the first non-loopback IPv4 address.
func (m *Monitor) LocalIP() (string, error) {
	addrs, err := m.addrs()
	if err != nil {
		return "", fmt.Errorf("list addresses: %w", err)
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", ErrNoNetwork
}

// Connected reports whether a usable address is present.
func (m *Monitor) Connected() bool {
	_, err := m.LocalIP()
	return err == nil
}

// WaitConnected polls until an address appears, timeout passes or ctx is
// done.
func (m *Monitor) WaitConnected(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if ip, err := m.LocalIP(); err == nil {
			return ip, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrNoNetwork, ctx.Err())
		case <-ticker.C:
		}
	}
}
