package web

import (
	"fmt"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters.
const (
	ServiceType = "_unitd._tcp"
	Domain      = "local."
)

// Advertiser announces the status server on the local network.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the HTTP service under instance on every interface.
func Advertise(instance, unitID, version string, port int) (*Advertiser, error) {
	txt := []string{"id=" + unitID}
	if version != "" {
		txt = append(txt, "fw="+version)
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown stops advertising.
func (a *Advertiser) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}
