package transport

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openunitstate/unitd/internal/logic"
)

// Defaults applied to zero Config fields.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultBufferSize     = 64
	publishTimeout        = 5 * time.Second
	inboundQueue          = 32
)

var errTimeout = errors.New("timed out")

// Config holds the broker connection settings shared by every transport.
type Config struct {
	Broker         string
	Username       string
	Password       string
	UnitID         string
	Prefix         string
	ConnectTimeout time.Duration
	BufferSize     int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// clientID is unique per process so a restarted unit never collides with
// its own stale session.
func clientID(unitID string) string {
	return "unitd-" + unitID + "-" + uuid.NewString()[:8]
}

// isOutbound reports whether suffix is one the unit publishes itself.
// The subscription wildcard also matches those, so they are echoed back.
func isOutbound(suffix string) bool {
	switch logic.EventType(suffix) {
	case logic.EventConnected, logic.EventStarted, logic.EventCardRead,
		logic.EventPushToUnlock, logic.EventButtonReportedBroken,
		logic.EventStateRelocked, logic.EventReadyForOTA:
		return true
	}
	return false
}
