// Package transport connects the unit to its message broker. Inbound
// commands arrive as (suffix, payload) pairs on Messages; outbound events
// are published under the unit's topic namespace and buffered while the
// broker is unreachable.
package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/openunitstate/unitd/internal/logic"
)

// ErrNotConnected is returned by Publish when the event was buffered
// because the broker is unreachable.
var ErrNotConnected = errors.New("transport: not connected")

// DefaultPrefix is the topic namespace shared by all units.
const DefaultPrefix = "openunitstate/"

// Message is one inbound command.
type Message struct {
	Suffix  string
	Payload []byte
}

// Transport is a broker connection.
type Transport interface {
	// Connect blocks until the broker accepts the connection, the
	// configured timeout passes or ctx is done. On success it subscribes
	// to the unit's topics, publishes connected and replays buffered
	// events.
	Connect(ctx context.Context) error

	// IsConnected reports whether the connection is currently usable.
	IsConnected() bool

	// Publish sends an event. When disconnected the event is buffered and
	// ErrNotConnected is returned.
	Publish(event logic.Event) error

	// Messages delivers inbound commands.
	Messages() <-chan Message

	// Pending returns the number of buffered outbound events.
	Pending() int

	// Close disconnects from the broker.
	Close() error
}

// Topics maps suffixes to broker topics for one unit.
type Topics struct {
	base string
	sep  string
	wild string
}

// MQTTTopics returns the "<prefix><id>/<suffix>" scheme.
func MQTTTopics(prefix, unitID string) Topics {
	return Topics{base: prefix + unitID + "/", sep: "/", wild: "+"}
}

// NATSTopics returns the "<prefix>.<id>.<suffix>" scheme. Slashes in the
// prefix become dots.
func NATSTopics(prefix, unitID string) Topics {
	p := strings.Trim(strings.ReplaceAll(prefix, "/", "."), ".")
	base := unitID + "."
	if p != "" {
		base = p + "." + base
	}
	return Topics{base: base, sep: ".", wild: "*"}
}

// Topic returns the full topic for suffix.
func (t Topics) Topic(suffix string) string {
	return t.base + suffix
}

// Subscription returns the wildcard matching every suffix of the unit.
func (t Topics) Subscription() string {
	return t.base + t.wild
}

// Suffix extracts the suffix from a full topic.
func (t Topics) Suffix(topic string) (string, bool) {
	s, ok := strings.CutPrefix(topic, t.base)
	if !ok || s == "" || strings.Contains(s, t.sep) {
		return "", false
	}
	return s, true
}

// ConnectedPayload is published under "connected" after every connect.
const ConnectedPayload = "true"

// OfflinePayload is the last-will value of "connected".
const OfflinePayload = "false"

// connectedEvent is published after every successful connect.
func connectedEvent() (string, []byte) {
	return string(logic.EventConnected), []byte(ConnectedPayload)
}
