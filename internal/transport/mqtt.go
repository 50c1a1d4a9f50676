package transport

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/openunitstate/unitd/internal/logic"
)

// MQTT is a Transport backed by an MQTT broker. Automatic reconnection is
// disabled; the main loop owns the reconnect cadence.
type MQTT struct {
	cfg    Config
	topics Topics
	client paho.Client
	log    zerolog.Logger
	msgs   chan Message
	out    *outbox
}

// NewMQTT creates an MQTT transport. It does not connect.
func NewMQTT(cfg Config, logger zerolog.Logger) *MQTT {
	cfg = cfg.withDefaults()
	m := newMQTT(cfg, nil, logger)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID(cfg.UnitID)).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetWill(m.topics.Topic(string(logic.EventConnected)), OfflinePayload, 1, false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			m.log.Warn().Err(err).Msg("broker connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	m.client = paho.NewClient(opts)
	return m
}

func newMQTT(cfg Config, client paho.Client, logger zerolog.Logger) *MQTT {
	cfg = cfg.withDefaults()
	return &MQTT{
		cfg:    cfg,
		topics: MQTTTopics(cfg.Prefix, cfg.UnitID),
		client: client,
		log:    logger.With().Str("transport", "mqtt").Str("broker", cfg.Broker).Logger(),
		msgs:   make(chan Message, inboundQueue),
		out:    newOutbox(cfg.BufferSize, logger),
	}
}

// Connect connects, subscribes, announces the unit and replays buffered
// events.
func (m *MQTT) Connect(ctx context.Context) error {
	if err := waitToken(ctx, m.client.Connect(), m.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	sub := m.topics.Subscription()
	if err := waitToken(ctx, m.client.Subscribe(sub, 1, m.handle), m.cfg.ConnectTimeout); err != nil {
		m.client.Disconnect(0)
		return fmt.Errorf("subscribe %s: %w", sub, err)
	}

	suffix, payload := connectedEvent()
	if err := m.send(suffix, payload); err != nil {
		m.client.Disconnect(0)
		return fmt.Errorf("announce: %w", err)
	}

	n, err := m.out.replay(m.send)
	if err != nil {
		m.log.Warn().Err(err).Int("sent", n).Msg("replay interrupted")
	} else if n > 0 {
		m.log.Info().Int("count", n).Msg("replayed buffered events")
	}
	return nil
}

// IsConnected reports whether the connection is open.
func (m *MQTT) IsConnected() bool {
	return m.client.IsConnectionOpen()
}

// Publish sends an event at QoS 1, buffering it when the broker is down.
func (m *MQTT) Publish(event logic.Event) error {
	msg := bufferedMsg{suffix: string(event.Type), payload: []byte(event.Payload)}
	if !m.IsConnected() {
		m.out.hold(msg)
		return ErrNotConnected
	}
	if err := m.send(msg.suffix, msg.payload); err != nil {
		m.out.hold(msg)
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Messages delivers inbound commands.
func (m *MQTT) Messages() <-chan Message {
	return m.msgs
}

// Pending returns the number of buffered events.
func (m *MQTT) Pending() int {
	return m.out.pending()
}

// Close announces the unit offline and disconnects.
func (m *MQTT) Close() error {
	if m.IsConnected() {
		if err := m.send(string(logic.EventConnected), []byte(OfflinePayload)); err != nil {
			m.log.Warn().Err(err).Msg("offline announcement failed")
		}
	}
	m.client.Disconnect(250)
	return nil
}

func (m *MQTT) send(suffix string, payload []byte) error {
	token := m.client.Publish(m.topics.Topic(suffix), 1, false, payload)
	return waitToken(context.Background(), token, publishTimeout)
}

func (m *MQTT) handle(_ paho.Client, msg paho.Message) {
	suffix, ok := m.topics.Suffix(msg.Topic())
	if !ok || isOutbound(suffix) {
		return
	}
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case m.msgs <- Message{Suffix: suffix, Payload: payload}:
	default:
		m.log.Warn().Str("suffix", suffix).Msg("inbound queue full, dropping message")
	}
}

func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
