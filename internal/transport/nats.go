package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/openunitstate/unitd/internal/logic"
)

// NATS is a Transport backed by a NATS server. NATS has no last will, so
// the offline announcement is only sent on a clean Close.
type NATS struct {
	cfg    Config
	topics Topics
	log    zerolog.Logger
	msgs   chan Message
	out    *outbox

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewNATS creates a NATS transport. It does not connect.
func NewNATS(cfg Config, logger zerolog.Logger) *NATS {
	cfg = cfg.withDefaults()
	return &NATS{
		cfg:    cfg,
		topics: NATSTopics(cfg.Prefix, cfg.UnitID),
		log:    logger.With().Str("transport", "nats").Str("broker", cfg.Broker).Logger(),
		msgs:   make(chan Message, inboundQueue),
		out:    newOutbox(cfg.BufferSize, logger),
	}
}

type dialResult struct {
	conn *nats.Conn
	err  error
}

// Connect dials the server, subscribes, announces the unit and replays
// buffered events.
func (n *NATS) Connect(ctx context.Context) error {
	n.drop()

	opts := []nats.Option{
		nats.Name(clientID(n.cfg.UnitID)),
		nats.Timeout(n.cfg.ConnectTimeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				n.log.Warn().Err(err).Msg("broker connection lost")
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			n.log.Error().Err(err).Msg("nats error")
		}),
	}
	if n.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(n.cfg.Username, n.cfg.Password))
	}

	ch := make(chan dialResult, 1)
	go func() {
		conn, err := nats.Connect(n.cfg.Broker, opts...)
		ch <- dialResult{conn: conn, err: err}
	}()

	var conn *nats.Conn
	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("connect to broker: %w", r.err)
		}
		conn = r.conn
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return fmt.Errorf("connect to broker: %w", ctx.Err())
	}

	subject := n.topics.Subscription()
	sub, err := conn.Subscribe(subject, n.handle)
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	n.mu.Lock()
	n.conn, n.sub = conn, sub
	n.mu.Unlock()

	suffix, payload := connectedEvent()
	if err := n.send(suffix, payload); err != nil {
		n.drop()
		return fmt.Errorf("announce: %w", err)
	}

	sent, err := n.out.replay(n.send)
	if err != nil {
		n.log.Warn().Err(err).Int("sent", sent).Msg("replay interrupted")
	} else if sent > 0 {
		n.log.Info().Int("count", sent).Msg("replayed buffered events")
	}
	return nil
}

// IsConnected reports whether the connection is open.
func (n *NATS) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil && n.conn.IsConnected()
}

// Publish sends an event, buffering it when the server is down.
func (n *NATS) Publish(event logic.Event) error {
	msg := bufferedMsg{suffix: string(event.Type), payload: []byte(event.Payload)}
	if !n.IsConnected() {
		n.out.hold(msg)
		return ErrNotConnected
	}
	if err := n.send(msg.suffix, msg.payload); err != nil {
		n.out.hold(msg)
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Messages delivers inbound commands.
func (n *NATS) Messages() <-chan Message {
	return n.msgs
}

// Pending returns the number of buffered events.
func (n *NATS) Pending() int {
	return n.out.pending()
}

// Close announces the unit offline and closes the connection.
func (n *NATS) Close() error {
	if n.IsConnected() {
		if err := n.send(string(logic.EventConnected), []byte(OfflinePayload)); err != nil {
			n.log.Warn().Err(err).Msg("offline announcement failed")
		}
	}
	n.drop()
	return nil
}

func (n *NATS) send(suffix string, payload []byte) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Publish(n.topics.Topic(suffix), payload); err != nil {
		return err
	}
	return conn.FlushTimeout(publishTimeout)
}

func (n *NATS) drop() {
	n.mu.Lock()
	conn, sub := n.conn, n.sub
	n.conn, n.sub = nil, nil
	n.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if conn != nil {
		conn.Close()
	}
}

func (n *NATS) handle(msg *nats.Msg) {
	suffix, ok := n.topics.Suffix(msg.Subject)
	if !ok || isOutbound(suffix) {
		return
	}
	payload := append([]byte(nil), msg.Data...)
	select {
	case n.msgs <- Message{Suffix: suffix, Payload: payload}:
	default:
		n.log.Warn().Str("suffix", suffix).Msg("inbound queue full, dropping message")
	}
}
