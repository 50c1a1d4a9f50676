package transport

import (
	"context"
	"sync"

	"github.com/openunitstate/unitd/internal/logic"
)

// Fake is an in-memory Transport for tests. It buffers while disconnected
// and replays on Connect like the real implementations.
type Fake struct {
	mu        sync.Mutex
	connected bool
	sent      []Message
	held      []Message
	connects  int
	closed    bool
	msgs      chan Message

	// ConnectErr, if set, is returned by Connect.
	ConnectErr error

	// PublishErr, if set, is returned by Publish while connected.
	PublishErr error
}

// NewFake creates a disconnected Fake.
func NewFake() *Fake {
	return &Fake{msgs: make(chan Message, inboundQueue)}
}

// Connect marks the fake connected, announces and replays held events.
func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.connected = true
	suffix, payload := connectedEvent()
	f.sent = append(f.sent, Message{Suffix: suffix, Payload: payload})
	f.sent = append(f.sent, f.held...)
	f.held = nil
	return nil
}

// IsConnected reports the simulated connection state.
func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Publish records the event or holds it while disconnected.
func (f *Fake) Publish(event logic.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := Message{Suffix: string(event.Type), Payload: []byte(event.Payload)}
	if !f.connected {
		f.held = append(f.held, msg)
		return ErrNotConnected
	}
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

// Messages delivers injected commands.
func (f *Fake) Messages() <-chan Message {
	return f.msgs
}

// Pending returns the number of held events.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

// Close marks the fake closed and disconnected.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

// Inject queues an inbound command.
func (f *Fake) Inject(suffix, payload string) {
	f.msgs <- Message{Suffix: suffix, Payload: []byte(payload)}
}

// Drop simulates a lost connection.
func (f *Fake) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

// Sent returns every message published so far.
func (f *Fake) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

// SentSuffixes returns the suffixes of every published message.
func (f *Fake) SentSuffixes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Suffix
	}
	return out
}

// Connects returns the number of Connect calls.
func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
