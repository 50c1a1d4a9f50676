package transport

import (
	"sync"

	"github.com/rs/zerolog"
)

// bufferedMsg stores an outbound message for replay after reconnection.
type bufferedMsg struct {
	suffix  string
	payload []byte
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// Not safe for concurrent use; caller must synchronize.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
	log      zerolog.Logger
}

func newRingBuffer(capacity int, logger zerolog.Logger) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
		log:      logger,
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if r.count == r.capacity {
		if !r.overflow {
			r.log.Warn().Int("capacity", r.capacity).Msg("outbound buffer full, dropping oldest")
			r.overflow = true
		}
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}

// outbox guards the ring buffer shared by the broker implementations.
type outbox struct {
	mu   sync.Mutex
	ring *ringBuffer
}

func newOutbox(capacity int, logger zerolog.Logger) *outbox {
	return &outbox{ring: newRingBuffer(capacity, logger)}
}

func (o *outbox) hold(msgs ...bufferedMsg) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range msgs {
		o.ring.push(m)
	}
}

func (o *outbox) take() []bufferedMsg {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ring.drainAll()
}

func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ring.len()
}

// replay sends every held message in order. On the first failure the
// unsent remainder is held again.
func (o *outbox) replay(send func(suffix string, payload []byte) error) (int, error) {
	msgs := o.take()
	for i, m := range msgs {
		if err := send(m.suffix, m.payload); err != nil {
			o.hold(msgs[i:]...)
			return i, err
		}
	}
	return len(msgs), nil
}
