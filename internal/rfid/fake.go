package rfid

import "sync"

// FakeReader hands out queued UIDs.
type FakeReader struct {
	mu     sync.Mutex
	queue  [][]byte
	Closed bool
}

// NewFakeReader creates an empty FakeReader.
func NewFakeReader() *FakeReader {
	return &FakeReader{}
}

// Present queues a card presentation.
func (f *FakeReader) Present(uid []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, uid)
}

// Poll returns the oldest queued UID.
func (f *FakeReader) Poll() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, false
	}
	uid := f.queue[0]
	f.queue = f.queue[1:]
	return uid, true
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
