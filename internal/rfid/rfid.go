// Package rfid reads card UIDs from a serial RFID terminal.
//
// The terminal sends one line per card presentation in the form
//
//	I<length> <hex>
//
// where length is the UID size in bytes. Lines starting with '#' are
// comments. Anything else is logged and dropped.
package rfid

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	serial "github.com/tarm/goserial"
)

// Reader delivers presented card UIDs.
type Reader interface {
	// Poll returns the next UID read since the last call, if any. It never
	// blocks.
	Poll() ([]byte, bool)

	// Close releases the device.
	Close() error
}

// queueSize bounds the number of unconsumed reads. Older reads are
// dropped when the queue is full.
const queueSize = 8

// SerialReader reads UIDs from a serial terminal.
type SerialReader struct {
	port io.ReadWriteCloser
	log  zerolog.Logger

	uids chan []byte

	mu     sync.Mutex
	err    error
	closed bool
	done   chan struct{}
}

// NewSerialReader opens the terminal on port and starts reading.
func NewSerialReader(port string, baud int, logger zerolog.Logger) (*SerialReader, error) {
	p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open rfid port %s: %w", port, err)
	}
	return newSerialReader(p, logger.With().Str("port", port).Logger()), nil
}

func newSerialReader(rw io.ReadWriteCloser, logger zerolog.Logger) *SerialReader {
	r := &SerialReader{
		port: rw,
		log:  logger,
		uids: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
	go r.scanLoop()
	return r
}

// Poll returns the oldest unconsumed UID.
func (r *SerialReader) Poll() ([]byte, bool) {
	select {
	case uid := <-r.uids:
		return uid, true
	default:
		return nil, false
	}
}

// Err returns the error that stopped the scan loop, if any.
func (r *SerialReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the port and waits for the scan loop to exit.
func (r *SerialReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.port.Close()
	<-r.done
	if err != nil {
		return fmt.Errorf("close rfid port: %w", err)
	}
	return nil
}

func (r *SerialReader) scanLoop() {
	defer close(r.done)
	reader := bufio.NewReader(r.port)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			r.handleLine(line)
		}
		if err != nil {
			r.mu.Lock()
			if !r.closed && err != io.EOF {
				r.err = err
				r.log.Error().Err(err).Msg("rfid read failed")
			}
			r.mu.Unlock()
			return
		}
	}
}

func (r *SerialReader) handleLine(line string) {
	switch line[0] {
	case '#', 0:
	case 'I':
		uid, err := ParseLine(line)
		if err != nil {
			r.log.Warn().Err(err).Str("line", line).Msg("bad card line")
			return
		}
		r.push(uid)
	default:
		r.log.Debug().Str("line", line).Msg("unexpected terminal input")
	}
}

func (r *SerialReader) push(uid []byte) {
	for {
		select {
		case r.uids <- uid:
			return
		default:
		}
		select {
		case <-r.uids:
		default:
		}
	}
}

// ParseLine decodes an "I<length> <hex>" card line.
func ParseLine(line string) ([]byte, error) {
	if !strings.HasPrefix(line, "I") {
		return nil, fmt.Errorf("not a card line: %q", line)
	}
	fields := strings.Fields(line[1:])
	if len(fields) != 2 {
		return nil, fmt.Errorf("want length and uid, got %d fields", len(fields))
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("uid length: %w", err)
	}
	uid, err := hex.DecodeString(fields[1])
	if err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}
	if n <= 0 || len(uid) != n {
		return nil, fmt.Errorf("uid length %d does not match %d bytes", n, len(uid))
	}
	return uid, nil
}
