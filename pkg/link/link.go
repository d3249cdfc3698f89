// Package link abstracts the physical serial port as a byte-stream
// interface with a small pluggable-backend registry, so the handshake,
// loader, flash and GDFS engines never depend on a concrete transport.
//
// The registered backends are "serial" (pkg/link/serialport, a real Linux
// UART) and "virtual" (pkg/link/virtual, an in-memory loopback for tests).
package link

import (
	"time"

	"github.com/basebridge/basebridge"
)

// Port is the byte-stream contract the protocol engines need from the
// serial link: blocking write, timed exact-read reassembly, and the ACK
// helpers the frame dialects need.
type Port interface {
	// Open performs the device power/reset pulse: DTR OFF, DTR ON, RTS ON,
	// in that exact order, after configuring 8N1 / no flow control at
	// baseRate.
	Open(path string, baseRate int) error
	// SetBaudrate reconfigures the line rate, bracketed by a 1.5ms
	// pre-sleep and post-sleep so the peer adopts the new rate before the
	// next byte is emitted.
	SetBaudrate(rate int) error
	// Write is blocking. No per-call timeout is applied: it returns when
	// the backend's raw write returns.
	Write(data []byte) (int, error)
	// WriteInChunks writes data in chunkSize slices, each a separate Write.
	WriteInChunks(data []byte, chunkSize int) error
	// ReadExact reassembles short reads until either n bytes arrive or
	// timeout elapses, returning the partial count read so far.
	ReadExact(n int, timeout time.Duration) ([]byte, error)
	// WaitAck waits up to timeout for a single 0x06 byte.
	WaitAck(timeout time.Duration) error
	// SendAck writes a single 0x06 byte.
	SendAck() error
	// SendAckThen writes a single 0x06 byte immediately followed by data.
	SendAckThen(data []byte) error
	// Close releases the underlying transport.
	Close() error
}

// NewFunc constructs a fresh, unopened Port for a registered backend name.
type NewFunc func() Port

var registry = make(map[string]NewFunc)

// Register adds a backend under name, typically from the backend
// package's init().
func Register(name string, fn NewFunc) { registry[name] = fn }

// Open looks up a registered backend by name, constructs it, and opens it
// against path at baseRate (always 9600 at connect time; the speed switch
// happens after identification).
func Open(name string, path string, baseRate int) (Port, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, &basebridge.Error{Kind: basebridge.KindPortError, Reason: "unknown link backend: " + name}
	}
	p := fn()
	if err := p.Open(path, baseRate); err != nil {
		return nil, err
	}
	return p, nil
}

// TIMEOUT is the protocol's base timeout unit; every serial wait is a
// multiple of it (5x, 10x, 50x, 100x, 500x).
const TIMEOUT = 100 * time.Millisecond

// ZWaitTimeout is the handshake's special 30s Z-wait timeout.
const ZWaitTimeout = 30 * time.Second

// BaudSwitchSettle is the 1.5ms pre/post sleep bracketing a baud change.
const BaudSwitchSettle = 1500 * time.Microsecond
