package link

import (
	"time"

	"github.com/basebridge/basebridge"
)

// RawIO is the minimal primitive a backend must provide; the ReadExact/
// WaitAck/SendAck/WriteInChunks contract is then implemented once, here,
// on top of it so pkg/link/serialport and pkg/link/virtual don't each
// reimplement the reassembly loop.
type RawIO interface {
	RawWrite(data []byte) (int, error)
	// RawRead attempts a single non-blocking-ish read bounded by timeout,
	// returning whatever arrived (possibly 0 bytes on timeout, not an
	// error - only a hard transport failure is an error).
	RawRead(data []byte, timeout time.Duration) (int, error)
}

// Write is a single blocking RawWrite; it applies no timeout of its own.
func Write(r RawIO, data []byte) (int, error) {
	n, err := r.RawWrite(data)
	if err != nil {
		return n, basebridge.ErrPort(err)
	}
	return n, nil
}

// WriteInChunks writes data in chunkSize slices.
func WriteInChunks(r RawIO, data []byte, chunkSize int) error {
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := Write(r, data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// ReadExact reassembles short reads until either n bytes arrive or timeout
// elapses, returning the partial slice read so far (never an error purely
// for running out of time mid-read; callers compare len(result) to n).
func ReadExact(r RawIO, n int, timeout time.Duration) ([]byte, error) {
	out := make([]byte, 0, n)
	deadline := time.Now().Add(timeout)
	buf := make([]byte, n)
	for len(out) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		got, err := r.RawRead(buf[:n-len(out)], remaining)
		if err != nil {
			return out, basebridge.ErrPort(err)
		}
		if got == 0 {
			break
		}
		out = append(out, buf[:got]...)
	}
	return out, nil
}

// WaitAck waits up to timeout for a single 0x06 byte, ignoring (but not
// consuming past) any leading stray bytes up to the timeout.
func WaitAck(r RawIO, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	one := make([]byte, 1)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return basebridge.ErrTimeout()
		}
		got, err := r.RawRead(one, remaining)
		if err != nil {
			return basebridge.ErrPort(err)
		}
		if got == 1 {
			if one[0] == 0x06 {
				return nil
			}
			continue
		}
	}
}

// SendAck writes a single 0x06 byte.
func SendAck(r RawIO) error {
	_, err := Write(r, []byte{0x06})
	return err
}

// SendAckThen writes 0x06 immediately followed by data.
func SendAckThen(r RawIO, data []byte) error {
	full := make([]byte, 0, 1+len(data))
	full = append(full, 0x06)
	full = append(full, data...)
	_, err := Write(r, full)
	return err
}
