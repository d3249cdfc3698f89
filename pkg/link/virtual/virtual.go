// Package virtual is an in-memory loopback link.Port backend: it serves a
// scripted queue of byte replies and records every write, so pkg/handshake,
// pkg/loader, pkg/flash and pkg/gdfs can be driven end-to-end without a
// real phone attached.
package virtual

import (
	"sync"
	"time"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/link"
)

func init() {
	link.Register("virtual", func() link.Port { return New() })
}

// Port is a scripted, in-memory link.Port.
type Port struct {
	mu       sync.Mutex
	opened   bool
	path     string
	baud     int
	writes   [][]byte
	replies  [][]byte // consumed in order by RawRead
	closed   bool
}

// New returns an unopened virtual Port.
func New() *Port { return &Port{} }

// ScriptReply enqueues bytes to be returned by the next RawRead call(s).
// Multiple enqueued replies are concatenated and drained byte-by-byte as
// the caller's buffer allows, matching how a real UART would deliver a
// multi-write reply across several ReadExact calls.
func (p *Port) ScriptReply(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	p.replies = append(p.replies, cp)
}

// Writes returns every buffer passed to RawWrite so far, for test
// assertions.
func (p *Port) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (p *Port) Open(path string, baseRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &basebridge.Error{Kind: basebridge.KindPortError, Reason: "port closed"}
	}
	p.opened = true
	p.path = path
	p.baud = baseRate
	return nil
}

func (p *Port) SetBaudrate(rate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return &basebridge.Error{Kind: basebridge.KindPortError, Reason: "not open"}
	}
	time.Sleep(link.BaudSwitchSettle)
	p.baud = rate
	time.Sleep(link.BaudSwitchSettle)
	return nil
}

func (p *Port) RawWrite(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return 0, &basebridge.Error{Kind: basebridge.KindPortError, Reason: "not open"}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	p.writes = append(p.writes, cp)
	return len(data), nil
}

func (p *Port) RawRead(dst []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return 0, nil
	}
	head := p.replies[0]
	n := copy(dst, head)
	rest := head[n:]
	if len(rest) == 0 {
		p.replies = p.replies[1:]
	} else {
		p.replies[0] = rest
	}
	return n, nil
}

func (p *Port) Write(data []byte) (int, error) { return link.Write(p, data) }

func (p *Port) WriteInChunks(data []byte, chunkSize int) error {
	return link.WriteInChunks(p, data, chunkSize)
}

func (p *Port) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	return link.ReadExact(p, n, timeout)
}

func (p *Port) WaitAck(timeout time.Duration) error { return link.WaitAck(p, timeout) }
func (p *Port) SendAck() error                       { return link.SendAck(p) }
func (p *Port) SendAckThen(data []byte) error        { return link.SendAckThen(p, data) }

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.opened = false
	return nil
}
