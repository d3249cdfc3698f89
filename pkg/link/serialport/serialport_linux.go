// Package serialport is the real Linux UART backend for pkg/link,
// registered as "serial". It wraps github.com/daedaluz/goserial's raw
// termios2/ioctl port: 8N1/no flow control, the DTR-OFF/DTR-ON/RTS-ON
// power pulse in that order, and a custom-baud switch bracketed by 1.5ms
// settle sleeps.
package serialport

import (
	"time"

	serial "github.com/daedaluz/goserial"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/link"
)

func init() {
	link.Register("serial", func() link.Port { return New() })
}

// Port is a real Linux serial port backend.
type Port struct {
	port *serial.Port
}

// New returns an unopened serial Port.
func New() *Port { return &Port{} }

func (p *Port) Open(path string, baseRate int) error {
	opts := serial.NewOptions().SetReadTimeout(link.TIMEOUT)
	port, err := serial.Open(path, opts)
	if err != nil {
		return basebridge.ErrPort(err)
	}
	p.port = port

	attrs, err := port.GetAttr2()
	if err != nil {
		_ = port.Close()
		return basebridge.ErrPort(err)
	}
	attrs.MakeRaw()
	attrs.Cflag &^= serial.CSTOPB | serial.PARENB
	attrs.Cflag |= serial.CS8 | serial.CREAD | serial.CLOCAL
	attrs.SetCustomSpeed(uint32(baseRate))
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		_ = port.Close()
		return basebridge.ErrPort(err)
	}

	// Device power/reset pulse: DTR OFF, DTR ON, RTS ON, in that order.
	if err := port.DisableModemLines(serial.TIOCM_DTR); err != nil {
		_ = port.Close()
		return basebridge.ErrPort(err)
	}
	if err := port.EnableModemLines(serial.TIOCM_DTR); err != nil {
		_ = port.Close()
		return basebridge.ErrPort(err)
	}
	if err := port.EnableModemLines(serial.TIOCM_RTS); err != nil {
		_ = port.Close()
		return basebridge.ErrPort(err)
	}
	return nil
}

func (p *Port) SetBaudrate(rate int) error {
	time.Sleep(link.BaudSwitchSettle)
	attrs, err := p.port.GetAttr2()
	if err != nil {
		return basebridge.ErrPort(err)
	}
	attrs.SetCustomSpeed(uint32(rate))
	if err := p.port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		return basebridge.ErrPort(err)
	}
	time.Sleep(link.BaudSwitchSettle)
	return nil
}

func (p *Port) RawWrite(data []byte) (int, error) {
	return p.port.Write(data)
}

func (p *Port) RawRead(dst []byte, timeout time.Duration) (int, error) {
	return p.port.ReadTimeout(dst, timeout)
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
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}
