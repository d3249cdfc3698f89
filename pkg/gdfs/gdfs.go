// Package gdfs implements the on-device General Data File System: a
// key/value store addressed by (block, msb, lsb), reachable over either the
// binary dialect (CMD 0x20/0x21), the ChipSelect dialect (cmd=0x04, subcmds
// 0x01-0x05), or, on PNX5230, the ASCII "ICG1" dialect.
package gdfs

import (
	"github.com/sirupsen/logrus"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/internal/bytecodec"
	"github.com/basebridge/basebridge/pkg/frame"
	"github.com/basebridge/basebridge/pkg/link"
)

// Path selects which dialect a Read/Write call uses.
type Path uint8

const (
	PathBinary Path = iota
	PathChipSelect
	PathPnxIc
)

const (
	binCmdWrite    = 0x20
	binCmdRead     = 0x21
	binCmdActivate = 0x22

	csCmd          = 0x04
	csSubReadVar   = 0x01
	csSubBackup    = 0x02
	csSubWriteVar  = 0x03
	csSubActivate  = 0x05
	sessionCmd     = 0x01
	csSubTerminate = 0x08
	csSubResetCode = 0x0D
)

// Addr is a GDFS variable key.
type Addr struct {
	Block uint8
	Msb   uint8
	Lsb   uint8
}

// Engine drives GDFS operations over a connected Port.
type Engine struct {
	port link.Port
	dec  *frame.Decoder
	log  *logrus.Entry
}

// New builds an Engine bound to an activated GDFS server.
func New(port link.Port, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{port: port, dec: frame.NewDecoder(), log: log.WithField("component", "gdfs")}
}

// ActivateBinary sends CMD 0x22 and expects a [0] reply.
func (e *Engine) ActivateBinary() error {
	encoded := frame.EncodeBinary(binCmdActivate, nil)
	if _, err := e.port.Write(encoded); err != nil {
		return err
	}
	pkt, err := frame.ReadPacket(e.port, e.dec, 20*link.TIMEOUT)
	if err != nil {
		return err
	}
	if pkt.Length < 1 || pkt.Data[0] != 0 {
		return &basebridge.Error{Kind: basebridge.KindGdfsServerRejected}
	}
	return nil
}

// Terminate sends the CS end-of-session subcmd and waits for its ack.
func (e *Engine) Terminate() error {
	encoded := frame.EncodeCS(sessionCmd, csSubTerminate, nil)
	if _, err := e.port.Write(encoded); err != nil {
		return err
	}
	return e.port.WaitAck(10 * link.TIMEOUT)
}

// ResetUserCode sends the CS reset-user-code subcmd and waits for its ack.
func (e *Engine) ResetUserCode() error {
	encoded := frame.EncodeCS(sessionCmd, csSubResetCode, nil)
	if _, err := e.port.Write(encoded); err != nil {
		return err
	}
	return e.port.WaitAck(10 * link.TIMEOUT)
}

// ReadBinary encodes CMD 0x21 with [block, lsb, msb], receives one framed
// reply, skips the one-byte tag, and returns the remaining bytes (either
// wide-char phone-name bytes or ASCII; the caller picks the right decoder
// for the field kind).
func (e *Engine) ReadBinary(a Addr) ([]byte, error) {
	payload := []byte{a.Block, a.Lsb, a.Msb}
	encoded := frame.EncodeBinary(binCmdRead, payload)
	if _, err := e.port.Write(encoded); err != nil {
		return nil, err
	}
	pkt, err := frame.ReadPacket(e.port, e.dec, 20*link.TIMEOUT)
	if err != nil {
		return nil, err
	}
	if pkt.Length < 1 {
		return nil, basebridge.ErrFrameShort()
	}
	out := make([]byte, pkt.Length-1)
	copy(out, pkt.Payload()[1:])
	return out, nil
}

// WriteBinary encodes CMD 0x20 with [block, lsb, msb, data...]. A 0-length
// write still succeeds, encoded as a 3-byte payload.
func (e *Engine) WriteBinary(a Addr, data []byte) error {
	payload := make([]byte, 0, 3+len(data))
	payload = append(payload, a.Block, a.Lsb, a.Msb)
	payload = append(payload, data...)
	encoded := frame.EncodeBinary(binCmdWrite, payload)
	_, err := e.port.Write(encoded)
	return err
}

// ReadChipSelect performs the CS-dialect variable read (subcmd 0x01).
func (e *Engine) ReadChipSelect(a Addr) ([]byte, error) {
	payload := []byte{a.Block, a.Lsb, a.Msb}
	encoded := frame.EncodeCS(csCmd, csSubReadVar, payload)
	if _, err := e.port.Write(encoded); err != nil {
		return nil, err
	}
	pkt, err := frame.ReadPacket(e.port, e.dec, 20*link.TIMEOUT)
	if err != nil {
		return nil, err
	}
	if pkt.Length < 1 {
		return nil, basebridge.ErrFrameShort()
	}
	out := make([]byte, pkt.Length-1)
	copy(out, pkt.Payload()[1:])
	return out, nil
}

// WriteChipSelect performs the CS-dialect variable write (subcmd 0x03):
// payload [block, lsb, msb, len:u32 LE, data], an ACK, then a framed reply
// whose data[0..1] == [0xFF, 0x00].
func (e *Engine) WriteChipSelect(a Addr, data []byte) error {
	payload := make([]byte, 0, 7+len(data))
	payload = append(payload, a.Block, a.Lsb, a.Msb)
	lenBuf := make([]byte, 4)
	bytecodec.PutLE32(lenBuf, uint32(len(data)))
	payload = append(payload, lenBuf...)
	payload = append(payload, data...)

	encoded := frame.EncodeCS(csCmd, csSubWriteVar, payload)
	if _, err := e.port.Write(encoded); err != nil {
		return err
	}
	if err := e.port.WaitAck(20 * link.TIMEOUT); err != nil {
		return err
	}
	pkt, err := frame.ReadPacket(e.port, e.dec, 20*link.TIMEOUT)
	if err != nil {
		return err
	}
	if pkt.Length < 2 || pkt.Data[0] != 0xFF || pkt.Data[1] != 0x00 {
		return &basebridge.Error{Kind: basebridge.KindGdfsServerRejected}
	}
	return nil
}

// ReadPnxIc performs a GDFS read via the PNX5230 "ICG1" ASCII dialect:
// request "ICG1" + 3 header bytes (block, lsb, msb); reply is the 3-byte
// echoed header, a 4-byte little-endian length, then that many data bytes.
func (e *Engine) ReadPnxIc(a Addr) ([]byte, error) {
	req := append([]byte("ICG1"), a.Block, a.Lsb, a.Msb)
	if _, err := e.port.Write(req); err != nil {
		return nil, err
	}
	echo, err := e.port.ReadExact(3, 20*link.TIMEOUT)
	if err != nil {
		return nil, err
	}
	if len(echo) != 3 || echo[0] != a.Block || echo[1] != a.Lsb || echo[2] != a.Msb {
		return nil, &basebridge.Error{Kind: basebridge.KindGdfsServerRejected}
	}
	lenBuf, err := e.port.ReadExact(4, 20*link.TIMEOUT)
	if err != nil {
		return nil, err
	}
	if len(lenBuf) != 4 {
		return nil, basebridge.ErrFrameShort()
	}
	n := bytecodec.LE32(lenBuf)
	return e.port.ReadExact(int(n), 50*link.TIMEOUT)
}

// Read dispatches to the dialect implementation p selects.
func (e *Engine) Read(p Path, a Addr) ([]byte, error) {
	switch p {
	case PathBinary:
		return e.ReadBinary(a)
	case PathChipSelect:
		return e.ReadChipSelect(a)
	case PathPnxIc:
		return e.ReadPnxIc(a)
	default:
		return nil, &basebridge.Error{Kind: basebridge.KindUnsupportedProtocol}
	}
}
