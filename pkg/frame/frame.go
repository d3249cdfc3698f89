// Package frame implements the three framed-packet dialects shared by a
// single serial link: the plain binary frame, the ACK-prefixed variant, and
// the stripped-prefix variant used by some bootstrap stages.
package frame

import (
	"time"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/internal/bytecodec"
)

const (
	dialectMarker = 0x89
	ackByte       = 0x06
	// maxPayload must hold the largest frame on the wire: a CMD 0x33
	// flash-read reply carries a 2-byte tag, 4-byte address and up to
	// 0x800 data bytes.
	maxPayload   = 0x806
	headerSize   = 4 // marker, cmd, len-lo, len-hi
	checksumBias = 7
)

var strippedPrefixes = [3]byte{0x00, 0x23, 0x3E}

// Packet is a decoded frame.
type Packet struct {
	Cmd      uint8
	Length   uint16
	Data     [maxPayload]byte
	Checksum uint8
}

// Payload returns the decoded payload slice (aliases Data).
func (p *Packet) Payload() []byte { return p.Data[:p.Length] }

func isStrippedPrefix(b byte) bool {
	for _, p := range strippedPrefixes {
		if b == p {
			return true
		}
	}
	return false
}

// checksum computes (xor-over-bytes + 7) & 0xFF over the framed bytes the
// receiver has absorbed, including framing but excluding any leading
// ACK/stripped-prefix byte.
func checksum(framed []byte) uint8 {
	var x uint8
	for _, b := range framed {
		x ^= b
	}
	return (x + checksumBias) & 0xFF
}

// EncodeBinary builds dialect (a): [0x89][cmd][len-lo][len-hi][payload][cksum].
func EncodeBinary(cmd uint8, payload []byte) []byte {
	n := len(payload)
	out := make([]byte, 0, headerSize+n+1)
	out = append(out, dialectMarker, cmd, byte(n), byte(n>>8))
	out = append(out, payload...)
	out = append(out, checksum(out))
	return out
}

// EncodeCS builds a ChipSelect-style frame: dialect (a) with subcmd as the
// first payload byte, i.e. len = 1 + len(payload).
func EncodeCS(cmd uint8, subcmd uint8, payload []byte) []byte {
	full := make([]byte, 0, 1+len(payload))
	full = append(full, subcmd)
	full = append(full, payload...)
	return EncodeBinary(cmd, full)
}

// Decoder holds the fixed scratch Packet reused across Decode calls so no
// per-decode allocation occurs.
type Decoder struct {
	pkt Packet
}

// NewDecoder returns a ready-to-use Decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Decode classifies buf's leading bytes as ack-prefixed, binary, or
// stripped-prefix, verifies the checksum, and returns a pointer into the
// Decoder's internal scratch Packet (valid until the next Decode call).
func (d *Decoder) Decode(buf []byte) (*Packet, error) {
	if len(buf) < 5 {
		return nil, basebridge.ErrFrameShort()
	}

	skip := 0
	checksumFrom := 0
	switch {
	case buf[0] == ackByte && buf[1] == dialectMarker:
		skip = 1
		checksumFrom = 1
	case buf[0] == dialectMarker:
		skip = 0
	case isStrippedPrefix(buf[0]) && buf[1] == dialectMarker:
		skip = 1
		checksumFrom = 1
	case isStrippedPrefix(buf[0]) && isStrippedPrefix(buf[1]) && len(buf) > 6 && buf[2] == dialectMarker:
		skip = 2
		checksumFrom = 2
	default:
		return nil, basebridge.ErrFrameShort()
	}

	body := buf[skip:]
	if len(body) < headerSize+1 {
		return nil, basebridge.ErrFrameShort()
	}
	length := bytecodec.LE16(body[2:4])
	if int(length) > maxPayload {
		return nil, basebridge.ErrFrameShort()
	}
	total := headerSize + int(length) + 1
	if len(body) < total {
		return nil, basebridge.ErrFrameShort()
	}

	framed := buf[checksumFrom : skip+total-1]
	want := checksum(framed)
	got := body[total-1]
	if got != want {
		return nil, basebridge.ErrFrameChecksum()
	}

	d.pkt.Cmd = body[1]
	d.pkt.Length = length
	d.pkt.Checksum = got
	copy(d.pkt.Data[:length], body[4:4+length])
	return &d.pkt, nil
}

// FrameLen returns the total encoded length (dialect (a), no leading
// ACK/prefix byte) for a payload of n bytes.
func FrameLen(n int) int { return headerSize + n + 1 }

// Reader is the subset of the link contract ReadPacket needs.
type Reader interface {
	ReadExact(n int, timeout time.Duration) ([]byte, error)
}

// CaptureLen inspects a >=5-byte probe of an incoming frame and returns
// the total capture length (framing, any leading ACK/prefix byte, payload
// and checksum) the receiver must gather before decoding. A double
// stripped-prefix probe hides the len-hi byte past the first 5 bytes; its
// callers go through ReadPacket, which tops the probe up.
func CaptureLen(probe []byte) (int, error) {
	if len(probe) < 5 {
		return 0, basebridge.ErrFrameShort()
	}
	var total int
	switch {
	case probe[0] == dialectMarker:
		total = FrameLen(int(bytecodec.LE16(probe[2:4])))
	case (probe[0] == ackByte || isStrippedPrefix(probe[0])) && probe[1] == dialectMarker:
		total = 1 + FrameLen(int(bytecodec.LE16(probe[3:5])))
	case isStrippedPrefix(probe[0]) && isStrippedPrefix(probe[1]) && probe[2] == dialectMarker:
		if len(probe) < 6 {
			return 0, basebridge.ErrFrameShort()
		}
		total = 2 + FrameLen(int(bytecodec.LE16(probe[4:6])))
	default:
		return 0, basebridge.ErrFrameShort()
	}
	if total > 2+FrameLen(maxPayload) {
		return 0, basebridge.ErrFrameShort()
	}
	return total, nil
}

// ReadPacket gathers exactly one frame off r: a 5-byte probe captures the
// header (in any of the three dialects), CaptureLen sizes the remainder,
// and the whole capture is decoded. Reading to the frame's declared end
// rather than a guessed fixed size means trailing bytes of the next reply
// are never consumed by mistake.
func ReadPacket(r Reader, d *Decoder, timeout time.Duration) (*Packet, error) {
	buf, err := r.ReadExact(5, timeout)
	if err != nil {
		return nil, err
	}
	if len(buf) < 5 {
		return nil, basebridge.ErrFrameShort()
	}
	if isStrippedPrefix(buf[0]) && isStrippedPrefix(buf[1]) && buf[2] == dialectMarker {
		more, err := r.ReadExact(1, timeout)
		if err != nil {
			return nil, err
		}
		buf = append(buf, more...)
	}
	total, err := CaptureLen(buf)
	if err != nil {
		return nil, err
	}
	if remaining := total - len(buf); remaining > 0 {
		rest, err := r.ReadExact(remaining, timeout)
		if err != nil {
			return nil, err
		}
		buf = append(buf, rest...)
	}
	return d.Decode(buf)
}
