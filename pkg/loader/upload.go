package loader

import (
	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/internal/bytecodec"
	"github.com/basebridge/basebridge/pkg/frame"
	"github.com/basebridge/basebridge/pkg/image"
	"github.com/basebridge/basebridge/pkg/link"
)

const (
	qhqadChunk  = 0x800
	cmd3cChunk  = 0x7FF
	unsignedChunk = 0x400
	cmd3c       = 0x3C
	cmd3d       = 0x3D
	cmd3e       = 0x3E
)

// uploadQHQAQD implements the bootrom three-part ASCII-framed upload:
// "QH00"+header, "QA00"+prologue, "QD00"+body, transmitted in 0x800-byte
// chunks. The five three-byte echo strings "EsB", "EhM", "EaT", "EbS",
// "EdQ" must be observed in that order across the sequence; a mismatch is
// fatal unless skipErrors is set.
func (pl *Pipeline) uploadQHQAQD(payload []byte, skipErrors bool) ([]byte, error) {
	img, err := image.Decode(payload)
	if err != nil {
		return nil, err
	}
	header, prologue, body := image.PrologueSlices(payload, img.Header)

	steps := []struct {
		prelude string
		data    []byte
		echo    string
	}{
		{prelude: "QH00", echo: "EsB"},
		{data: header, echo: "EhM"},
		{prelude: "QA00", data: prologue, echo: "EaT"},
		{prelude: "QD00", echo: "EbS"},
		{data: body, echo: "EdQ"},
	}

	for _, step := range steps {
		if step.prelude != "" {
			if _, err := pl.port.Write([]byte(step.prelude)); err != nil {
				return nil, err
			}
		}
		if step.data != nil {
			if err := pl.port.WriteInChunks(step.data, qhqadChunk); err != nil {
				return nil, err
			}
		}
		if err := pl.expectEcho(step.echo, skipErrors); err != nil {
			return nil, err
		}
	}
	if skipErrors {
		// The anycid exploit path needs a nudge or two before the patched
		// ROM emits its greeting.
		_, _ = pl.port.Write([]byte("R"))
		_, _ = pl.port.Write([]byte("R"))
	}
	return pl.waitGreeting(skipErrors)
}

func (pl *Pipeline) expectEcho(want string, skipErrors bool) error {
	got, err := pl.port.ReadExact(len(want), 10*link.TIMEOUT)
	if err != nil {
		if skipErrors {
			return nil
		}
		return err
	}
	if string(got) != want {
		if skipErrors {
			return nil
		}
		return &basebridge.Error{Kind: basebridge.KindLoaderRejected, Stage: "echo:" + want}
	}
	return nil
}

// uploadCMD3C wraps header/prologue/body each into CMD 0x3C frames with a
// continuation bit set on every frame of a multi-frame payload except the
// last, chunked at 0x7FF data bytes per frame; each part must be
// acknowledged by a CMD 0x3D frame with data[0]==0.
func (pl *Pipeline) uploadCMD3C(payload []byte) ([]byte, error) {
	img, err := image.Decode(payload)
	if err != nil {
		return nil, err
	}
	header, prologue, body := image.PrologueSlices(payload, img.Header)

	for _, part := range [][]byte{header, prologue, body} {
		if err := pl.send3CPart(part); err != nil {
			return nil, err
		}
	}
	if _, err := pl.port.Write([]byte{0x06}); err != nil {
		return nil, err
	}
	return pl.waitGreeting(false)
}

func (pl *Pipeline) send3CPart(data []byte) error {
	if len(data) == 0 {
		return pl.send3CFrame(nil, false)
	}
	for off := 0; off < len(data); off += cmd3cChunk {
		end := off + cmd3cChunk
		if end > len(data) {
			end = len(data)
		}
		last := end == len(data)
		if err := pl.send3CFrame(data[off:end], !last); err != nil {
			return err
		}
	}
	return nil
}

func (pl *Pipeline) send3CFrame(chunk []byte, continuation bool) error {
	cmd := uint8(cmd3c)
	payload := make([]byte, 0, 1+len(chunk))
	flag := byte(0)
	if continuation {
		flag = 0x80
	}
	payload = append(payload, flag)
	payload = append(payload, chunk...)
	encoded := frame.EncodeBinary(cmd, payload)
	if _, err := pl.port.Write(encoded); err != nil {
		return err
	}
	pkt, err := frame.ReadPacket(pl.port, pl.dec, 50*link.TIMEOUT)
	if err != nil {
		return err
	}
	if pkt.Cmd != cmd3d {
		return basebridge.ErrUnexpectedFrame(pkt.Cmd, cmd3d)
	}
	if pkt.Length < 1 || pkt.Data[0] != 0 {
		return &basebridge.Error{Kind: basebridge.KindLoaderRejected, Stage: "cmd3d-nak"}
	}
	return nil
}

// uploadUnsigned writes the destination RAM address (u32 LE), the whole
// payload size (u32 LE), then the payload body in 0x400-byte chunks,
// unframed. The payload is opaque here: no container parsing, the entire
// file lands at addr. Used on the post-break ("anycid") path.
func (pl *Pipeline) uploadUnsigned(payload []byte, addr uint32) error {
	hdr := make([]byte, 8)
	bytecodec.PutLE32(hdr[0:4], addr)
	bytecodec.PutLE32(hdr[4:8], uint32(len(payload)))
	if _, err := pl.port.Write(hdr); err != nil {
		return err
	}
	return pl.port.WriteInChunks(payload, unsignedChunk)
}

// uploadCMD3E wraps the full payload into a single CMD 0x3E frame; the
// reply is either a framed greeting or the literal FC FF break-accepted
// sequence.
func (pl *Pipeline) uploadCMD3E(payload []byte) ([]byte, error) {
	encoded := frame.EncodeBinary(cmd3e, payload)
	if err := pl.port.WriteInChunks(encoded, qhqadChunk); err != nil {
		return nil, err
	}
	return pl.waitGreeting(true)
}
