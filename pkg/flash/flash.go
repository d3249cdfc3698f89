// Package flash implements the strict signed-image ("BABE") block-wise
// flasher and the raw memory reader.
package flash

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/internal/bytecodec"
	"github.com/basebridge/basebridge/pkg/frame"
	"github.com/basebridge/basebridge/pkg/image"
	"github.com/basebridge/basebridge/pkg/link"
)

const (
	cmdHashChunk   = 0x0E
	cmdHashAck     = 0x0F
	cmdBlockHeader = 0x10
	cmdBlockBody   = 0x01
	cmdBlockAck    = 0x13
	cmdFinalize    = 0x11
	cmdFinalizeAck = 0x12
	cmdReadMem     = 0x32
	cmdReadMemAck  = 0x33
	cmdShutdown    = 0x14

	hashChunkSize = 0x800
	bodySliceSize = 0x800
	bodyWireChunk = 0x400
)

// Engine drives the flash protocol over a connected Port.
type Engine struct {
	port link.Port
	dec  *frame.Decoder
	log  *logrus.Entry
}

// New builds an Engine bound to an already-activated flash server.
func New(port link.Port, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{port: port, dec: frame.NewDecoder(), log: log.WithField("component", "flash")}
}

// FlashBabe implements the block-flash sequence: send the hash region ahead
// of the payload blocks, then each block's header and body in turn, and
// finalize unless a partial (non-full) flash was requested.
func (e *Engine) FlashBabe(buf []byte, flashFull bool) error {
	img, err := image.Decode(buf)
	if err != nil {
		return err
	}

	hashEnd := image.HeaderSize + image.HashRegionSize(img.Header.Version, img.Header.PayloadBlocks)
	if hashEnd > len(buf) {
		hashEnd = len(buf)
	}
	hashRegion := buf[image.HeaderSize:hashEnd]
	if err := e.sendChunked(cmdHashChunk, cmdHashAck, hashRegion, hashChunkSize); err != nil {
		return err
	}

	for _, blk := range img.Blocks {
		hdr := make([]byte, 8)
		bytecodec.PutLE32(hdr[0:4], blk.DestAddr)
		bytecodec.PutLE32(hdr[4:8], blk.Size)
		if err := e.sendFrameExpectAck(cmdBlockHeader, hdr); err != nil {
			return err
		}
		if err := e.sendBlockBody(blk.Data); err != nil {
			return err
		}
	}

	if flashFull {
		finalize := frame.EncodeBinary(cmdFinalize, nil)
		if _, err := e.port.Write(finalize); err != nil {
			return err
		}
		if err := e.expectCmdZero(cmdFinalizeAck, 100*link.TIMEOUT); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sendChunked(cmd, ackCmd uint8, data []byte, chunkSize int) error {
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		encoded := frame.EncodeBinary(cmd, data[off:end])
		if _, err := e.port.Write(encoded); err != nil {
			return err
		}
		if err := e.expectCmdZero(ackCmd, 20*link.TIMEOUT); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sendFrameExpectAck(cmd uint8, payload []byte) error {
	encoded := frame.EncodeBinary(cmd, payload)
	if _, err := e.port.Write(encoded); err != nil {
		return err
	}
	return e.port.WaitAck(20 * link.TIMEOUT)
}

// sendBlockBody sends data in 0x800-byte slices as CMD 0x01, each slice
// further chunked at 0x400 bytes on the wire; the final slice expects a
// CMD 0x13 ack with data[0]==0, every other slice only a plain 0x06 ack.
func (e *Engine) sendBlockBody(data []byte) error {
	if len(data) == 0 {
		return e.expectCmdZero(cmdBlockAck, 50*link.TIMEOUT)
	}
	for off := 0; off < len(data); off += bodySliceSize {
		end := off + bodySliceSize
		if end > len(data) {
			end = len(data)
		}
		slice := data[off:end]
		encoded := frame.EncodeBinary(cmdBlockBody, slice)
		if err := e.port.WriteInChunks(encoded, bodyWireChunk); err != nil {
			return err
		}
		if end == len(data) {
			if err := e.expectCmdZero(cmdBlockAck, 50*link.TIMEOUT); err != nil {
				return err
			}
		} else if err := e.port.WaitAck(20 * link.TIMEOUT); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) expectCmdZero(cmd uint8, timeout time.Duration) error {
	pkt, err := frame.ReadPacket(e.port, e.dec, timeout)
	if err != nil {
		return err
	}
	if pkt.Cmd != cmd {
		return basebridge.ErrUnexpectedFrame(pkt.Cmd, cmd)
	}
	if pkt.Length < 1 || pkt.Data[0] != 0 {
		return &basebridge.Error{Kind: basebridge.KindLoaderRejected, Stage: fmt.Sprintf("cmd%02x-nak", cmd)}
	}
	return nil
}

// ReadFlash sends CMD 0x32 with [addr, addr+size), collects 0x33 replies
// verifying address continuity, ACKing between chunks, and writes the raw
// bytes to <backupDir>/flashdump_<imei>_<addrHEX>_<sizeHEX>.bin. If
// saveAsBabe is set, the raw dump is wrapped as a BABE image instead and the
// raw file is not kept.
func (e *Engine) ReadFlash(addr, size uint32, imei string, backupDir string, saveAsBabe bool) (string, error) {
	req := make([]byte, 8)
	bytecodec.PutLE32(req[0:4], addr)
	bytecodec.PutLE32(req[4:8], addr+size)
	encoded := frame.EncodeBinary(cmdReadMem, req)
	if _, err := e.port.Write(encoded); err != nil {
		return "", err
	}

	out := make([]byte, 0, size)
	pos := addr
	for uint32(len(out)) < size {
		pkt, err := frame.ReadPacket(e.port, e.dec, 50*link.TIMEOUT)
		if err != nil {
			return "", err
		}
		if pkt.Cmd != cmdReadMemAck {
			return "", basebridge.ErrUnexpectedFrame(pkt.Cmd, cmdReadMemAck)
		}
		// Reply payload is [tag:2][addr:u32 LE][data]; the data portion is
		// length-6 bytes.
		if pkt.Length < 6 {
			return "", basebridge.ErrFrameShort()
		}
		replyAddr := bytecodec.LE32(pkt.Data[2:6])
		if replyAddr != pos {
			return "", &basebridge.Error{Kind: basebridge.KindLoaderRejected, Stage: "flash-read-addr-mismatch"}
		}
		chunk := pkt.Payload()[6:]
		out = append(out, chunk...)
		pos += uint32(len(chunk))

		if uint32(len(out)) < size {
			if err := e.port.SendAck(); err != nil {
				return "", err
			}
		}
	}

	path := fmt.Sprintf("%s/flashdump_%s_%08X_%08X.bin", backupDir, imei, addr, size)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", basebridge.ErrIo(err)
	}
	if saveAsBabe {
		babe := RawToBabe(out, addr)
		babePath := path + ".ssw"
		if err := os.WriteFile(babePath, babe, 0o644); err != nil {
			return "", basebridge.ErrIo(err)
		}
		_ = os.Remove(path)
		return babePath, nil
	}
	return path, nil
}

// Shutdown sends CMD 0x14 to power the phone down and drains its framed
// reply.
func (e *Engine) Shutdown() error {
	encoded := frame.EncodeBinary(cmdShutdown, nil)
	if _, err := e.port.Write(encoded); err != nil {
		return err
	}
	_, err := frame.ReadPacket(e.port, e.dec, 10*link.TIMEOUT)
	return err
}

// readAndRemove reads path's contents and deletes it; used for the
// internal scratch dumps the VKP applier and firmware scanner take through
// ReadFlash's file-writing path.
func readAndRemove(path string) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, basebridge.ErrIo(err)
	}
	_ = os.Remove(path)
	return buf, nil
}
