package flash

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basebridge/basebridge/internal/bytecodec"
	"github.com/basebridge/basebridge/pkg/frame"
	"github.com/basebridge/basebridge/pkg/image"
	"github.com/basebridge/basebridge/pkg/link/virtual"
)

func ackFrame(cmd uint8) []byte {
	return frame.EncodeBinary(cmd, []byte{0})
}

// scriptFlashWrite enqueues every reply FlashBabe expects for a raw dump of
// rawLen bytes wrapped by RawToBabe: one hash-chunk ack per 0x800 bytes of
// hash region, then per block a plain ACK for the header, a plain ACK for
// every body slice but the last, and a CMD 0x13 for the last; finally the
// CMD 0x12 finalize ack.
func scriptFlashWrite(vp *virtual.Port, rawLen int) {
	blocks := (rawLen + image.MaxBlockSize - 1) / image.MaxBlockSize
	hashSize := image.HashRegionSize(3, uint32(blocks))
	for off := 0; off < hashSize; off += hashChunkSize {
		vp.ScriptReply(ackFrame(cmdHashAck))
	}
	for b := 0; b < blocks; b++ {
		vp.ScriptReply([]byte{0x06}) // block header
		blockLen := image.MaxBlockSize
		if b == blocks-1 {
			blockLen = rawLen - b*image.MaxBlockSize
		}
		slices := (blockLen + bodySliceSize - 1) / bodySliceSize
		for s := 0; s < slices-1; s++ {
			vp.ScriptReply([]byte{0x06})
		}
		vp.ScriptReply(ackFrame(cmdBlockAck))
	}
	vp.ScriptReply(ackFrame(cmdFinalizeAck))
}

// TestFlashBabeTwoBlockImage drives the block-flash sequence end-to-end:
// a two-block 0x10000-byte-per-block image issues one hash chunk, two
// headers, 64 body slices and one finalize.
func TestFlashBabeTwoBlockImage(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	raw := make([]byte, 2*image.MaxBlockSize)
	for i := range raw {
		raw[i] = byte(i)
	}
	babe := RawToBabe(raw, 0x44140000)
	assert.Equal(t, image.Ok, image.Check(babe, len(babe)))

	scriptFlashWrite(vp, len(raw))

	e := New(vp, nil)
	assert.NoError(t, e.FlashBabe(babe, true))

	var hashFrames, headerFrames, bodyFrames, finalizeFrames int
	for _, w := range vp.Writes() {
		if len(w) < 2 || w[0] != 0x89 {
			continue
		}
		switch w[1] {
		case cmdHashChunk:
			hashFrames++
		case cmdBlockHeader:
			headerFrames++
		case cmdBlockBody:
			bodyFrames++
		case cmdFinalize:
			finalizeFrames++
		}
	}
	assert.Equal(t, 1, hashFrames)
	assert.Equal(t, 2, headerFrames)
	// Body slices are fragmented at 0x400 bytes on the wire, so only the
	// first fragment of each 0x800 slice starts with the frame marker.
	assert.Equal(t, 64, bodyFrames)
	assert.Equal(t, 1, finalizeFrames)
}

// scriptFlashRead enqueues the CMD 0x33 reply stream for a read of data at
// addr, in 0x800-byte chunks: payload is [tag:2][addr:u32 LE][chunk].
func scriptFlashRead(vp *virtual.Port, addr uint32, data []byte) {
	for off := 0; off < len(data); off += 0x800 {
		end := off + 0x800
		if end > len(data) {
			end = len(data)
		}
		payload := make([]byte, 6+end-off)
		bytecodec.PutLE32(payload[2:6], addr+uint32(off))
		copy(payload[6:], data[off:end])
		vp.ScriptReply(frame.EncodeBinary(0x33, payload))
	}
}

func TestReadFlashWritesDump(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	data := make([]byte, 0x1000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	const addr = 0x44140000
	scriptFlashRead(vp, addr, data)

	dir := t.TempDir()
	e := New(vp, nil)
	path, err := e.ReadFlash(addr, uint32(len(data)), "35345600123456", dir, false)
	assert.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s/flashdump_35345600123456_%08X_%08X.bin", dir, addr, len(data)), path)

	got, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	// The request frame plus exactly one inter-chunk ACK (the final chunk
	// is not acknowledged).
	acks := 0
	for _, w := range vp.Writes() {
		if len(w) == 1 && w[0] == 0x06 {
			acks++
		}
	}
	assert.Equal(t, 1, acks)
}

func TestReadFlashSaveAsBabeRoundTrips(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	data := make([]byte, 0x900)
	for i := range data {
		data[i] = byte(255 - i)
	}
	const addr = 0x20100000
	scriptFlashRead(vp, addr, data)

	dir := t.TempDir()
	e := New(vp, nil)
	path, err := e.ReadFlash(addr, uint32(len(data)), "000", dir, true)
	assert.NoError(t, err)
	assert.Contains(t, path, ".ssw")

	buf, err := os.ReadFile(path)
	assert.NoError(t, err)
	raw, err := BabeToRaw(buf)
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(data, raw))
}

func TestShutdownDrainsReply(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))
	vp.ScriptReply(ackFrame(0x15))

	e := New(vp, nil)
	assert.NoError(t, e.Shutdown())
	writes := vp.Writes()
	assert.Equal(t, frame.EncodeBinary(cmdShutdown, nil), writes[0])
}
