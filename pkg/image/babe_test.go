package image

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basebridge/basebridge/internal/bytecodec"
)

func buildHeader(version uint8, blocks uint32, payloadStart, payloadBytes uint32) []byte {
	buf := make([]byte, HeaderSize)
	bytecodec.PutLE16(buf[0:2], Signature)
	buf[2] = version
	bytecodec.PutLE32(buf[3:7], 0)
	buf[7] = 0x31 // cid
	buf[8] = 0x02 // color
	off := 9 + 16
	bytecodec.PutLE32(buf[off:off+4], 0)    // prologue start
	bytecodec.PutLE32(buf[off+4:off+8], 0)  // prologue size1
	bytecodec.PutLE32(buf[off+8:off+12], 0) // prologue size2
	bytecodec.PutLE32(buf[off+12:off+16], payloadStart)
	bytecodec.PutLE32(buf[off+16:off+20], blocks)
	bytecodec.PutLE32(buf[off+20:off+24], payloadBytes)
	bytecodec.PutLE32(buf[off+24:off+28], 0)
	return buf
}

func TestHashRegionSize(t *testing.T) {
	assert.Equal(t, 0x480-HeaderSize, HashRegionSize(2, 100))
	assert.Equal(t, 10+0x380-HeaderSize, HashRegionSize(3, 10))
	assert.Equal(t, 10*20+0x380-HeaderSize, HashRegionSize(4, 10))
}

func TestIsValidRejectsBadSignature(t *testing.T) {
	buf := buildHeader(2, 0, uint32(HeaderSize), 0)
	buf[0] = 0x00
	full := make([]byte, HeaderSize+HashRegionSize(2, 0)+8)
	copy(full, buf)
	assert.False(t, IsValid(full, len(full)))
}

func TestIsValidAcceptsWellFormed(t *testing.T) {
	hdr := buildHeader(2, 0, uint32(HeaderSize), 0)
	full := make([]byte, HeaderSize+HashRegionSize(2, 0)+8)
	copy(full, hdr)
	assert.True(t, IsValid(full, len(full)))
}

func TestCheckOutcomes(t *testing.T) {
	assert.Equal(t, NotBabe, Check([]byte{0, 0}, 2))
	assert.Equal(t, BadFile, Check([]byte{0xBA, 0xBE}, 2))

	hdr := buildHeader(2, 0, uint32(HeaderSize), 4)
	hashEnd := HeaderSize + HashRegionSize(2, 0)
	short := make([]byte, hashEnd) // too short for hash region + guard
	copy(short, hdr)
	assert.Equal(t, CantCheck, Check(short, hashEnd))

	full := make([]byte, hashEnd+8+4)
	copy(full, hdr)
	// len(buf) covers the hash region fully, but the declared file size is
	// smaller than payloadStart+payloadBytes (HeaderSize+4).
	assert.Equal(t, NotFull, Check(full, HeaderSize+2))

	ok := make([]byte, hashEnd+8+int(HeaderSize)+4)
	copy(ok, hdr)
	assert.Equal(t, Ok, Check(ok, len(ok)))
}

func TestDecodeWalksBlocksAndTruncatesSafely(t *testing.T) {
	payloadStart := uint32(HeaderSize + HashRegionSize(2, 0) + 8)
	hdr := buildHeader(2, 2, payloadStart, 0)

	buf := make([]byte, payloadStart)
	copy(buf, hdr)

	block1 := make([]byte, 8+4)
	bytecodec.PutLE32(block1[0:4], 0x1000)
	bytecodec.PutLE32(block1[4:8], 4)
	copy(block1[8:], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	buf = append(buf, block1...)

	// second block header present but body truncated away.
	block2Header := make([]byte, 8)
	bytecodec.PutLE32(block2Header[0:4], 0x2000)
	bytecodec.PutLE32(block2Header[4:8], 100)
	buf = append(buf, block2Header...)

	img, err := Decode(buf)
	assert.NoError(t, err)
	assert.Len(t, img.Blocks, 1)
	assert.Equal(t, uint32(0x1000), img.Blocks[0].DestAddr)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, img.Blocks[0].Data)
}

func TestPrologueSlices(t *testing.T) {
	h := Header{PrologueSize1: 2, PayloadStart: HeaderSize + 10, PayloadBytes: 3}
	buf := make([]byte, HeaderSize+20)
	copy(buf[HeaderSize:HeaderSize+2], []byte{0xAA, 0xBB})
	copy(buf[HeaderSize+10:HeaderSize+13], []byte{1, 2, 3})

	header, prologue, body := PrologueSlices(buf, h)
	assert.Len(t, header, HeaderSize)
	assert.Equal(t, []byte{0xAA, 0xBB}, prologue)
	assert.Equal(t, []byte{1, 2, 3}, body)
}
