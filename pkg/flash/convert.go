package flash

import (
	"github.com/basebridge/basebridge/internal/bytecodec"
	"github.com/basebridge/basebridge/pkg/image"
)

// RawToBabe wraps a flat raw dump as a version-3 BABE image destined at
// addr, split into ceil(len(raw)/0x10000) blocks of at most 0x10000 bytes
// each, with a 1-byte-per-block hash stub. Every emitted block stays
// within the 0x10000 per-block limit, so a re-decode never silently drops
// data the way a single oversized block would.
func RawToBabe(raw []byte, addr uint32) []byte {
	const version = 3
	numBlocks := uint32((len(raw) + image.MaxBlockSize - 1) / image.MaxBlockSize)
	if numBlocks == 0 {
		numBlocks = 1 // a zero-length dump still gets one empty block
	}
	hashSize := image.HashRegionSize(version, numBlocks)
	payloadStart := uint32(image.HeaderSize + hashSize)

	blockTotal := uint32(0)
	for off := 0; off < len(raw); off += image.MaxBlockSize {
		end := off + image.MaxBlockSize
		if end > len(raw) {
			end = len(raw)
		}
		blockTotal += 8 + uint32(end-off)
	}
	if len(raw) == 0 {
		blockTotal = 8
	}

	out := make([]byte, payloadStart+blockTotal)
	bytecodec.PutLE16(out[0:2], image.Signature)
	out[2] = version
	bytecodec.PutLE32(out[3:7], 0)
	out[7] = 0 // cid
	out[8] = 0 // color

	pos := payloadStart
	blockAddr := addr
	if len(raw) == 0 {
		bytecodec.PutLE32(out[pos:pos+4], blockAddr)
		bytecodec.PutLE32(out[pos+4:pos+8], 0)
	} else {
		for off := 0; off < len(raw); off += image.MaxBlockSize {
			end := off + image.MaxBlockSize
			if end > len(raw) {
				end = len(raw)
			}
			n := uint32(end - off)
			bytecodec.PutLE32(out[pos:pos+4], blockAddr)
			bytecodec.PutLE32(out[pos+4:pos+8], n)
			copy(out[pos+8:pos+8+n], raw[off:end])
			pos += 8 + n
			blockAddr += n
		}
	}

	headerOff := 9 + 16
	bytecodec.PutLE32(out[headerOff:headerOff+4], payloadStart)   // PrologueStart (unused)
	bytecodec.PutLE32(out[headerOff+4:headerOff+8], 0)            // PrologueSize1
	bytecodec.PutLE32(out[headerOff+8:headerOff+12], 0)           // PrologueSize2
	bytecodec.PutLE32(out[headerOff+12:headerOff+16], payloadStart)
	bytecodec.PutLE32(out[headerOff+16:headerOff+20], numBlocks)
	bytecodec.PutLE32(out[headerOff+20:headerOff+24], blockTotal)
	bytecodec.PutLE32(out[headerOff+24:headerOff+28], image.FlagMain)
	return out
}

// BabeToRaw strips a BABE image down to the concatenated bytes of its
// payload blocks, in block order, discarding addressing: the inverse of
// what RawToBabe constructs for a single-block image, generalized to any
// block count.
func BabeToRaw(buf []byte) ([]byte, error) {
	img, err := image.Decode(buf)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, blk := range img.Blocks {
		out = append(out, blk.Data...)
	}
	return out, nil
}
