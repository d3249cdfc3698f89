// Package image implements the BABE signed-image container: header
// recognition, validation, and block-wise decode/encode.
package image

import (
	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/internal/bytecodec"
)

const (
	Signature  = 0xBEBA
	HeaderSize = 0x48 // signature,version,platform,cid,color,4x hash descr,prologue*3,payload*3,flags

	MaxBlockSize = 0x10000
)

// CheckResult is the outcome of validating a candidate BABE image before
// it is allowed to flash.
type CheckResult uint8

const (
	NotBabe CheckResult = iota
	BadFile
	CantCheck
	NotFull
	Ok
)

// Header is the fixed-width BABE header.
type Header struct {
	Signature      uint16
	Version        uint8
	Platform       uint32
	CID            uint8
	Color          uint8
	HashDescriptor [4]uint32
	PrologueStart  uint32
	PrologueSize1  uint32
	PrologueSize2  uint32
	PayloadStart   uint32
	PayloadBlocks  uint32
	PayloadBytes   uint32
	Flags          uint32
}

const (
	FlagMain uint32 = 1 << iota
	FlagFs
	FlagCert
	FlagSfa
)

// Block is one payload block: an absolute destination address, its size,
// and the body bytes (size <= MaxBlockSize).
type Block struct {
	DestAddr uint32
	Size     uint32
	Data     []byte
}

// Image is a fully decoded BABE image.
type Image struct {
	Header Header
	Blocks []Block
}

// HashRegionSize computes the hash area size for a header version:
//
//	version<=2: 0x480 - sizeof(header)
//	version==3: blocks + 0x380 - sizeof(header)
//	version==4: blocks*20 + 0x380 - sizeof(header)
func HashRegionSize(version uint8, blocks uint32) int {
	switch {
	case version <= 2:
		return 0x480 - HeaderSize
	case version == 3:
		return int(blocks) + 0x380 - HeaderSize
	default: // version 4
		return int(blocks)*20 + 0x380 - HeaderSize
	}
}

// decodeHeader reads a Header from the start of buf. It does not validate
// the signature or version; callers use IsValid/Check for that.
func decodeHeader(buf []byte) Header {
	var h Header
	h.Signature = bytecodec.LE16(buf[0:2])
	h.Version = buf[2]
	h.Platform = bytecodec.LE32(buf[3:7])
	h.CID = buf[7]
	h.Color = buf[8]
	for i := 0; i < 4; i++ {
		h.HashDescriptor[i] = bytecodec.LE32(buf[9+i*4 : 13+i*4])
	}
	off := 9 + 16
	h.PrologueStart = bytecodec.LE32(buf[off : off+4])
	h.PrologueSize1 = bytecodec.LE32(buf[off+4 : off+8])
	h.PrologueSize2 = bytecodec.LE32(buf[off+8 : off+12])
	h.PayloadStart = bytecodec.LE32(buf[off+12 : off+16])
	h.PayloadBlocks = bytecodec.LE32(buf[off+16 : off+20])
	h.PayloadBytes = bytecodec.LE32(buf[off+20 : off+24])
	h.Flags = bytecodec.LE32(buf[off+24 : off+28])
	return h
}

// IsValid reports whether buf looks like a BABE image: signature matches,
// version is one of {2,3,4}, and the hash region (plus its trailing 8-byte
// guard) fits within size.
func IsValid(buf []byte, size int) bool {
	if len(buf) < HeaderSize || size < HeaderSize {
		return false
	}
	h := decodeHeader(buf)
	if h.Signature != Signature {
		return false
	}
	if h.Version != 2 && h.Version != 3 && h.Version != 4 {
		return false
	}
	hashEnd := HeaderSize + HashRegionSize(h.Version, h.PayloadBlocks)
	return hashEnd+8 <= size
}

// Check validates buf for flashing. Only Ok permits flashing a full
// image; NotFull still
// allows a truncated/partial flash where the caller tolerates it.
func Check(buf []byte, size int) CheckResult {
	if len(buf) < 2 || bytecodec.LE16(buf[0:2]) != Signature {
		return NotBabe
	}
	if len(buf) < HeaderSize || size < HeaderSize {
		return BadFile
	}
	h := decodeHeader(buf)
	if h.Version != 2 && h.Version != 3 && h.Version != 4 {
		return BadFile
	}
	hashEnd := HeaderSize + HashRegionSize(h.Version, h.PayloadBlocks)
	if hashEnd+8 > len(buf) {
		return CantCheck
	}
	if int(h.PayloadStart)+int(h.PayloadBytes) > size {
		return NotFull
	}
	return Ok
}

// Decode parses a full Image out of buf, walking the block headers and
// shrinking the block count when the file is truncated: it stops as soon
// as a block's declared size exceeds MaxBlockSize or a block header/body
// would read past len(buf). It never reads past EOF.
func Decode(buf []byte) (*Image, error) {
	if !IsValid(buf, len(buf)) {
		return nil, &basebridge.Error{Kind: basebridge.KindBadBabe, Reason: "signature/version/hash-region check failed"}
	}
	h := decodeHeader(buf)
	img := &Image{Header: h}

	pos := int(h.PayloadStart)
	for i := uint32(0); i < h.PayloadBlocks; i++ {
		if pos+8 > len(buf) {
			break
		}
		destAddr := bytecodec.LE32(buf[pos : pos+4])
		size := bytecodec.LE32(buf[pos+4 : pos+8])
		if size > MaxBlockSize {
			break
		}
		bodyStart := pos + 8
		bodyEnd := bodyStart + int(size)
		if bodyEnd > len(buf) {
			break
		}
		data := make([]byte, size)
		copy(data, buf[bodyStart:bodyEnd])
		img.Blocks = append(img.Blocks, Block{DestAddr: destAddr, Size: size, Data: data})
		pos = bodyEnd
	}
	return img, nil
}

// PrologueSlices cuts buf into the {header, prologue, body} triple the
// QH/QA/QD loader upload method needs: header is sizeof(Header), prologue
// is PrologueSize1 bytes starting right after the header, body is
// PayloadBytes bytes starting at PayloadStart.
func PrologueSlices(buf []byte, h Header) (header, prologue, body []byte) {
	header = buf[:HeaderSize]
	prologue = buf[HeaderSize : HeaderSize+int(h.PrologueSize1)]
	body = buf[h.PayloadStart : h.PayloadStart+h.PayloadBytes]
	return
}
