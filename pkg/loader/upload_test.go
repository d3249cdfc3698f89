package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/internal/bytecodec"
	"github.com/basebridge/basebridge/pkg/frame"
	"github.com/basebridge/basebridge/pkg/image"
	"github.com/basebridge/basebridge/pkg/link/virtual"
)

type mapBlobStore map[string][]byte

func (m mapBlobStore) Load(key string) ([]byte, error) {
	if b, ok := m[key]; ok {
		return b, nil
	}
	return nil, &basebridge.Error{Kind: basebridge.KindPayloadMissing, Path: key}
}

// buildLoaderBlob assembles a minimal version-3 BABE image with a 0x10-byte
// prologue and a 0x20-byte flat body, shaped the way the QH/QA/QD slicer
// expects.
func buildLoaderBlob() []byte {
	const (
		prologueSize = 0x10
		payloadBytes = 0x20
	)
	hashEnd := image.HeaderSize + image.HashRegionSize(3, 0)
	payloadStart := uint32(hashEnd + 8)
	buf := make([]byte, int(payloadStart)+payloadBytes)
	bytecodec.PutLE16(buf[0:2], image.Signature)
	buf[2] = 3
	off := 9 + 16
	bytecodec.PutLE32(buf[off:off+4], uint32(image.HeaderSize))   // PrologueStart
	bytecodec.PutLE32(buf[off+4:off+8], prologueSize)             // PrologueSize1
	bytecodec.PutLE32(buf[off+8:off+12], prologueSize)            // PrologueSize2
	bytecodec.PutLE32(buf[off+12:off+16], payloadStart)           // PayloadStart
	bytecodec.PutLE32(buf[off+16:off+20], 0)                      // PayloadBlocks
	bytecodec.PutLE32(buf[off+20:off+24], payloadBytes)           // PayloadBytes
	return buf
}

func scriptEchoes(vp *virtual.Port) {
	for _, echo := range []string{"EsB", "EhM", "EaT", "EbS", "EdQ"} {
		vp.ScriptReply([]byte(echo))
	}
}

func widechar(s string) []byte {
	out := make([]byte, 0, len(s)*2+2)
	for _, c := range s {
		out = append(out, byte(c), 0)
	}
	return append(out, 0, 0)
}

// TestRunSendCsLoaderActivatesGdfs drives the whole SendCsLoader path: the
// QH/QA/QD upload with its five echoes, the CS_LOADER greeting, the
// two-frame activation and the phone-name probe filling the model cache.
func TestRunSendCsLoaderActivatesGdfs(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	scriptEchoes(vp)
	vp.ScriptReply(frame.EncodeBinary(0x3F, []byte("CS_LOADER v2.4 by den_po")))
	vp.ScriptReply([]byte{0x06}) // activate CS
	vp.ScriptReply([]byte{0x06}) // start GDFS server
	vp.ScriptReply(frame.EncodeBinary(0x04, append([]byte{0x01}, widechar("K750")...)))

	phone := &basebridge.PhoneState{Chip: basebridge.ChipDB2020, Domain: basebridge.DomainRed, CID: 49}
	blobs := mapBlobStore{"DB2020/RED/csloader": buildLoaderBlob()}
	pl := New(vp, blobs, nil)

	assert.NoError(t, pl.Run(phone, PurposeSendCsLoader))
	assert.Equal(t, basebridge.LoaderChipSelect, phone.Loader)
	assert.Equal(t, "K750", phone.ModelName)

	writes := vp.Writes()
	assert.Equal(t, []byte("QH00"), writes[0])
	assert.Contains(t, writes, []byte("QA00"))
	assert.Contains(t, writes, []byte("QD00"))
}

func TestRunFailsOnEchoMismatch(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))
	vp.ScriptReply([]byte("XXX"))

	phone := &basebridge.PhoneState{Chip: basebridge.ChipDB2020, Domain: basebridge.DomainRed, CID: 49}
	blobs := mapBlobStore{"DB2020/RED/csloader": buildLoaderBlob()}
	pl := New(vp, blobs, nil)

	err := pl.Run(phone, PurposeSendCsLoader)
	var be *basebridge.Error
	assert.ErrorAs(t, err, &be)
	assert.Equal(t, basebridge.KindLoaderRejected, be.Kind)
}

func TestRunSurfacesMissingPayload(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	phone := &basebridge.PhoneState{Chip: basebridge.ChipDB2020, Domain: basebridge.DomainRed, CID: 49}
	pl := New(vp, mapBlobStore{}, nil)

	err := pl.Run(phone, PurposeSendCsLoader)
	assert.Error(t, err)
}

func TestUploadUnsignedSendsAddrSizeBody(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	body := make([]byte, 0x500)
	for i := range body {
		body[i] = byte(i)
	}
	pl := New(vp, mapBlobStore{}, nil)
	assert.NoError(t, pl.uploadUnsigned(body, 0x4C000000))

	writes := vp.Writes()
	// addr+size header, then the opaque body in 0x400-byte chunks.
	hdr := make([]byte, 8)
	bytecodec.PutLE32(hdr[0:4], 0x4C000000)
	bytecodec.PutLE32(hdr[4:8], 0x500)
	assert.Equal(t, hdr, writes[0])
	assert.Len(t, writes, 3)
	assert.Len(t, writes[1], 0x400)
	assert.Len(t, writes[2], 0x100)
	assert.Equal(t, body[:0x400], writes[1])
}

// scriptBinaryActivation enqueues the three activation replies a
// non-ChipSelect loader answers with: flash-id, OTP, EROM info.
func scriptBinaryActivation(vp *virtual.Port) {
	vp.ScriptReply(frame.EncodeBinary(0x0A, []byte{0x34, 0x12}))
	otp := make([]byte, 18)
	otp[0] = 1
	copy(otp[4:], []byte{0x12, 0x34, 0x56, 0x78, 0x90, 0x12, 0x34})
	vp.ScriptReply(frame.EncodeBinary(0x25, otp))
	vp.ScriptReply(frame.EncodeBinary(0x58, []byte{0}))
}

// TestRunEnterFlashModeCid29RabbitHole drives the whole CID-29 break path:
// cert loader over the signed relay, the 0x3E break accepted with a bare
// FC FF, then the unsigned production load to the chip's fixed RAM address
// with its own greeting classified and activated.
func TestRunEnterFlashModeCid29RabbitHole(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	for i := 0; i < 3; i++ {
		vp.ScriptReply(frame.EncodeBinary(cmd3d, []byte{0}))
	}
	vp.ScriptReply(frame.EncodeBinary(0x40, []byte("CERTLOADER p3k")))
	scriptBinaryActivation(vp)
	vp.ScriptReply([]byte{0xFC, 0xFF})
	vp.ScriptReply(frame.EncodeBinary(0x41, []byte("rom patched by den_po")))
	scriptBinaryActivation(vp)

	phone := &basebridge.PhoneState{Chip: basebridge.ChipDB2012, Domain: basebridge.DomainRed, CID: 29}
	production := make([]byte, 0x500)
	for i := range production {
		production[i] = byte(0xA5 ^ i)
	}
	blobs := mapBlobStore{
		"DB2012/RED/cert":       buildLoaderBlob(),
		"DB2012/RED/break":      make([]byte, 0x120),
		"DB2012/RED/production": production,
	}
	pl := New(vp, blobs, nil)

	assert.NoError(t, pl.Run(phone, PurposeEnterFlashMode))
	assert.Equal(t, basebridge.LoaderFlash, phone.Loader)
	assert.Equal(t, uint16(0x1234), phone.FlashVendorID)

	// The production image went out unframed to the fixed RAM address.
	hdr := make([]byte, 8)
	bytecodec.PutLE32(hdr[0:4], 0x4C000000)
	bytecodec.PutLE32(hdr[4:8], 0x500)
	assert.Contains(t, vp.Writes(), hdr)
}

func TestUploadCMD3EAcceptsBreakWithoutGreeting(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))
	vp.ScriptReply([]byte{0xFC, 0xFF})

	pl := New(vp, mapBlobStore{}, nil)
	banner, err := pl.uploadCMD3E([]byte{1, 2, 3})
	assert.NoError(t, err)
	assert.Nil(t, banner)
}

func TestUploadCMD3CContinuationBits(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	// Three parts (header, prologue, body), each small enough for a single
	// frame at the 0x7FF chunk size.
	blob := buildLoaderBlob()
	parts := 0
	for _, n := range []int{image.HeaderSize, 0x10, 0x20} {
		parts += (n + cmd3cChunk - 1) / cmd3cChunk
	}
	for i := 0; i < parts; i++ {
		vp.ScriptReply(frame.EncodeBinary(cmd3d, []byte{0}))
	}
	vp.ScriptReply(frame.EncodeBinary(0x3F, []byte("FLASHLOADER r2")))

	pl := New(vp, mapBlobStore{}, nil)
	banner, err := pl.uploadCMD3C(blob)
	assert.NoError(t, err)
	assert.Equal(t, basebridge.LoaderFlash, ClassifyBanner(banner))

	// Every CMD 0x3C frame of a single-frame part carries a clear
	// continuation bit.
	for _, w := range vp.Writes() {
		if len(w) > 5 && w[0] == 0x89 && w[1] == cmd3c {
			assert.Equal(t, byte(0), w[4]&0x80)
		}
	}
}

func TestClassifyBannerTable(t *testing.T) {
	cases := []struct {
		banner string
		kind   basebridge.LoaderKind
	}{
		{"CS_LOADER v1", basebridge.LoaderChipSelect},
		{"FILE_SYSTEM_LOADER", basebridge.LoaderChipSelect},
		{"PRODUCTION_ID server", basebridge.LoaderProductId},
		{"CERTLOADER p3k", basebridge.LoaderCert},
		{"FLASHLOADER r2a", basebridge.LoaderFlash},
		{"MEM_PATCHER", basebridge.LoaderFlash},
		{"rom patched by den_po", basebridge.LoaderFlash},
		{"hello world", basebridge.LoaderUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, ClassifyBanner([]byte(c.banner)), c.banner)
	}
}
