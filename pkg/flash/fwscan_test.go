package flash

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/link/virtual"
)

func TestExtractVersionSingleToken(t *testing.T) {
	buf := append([]byte("junk prgCXCR1JC002\x00filler"), 0xFF)
	assert.Equal(t, "R1JC002", extractVersion(buf, "prgCXC"))
}

func TestExtractVersionAppendsSecondToken(t *testing.T) {
	buf := []byte("prgCXC125881\x00\x00\x00R3A013\x00")
	assert.Equal(t, "125881_R3A013", extractVersion(buf, "prgCXC"))
}

func TestExtractVersionNeedleMissing(t *testing.T) {
	assert.Equal(t, "", extractVersion([]byte("nothing here"), "prg120"))
}

func TestScanFirmwareVersionUnsupportedChip(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))
	e := New(vp, nil)
	_, err := e.ScanFirmwareVersion(basebridge.ChipDB2000)
	var be *basebridge.Error
	assert.ErrorAs(t, err, &be)
	assert.Equal(t, basebridge.KindUnsupportedChip, be.Kind)
}

func TestRestoreBootPrefersRestImage(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	raw := make([]byte, 0x200)
	for i := range raw {
		raw[i] = byte(i)
	}
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(dir+"/R1JC002.rest", RawToBabe(raw, 0x44140000), 0o644))

	scriptFlashWrite(vp, len(raw))
	e := New(vp, nil)
	assert.NoError(t, e.RestoreBoot(dir, "R1JC002", basebridge.ChipDB2020))
}

func TestRestoreBootMissingFilesIsIoError(t *testing.T) {
	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))
	e := New(vp, nil)
	err := e.RestoreBoot(t.TempDir(), "NOPE", basebridge.ChipDB2020)
	var be *basebridge.Error
	assert.ErrorAs(t, err, &be)
	assert.Equal(t, basebridge.KindIo, be.Kind)
}
