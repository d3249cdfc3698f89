package flash

import (
	"bytes"
	"os"

	"github.com/basebridge/basebridge"
)

type fwRegion struct {
	addr     uint32
	size     uint32
	fallback *fwRegion
	needle   string
}

// fwRegions maps a chip to the region(s) its firmware-version string lives
// in and the needle that marks its start. PNX5230 additionally has a
// fallback region tried when the primary search comes up empty.
var fwRegions = map[basebridge.Chip]fwRegion{
	basebridge.ChipPNX5230: {
		addr: 0x216E0000, size: 0x30000, needle: "prg120",
		fallback: &fwRegion{addr: 0x213FC000, size: 0x10000, needle: "prg120"},
	},
	basebridge.ChipDB2010B: {addr: 0x44880000, size: 0x100000, needle: "prgCXC"},
	basebridge.ChipDB2020:  {addr: 0x45B10000, size: 0x80000, needle: "prgCXC"},
}

// ScanFirmwareVersion reads the chip's version region(s) off the device and
// extracts a printable version token following the needle string, trying
// the fallback region (PNX5230 only) if the primary search turns up empty.
func (e *Engine) ScanFirmwareVersion(chip basebridge.Chip) (string, error) {
	region, ok := fwRegions[chip]
	if !ok {
		return "", &basebridge.Error{Kind: basebridge.KindUnsupportedChip}
	}
	if v, err := e.scanRegion(region); err == nil && v != "" {
		return v, nil
	}
	if region.fallback != nil {
		return e.scanRegion(*region.fallback)
	}
	return "", nil
}

func (e *Engine) scanRegion(r fwRegion) (string, error) {
	path, err := e.ReadFlash(r.addr, r.size, "scan", os.TempDir(), false)
	if err != nil {
		return "", err
	}
	buf, err := readAndRemove(path)
	if err != nil {
		return "", err
	}
	return extractVersion(buf, r.needle), nil
}

// extractVersion finds needle in buf, then captures printable bytes up to
// the first NUL/CR/LF as the version string. If a further printable token
// follows a run of NULs, it is appended after an underscore.
func extractVersion(buf []byte, needle string) string {
	idx := bytes.Index(buf, []byte(needle))
	if idx < 0 {
		return ""
	}
	pos := idx + len(needle)
	version, next := captureToken(buf, pos)
	if version == "" {
		return ""
	}
	if next >= 0 {
		if tail, _ := captureToken(buf, next); tail != "" {
			return version + "_" + tail
		}
	}
	return version
}

// captureToken reads printable bytes from pos up to a terminator
// (NUL/CR/LF), then skips the run of NULs that follows and reports the
// offset of the next printable byte, or -1 if none follows before EOF.
func captureToken(buf []byte, pos int) (token string, nextPrintable int) {
	var sb bytes.Buffer
	i := pos
	for i < len(buf) {
		b := buf[i]
		if b == 0 || b == '\r' || b == '\n' {
			break
		}
		if b < 0x20 || b > 0x7E {
			return "", -1
		}
		sb.WriteByte(b)
		i++
	}
	for i < len(buf) && buf[i] == 0 {
		i++
	}
	if i < len(buf) && buf[i] >= 0x20 && buf[i] <= 0x7E {
		return sb.String(), i
	}
	return sb.String(), -1
}

var bootRestoreAddr = map[basebridge.Chip]uint32{
	basebridge.ChipPNX5230: 0x20100000,
	basebridge.ChipDB2000:  0x44140000,
	basebridge.ChipDB2010A: 0x44140000,
	basebridge.ChipDB2010B: 0x44140000,
	basebridge.ChipDB2012:  0x44140000,
	basebridge.ChipDB2020:  0x44140000,
}

// RestoreBoot looks for ./rest/<fwVersion>.rest (a BABE image, flashed
// as-is) and falls back to ./rest/<fwVersion>.raw (flashed at the chip's
// fixed boot-area address after conversion to BABE).
func (e *Engine) RestoreBoot(restDir, fwVersion string, chip basebridge.Chip) error {
	babePath := restDir + "/" + fwVersion + ".rest"
	if buf, err := os.ReadFile(babePath); err == nil {
		return e.FlashBabe(buf, true)
	}

	rawPath := restDir + "/" + fwVersion + ".raw"
	raw, err := os.ReadFile(rawPath)
	if err != nil {
		return basebridge.ErrIo(err)
	}
	addr, ok := bootRestoreAddr[chip]
	if !ok {
		return &basebridge.Error{Kind: basebridge.KindUnsupportedChip}
	}
	return e.FlashBabe(RawToBabe(raw, addr), true)
}
