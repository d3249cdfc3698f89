package gdfs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basebridge/basebridge"
)

func TestLookupPerChipAndZ1010(t *testing.T) {
	a, ok := Lookup(basebridge.ChipDB2020, false, FieldPhoneName)
	assert.True(t, ok)
	assert.Equal(t, Addr{Block: 0x00, Msb: 0x00, Lsb: 0x01}, a)

	a, ok = Lookup(basebridge.ChipPNX5230, false, FieldPhoneName)
	assert.True(t, ok)
	assert.Equal(t, uint8(0x01), a.Block)

	// DB2012 carries no CXC article variable.
	_, ok = Lookup(basebridge.ChipDB2012, false, FieldCxcArticle)
	assert.False(t, ok)

	// Z1010 table is consulted separately from the plain DB2000 one.
	_, ok = Lookup(basebridge.ChipDB2000, true, FieldCxcArticle)
	assert.False(t, ok)
	_, ok = Lookup(basebridge.ChipDB2000, false, FieldCxcArticle)
	assert.True(t, ok)
}

func TestDecodeWideChar(t *testing.T) {
	assert.Equal(t, "K750", DecodeWideChar([]byte{'K', 0, '7', 0, '5', 0, '0', 0, 0, 0, 'x', 0}))
	assert.Equal(t, "", DecodeWideChar(nil))
}

func TestParseSimLock(t *testing.T) {
	raw := make([]byte, 0x40)
	raw[0x34], raw[0x35], raw[0x36] = 0x24, 0x01, 0x5F

	sl, err := ParseSimLock(raw)
	assert.NoError(t, err)
	assert.True(t, sl.Locked)
	assert.Equal(t, "240", sl.MCC)
	assert.Equal(t, "15", sl.MNC)
}

func TestParseSimLockUnlocked(t *testing.T) {
	raw := make([]byte, 0x40)
	raw[0x34], raw[0x35], raw[0x36] = 0x00, 0x00, 0xFF
	sl, err := ParseSimLock(raw)
	assert.NoError(t, err)
	assert.False(t, sl.Locked)
}

func TestParseSimLockShortBuffer(t *testing.T) {
	_, err := ParseSimLock(make([]byte, 0x10))
	assert.Error(t, err)
}

func TestParseUserCode(t *testing.T) {
	raw := make([]byte, 0x70)
	raw[0x62] = 4
	raw[0x63] = 0x21 // digits 1,2 low nibble first
	raw[0x64] = 0x43 // digits 3,4

	code, err := ParseUserCode(raw)
	assert.NoError(t, err)
	assert.Equal(t, "1234", code)
}

func TestParseUserCodeAbsent(t *testing.T) {
	raw := make([]byte, 0x70)
	code, err := ParseUserCode(raw)
	assert.NoError(t, err)
	assert.Equal(t, "No usercode", code)
}

func TestCdaFieldsTerminateIndependently(t *testing.T) {
	article, revision := CdaFields([]byte("CDA102568/1\x00junk"), []byte("R2A\x00"))
	assert.Equal(t, "CDA102568/1", article)
	assert.Equal(t, "R2A", revision)
}
