package gdfs

import (
	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/internal/bytecodec"
)

// Field names one of the variables the per-chip table maps to an Addr.
type Field uint8

const (
	FieldPhoneName Field = iota
	FieldBrand
	FieldCxcArticle
	FieldCxcVersion
	FieldLanguagePack
	FieldCdaArticle
	FieldCdaRevision
	FieldDefaultArticle
	FieldDefaultVersion
	FieldUserCode
	FieldSimLock
)

type tableKey struct {
	chip    basebridge.Chip
	z1010   bool
	field   Field
}

// varTable is the per-(chip, is_z1010) variable map. Fields absent for a
// chip are simply missing from the map; Lookup reports ok=false for them.
var varTable = map[tableKey]Addr{
	{basebridge.ChipDB2000, false, FieldPhoneName}:     {Block: 0x00, Msb: 0x00, Lsb: 0x01},
	{basebridge.ChipDB2000, false, FieldBrand}:          {Block: 0x00, Msb: 0x00, Lsb: 0x02},
	{basebridge.ChipDB2000, false, FieldCxcArticle}:      {Block: 0x00, Msb: 0x00, Lsb: 0x03},
	{basebridge.ChipDB2000, false, FieldCxcVersion}:      {Block: 0x00, Msb: 0x00, Lsb: 0x04},
	{basebridge.ChipDB2000, false, FieldUserCode}:        {Block: 0x00, Msb: 0x00, Lsb: 0x0E},
	{basebridge.ChipDB2000, false, FieldSimLock}:         {Block: 0x00, Msb: 0x00, Lsb: 0x06},

	{basebridge.ChipDB2000, true, FieldPhoneName}: {Block: 0x00, Msb: 0x00, Lsb: 0x01},
	{basebridge.ChipDB2000, true, FieldBrand}:     {Block: 0x00, Msb: 0x00, Lsb: 0x02},
	{basebridge.ChipDB2000, true, FieldUserCode}:  {Block: 0x00, Msb: 0x00, Lsb: 0x0E},
	{basebridge.ChipDB2000, true, FieldSimLock}:   {Block: 0x00, Msb: 0x00, Lsb: 0x06},

	{basebridge.ChipDB2010A, false, FieldPhoneName}:     {Block: 0x00, Msb: 0x00, Lsb: 0x01},
	{basebridge.ChipDB2010A, false, FieldBrand}:          {Block: 0x00, Msb: 0x00, Lsb: 0x02},
	{basebridge.ChipDB2010A, false, FieldCxcArticle}:      {Block: 0x00, Msb: 0x00, Lsb: 0x03},
	{basebridge.ChipDB2010A, false, FieldCxcVersion}:      {Block: 0x00, Msb: 0x00, Lsb: 0x04},
	{basebridge.ChipDB2010A, false, FieldLanguagePack}:    {Block: 0x00, Msb: 0x00, Lsb: 0x05},
	{basebridge.ChipDB2010A, false, FieldUserCode}:        {Block: 0x00, Msb: 0x00, Lsb: 0x0E},
	{basebridge.ChipDB2010A, false, FieldSimLock}:         {Block: 0x00, Msb: 0x00, Lsb: 0x06},

	{basebridge.ChipDB2010B, false, FieldPhoneName}:      {Block: 0x00, Msb: 0x00, Lsb: 0x01},
	{basebridge.ChipDB2010B, false, FieldBrand}:           {Block: 0x00, Msb: 0x00, Lsb: 0x02},
	{basebridge.ChipDB2010B, false, FieldCxcArticle}:       {Block: 0x00, Msb: 0x00, Lsb: 0x03},
	{basebridge.ChipDB2010B, false, FieldCxcVersion}:       {Block: 0x00, Msb: 0x00, Lsb: 0x04},
	{basebridge.ChipDB2010B, false, FieldLanguagePack}:     {Block: 0x00, Msb: 0x00, Lsb: 0x05},
	{basebridge.ChipDB2010B, false, FieldCdaArticle}:       {Block: 0x00, Msb: 0x00, Lsb: 0x07},
	{basebridge.ChipDB2010B, false, FieldCdaRevision}:      {Block: 0x00, Msb: 0x00, Lsb: 0x08},
	{basebridge.ChipDB2010B, false, FieldDefaultArticle}:   {Block: 0x00, Msb: 0x00, Lsb: 0x09},
	{basebridge.ChipDB2010B, false, FieldDefaultVersion}:   {Block: 0x00, Msb: 0x00, Lsb: 0x0A},
	{basebridge.ChipDB2010B, false, FieldUserCode}:         {Block: 0x00, Msb: 0x00, Lsb: 0x0E},
	{basebridge.ChipDB2010B, false, FieldSimLock}:          {Block: 0x00, Msb: 0x00, Lsb: 0x06},

	{basebridge.ChipDB2012, false, FieldPhoneName}: {Block: 0x00, Msb: 0x00, Lsb: 0x01},
	{basebridge.ChipDB2012, false, FieldBrand}:     {Block: 0x00, Msb: 0x00, Lsb: 0x02},
	{basebridge.ChipDB2012, false, FieldCdaArticle}: {Block: 0x00, Msb: 0x00, Lsb: 0x07},
	{basebridge.ChipDB2012, false, FieldCdaRevision}: {Block: 0x00, Msb: 0x00, Lsb: 0x08},
	{basebridge.ChipDB2012, false, FieldUserCode}:  {Block: 0x00, Msb: 0x00, Lsb: 0x0E},
	{basebridge.ChipDB2012, false, FieldSimLock}:   {Block: 0x00, Msb: 0x00, Lsb: 0x06},

	{basebridge.ChipDB2020, false, FieldPhoneName}:    {Block: 0x00, Msb: 0x00, Lsb: 0x01},
	{basebridge.ChipDB2020, false, FieldBrand}:        {Block: 0x00, Msb: 0x00, Lsb: 0x02},
	{basebridge.ChipDB2020, false, FieldCxcArticle}:   {Block: 0x00, Msb: 0x00, Lsb: 0x03},
	{basebridge.ChipDB2020, false, FieldCxcVersion}:   {Block: 0x00, Msb: 0x00, Lsb: 0x04},
	{basebridge.ChipDB2020, false, FieldLanguagePack}: {Block: 0x00, Msb: 0x00, Lsb: 0x05},
	{basebridge.ChipDB2020, false, FieldCdaArticle}:   {Block: 0x00, Msb: 0x00, Lsb: 0x07},
	{basebridge.ChipDB2020, false, FieldCdaRevision}:  {Block: 0x00, Msb: 0x00, Lsb: 0x08},
	{basebridge.ChipDB2020, false, FieldDefaultArticle}: {Block: 0x00, Msb: 0x00, Lsb: 0x09},
	{basebridge.ChipDB2020, false, FieldDefaultVersion}: {Block: 0x00, Msb: 0x00, Lsb: 0x0A},
	{basebridge.ChipDB2020, false, FieldUserCode}:     {Block: 0x00, Msb: 0x00, Lsb: 0x0E},
	{basebridge.ChipDB2020, false, FieldSimLock}:      {Block: 0x00, Msb: 0x00, Lsb: 0x06},

	{basebridge.ChipPNX5230, false, FieldPhoneName}:    {Block: 0x01, Msb: 0x00, Lsb: 0x01},
	{basebridge.ChipPNX5230, false, FieldBrand}:        {Block: 0x01, Msb: 0x00, Lsb: 0x02},
	{basebridge.ChipPNX5230, false, FieldCxcArticle}:   {Block: 0x01, Msb: 0x00, Lsb: 0x03},
	{basebridge.ChipPNX5230, false, FieldCxcVersion}:   {Block: 0x01, Msb: 0x00, Lsb: 0x04},
	{basebridge.ChipPNX5230, false, FieldCdaArticle}:   {Block: 0x01, Msb: 0x00, Lsb: 0x07},
	{basebridge.ChipPNX5230, false, FieldCdaRevision}:  {Block: 0x01, Msb: 0x00, Lsb: 0x08},
	{basebridge.ChipPNX5230, false, FieldUserCode}:     {Block: 0x01, Msb: 0x00, Lsb: 0x0E},
	{basebridge.ChipPNX5230, false, FieldSimLock}:      {Block: 0x01, Msb: 0x00, Lsb: 0x06},
}

// Lookup resolves a field for (chip, isZ1010), reporting ok=false when
// the field is absent from the chip's table.
func Lookup(chip basebridge.Chip, isZ1010 bool, field Field) (Addr, bool) {
	a, ok := varTable[tableKey{chip: chip, z1010: isZ1010, field: field}]
	return a, ok
}

// DecodeWideChar converts the phone-name field's wide-char bytes (2 bytes
// per character, low byte first, NUL-terminated) to a plain ASCII string.
func DecodeWideChar(b []byte) string {
	out := make([]byte, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			break
		}
		out = append(out, b[i])
	}
	return string(out)
}

// DecodeAscii copies an ASCII field verbatim, stopping at the first NUL.
func DecodeAscii(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// CdaFields decodes the CDA article and CDA revision strings from their
// two independently-read buffers, each separately NUL-terminated.
func CdaFields(articleRaw, revisionRaw []byte) (article, revision string) {
	return DecodeAscii(articleRaw), DecodeAscii(revisionRaw)
}

// SimLock is the decoded SIM-lock state from block 00/00/06.
type SimLock struct {
	Locked bool
	MCC    string
	MNC    string
}

// ParseSimLock reads the locked flag at offset 0x34 and the 3 BCD bytes
// starting at 0x34 decoding MCC (first 3 digits) and MNC (remaining
// 2-3 digits); nibble 0xF terminates the number early.
func ParseSimLock(raw []byte) (SimLock, error) {
	const off = 0x34
	if len(raw) < off+3 {
		return SimLock{}, basebridge.ErrFrameShort()
	}
	digits := bytecodec.BCDDigits(raw[off : off+3])
	sl := SimLock{Locked: raw[off] != 0}
	if len(digits) >= 3 {
		sl.MCC = digits[:3]
	}
	if len(digits) > 3 {
		sl.MNC = digits[3:]
	}
	return sl, nil
}

// ParseUserCode reads the digit count at offset 0x62 (0 means no code set)
// and, when non-zero, decodes that many packed low-nibble-first BCD digits
// starting at offset 0x63.
func ParseUserCode(raw []byte) (string, error) {
	const off = 0x62
	if len(raw) <= off {
		return "", basebridge.ErrFrameShort()
	}
	count := int(raw[off])
	if count == 0 {
		return "No usercode", nil
	}
	if len(raw) < off+1+(count+1)/2 {
		return "", basebridge.ErrFrameShort()
	}
	return bytecodec.PackedDigits(raw[off+1:], count), nil
}
