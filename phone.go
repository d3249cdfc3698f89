package basebridge

import "strings"

// OTP is the one-time-programmable identity region.
type OTP struct {
	Status bool
	Locked bool
	CID    uint8
	PAF    byte
	IMEI   string // 14 digits, "" until probed
}

// DecodeOTP decodes an OTP probe payload: status byte, lock bit, CID, paf
// byte, then 14 BCD IMEI bytes. Both the binary CMD 0x24 probe and the
// PNX5230 ICO0 bootstrap reply carry this shape. ok is false when the
// payload is too short to hold even the status and lock bytes.
func DecodeOTP(payload []byte) (otp OTP, ok bool) {
	if len(payload) < 2 {
		return OTP{}, false
	}
	otp = OTP{
		Status: payload[0] != 0,
		Locked: payload[1]&0x01 != 0,
	}
	if len(payload) >= 3 {
		otp.CID = payload[2] & 0x3F
	}
	if len(payload) >= 4 {
		otp.PAF = payload[3]
	}
	if len(payload) >= 18 {
		otp.IMEI = decodeIMEI(payload[4:18])
	}
	return otp, true
}

// decodeIMEI unpacks BCD IMEI digits, two per byte, stopping at the first
// non-decimal nibble and capping at 14 digits.
func decodeIMEI(b []byte) string {
	var sb strings.Builder
	for _, by := range b {
		hi, lo := by>>4, by&0x0F
		if hi > 9 {
			break
		}
		sb.WriteByte('0' + hi)
		if lo > 9 {
			break
		}
		sb.WriteByte('0' + lo)
	}
	s := sb.String()
	if len(s) > 14 {
		s = s[:14]
	}
	return s
}

// Flags are the five orchestration toggles carried on PhoneState. They are
// read by pkg/loader and pkg/orchestrate (which passes SaveAsBabe on to
// pkg/flash); pkg/config supplies their defaults.
type Flags struct {
	SkipCmd    bool // skip the optional 0x57 EROM probe after activation
	SkipErrors bool // tolerate echo/greeting mismatches (anycid exploit path)
	AnyCid     bool // force the SETOOL2 3-step path regardless of CID table
	BreakRSA   bool // force the rabbit-hole break path
	SaveAsBabe bool // convert flash dumps to BABE and drop the raw file
}

// PhoneState is the mutable record built up monotonically across the
// handshake and loader pipeline. Once OTP.IMEI is set it must never be
// overwritten; callers that re-probe OTP should check it is empty first.
type PhoneState struct {
	Chip          Chip
	ProtoMajor    uint8
	ProtoMinor    uint8
	NewSecurity   bool
	ModelName     string // cached, <=7 ASCII chars
	FirmwareVer   string // cached, <=63 chars
	IsZ1010       bool   // DB2000 variant
	Domain        Domain
	CID           uint8 // 0..63
	FlashVendorID uint16
	OTP           OTP
	Baudrate      int
	Loader        LoaderKind
	Flags         Flags
}

// SetOTP applies a freshly probed OTP, refusing to clobber an already-known
// IMEI: the phone record is filled monotonically and never regresses.
func (p *PhoneState) SetOTP(otp OTP) {
	if p.OTP.IMEI != "" {
		otp.IMEI = p.OTP.IMEI
	}
	p.OTP = otp
	if len(otp.IMEI) >= 8 && otp.IMEI[:8] == "35345600" {
		p.IsZ1010 = true
	}
}

// BaudFor returns the boot-ROM 'S<n>' command for a requested baud rate,
// applying the DB2000 cap and coercing unknown rates to 115200.
func BaudFor(chip Chip, requested int) (cmd string, actual int) {
	table := []struct {
		rate int
		cmd  string
	}{
		{9600, "S0"}, {19200, "S1"}, {38400, "S2"}, {57600, "S3"},
		{115200, "S4"}, {230400, "S5"}, {460800, "S6"}, {921600, "S7"},
	}
	if chip == ChipDB2000 && requested > 460800 {
		requested = 460800
	}
	for _, e := range table {
		if e.rate == requested {
			return e.cmd, e.rate
		}
	}
	return "S4", 115200
}
