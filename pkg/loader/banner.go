package loader

import (
	"bytes"
	"strings"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/frame"
	"github.com/basebridge/basebridge/pkg/gdfs"
	"github.com/basebridge/basebridge/pkg/link"
)

// ClassifyBanner substring-matches a decoded greeting payload against the
// known loader banners.
func ClassifyBanner(banner []byte) basebridge.LoaderKind {
	s := strings.ToUpper(string(banner))
	switch {
	case strings.Contains(s, "CS_LOADER"), strings.Contains(s, "CSLOADER"),
		strings.Contains(s, "FILESYSTEMLOADER"), strings.Contains(s, "FILE_SYSTEM_LOADER"):
		return basebridge.LoaderChipSelect
	case strings.Contains(s, "PRODUCTION_ID"), strings.Contains(s, "PRODUCTIONID"):
		return basebridge.LoaderProductId
	case strings.Contains(s, "CERTLOADER"):
		return basebridge.LoaderCert
	case strings.Contains(s, "FLASHLOADER"), strings.Contains(s, "MEM_PATCHER"), bytes.Contains(banner, []byte("patched")):
		return basebridge.LoaderFlash
	default:
		return basebridge.LoaderUnknown
	}
}

// bannerAuthors maps banner substrings to the authorship credit printed as
// a "Let's say thanks to ..." line when a greeting matches.
var bannerAuthors = map[string]string{
	"SETOOL2": "the SETOOL2 team",
	"den_po":  "den_po",
}

// thankAuthors emits the informational authorship line for any known
// substring found in the greeting banner.
func (pl *Pipeline) thankAuthors(banner []byte) {
	s := string(banner)
	for needle, name := range bannerAuthors {
		if strings.Contains(s, needle) {
			pl.log.Infof("Let's say thanks to %s", name)
		}
	}
}

const (
	csCmd          = 0x04
	csSubActivate  = 0x09
	csSubStartGdfs = 0x05
	binCmdFlashID  = 0x0D
	binCmdOTP      = 0x24
	binCmdEromInfo = 0x57
)

// activate runs the post-greeting activation sequence: for ChipSelect
// loaders, two CS frames (activate CS, then start GDFS) followed by a
// probe read of the phone-name variable; for any other loader kind, the
// three binary queries (flash-id, OTP, optionally EROM info).
func (pl *Pipeline) activate(phone *basebridge.PhoneState, kind basebridge.LoaderKind) error {
	if kind == basebridge.LoaderChipSelect {
		return pl.activateChipSelect(phone)
	}
	return pl.activateBinary(phone)
}

func (pl *Pipeline) activateChipSelect(phone *basebridge.PhoneState) error {
	activate := frame.EncodeCS(csCmd, csSubActivate, nil)
	if _, err := pl.port.Write(activate); err != nil {
		return err
	}
	if err := pl.port.WaitAck(10 * link.TIMEOUT); err != nil {
		return err
	}
	startGdfs := frame.EncodeCS(csCmd, csSubStartGdfs, nil)
	if _, err := pl.port.Write(startGdfs); err != nil {
		return err
	}
	if err := pl.port.WaitAck(10 * link.TIMEOUT); err != nil {
		return err
	}
	// Probe the phone-name variable; its address is chip-specific (DB2000
	// additionally branches on is_z1010) and owned by pkg/gdfs's per-chip
	// variable table. A non-empty name proves the GDFS server is up and
	// fills the model-name cache.
	addr, ok := gdfs.Lookup(phone.Chip, phone.IsZ1010, gdfs.FieldPhoneName)
	if !ok {
		return &basebridge.Error{Kind: basebridge.KindUnsupportedChip}
	}
	g := gdfs.New(pl.port, pl.log)
	raw, err := g.ReadChipSelect(addr)
	if err != nil {
		return err
	}
	name := gdfs.DecodeWideChar(raw)
	if name == "" {
		return &basebridge.Error{Kind: basebridge.KindGdfsServerRejected}
	}
	if len(name) > 7 {
		name = name[:7]
	}
	phone.ModelName = name
	return nil
}

func (pl *Pipeline) activateBinary(phone *basebridge.PhoneState) error {
	flashID := frame.EncodeBinary(binCmdFlashID, nil)
	if _, err := pl.port.Write(flashID); err != nil {
		return err
	}
	idPkt, err := frame.ReadPacket(pl.port, pl.dec, 20*link.TIMEOUT)
	if err != nil {
		return err
	}
	if idPkt.Length >= 2 {
		phone.FlashVendorID = uint16(idPkt.Data[0]) | uint16(idPkt.Data[1])<<8
	}

	otpReq := frame.EncodeBinary(binCmdOTP, nil)
	if _, err := pl.port.Write(otpReq); err != nil {
		return err
	}
	otpPkt, err := frame.ReadPacket(pl.port, pl.dec, 20*link.TIMEOUT)
	if err == nil {
		applyOTP(phone, otpPkt.Payload())
	}

	if phone.Flags.SkipCmd {
		return nil
	}
	eromReq := frame.EncodeBinary(binCmdEromInfo, nil)
	if _, err := pl.port.Write(eromReq); err != nil {
		return err
	}
	if _, err := frame.ReadPacket(pl.port, pl.dec, 20*link.TIMEOUT); err != nil {
		return err
	}
	return nil
}

// applyOTP decodes the OTP probe payload and sets is_z1010 when IMEI begins
// "35345600".
func applyOTP(phone *basebridge.PhoneState, payload []byte) {
	if otp, ok := basebridge.DecodeOTP(payload); ok {
		phone.SetOTP(otp)
	}
}
