package orchestrate

import (
	"fmt"
	"os"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/flash"
	"github.com/basebridge/basebridge/pkg/gdfs"
	"github.com/basebridge/basebridge/pkg/patch"
)

// FlashImage reads path, parses it as a BABE image, and flashes it.
func (s *Session) FlashImage(path string, flashFull bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return basebridge.ErrIo(err)
	}
	return s.flash.FlashBabe(buf, flashFull)
}

// ReadFlash reads [addr, addr+size) off the device to a backup file under
// Paths.Backup, optionally wrapped as BABE.
func (s *Session) ReadFlash(addr, size uint32) (string, error) {
	return s.flash.ReadFlash(addr, size, s.Phone.OTP.IMEI, s.Paths.Backup, s.Phone.Flags.SaveAsBabe)
}

// ScanFirmwareVersion reads the chip's version region(s) and extracts the
// version token, caching it on the phone record.
func (s *Session) ScanFirmwareVersion() (string, error) {
	v, err := s.flash.ScanFirmwareVersion(s.Phone.Chip)
	if err != nil {
		return "", err
	}
	s.Phone.FirmwareVer = v
	return v, nil
}

// RestoreBoot restores the boot area for the phone's current firmware
// version, preferring a .rest BABE image over a .raw dump under Paths.Rest.
func (s *Session) RestoreBoot() error {
	if s.Phone.FirmwareVer == "" {
		if _, err := s.ScanFirmwareVersion(); err != nil {
			return err
		}
	}
	return s.flash.RestoreBoot(s.Paths.Rest, s.Phone.FirmwareVer, s.Phone.Chip)
}

// ApplyPatchFile parses path as a VKP patch and applies it, prompting
// through prompt when the on-device state is ambiguous.
func (s *Session) ApplyPatchFile(path string, flashBlockSize uint32, prompt flash.Prompter) (flash.Outcome, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return flash.Err, basebridge.ErrIo(err)
	}
	p, err := patch.Parse(string(text))
	if err != nil {
		return flash.Err, err
	}
	return s.flash.ApplyPatch(path, p, flashBlockSize, prompt)
}

// SecurityDump summarizes the device's security-sensitive GDFS state:
// SIM-lock and user-code.
type SecurityDump struct {
	SimLock  gdfs.SimLock
	UserCode string
}

// DumpSecurityUnits reads the SIM-lock (block 00/00/06) and user-code
// (block 00/00/0E) variables, decodes them, and appends the decoded record
// to <backup>/secunits_<imei>.txt. The dump file is cumulative across
// sessions, so it is opened in append mode; on error any partial file is
// left on disk for inspection.
func (s *Session) DumpSecurityUnits() (SecurityDump, error) {
	var dump SecurityDump

	simAddr, ok := gdfs.Lookup(s.Phone.Chip, s.Phone.IsZ1010, gdfs.FieldSimLock)
	if !ok {
		return dump, &basebridge.Error{Kind: basebridge.KindUnsupportedChip}
	}
	simRaw, err := s.readGdfsForChip(simAddr)
	if err != nil {
		return dump, err
	}
	sl, err := gdfs.ParseSimLock(simRaw)
	if err != nil {
		return dump, err
	}
	dump.SimLock = sl

	codeAddr, ok := gdfs.Lookup(s.Phone.Chip, s.Phone.IsZ1010, gdfs.FieldUserCode)
	if !ok {
		return dump, &basebridge.Error{Kind: basebridge.KindUnsupportedChip}
	}
	codeRaw, err := s.readGdfsForChip(codeAddr)
	if err != nil {
		return dump, err
	}
	code, err := gdfs.ParseUserCode(codeRaw)
	if err != nil {
		return dump, err
	}
	dump.UserCode = code

	if err := s.appendSecurityDump(dump); err != nil {
		return dump, err
	}
	return dump, nil
}

func (s *Session) appendSecurityDump(dump SecurityDump) error {
	path := fmt.Sprintf("%s/secunits_%s.txt", s.Paths.Backup, s.Phone.OTP.IMEI)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return basebridge.ErrIo(err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "simlock locked=%v mcc=%s mnc=%s usercode=%s\n",
		dump.SimLock.Locked, dump.SimLock.MCC, dump.SimLock.MNC, dump.UserCode)
	if err != nil {
		return basebridge.ErrIo(err)
	}
	return nil
}

// readGdfsForChip picks the CS path for a ChipSelect-classified loader and
// the binary path otherwise.
func (s *Session) readGdfsForChip(a gdfs.Addr) ([]byte, error) {
	if s.Phone.Loader == basebridge.LoaderChipSelect {
		return s.gdfs.ReadChipSelect(a)
	}
	return s.gdfs.ReadBinary(a)
}
