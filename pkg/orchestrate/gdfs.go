package orchestrate

import (
	"os"
	"strings"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/gdfs"
)

// ReadGdfsVar reads a named variable via whichever dialect the active
// loader classification uses.
func (s *Session) ReadGdfsVar(field gdfs.Field) ([]byte, error) {
	a, ok := gdfs.Lookup(s.Phone.Chip, s.Phone.IsZ1010, field)
	if !ok {
		return nil, &basebridge.Error{Kind: basebridge.KindUnsupportedChip}
	}
	return s.readGdfsForChip(a)
}

// WriteGdfsVar writes a named variable via the CS dialect, whatever the
// active loader classification; the binary CMD 0x20 write
// (gdfs.Engine.WriteBinary) is not used here.
func (s *Session) WriteGdfsVar(field gdfs.Field, data []byte) error {
	a, ok := gdfs.Lookup(s.Phone.Chip, s.Phone.IsZ1010, field)
	if !ok {
		return &basebridge.Error{Kind: basebridge.KindUnsupportedChip}
	}
	return s.gdfs.WriteChipSelect(a, data)
}

// BackupGdfs runs the CS backup session, naming the output after the
// phone's model name and IMEI.
func (s *Session) BackupGdfs() (string, error) {
	return s.gdfs.Backup(s.Phone.ModelName, s.Phone.OTP.IMEI, s.Paths.Backup)
}

// RestoreGdfs replays a previously captured backup file.
func (s *Session) RestoreGdfs(path string) (int, error) {
	return s.gdfs.Restore(path)
}

// RunGdfsScript executes a gdfsread:/gdfswrite: script file, appending any
// read-line transcript to a sibling file with a ".out" suffix. Transcripts
// are cumulative across runs, so the file is opened in append mode.
func (s *Session) RunGdfsScript(path string) (gdfs.ScriptSummary, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return gdfs.ScriptSummary{}, basebridge.ErrIo(err)
	}
	var transcript strings.Builder
	var warnings []string
	summary, err := s.gdfs.RunScript(string(text), &transcript, func(line int, msg string) {
		warnings = append(warnings, msg)
	})
	if err != nil {
		return summary, err
	}
	for _, w := range warnings {
		s.log.Warnf("gdfs script: %s", w)
	}
	if transcript.Len() > 0 {
		f, err := os.OpenFile(path+".out", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return summary, basebridge.ErrIo(err)
		}
		defer f.Close()
		if _, err := f.WriteString(transcript.String()); err != nil {
			return summary, basebridge.ErrIo(err)
		}
	}
	return summary, nil
}
