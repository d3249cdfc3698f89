// Package config loads the optional basebridge.ini profile: blob-store
// roots and default orchestration flags. A missing file is not an error;
// it yields the built-in defaults.
package config

import (
	"os"

	"gopkg.in/ini.v1"

	"github.com/basebridge/basebridge"
)

// Profile is a loaded (or defaulted) configuration.
type Profile struct {
	paths basebridge.Paths
	flags basebridge.Flags
}

// Load reads path as an ini file. A missing file returns a Profile built
// entirely from defaults, not an error; a present-but-malformed file does
// return an error.
func Load(path string) (*Profile, error) {
	p := &Profile{paths: basebridge.DefaultPaths()}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return p, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, basebridge.ErrIo(err)
	}

	if sec, err := f.GetSection("paths"); err == nil {
		p.paths.Loader = sec.Key("loader").MustString(p.paths.Loader)
		p.paths.Rest = sec.Key("rest").MustString(p.paths.Rest)
		p.paths.Backup = sec.Key("backup").MustString(p.paths.Backup)
	}

	if sec, err := f.GetSection("flags"); err == nil {
		p.flags.SkipCmd = sec.Key("skip_cmd").MustBool(false)
		p.flags.SkipErrors = sec.Key("skiperrors").MustBool(false)
		p.flags.AnyCid = sec.Key("anycid").MustBool(false)
		p.flags.BreakRSA = sec.Key("break_rsa").MustBool(false)
		p.flags.SaveAsBabe = sec.Key("save_as_babe").MustBool(false)
	}

	return p, nil
}

// Flags returns the profile's default orchestration flags. Callers that
// receive their own flags (CLI, test harness) override these; Profile
// never merges on the caller's behalf.
func (p *Profile) Flags() basebridge.Flags { return p.flags }

// Paths returns the profile's blob-store/backup roots.
func (p *Profile) Paths() basebridge.Paths { return p.paths }
