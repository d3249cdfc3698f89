package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	p, err := Load(t.TempDir() + "/absent.ini")
	assert.NoError(t, err)
	assert.Equal(t, "./loader", p.Paths().Loader)
	assert.Equal(t, "./rest", p.Paths().Rest)
	assert.Equal(t, "./backup", p.Paths().Backup)
	assert.False(t, p.Flags().AnyCid)
	assert.False(t, p.Flags().SaveAsBabe)
}

func TestLoadParsesPathsAndFlags(t *testing.T) {
	path := t.TempDir() + "/basebridge.ini"
	text := `[paths]
loader = /srv/blobs
backup = /var/backups

[flags]
anycid = true
save_as_babe = true
`
	assert.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	p, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "/srv/blobs", p.Paths().Loader)
	assert.Equal(t, "./rest", p.Paths().Rest)
	assert.Equal(t, "/var/backups", p.Paths().Backup)
	assert.True(t, p.Flags().AnyCid)
	assert.True(t, p.Flags().SaveAsBabe)
	assert.False(t, p.Flags().SkipCmd)
}

func TestLoadMalformedFileIsAnError(t *testing.T) {
	path := t.TempDir() + "/broken.ini"
	assert.NoError(t, os.WriteFile(path, []byte("[paths\nloader=x"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
