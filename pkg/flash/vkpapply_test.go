package flash

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/link/virtual"
	"github.com/basebridge/basebridge/pkg/patch"
)

type scriptedPrompter struct {
	installs   int
	uninstalls int
	install    rune
	uninstall  rune
}

func (p *scriptedPrompter) ConfirmInstall(name string, unmatched, total int) rune {
	p.installs++
	return p.install
}

func (p *scriptedPrompter) ConfirmUninstall(name string) rune {
	p.uninstalls++
	return p.uninstall
}

const vkpText = "+1000\n00000100: AA BB\n"

// patchedByte digs the flashed value of offset 0x1100 out of the recorded
// writes: body slices are 0x800 bytes framed as CMD 0x01 and fragmented at
// 0x400 on the wire, so the first fragment of the third slice carries it at
// frame offset 4+0x100.
func patchedByte(t *testing.T, vp *virtual.Port) byte {
	t.Helper()
	var firstFragments [][]byte
	for _, w := range vp.Writes() {
		if len(w) == 0x400 && w[0] == 0x89 && w[1] == cmdBlockBody {
			firstFragments = append(firstFragments, w)
		}
	}
	if !assert.GreaterOrEqual(t, len(firstFragments), 3) {
		t.FailNow()
	}
	return firstFragments[2][4+0x100]
}

// TestApplyPatchInstall drives the apply direction: a clean block
// installs the patch without prompting and flashes the new value.
func TestApplyPatchInstall(t *testing.T) {
	p, err := patch.Parse(vkpText)
	assert.NoError(t, err)
	assert.Len(t, p.Lines, 1)
	assert.Equal(t, uint32(0x1100), p.Lines[0].Addr)

	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	raw := make([]byte, BlockSize)
	raw[0x1100] = 0xAA
	scriptFlashRead(vp, 0, raw)
	scriptFlashWrite(vp, BlockSize)

	prompt := &scriptedPrompter{install: 'c', uninstall: 'u'}
	e := New(vp, nil)
	outcome, err := e.ApplyPatch("test.vkp", p, BlockSize, prompt)
	assert.NoError(t, err)
	assert.Equal(t, Ok, outcome)
	assert.Equal(t, 0, prompt.installs)
	assert.Equal(t, 0, prompt.uninstalls)
	assert.Equal(t, byte(0xBB), patchedByte(t, vp))
}

// TestApplyPatchUninstall is the scenario's second half: re-running against
// an already-patched block triggers the uninstall prompt and restores the
// original byte.
func TestApplyPatchUninstall(t *testing.T) {
	p, err := patch.Parse(vkpText)
	assert.NoError(t, err)

	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	raw := make([]byte, BlockSize)
	raw[0x1100] = 0xBB
	scriptFlashRead(vp, 0, raw)
	scriptFlashWrite(vp, BlockSize)

	prompt := &scriptedPrompter{uninstall: 'u'}
	e := New(vp, nil)
	outcome, err := e.ApplyPatch("test.vkp", p, BlockSize, prompt)
	assert.NoError(t, err)
	assert.Equal(t, Ok, outcome)
	assert.Equal(t, 1, prompt.uninstalls)
	assert.Equal(t, byte(0xAA), patchedByte(t, vp))
}

func TestApplyPatchSkipLeavesFlashUntouched(t *testing.T) {
	p, err := patch.Parse(vkpText)
	assert.NoError(t, err)

	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	raw := make([]byte, BlockSize) // byte is 0x00: neither before nor after
	scriptFlashRead(vp, 0, raw)

	prompt := &scriptedPrompter{install: 's'}
	e := New(vp, nil)
	outcome, err := e.ApplyPatch("test.vkp", p, BlockSize, prompt)
	assert.NoError(t, err)
	assert.Equal(t, Skip, outcome)
	assert.Equal(t, 1, prompt.installs)

	for _, w := range vp.Writes() {
		if len(w) >= 2 && w[0] == 0x89 {
			assert.NotEqual(t, uint8(cmdBlockBody), w[1], "no flash writes after skip")
		}
	}
}

func TestApplyPatchNilPrompterSurfacesErrors(t *testing.T) {
	p, err := patch.Parse(vkpText)
	assert.NoError(t, err)

	vp := virtual.New()
	assert.NoError(t, vp.Open("mem", 115200))

	raw := make([]byte, BlockSize)
	raw[0x1100] = 0xBB // looks already installed
	scriptFlashRead(vp, 0, raw)

	e := New(vp, nil)
	outcome, err := e.ApplyPatch("test.vkp", p, BlockSize, nil)
	assert.Equal(t, Err, outcome)
	var be *basebridge.Error
	assert.ErrorAs(t, err, &be)
	assert.Equal(t, basebridge.KindVkpAlreadyInstalled, be.Kind)
}
