package flash

import (
	"fmt"
	"os"
	"sort"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/patch"
)

// BlockSize is the 64 KiB flash-block alignment the VKP applier operates
// at; every patch touches one or more blocks of this size.
const BlockSize = 0x10000

// Outcome is the three-way applier result.
type Outcome uint8

const (
	Ok Outcome = iota
	Skip
	Err
)

// Prompter asks the operator how to resolve an ambiguous patch state. Both
// methods return one of the listed runes; any other rune is treated as
// 'a' (abort).
type Prompter interface {
	// ConfirmInstall is asked when unmatched bytes exist: 'c' continue,
	// 's' skip, 'a' abort.
	ConfirmInstall(patchName string, unmatched, total int) rune
	// ConfirmUninstall is asked when the patch looks already installed:
	// 'u' uninstall, 's' skip, 'a' abort.
	ConfirmUninstall(patchName string) rune
}

// ApplyPatch implements the VKP applier: collect the aligned blocks the
// patch touches, read each back from the device, decide install vs.
// already-installed, prompt the operator when ambiguous, and re-flash the
// mutated block. A nil prompt turns either ambiguous state into its error
// kind instead of asking.
func (e *Engine) ApplyPatch(name string, p *patch.Patch, flashBlockSize uint32, prompt Prompter) (Outcome, error) {
	blocks := alignedBlocks(p)
	for _, blockAddr := range blocks {
		outcome, err := e.applyBlock(name, p, blockAddr, flashBlockSize, prompt)
		if err != nil {
			return Err, err
		}
		if outcome != Ok {
			return outcome, nil
		}
	}
	return Ok, nil
}

func alignedBlocks(p *patch.Patch) []uint32 {
	seen := make(map[uint32]bool)
	var blocks []uint32
	for _, line := range p.Lines {
		b := (line.Addr / BlockSize) * BlockSize
		if !seen[b] {
			seen[b] = true
			blocks = append(blocks, b)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	return blocks
}

func (e *Engine) applyBlock(name string, p *patch.Patch, blockAddr, flashBlockSize uint32, prompt Prompter) (Outcome, error) {
	var lines []patch.Line
	for _, line := range p.Lines {
		if line.Addr >= blockAddr && line.Addr < blockAddr+flashBlockSize {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return Ok, nil
	}

	subBlocks := flashBlockSize / BlockSize
	raw := make([]byte, 0, flashBlockSize)
	for i := uint32(0); i < subBlocks; i++ {
		sub, err := e.readRawSub(blockAddr+i*BlockSize, BlockSize)
		if err != nil {
			return Err, err
		}
		e.log.Debugf("vkp: read sub-block %d/%d of 0x%08x", i+1, subBlocks, blockAddr)
		raw = append(raw, sub...)
	}

	removeFlag := 0
	for {
		unmatched, contrmatched := scanLines(raw, blockAddr, lines, removeFlag)
		total := len(lines)

		if contrmatched == total && unmatched > 0 {
			if prompt == nil {
				return Err, &basebridge.Error{Kind: basebridge.KindVkpAlreadyInstalled}
			}
			switch prompt.ConfirmUninstall(name) {
			case 'u':
				removeFlag ^= 1
				continue
			case 's':
				return Skip, nil
			default:
				return Err, &basebridge.Error{Kind: basebridge.KindUserAbort}
			}
		}

		if unmatched > 0 {
			if prompt == nil {
				return Err, &basebridge.Error{Kind: basebridge.KindVkpMismatch, Count: unmatched, Total: total}
			}
			switch prompt.ConfirmInstall(name, unmatched, total) {
			case 'c':
				// fall through to apply
			case 's':
				return Skip, nil
			default:
				return Err, &basebridge.Error{Kind: basebridge.KindUserAbort}
			}
		}

		applyLines(raw, blockAddr, lines, removeFlag)
		babe := RawToBabe(raw, blockAddr)
		if err := e.FlashBabe(babe, true); err != nil {
			return Err, err
		}
		return Ok, nil
	}
}

// scanLines counts unmatched (current byte differs from the expected
// pre-patch value) and contrmatched (current byte already equals the
// target value) across lines, against removeFlag's direction.
func scanLines(raw []byte, base uint32, lines []patch.Line, removeFlag int) (unmatched, contrmatched int) {
	for _, line := range lines {
		off := line.Addr - base
		if int(off) >= len(raw) {
			continue
		}
		current := raw[off]
		expected, target := sides(line, removeFlag)
		if current != expected {
			unmatched++
		}
		if current == target {
			contrmatched++
		}
	}
	return
}

func applyLines(raw []byte, base uint32, lines []patch.Line, removeFlag int) {
	for _, line := range lines {
		off := line.Addr - base
		if int(off) >= len(raw) {
			continue
		}
		_, target := sides(line, removeFlag)
		raw[off] = target
	}
}

// sides returns (expected pre-patch value, target post-patch value) for
// removeFlag==0 (install: before->after) or removeFlag==1 (uninstall:
// after->before).
func sides(line patch.Line, removeFlag int) (expected, target byte) {
	if removeFlag == 0 {
		return line.Before, line.After
	}
	return line.After, line.Before
}

func (e *Engine) readRawSub(addr, size uint32) ([]byte, error) {
	path, err := e.ReadFlash(addr, size, fmt.Sprintf("%08x", addr), os.TempDir(), false)
	if err != nil {
		return nil, err
	}
	return readAndRemove(path)
}
