// Package patch parses the VKP textual hex-diff format: an ordered list of
// byte-level substitutions at flash offsets, biased by signed deltas.
package patch

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/basebridge/basebridge"
)

// Line is one parsed substitution.
type Line struct {
	Addr   uint32
	Before byte
	After  byte
}

// Patch is an ordered, duplicate-free list of Lines.
type Patch struct {
	Lines []Line
}

const maxExcerpt = 255

func truncate(s string) string {
	if len(s) > maxExcerpt {
		return s[:maxExcerpt]
	}
	return s
}

// Parse reads a VKP file: ';' comments, signed '+NNN'/'-NNN' address
// deltas, and "ADDR: before after" hex patch lines. On a duplicate address
// or malformed patch line it returns a *basebridge.Error of kind
// VkpParseError carrying the 1-based line number and a truncated verbatim
// excerpt of the offending text.
func Parse(text string) (*Patch, error) {
	p := &Patch{}
	seen := make(map[uint32]bool)
	delta := int64(0)

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := stripComment(raw)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if trimmed[0] == '+' || trimmed[0] == '-' {
			d, err := parseDelta(trimmed)
			if err != nil {
				return nil, parseErr(lineNo, raw)
			}
			delta = d
			continue
		}

		lines, err := parsePatchLine(trimmed)
		if err != nil {
			return nil, parseErr(lineNo, raw)
		}
		for _, pl := range lines {
			addr := uint32(int64(pl.Addr) + delta)
			if seen[addr] {
				return nil, parseErr(lineNo, raw)
			}
			seen[addr] = true
			pl.Addr = addr
			p.Lines = append(p.Lines, pl)
		}
	}
	return p, nil
}

func parseErr(line int, excerpt string) error {
	return &basebridge.Error{Kind: basebridge.KindVkpParseError, Line: line, Excerpt: truncate(excerpt)}
}

func stripComment(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return s[:i]
	}
	return s
}

func parseDelta(s string) (int64, error) {
	sign := int64(1)
	if s[0] == '-' {
		sign = -1
	}
	hex := strings.TrimSpace(s[1:])
	if hex == "" || len(hex) > 8 {
		return 0, fmt.Errorf("bad delta")
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, err
	}
	return sign * int64(v), nil
}

// parsePatchLine parses "HEX{1..8}: HEXPAIRS HEXPAIRS", requiring equal
// before/after group lengths. A multi-byte group expands into consecutive
// Lines at addr, addr+1, addr+2, ...
func parsePatchLine(s string) ([]Line, error) {
	colon := strings.IndexByte(s, ':')
	if colon < 0 || colon > 8 {
		return nil, fmt.Errorf("missing colon")
	}
	addrHex := s[:colon]
	v, err := strconv.ParseUint(addrHex, 16, 32)
	if err != nil {
		return nil, err
	}
	rest := strings.TrimSpace(s[colon+1:])
	groups := strings.Fields(rest)
	if len(groups) != 2 {
		return nil, fmt.Errorf("expected two hex groups")
	}
	before, err := decodeHexPairs(groups[0])
	if err != nil {
		return nil, err
	}
	after, err := decodeHexPairs(groups[1])
	if err != nil {
		return nil, err
	}
	if len(before) != len(after) {
		return nil, fmt.Errorf("before/after length mismatch")
	}
	lines := make([]Line, len(before))
	for i := range before {
		lines[i] = Line{Addr: uint32(v) + uint32(i), Before: before[i], After: after[i]}
	}
	return lines, nil
}

func decodeHexPairs(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd hex length")
	}
	out := make([]byte, 0, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		v, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out = append(out, byte(v))
	}
	return out, nil
}
