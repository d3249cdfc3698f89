package loader

import (
	"fmt"

	"github.com/basebridge/basebridge"
)

// Purpose names one of the four loader entry points.
type Purpose uint8

const (
	PurposeEnterFlashMode Purpose = iota
	PurposeSendCsLoader
	PurposeSendOflashLoader
	PurposeSendBflashLoader
)

// rabbitHoleCIDLimit: CIDs at or below this value require the rabbit-hole
// break sequence before any signed loader can be trusted. DB2000 and
// DB2010-A never take the break path.
const rabbitHoleCIDLimit = 36

const breakCID = 29

// Decide builds the ordered step list for the given phone identity and
// entry point, keyed by (chip, cid, color, isZ1010, flags).
func Decide(chip basebridge.Chip, cid uint8, color basebridge.Domain, isZ1010 bool, flags basebridge.Flags, purpose Purpose) ([]Step, error) {
	if chip == basebridge.ChipUnknown {
		return nil, &basebridge.Error{Kind: basebridge.KindUnsupportedChip}
	}
	if cid > 63 {
		return nil, &basebridge.Error{Kind: basebridge.KindUnsupportedCid}
	}

	switch purpose {
	case PurposeEnterFlashMode:
		return enterFlashSteps(chip, cid, color, isZ1010, flags)
	case PurposeSendCsLoader:
		return []Step{{PayloadKey: blobKey(chip, color, "csloader"), Method: MethodQHQAQD, PostAction: PostClassifyActivate}}, nil
	case PurposeSendOflashLoader:
		return []Step{{PayloadKey: blobKey(chip, color, "oflash"), Method: MethodQHQAQD, PostAction: PostClassifyActivate}}, nil
	case PurposeSendBflashLoader:
		return []Step{{PayloadKey: blobKey(chip, color, "bflash"), Method: MethodCMD3C, PostAction: PostClassifyActivate}}, nil
	default:
		return nil, &basebridge.Error{Kind: basebridge.KindUnsupportedProtocol}
	}
}

func enterFlashSteps(chip basebridge.Chip, cid uint8, color basebridge.Domain, isZ1010 bool, flags basebridge.Flags) ([]Step, error) {
	evidentBreakEligible := chip != basebridge.ChipDB2000 && chip != basebridge.ChipDB2010A

	if flags.AnyCid && (chip == basebridge.ChipPNX5230 || chip == basebridge.ChipDB2020) {
		return setool2Path(chip, color), nil
	}

	if (cid <= rabbitHoleCIDLimit || flags.BreakRSA) && evidentBreakEligible {
		// The CERT loader goes through the signed-loader relay; only the
		// BREAK payload itself uses the CMD 0x3E wrap.
		steps := []Step{
			{PayloadKey: blobKey(chip, color, "cert"), Method: MethodCMD3C, PostAction: PostClassifyActivate},
			{PayloadKey: blobKey(chip, color, "break"), Method: MethodCMD3E, PostAction: PostNone},
		}
		if cid == breakCID {
			steps = append(steps, Step{
				PayloadKey: blobKey(chip, color, "production"),
				Method:     MethodUnsigned,
				PostAction: PostUnsignedProduction,
			})
		}
		return steps, nil
	}

	return []Step{
		{PayloadKey: loaderPayloadKey(chip, isZ1010), Method: MethodQHQAQD, PostAction: PostClassifyActivate},
	}, nil
}

// setool2Path is the 3-step prologue -> loader -> patched-production path
// selected by anycid on PNX5230/DB2020.
func setool2Path(chip basebridge.Chip, color basebridge.Domain) []Step {
	return []Step{
		{PayloadKey: blobKey(chip, color, "prologue"), Method: MethodUnsigned, PostAction: PostNone},
		{PayloadKey: blobKey(chip, color, "loader"), Method: MethodCMD3C, PostAction: PostNone},
		{PayloadKey: blobKey(chip, color, "patched_production"), Method: MethodUnsigned, PostAction: PostUnsignedProduction},
	}
}

// productionLoadAddr returns the fixed RAM address an unsigned PRODUCTION
// image is loaded at after the CID-29 break.
func productionLoadAddr(chip basebridge.Chip) uint32 {
	if chip == basebridge.ChipDB2000 {
		return 0x00000000
	}
	return 0x4C000000
}

func loaderPayloadKey(chip basebridge.Chip, isZ1010 bool) string {
	if chip == basebridge.ChipDB2000 && isZ1010 {
		return "loader/db2000_z1010"
	}
	return fmt.Sprintf("loader/%s", chip)
}

// blobKey builds the stable string key the caller's BlobStore resolves to
// payload bytes; a deterministic (chip,cid,color)->key mapping with no
// filesystem meaning of its own.
func blobKey(chip basebridge.Chip, color basebridge.Domain, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", chip, color, suffix)
}
