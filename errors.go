package basebridge

import "fmt"

// Kind is the closed set of error kinds this module returns. Every leaf helper
// returns one of these; compound operations surface the kind verbatim.
type Kind uint8

const (
	KindPortError Kind = iota
	KindTimeout
	KindFrameShort
	KindFrameChecksum
	KindUnexpectedFrame
	KindUnsupportedProtocol
	KindUnknownDomain
	KindUnsupportedChip
	KindUnsupportedCid
	KindPayloadMissing
	KindBadBabe
	KindLoaderRejected
	KindGdfsServerRejected
	KindVkpParseError
	KindVkpMismatch
	KindVkpAlreadyInstalled
	KindUserAbort
	KindIo
)

var kindNames = map[Kind]string{
	KindPortError:           "PortError",
	KindTimeout:             "Timeout",
	KindFrameShort:          "FrameShort",
	KindFrameChecksum:       "FrameChecksum",
	KindUnexpectedFrame:     "UnexpectedFrame",
	KindUnsupportedProtocol: "UnsupportedProtocol",
	KindUnknownDomain:       "UnknownDomain",
	KindUnsupportedChip:     "UnsupportedChip",
	KindUnsupportedCid:      "UnsupportedCid",
	KindPayloadMissing:      "PayloadMissing",
	KindBadBabe:             "BadBabe",
	KindLoaderRejected:      "LoaderRejected",
	KindGdfsServerRejected:  "GdfsServerRejected",
	KindVkpParseError:       "VkpParseError",
	KindVkpMismatch:         "VkpMismatch",
	KindVkpAlreadyInstalled: "VkpAlreadyInstalled",
	KindUserAbort:           "UserAbort",
	KindIo:                  "Io",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// Error is the single sum type every package in this repo returns instead
// of ad-hoc -1/0 integers or bespoke error structs. Fields are populated
// according to Kind; zero-valued fields are omitted by Error().
type Error struct {
	Kind     Kind
	Reason   string // BadBabe, general free-text reasons
	Path     string // PayloadMissing
	Stage    string // LoaderRejected
	Got      uint8  // UnexpectedFrame
	Expected uint8  // UnexpectedFrame
	Line     int    // VkpParseError, 1-based, 0 if not applicable
	Excerpt  string // VkpParseError, truncated to 255 chars
	Count    int    // VkpMismatch
	Total    int    // VkpMismatch
	Err      error  // wrapped low-level cause (PortError, Io)
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnexpectedFrame:
		return fmt.Sprintf("%s: got 0x%02x, expected 0x%02x", e.Kind, e.Got, e.Expected)
	case KindPayloadMissing:
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	case KindBadBabe:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case KindLoaderRejected:
		return fmt.Sprintf("%s: stage %s", e.Kind, e.Stage)
	case KindVkpParseError:
		return fmt.Sprintf("%s: line %d: %s", e.Kind, e.Line, e.Excerpt)
	case KindVkpMismatch:
		return fmt.Sprintf("%s: %d/%d lines mismatched", e.Kind, e.Count, e.Total)
	case KindPortError, KindIo:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	default:
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, basebridge.NewError(basebridge.KindTimeout))
// style checks work: it matches any *Error target of the same Kind and
// ignores the target's other fields.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// NewError builds a minimal *Error of the given kind, useful as an
// errors.Is target: basebridge.NewError(basebridge.KindTimeout).
func NewError(kind Kind) *Error { return &Error{Kind: kind} }

// ErrTimeout builds a KindTimeout error.
func ErrTimeout() error { return &Error{Kind: KindTimeout} }

// ErrPort wraps a low-level serial port failure.
func ErrPort(err error) error { return &Error{Kind: KindPortError, Err: err} }

// ErrIo wraps a low-level filesystem failure.
func ErrIo(err error) error { return &Error{Kind: KindIo, Err: err} }

// ErrFrameShort reports a captured buffer too short to contain a frame.
func ErrFrameShort() error { return &Error{Kind: KindFrameShort} }

// ErrFrameChecksum reports a checksum mismatch on a decoded frame.
func ErrFrameChecksum() error { return &Error{Kind: KindFrameChecksum} }

// ErrUnexpectedFrame reports a reply whose command byte did not match what
// the caller was waiting for.
func ErrUnexpectedFrame(got, want uint8) error {
	return &Error{Kind: KindUnexpectedFrame, Got: got, Expected: want}
}
