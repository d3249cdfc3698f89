// Package loader implements the chip/CID/domain-driven payload selection
// pipeline: a table-driven decision tree picks an ordered sequence of
// payload images, injects each with the correct sub-protocol, classifies
// the resulting in-device server by its greeting banner, and activates it.
package loader

import (
	"github.com/sirupsen/logrus"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/internal/ringbuf"
	"github.com/basebridge/basebridge/pkg/frame"
	"github.com/basebridge/basebridge/pkg/link"
)

// BlobStore resolves an opaque payload key to its bytes. Filesystem layout
// of the blob store is the caller's concern; callers supply whatever
// implementation fits their deployment.
type BlobStore interface {
	Load(key string) ([]byte, error)
}

// Method is one of the four upload sub-protocols.
type Method uint8

const (
	MethodQHQAQD Method = iota
	MethodCMD3C
	MethodUnsigned
	MethodCMD3E
)

// PostAction runs after a step's upload completes, e.g. classifying and
// activating the resulting server, or chaining an unsigned production
// image after a break.
type PostAction uint8

const (
	PostNone PostAction = iota
	PostClassifyActivate
	PostUnsignedProduction
)

// Step is one entry in a chip/CID/color decision path.
type Step struct {
	PayloadKey string
	Method     Method
	PostAction PostAction
}

// Pipeline drives the loader pipeline over a connected Port.
type Pipeline struct {
	port  link.Port
	blobs BlobStore
	dec   *frame.Decoder
	log   *logrus.Entry
}

// New builds a Pipeline bound to an already-identified port.
func New(port link.Port, blobs BlobStore, log *logrus.Entry) *Pipeline {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pipeline{port: port, blobs: blobs, dec: frame.NewDecoder(), log: log.WithField("component", "loader")}
}

// Run selects and executes the decision path for phone, driving each step
// to completion. Failure of any step is fatal; no alternate payload is
// tried.
func (pl *Pipeline) Run(phone *basebridge.PhoneState, purpose Purpose) error {
	steps, err := Decide(phone.Chip, phone.CID, phone.Domain, phone.IsZ1010, phone.Flags, purpose)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if err := pl.runStep(phone, step); err != nil {
			return &basebridge.Error{Kind: basebridge.KindLoaderRejected, Stage: step.PayloadKey, Err: err}
		}
	}
	return nil
}

func (pl *Pipeline) runStep(phone *basebridge.PhoneState, step Step) error {
	payload, err := pl.blobs.Load(step.PayloadKey)
	if err != nil {
		return &basebridge.Error{Kind: basebridge.KindPayloadMissing, Path: step.PayloadKey}
	}

	var banner []byte
	switch step.Method {
	case MethodQHQAQD:
		banner, err = pl.uploadQHQAQD(payload, phone.Flags.SkipErrors)
	case MethodCMD3C:
		banner, err = pl.uploadCMD3C(payload)
	case MethodUnsigned:
		addr := productionLoadAddr(phone.Chip)
		pl.log.Debugf("unsigned load of %s at 0x%08x", step.PayloadKey, addr)
		err = pl.uploadUnsigned(payload, addr)
		if err == nil && step.PostAction != PostNone {
			banner, err = pl.waitGreeting(phone.Flags.SkipErrors)
		}
	case MethodCMD3E:
		banner, err = pl.uploadCMD3E(payload)
	}
	if err != nil {
		return err
	}

	switch step.PostAction {
	case PostClassifyActivate, PostUnsignedProduction:
		pl.thankAuthors(banner)
		kind := ClassifyBanner(banner)
		phone.Loader = kind
		return pl.activate(phone, kind)
	default:
		return nil
	}
}

// waitGreeting reads a framed greeting reply, tolerating up to two stray
// leading 0x3E bytes when skiperrors/anycid is set. The growable window is
// gathered in a ringbuf.Ring so the stray-byte tolerance can Peek/Skip
// without re-slicing a plain buffer on every stray byte.
func (pl *Pipeline) waitGreeting(skipErrors bool) ([]byte, error) {
	rb := ringbuf.New(frame.FrameLen(256) + 8)

	// Probe two bytes first: a break reply is the literal FC FF pair and
	// nothing more, so reading a whole frame header here would block on
	// bytes that never come.
	first, err := pl.port.ReadExact(2, 50*link.TIMEOUT)
	if err != nil {
		return nil, err
	}
	rb.Write(first)

	if skipErrors {
		one := make([]byte, 1)
		for rb.Peek(one) == 1 && one[0] == 0x3E {
			rb.Skip(1)
			more, err := pl.port.ReadExact(1, 10*link.TIMEOUT)
			if err == nil && len(more) == 1 {
				rb.Write(more)
			}
		}
	}

	head := make([]byte, 2)
	if rb.Peek(head) == 2 && head[0] == 0xFC && head[1] == 0xFF {
		return nil, nil // break accepted, no greeting
	}

	// Top the probe back up to a full 5 bytes if stray-byte skipping ate
	// into it, then size the tail read off the declared frame length so no
	// byte past the greeting is consumed.
	for rb.Occupied() < 5 {
		more, err := pl.port.ReadExact(5-rb.Occupied(), 10*link.TIMEOUT)
		if err != nil || len(more) == 0 {
			return nil, basebridge.ErrFrameShort()
		}
		rb.Write(more)
	}
	probe := make([]byte, 5)
	rb.Peek(probe)
	total, err := frame.CaptureLen(probe)
	if err != nil {
		return nil, err
	}
	if remaining := total - rb.Occupied(); remaining > 0 {
		more, err := pl.port.ReadExact(remaining, 10*link.TIMEOUT)
		if err != nil {
			return nil, err
		}
		rb.Write(more)
	}

	buf := make([]byte, rb.Occupied())
	rb.Read(buf)

	pkt, err := pl.dec.Decode(buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, pkt.Length)
	copy(out, pkt.Payload())
	return out, nil
}
