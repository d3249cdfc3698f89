// Package orchestrate composes the handshake, loader, flash, GDFS and
// patch engines into the end-user operations a caller actually invokes:
// identify a phone, flash an image, read flash back, apply a VKP patch,
// back up or restore GDFS, run a GDFS script.
package orchestrate

import (
	"github.com/sirupsen/logrus"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/flash"
	"github.com/basebridge/basebridge/pkg/gdfs"
	"github.com/basebridge/basebridge/pkg/handshake"
	"github.com/basebridge/basebridge/pkg/link"
	"github.com/basebridge/basebridge/pkg/loader"
)

// Session owns one connected port and the phone record built up across
// its lifetime. Every exported method acquires nothing further: the port
// is already owned for the whole session.
type Session struct {
	Phone *basebridge.PhoneState
	Paths basebridge.Paths

	port   link.Port
	blobs  loader.BlobStore
	log    *logrus.Entry
	loader *loader.Pipeline
	flash  *flash.Engine
	gdfs   *gdfs.Engine
}

// Connect runs the full handshake FSM against path/backend/requestedBaud,
// populating a fresh PhoneState, and wires up the loader/flash/gdfs
// engines on the resulting port.
func Connect(path, backend string, requestedBaud int, blobs loader.BlobStore, paths basebridge.Paths, flags basebridge.Flags, log *logrus.Entry) (*Session, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	phone := &basebridge.PhoneState{Flags: flags}

	conn := handshake.New(nil, log)
	if err := conn.Connect(path, backend, requestedBaud, phone); err != nil {
		return nil, err
	}

	port := conn.Port()
	s := &Session{
		Phone:  phone,
		Paths:  paths,
		port:   port,
		blobs:  blobs,
		log:    log,
		loader: loader.New(port, blobs, log),
		flash:  flash.New(port, log),
		gdfs:   gdfs.New(port, log),
	}
	return s, nil
}

// Close releases the underlying port.
func (s *Session) Close() error { return s.port.Close() }

// Identify is a no-op beyond Connect: the handshake already populates
// Chip/ProtoMajor/ProtoMinor/Domain/CID/Baudrate. It is exposed as its own
// operation so callers needn't reach past Session for the common "just
// identify" case.
func (s *Session) Identify() *basebridge.PhoneState { return s.Phone }

// EnterFlashMode runs the chip/CID/color decision path for entering flash
// mode. The phone may emit one stray byte between the mode transition and
// the first flash command; it is consumed here so the flash engine never
// sees it.
func (s *Session) EnterFlashMode() error {
	if err := s.loader.Run(s.Phone, loader.PurposeEnterFlashMode); err != nil {
		return err
	}
	_, _ = s.port.ReadExact(1, 2*link.TIMEOUT)
	return nil
}

// Shutdown powers the phone down (CMD 0x14).
func (s *Session) Shutdown() error {
	return s.flash.Shutdown()
}

// SendCsLoader runs the CS-loader entry point (purpose 2).
func (s *Session) SendCsLoader() error {
	return s.loader.Run(s.Phone, loader.PurposeSendCsLoader)
}

// SendOflashLoader runs the o-flash loader entry point (purpose 3).
func (s *Session) SendOflashLoader() error {
	return s.loader.Run(s.Phone, loader.PurposeSendOflashLoader)
}

// SendBflashLoader runs the b-flash loader entry point (purpose 4).
func (s *Session) SendBflashLoader() error {
	return s.loader.Run(s.Phone, loader.PurposeSendBflashLoader)
}
