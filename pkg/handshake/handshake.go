// Package handshake implements the connection state machine: port open,
// reset pulse, Z-wait, '?' identity query, IC10/IC30/IC40/ICO0 bootstrap-ROM
// commands, and the final speed switch.
package handshake

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/link"
)

// State is a connection FSM state.
type State uint8

const (
	Closed State = iota
	PortOpen
	WaitingZ
	GotZ
	WaitIdentity
	Identified
	EromKnown
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case PortOpen:
		return "PortOpen"
	case WaitingZ:
		return "WaitingZ"
	case GotZ:
		return "GotZ"
	case WaitIdentity:
		return "WaitIdentity"
	case Identified:
		return "Identified"
	case EromKnown:
		return "EromKnown"
	case Ready:
		return "Ready"
	default:
		return "Failed"
	}
}

// ZWaitProgress is called with elapsed/total while waiting for 'Z', letting
// a caller render the user-visible 30s countdown.
type ZWaitProgress func(elapsed, total time.Duration)

// Connector drives a Port through the FSM and populates a PhoneState.
type Connector struct {
	port     link.Port
	log      *logrus.Entry
	state    State
	OnZWait  ZWaitProgress
}

// New returns a Connector holding port. Connect does not use it: it opens
// its own port through link.Open and replaces port with that one.
func New(port link.Port, log *logrus.Entry) *Connector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Connector{port: port, log: log.WithField("component", "handshake")}
}

func (c *Connector) setState(s State) {
	c.log.Debugf("state %s -> %s", c.state, s)
	c.state = s
}

// State returns the current FSM state.
func (c *Connector) State() State { return c.state }

// Connect drives the whole FSM: open at 9600, power pulse, wait for 'Z'
// (30s), send '?', identify, run IC10/IC30/IC40 (or ICO0), pick the target
// baud and switch. On success phone.Baudrate/Chip/ProtoMajor/ProtoMinor/
// Domain/CID are populated and state is Ready.
func (c *Connector) Connect(path string, backend string, requestedBaud int, phone *basebridge.PhoneState) error {
	port, err := link.Open(backend, path, 9600)
	if err != nil {
		c.setState(Failed)
		return err
	}
	c.port = port
	c.setState(PortOpen)

	if err := c.waitZ(); err != nil {
		c.setState(Failed)
		return err
	}
	c.setState(GotZ)

	if err := c.identify(phone); err != nil {
		c.setState(Failed)
		return err
	}
	c.setState(Identified)

	if err := c.probeEromAndCid(phone); err != nil {
		c.setState(Failed)
		return err
	}
	c.setState(EromKnown)

	cmd, actual := basebridge.BaudFor(phone.Chip, requestedBaud)
	if _, err := c.port.Write([]byte(cmd)); err != nil {
		c.setState(Failed)
		return err
	}
	if err := c.port.SetBaudrate(actual); err != nil {
		c.setState(Failed)
		return err
	}
	phone.Baudrate = actual
	c.setState(Ready)
	return nil
}

// Port exposes the connected link.Port for subsequent stages (loader,
// flash, gdfs) once Connect has reached Ready.
func (c *Connector) Port() link.Port { return c.port }

func (c *Connector) waitZ() error {
	deadline := time.Now().Add(link.ZWaitTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return basebridge.ErrTimeout()
		}
		if c.OnZWait != nil {
			c.OnZWait(link.ZWaitTimeout-remaining, link.ZWaitTimeout)
		}
		buf, err := c.port.ReadExact(1, 1*time.Second)
		if err != nil {
			return err
		}
		if len(buf) == 1 && buf[0] == 'Z' {
			return nil
		}
	}
}

func (c *Connector) identify(phone *basebridge.PhoneState) error {
	if _, err := c.port.Write([]byte{'?'}); err != nil {
		return err
	}
	reply, err := c.port.ReadExact(8, 10*link.TIMEOUT)
	if err != nil {
		return err
	}
	if len(reply) < 8 {
		return basebridge.ErrTimeout()
	}
	chipH, chipL := reply[0], reply[1]
	protoMajor, protoMinor := reply[2], reply[3]
	if protoMinor == 0xFF {
		protoMinor = 0
	}
	if protoMajor != 3 || protoMinor != 1 {
		return &basebridge.Error{Kind: basebridge.KindUnsupportedProtocol,
			Reason: "expected protocol 3.1"}
	}
	newSec := reply[4] != 0
	phone.Chip = decodeChip(chipH, chipL)
	phone.ProtoMajor = protoMajor
	phone.ProtoMinor = protoMinor
	phone.NewSecurity = newSec
	return nil
}

func decodeChip(h, l byte) basebridge.Chip {
	switch {
	case h == 0x99 && l == 0x00:
		return basebridge.ChipDB2020
	case h == 0x98:
		return basebridge.ChipDB2012
	case h == 0x97:
		return basebridge.ChipDB2010B
	case h == 0x96:
		return basebridge.ChipDB2010A
	case h == 0x95:
		return basebridge.ChipDB2000
	case h == 0x90:
		return basebridge.ChipPNX5230
	default:
		return basebridge.ChipUnknown
	}
}

// probeEromAndCid issues IC10/ICO0, IC30 and IC40 to fill in the erom
// domain and CID. PNX5230 is the only chip where a
// missing domain bit is tolerated, provided ICO0 already populated OTP.
func (c *Connector) probeEromAndCid(phone *basebridge.PhoneState) error {
	icCmd := "IC10"
	if phone.Chip == basebridge.ChipPNX5230 {
		icCmd = "ICO0"
	}
	if _, err := c.port.Write([]byte(icCmd)); err != nil {
		return err
	}
	icReply, err := c.port.ReadExact(32, 50*link.TIMEOUT)
	if err != nil {
		return err
	}
	if phone.Chip == basebridge.ChipPNX5230 {
		// ICO0 doubles as the OTP probe on PNX5230; keep what it reports
		// so a missing IC30 domain bit can be tolerated below.
		if otp, ok := basebridge.DecodeOTP(icReply); ok {
			phone.SetOTP(otp)
		}
	}

	if _, err := c.port.Write([]byte("IC30")); err != nil {
		return err
	}
	resp, err := c.port.ReadExact(8, 10*link.TIMEOUT)
	if err != nil {
		return err
	}
	if len(resp) < 3 {
		return basebridge.ErrTimeout()
	}
	domain := basebridge.DomainFromBitmap(resp[2])
	if domain == basebridge.DomainUnknown {
		if !(phone.Chip == basebridge.ChipPNX5230 && phone.OTP.Status) {
			return &basebridge.Error{Kind: basebridge.KindUnknownDomain}
		}
	}
	phone.Domain = domain

	if _, err := c.port.Write([]byte("IC40")); err != nil {
		return err
	}
	cidResp, err := c.port.ReadExact(8, 10*link.TIMEOUT)
	if err != nil {
		return err
	}
	if len(cidResp) < 7 {
		return basebridge.ErrTimeout()
	}
	phone.CID = cidResp[2] & 0x3F
	return nil
}
