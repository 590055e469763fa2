// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package usbip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/bbnote/netdap"
	"github.com/sirupsen/logrus"
)

type State int32

const (
	StateAccepting State = iota
	StateAttaching
	StateEmulating
)

func (s State) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateAttaching:
		return "attaching"
	case StateEmulating:
		return "emulating"
	default:
		return "unknown"
	}
}

const (
	endpointControl = 0
	endpointDAP     = 1
	endpointTrace   = 2
)

// Device is the command side of the emulated probe. *netdap.Pipeline
// implements it.
type Device interface {
	Submit(ctx context.Context, frame []byte) error
	Reply(send func([]byte) error) (bool, error)
	DrainOne() bool
	FrameSize() int
}

// TraceSource feeds endpoint 2. *netdap.Trace implements it.
type TraceSource interface {
	Poll(limit int) []byte
}

// Session runs the usbip protocol for one connected client.
type Session struct {
	identity Identity
	device   Device
	trace    TraceSource
	log      *logrus.Entry

	state   atomic.Int32
	onState func(State)

	send func([]byte) error
}

type SessionOption func(s *Session)

func WithTrace(trace TraceSource) SessionOption {
	return func(s *Session) {
		s.trace = trace
	}
}

// WithStateHook calls f on every state transition.
func WithStateHook(f func(State)) SessionOption {
	return func(s *Session) {
		s.onState = f
	}
}

func WithLogger(log *logrus.Entry) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

func NewSession(identity Identity, device Device, options ...SessionOption) *Session {
	s := &Session{
		identity: identity,
		device:   device,
	}

	for _, option := range options {
		option(s)
	}

	if s.log == nil {
		s.log = logrus.NewEntry(netdap.Logger()).WithField("proto", "usbip")
	}

	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	if State(s.state.Swap(int32(state))) == state {
		return
	}

	s.log.Infof("session %s", state)

	if s.onState != nil {
		s.onState(state)
	}
}

/**
  Serve runs the session until the client disconnects or a framing error
  occurs. Every response goes out through one call of send. A clean
  disconnect returns nil; the session is back in ACCEPTING either way.
*/
func (s *Session) Serve(ctx context.Context, r io.Reader, send func([]byte) error) error {
	s.send = send
	defer s.setState(StateAccepting)

	for {
		op, err := ReadOpHeader(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		s.setState(StateAttaching)

		switch op.Command {
		case OpReqDevlist:
			if err := s.replyDevlist(); err != nil {
				return err
			}

		case OpReqImport:
			attached, err := s.replyImport(r)
			if err != nil || !attached {
				return err
			}

			s.setState(StateEmulating)

			return s.emulate(ctx, r)

		default:
			return fmt.Errorf("%w: stage 1 command 0x%04x", ErrUnknownCommand, op.Command)
		}
	}
}

func (s *Session) replyDevlist() error {
	s.log.Debug("device list requested")

	msg := OpHeader{Version: Version, Command: OpRepDevlist}.Bytes()
	msg = binary.BigEndian.AppendUint32(msg, 1)
	msg = append(msg, s.deviceRecord()...)

	for _, intf := range s.identity.Interfaces() {
		msg = append(msg, intf.Class, intf.SubClass, intf.Protocol, 0)
	}

	return s.send(msg)
}

func (s *Session) deviceRecord() []byte {
	rec := s.identity.Record()

	buf := make([]byte, 0, DeviceRecordSize)
	buf = append(buf, rec.Path[:]...)
	buf = append(buf, rec.BusID[:]...)
	buf = binary.BigEndian.AppendUint32(buf, rec.BusNum)
	buf = binary.BigEndian.AppendUint32(buf, rec.DevNum)
	buf = binary.BigEndian.AppendUint32(buf, rec.Speed)
	buf = binary.BigEndian.AppendUint16(buf, rec.IDVendor)
	buf = binary.BigEndian.AppendUint16(buf, rec.IDProduct)
	buf = binary.BigEndian.AppendUint16(buf, rec.BCDDevice)

	return append(buf, rec.DeviceClass, rec.DeviceSubClass, rec.DeviceProtocol,
		rec.ConfigurationValue, rec.NumConfigurations, rec.NumInterfaces)
}

func (s *Session) replyImport(r io.Reader) (bool, error) {
	busID := make([]byte, BusIDSize)

	if _, err := io.ReadFull(r, busID); err != nil {
		return false, fmt.Errorf("%w: import bus id: %v", ErrFraming, err)
	}

	requested := cString(busID)
	s.log.Debugf("import of %q requested", requested)

	if requested != s.identity.BusID {
		s.log.Warnf("import of unknown bus id %q", requested)
		return false, s.send(OpHeader{Version: Version, Command: OpRepImport, Status: 1}.Bytes())
	}

	msg := OpHeader{Version: Version, Command: OpRepImport}.Bytes()

	return true, s.send(append(msg, s.deviceRecord()...))
}

func (s *Session) emulate(ctx context.Context, r io.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		h, err := ReadHeader(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: stage 2 header: %v", ErrFraming, err)
		}

		switch h.Command {
		case CmdSubmit:
			err = s.submit(ctx, r, &h)

		case CmdUnlink:
			err = s.unlink(&h)

		default:
			err = fmt.Errorf("%w: stage 2 command %d", ErrUnknownCommand, h.Command)
		}

		if err != nil {
			return err
		}
	}
}

func (s *Session) reply(h *Header, status int32, data []byte) error {
	ret := h.Reply(status, len(data))

	return s.send(append(ret.Bytes(), data...))
}

func (s *Session) submit(ctx context.Context, r io.Reader, h *Header) error {
	var payload []byte

	if h.Direction == DirOut && h.Length != 0 {
		if h.Length < 0 || int(h.Length) > s.device.FrameSize() {
			return fmt.Errorf("%w: out transfer of %d bytes", ErrFraming, h.Length)
		}

		payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("%w: out payload: %v", ErrFraming, err)
		}
	}

	s.log.Debug(h)

	switch {
	case h.Endpoint == endpointControl:
		status, data := s.identity.Control(h.SetupPacket())
		if h.Direction == DirOut {
			data = nil
		}
		return s.reply(h, status, data)

	case h.Endpoint == endpointDAP && h.Direction == DirOut:
		ret := h.Reply(StatusOK, len(payload))
		if err := s.send(ret.Bytes()); err != nil {
			return err
		}

		if len(payload) == 0 {
			return nil
		}

		// blocks while the inbound queue is full
		return s.device.Submit(ctx, payload)

	case h.Endpoint == endpointDAP && h.Direction == DirIn:
		sent, err := s.device.Reply(func(resp []byte) error {
			return s.reply(h, StatusOK, truncateTo(resp, h.Length))
		})
		if err != nil || sent {
			return err
		}

		return s.reply(h, StatusOK, nil)

	case h.Endpoint == endpointTrace && h.Direction == DirIn && s.trace != nil:
		return s.reply(h, StatusOK, s.trace.Poll(int(h.Length)))

	default:
		s.log.Debugf("submit to unsupported endpoint %d", h.Endpoint)
		return s.reply(h, StatusPipe, nil)
	}
}

func truncateTo(d []byte, length int32) []byte {
	if length >= 0 && len(d) > int(length) {
		return d[:length]
	}

	return d
}

// unlink can not cancel a transfer already on the wire. It drops at most one
// finished response instead, so it is not delivered to a later poll.
func (s *Session) unlink(h *Header) error {
	dropped := s.device.DrainOne()
	s.log.Debugf("unlink of seq %d, dropped response: %v", h.Param, dropped)

	ret := h.UnlinkReply(StatusConnReset)

	return s.send(ret.Bytes())
}
