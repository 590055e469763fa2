// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// wire layouts follow the usbip protocol as implemented by the linux kernel
// for detailed information see

// https://docs.kernel.org/usb/usbip_protocol.html

package usbip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const Version = 0x0111

// stage 1 operation codes
const (
	OpReqDevlist = 0x8005
	OpRepDevlist = 0x0005
	OpReqImport  = 0x8003
	OpRepImport  = 0x0003
)

// stage 2 commands
const (
	CmdSubmit = 0x0001
	CmdUnlink = 0x0002
	RetSubmit = 0x0003
	RetUnlink = 0x0004
)

const (
	DirOut = 0x00
	DirIn  = 0x01
)

// urb status values, negated errno
const (
	StatusOK         = 0
	StatusPipe       = -32
	StatusConnReset  = -104
	StatusShutdown   = -108
	StatusNoEndpoint = StatusPipe
)

const (
	OpHeaderSize     = 8
	HeaderSize       = 48
	BusIDSize        = 32
	PathSize         = 256
	DeviceRecordSize = 312
	InterfaceSize    = 4
	SetupSize        = 8
)

var (
	ErrBadVersion     = errors.New("usbip: unsupported protocol version")
	ErrFraming        = errors.New("usbip: framing error")
	ErrUnknownCommand = errors.New("usbip: unknown command")
)

// OpHeader starts every stage 1 message.
type OpHeader struct {
	Version uint16
	Command uint16
	Status  uint32
}

func ReadOpHeader(r io.Reader) (OpHeader, error) {
	var h OpHeader

	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		if err == io.EOF {
			return h, err
		}
		return h, fmt.Errorf("%w: stage 1 header: %v", ErrFraming, err)
	}

	if h.Version != Version {
		return h, fmt.Errorf("%w: 0x%04x", ErrBadVersion, h.Version)
	}

	return h, nil
}

func (h OpHeader) Bytes() []byte {
	buf := make([]byte, OpHeaderSize)

	binary.BigEndian.PutUint16(buf[0:], h.Version)
	binary.BigEndian.PutUint16(buf[2:], h.Command)
	binary.BigEndian.PutUint32(buf[4:], h.Status)

	return buf
}

// DeviceRecord is the exported device as reported by OP_REP_DEVLIST and
// OP_REP_IMPORT.
type DeviceRecord struct {
	Path               [PathSize]byte
	BusID              [BusIDSize]byte
	BusNum             uint32
	DevNum             uint32
	Speed              uint32
	IDVendor           uint16
	IDProduct          uint16
	BCDDevice          uint16
	DeviceClass        uint8
	DeviceSubClass     uint8
	DeviceProtocol     uint8
	ConfigurationValue uint8
	NumConfigurations  uint8
	NumInterfaces      uint8
}

type InterfaceRecord struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
	Padding  uint8
}

func (d *DeviceRecord) SetPath(path string) {
	d.Path = [PathSize]byte{}
	copy(d.Path[:PathSize-1], path)
}

func (d *DeviceRecord) SetBusID(busID string) {
	d.BusID = [BusIDSize]byte{}
	copy(d.BusID[:BusIDSize-1], busID)
}

func (d *DeviceRecord) BusIDString() string {
	return cString(d.BusID[:])
}

func (d *DeviceRecord) PathString() string {
	return cString(d.Path[:])
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}

	return string(b)
}

// Header is the 48 byte stage 2 header. The meaning of Param depends on
// Command: transfer flags for CMD_SUBMIT, the status for RET_SUBMIT and
// RET_UNLINK, the victim seqnum for CMD_UNLINK.
type Header struct {
	Command   uint32
	Seqnum    uint32
	DevID     uint32
	Direction uint32
	Endpoint  uint32

	Param      uint32
	Length     int32
	StartFrame int32
	Packets    int32
	Interval   int32
	Setup      [SetupSize]byte
}

func ReadHeader(r io.Reader) (Header, error) {
	var h Header

	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return h, err
	}

	return h, nil
}

func (h *Header) Bytes() []byte {
	var buf bytes.Buffer

	buf.Grow(HeaderSize)
	binary.Write(&buf, binary.BigEndian, h)

	return buf.Bytes()
}

func (h *Header) Status() int32 {
	return int32(h.Param)
}

// Reply builds the RET_SUBMIT header answering h.
func (h *Header) Reply(status int32, length int) Header {
	return Header{
		Command:   RetSubmit,
		Seqnum:    h.Seqnum,
		DevID:     h.DevID,
		Direction: h.Direction,
		Endpoint:  h.Endpoint,
		Param:     uint32(status),
		Length:    int32(length),
	}
}

// UnlinkReply builds the RET_UNLINK header answering h.
func (h *Header) UnlinkReply(status int32) Header {
	return Header{
		Command:   RetUnlink,
		Seqnum:    h.Seqnum,
		DevID:     h.DevID,
		Direction: h.Direction,
		Endpoint:  h.Endpoint,
		Param:     uint32(status),
	}
}

func (h Header) String() string {
	dir := "OUT"
	if h.Direction == DirIn {
		dir = "IN"
	}

	return fmt.Sprintf("cmd %d seq %d ep %d %s len %d", h.Command, h.Seqnum, h.Endpoint, dir, h.Length)
}

// SetupPacket is the control request carried by endpoint 0 submits. Unlike
// the usbip headers it is little endian.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

func (h *Header) SetupPacket() SetupPacket {
	s := h.Setup[:]

	return SetupPacket{
		RequestType: s[0],
		Request:     s[1],
		Value:       binary.LittleEndian.Uint16(s[2:]),
		Index:       binary.LittleEndian.Uint16(s[4:]),
		Length:      binary.LittleEndian.Uint16(s[6:]),
	}
}

func (s SetupPacket) Bytes() [SetupSize]byte {
	var b [SetupSize]byte

	b[0] = s.RequestType
	b[1] = s.Request
	binary.LittleEndian.PutUint16(b[2:], s.Value)
	binary.LittleEndian.PutUint16(b[4:], s.Index)
	binary.LittleEndian.PutUint16(b[6:], s.Length)

	return b
}

func (s SetupPacket) DescriptorType() uint8 {
	return uint8(s.Value >> 8)
}

func (s SetupPacket) DescriptorIndex() uint8 {
	return uint8(s.Value)
}
