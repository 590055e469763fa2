// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package usbip

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// DeviceList asks a server for its exported devices.
func DeviceList(rw io.ReadWriter) ([]DeviceRecord, error) {
	req := OpHeader{Version: Version, Command: OpReqDevlist}

	if _, err := rw.Write(req.Bytes()); err != nil {
		return nil, err
	}

	rep, err := ReadOpHeader(rw)
	if err != nil {
		return nil, err
	}
	if rep.Command != OpRepDevlist {
		return nil, fmt.Errorf("%w: devlist reply 0x%04x", ErrUnknownCommand, rep.Command)
	}

	var count uint32
	if err := binary.Read(rw, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: devlist count: %v", ErrFraming, err)
	}

	devices := make([]DeviceRecord, 0, count)

	for i := uint32(0); i < count; i++ {
		var rec DeviceRecord
		if err := binary.Read(rw, binary.BigEndian, &rec); err != nil {
			return nil, fmt.Errorf("%w: device record: %v", ErrFraming, err)
		}

		intf := make([]InterfaceRecord, rec.NumInterfaces)
		if err := binary.Read(rw, binary.BigEndian, intf); err != nil {
			return nil, fmt.Errorf("%w: interface record: %v", ErrFraming, err)
		}

		devices = append(devices, rec)
	}

	return devices, nil
}

// Client talks to an imported device.
type Client struct {
	rw     io.ReadWriter
	seq    uint32
	devID  uint32
	Device DeviceRecord
}

// Import attaches busID and returns a client for its endpoints.
func Import(rw io.ReadWriter, busID string) (*Client, error) {
	req := OpHeader{Version: Version, Command: OpReqImport}.Bytes()

	id := make([]byte, BusIDSize)
	copy(id[:BusIDSize-1], busID)

	if _, err := rw.Write(append(req, id...)); err != nil {
		return nil, err
	}

	rep, err := ReadOpHeader(rw)
	if err != nil {
		return nil, err
	}
	if rep.Command != OpRepImport {
		return nil, fmt.Errorf("%w: import reply 0x%04x", ErrUnknownCommand, rep.Command)
	}
	if rep.Status != 0 {
		return nil, fmt.Errorf("import of %q refused with status %d", busID, rep.Status)
	}

	c := &Client{rw: rw}
	if err := binary.Read(rw, binary.BigEndian, &c.Device); err != nil {
		return nil, fmt.Errorf("%w: device record: %v", ErrFraming, err)
	}

	c.devID = c.Device.BusNum<<16 | c.Device.DevNum

	return c, nil
}

func (c *Client) next() uint32 {
	c.seq++
	return c.seq
}

func (c *Client) read() (Header, []byte, error) {
	h, err := ReadHeader(c.rw)
	if err != nil {
		return h, nil, fmt.Errorf("%w: reply header: %v", ErrFraming, err)
	}

	if h.Command != RetSubmit || h.Direction != DirIn || h.Length <= 0 {
		return h, nil, nil
	}

	data := make([]byte, h.Length)
	if _, err := io.ReadFull(c.rw, data); err != nil {
		return h, nil, fmt.Errorf("%w: reply payload: %v", ErrFraming, err)
	}

	return h, data, nil
}

// Submit sends one URB and waits for its completion. For IN transfers
// length is the buffer size offered to the device.
func (c *Client) Submit(endpoint uint32, direction uint32, setup SetupPacket, data []byte, length int) (Header, []byte, error) {
	h := Header{
		Command:   CmdSubmit,
		Seqnum:    c.next(),
		DevID:     c.devID,
		Direction: direction,
		Endpoint:  endpoint,
		Length:    int32(length),
		Setup:     setup.Bytes(),
	}

	if direction == DirOut {
		h.Length = int32(len(data))
	}

	msg := h.Bytes()
	if direction == DirOut {
		msg = append(msg, data...)
	}

	if _, err := c.rw.Write(msg); err != nil {
		return h, nil, err
	}

	ret, resp, err := c.read()
	if err != nil {
		return ret, nil, err
	}
	if ret.Seqnum != h.Seqnum {
		return ret, nil, fmt.Errorf("%w: reply to seq %d, want %d", ErrFraming, ret.Seqnum, h.Seqnum)
	}

	return ret, resp, nil
}

func (c *Client) GetDescriptor(kind uint8, index uint8, length int) ([]byte, error) {
	setup := SetupPacket{
		RequestType: rtDeviceToHost,
		Request:     reqGetDescriptor,
		Value:       uint16(kind)<<8 | uint16(index),
		Length:      uint16(length),
	}

	ret, data, err := c.Submit(endpointControl, DirIn, setup, nil, length)
	if err != nil {
		return nil, err
	}
	if ret.Status() != StatusOK {
		return nil, fmt.Errorf("get descriptor 0x%02x failed with status %d", kind, ret.Status())
	}

	return data, nil
}

// Command writes one command frame to the DAP endpoint and polls until the
// response arrives.
func (c *Client) Command(ctx context.Context, frame []byte, size int) ([]byte, error) {
	ret, _, err := c.Submit(endpointDAP, DirOut, SetupPacket{}, frame, 0)
	if err != nil {
		return nil, err
	}
	if ret.Status() != StatusOK {
		return nil, fmt.Errorf("command submit failed with status %d", ret.Status())
	}

	for {
		ret, data, err := c.Submit(endpointDAP, DirIn, SetupPacket{}, nil, size)
		if err != nil {
			return nil, err
		}
		if ret.Status() != StatusOK {
			return nil, fmt.Errorf("response poll failed with status %d", ret.Status())
		}
		if len(data) > 0 {
			return data, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (c *Client) Unlink(seq uint32) (Header, error) {
	h := Header{
		Command: CmdUnlink,
		Seqnum:  c.next(),
		DevID:   c.devID,
		Param:   seq,
	}

	if _, err := c.rw.Write(h.Bytes()); err != nil {
		return h, err
	}

	ret, _, err := c.read()

	return ret, err
}
