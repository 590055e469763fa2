// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestBufferOverflow(t *testing.T) {
	c := qt.New(t)
	buf := NewBuffer(make([]byte, 5))

	buf.WriteByte(0x05)
	buf.WriteUint32LE(0x04030201)
	c.Assert(buf.Overflow(), qt.IsFalse)
	c.Assert(buf.Fits(1), qt.IsFalse)

	err := buf.WriteByte(0xff)
	c.Assert(IsErrorCode(err, ErrorOverflow), qt.IsTrue)
	c.Assert(buf.Overflow(), qt.IsTrue)
	c.Assert(buf.Bytes(), qt.DeepEquals, []byte{0x05, 0x01, 0x02, 0x03, 0x04})

	buf.SetUint16LE(1, 0xbbaa)
	buf.SetByte(9, 0xee)
	buf.Truncate(3)
	c.Assert(buf.Bytes(), qt.DeepEquals, []byte{0x05, 0xaa, 0xbb})
	c.Assert(buf.Free(), qt.Equals, 2)
}

func TestRequestShortReads(t *testing.T) {
	c := qt.New(t)
	req := newRequest([]byte{0x01, 0x02, 0x03})

	c.Assert(req.ReadUint16LE(), qt.Equals, uint16(0x0201))
	c.Assert(req.short, qt.IsFalse)

	c.Assert(req.ReadUint32LE(), qt.Equals, uint32(0x03))
	c.Assert(req.short, qt.IsTrue)
	c.Assert(req.Consumed(), qt.Equals, 3)

	req = newRequest([]byte{0xaa})
	c.Assert(req.Next(3), qt.DeepEquals, []byte{0xaa, 0x00, 0x00})
	c.Assert(req.short, qt.IsTrue)
}

func TestShortCommandDoesNotPanic(t *testing.T) {
	c := qt.New(t)
	p := NewProcessor(&levelPins{}, DefaultConfig())
	resp := make([]byte, 8)

	for id := 0; id < 0x20; id++ {
		if id == cmdResetTarget {
			continue
		}

		n, m := p.ProcessCommand([]byte{byte(id)}, resp)
		c.Assert(n, qt.Equals, 1)
		c.Assert(m <= len(resp), qt.IsTrue)
	}
}

func TestResponseNeverExceedsPacket(t *testing.T) {
	c := qt.New(t)
	p := NewProcessor(&levelPins{}, DefaultConfig())
	resp := make([]byte, 4)

	_, m := p.ProcessCommand([]byte{cmdInfo, infoProduct}, resp)
	c.Assert(m, qt.Equals, 4)
	c.Assert(resp, qt.DeepEquals, []byte{cmdInfo, 2, 'W', 'i'})
}
