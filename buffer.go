// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

// Buffer writes a DAP response into a fixed caller owned slice. Writes past
// the end are dropped and remembered, so a handler can never grow a response
// beyond one packet.
type Buffer struct {
	data     []byte
	n        int
	overflow bool
}

func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

func (buf *Buffer) WriteByte(value byte) error {
	if buf.n >= len(buf.data) {
		buf.overflow = true
		return NewProtocolError("response buffer full", ErrorOverflow)
	}

	buf.data[buf.n] = value
	buf.n++

	return nil
}

func (buf *Buffer) WriteUint16LE(value uint16) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
}

func (buf *Buffer) WriteUint32LE(value uint32) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
	buf.WriteByte(byte(value >> 16))
	buf.WriteByte(byte(value >> 24))
}

func (buf *Buffer) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := buf.WriteByte(b); err != nil {
			return i, err
		}
	}

	return len(p), nil
}

// SetByte patches an already written position, e.g. a count placeholder.
func (buf *Buffer) SetByte(pos int, value byte) {
	if pos < buf.n {
		buf.data[pos] = value
	}
}

func (buf *Buffer) SetUint16LE(pos int, value uint16) {
	buf.SetByte(pos, byte(value))
	buf.SetByte(pos+1, byte(value>>8))
}

func (buf *Buffer) Len() int {
	return buf.n
}

func (buf *Buffer) Free() int {
	return len(buf.data) - buf.n
}

func (buf *Buffer) Fits(n int) bool {
	return buf.Free() >= n
}

func (buf *Buffer) Overflow() bool {
	return buf.overflow
}

func (buf *Buffer) Bytes() []byte {
	return buf.data[:buf.n]
}

// Truncate drops everything written after pos.
func (buf *Buffer) Truncate(pos int) {
	if pos < buf.n {
		buf.n = pos
	}
}

// request reads the argument region of one DAP command. Reads past the end
// yield zero and mark the request as short instead of panicking.
type request struct {
	data  []byte
	pos   int
	short bool
}

func newRequest(data []byte) *request {
	return &request{data: data}
}

func (r *request) ReadByte() byte {
	if r.pos >= len(r.data) {
		r.short = true
		r.pos++
		return 0
	}

	value := r.data[r.pos]
	r.pos++

	return value
}

func (r *request) ReadUint16LE() uint16 {
	return uint16(r.ReadByte()) | (uint16(r.ReadByte()) << 8)
}

func (r *request) ReadUint32LE() uint32 {
	return uint32(r.ReadByte()) | (uint32(r.ReadByte()) << 8) | (uint32(r.ReadByte()) << 16) | (uint32(r.ReadByte()) << 24)
}

// Next returns the following n bytes, zero padded when the request is short.
func (r *request) Next(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = r.ReadByte()
	}

	return out
}

func (r *request) Skip(n int) {
	r.pos += n
	if r.pos > len(r.data) {
		r.short = true
	}
}

// Consumed reports how many request bytes the command used, never more than
// the request actually held.
func (r *request) Consumed() int {
	if r.pos > len(r.data) {
		return len(r.data)
	}

	return r.pos
}
