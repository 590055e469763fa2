// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"errors"
	"io"

	"github.com/boljen/go-bitmap"
)

const DefaultTraceSize = 4096

// TraceOpener opens the SWO capture source at the requested baud rate.
type TraceOpener func(baudrate uint32) (io.ReadCloser, error)

// Trace buffers SWO output captured from a UART. The buffer is the single
// slot shared by DAP_SWO_Data and the endpoint 2 stream.
type Trace struct {
	mu   mutex
	open TraceOpener

	buf  []byte
	head int
	n    int

	transport uint8
	mode      uint8
	baudrate  uint32

	src     io.ReadCloser
	active  bool
	overrun bool
	failed  bool
	index   uint32
}

func NewTrace(open TraceOpener, size int) *Trace {
	if size <= 0 {
		size = DefaultTraceSize
	}

	return &Trace{
		open:     open,
		buf:      make([]byte, size),
		baudrate: 115200,
	}
}

func (t *Trace) Size() int {
	return len(t.buf)
}

func (t *Trace) reset() {
	t.stop()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.head, t.n = 0, 0
	t.transport = swoTransportNone
	t.mode = swoModeOff
	t.overrun, t.failed = false, false
	t.index = 0
}

func (t *Trace) start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active {
		return nil
	}

	if t.mode != swoModeUART {
		return errors.New("swo capture needs uart mode")
	}

	src, err := t.open(t.baudrate)
	if err != nil {
		t.failed = true
		return err
	}

	t.src = src
	t.active = true
	t.failed = false

	go t.capture(src)

	logger.Debugf("swo capture started at %d baud", t.baudrate)

	return nil
}

func (t *Trace) stop() {
	t.mu.Lock()
	src := t.src
	t.src = nil
	t.active = false
	t.mu.Unlock()

	if src != nil {
		src.Close()
	}
}

func (t *Trace) capture(src io.ReadCloser) {
	chunk := make([]byte, 256)

	for {
		n, err := src.Read(chunk)
		if n > 0 {
			t.push(chunk[:n])
		}

		if err != nil {
			t.mu.Lock()
			if t.src == src {
				t.src = nil
				t.active = false
				t.failed = err != io.EOF
			}
			t.mu.Unlock()

			if err != io.EOF {
				logger.Debugf("swo capture stopped: %v", err)
			}
			return
		}
	}
}

func (t *Trace) push(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range data {
		if t.n == len(t.buf) {
			t.overrun = true
			return
		}

		t.buf[(t.head+t.n)%len(t.buf)] = b
		t.n++
		t.index++
	}
}

// take removes up to limit buffered bytes.
func (t *Trace) take(limit int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit > t.n {
		limit = t.n
	}

	out := make([]byte, limit)
	for i := range out {
		out[i] = t.buf[(t.head+i)%len(t.buf)]
	}

	t.head = (t.head + limit) % len(t.buf)
	t.n -= limit

	return out
}

func (t *Trace) status() (byte, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var flags bitmap.Bitmap = bitmap.New(8)

	flags.Set(swoStatusActive, t.active)
	flags.Set(swoStatusError, t.failed)
	flags.Set(swoStatusOverrun, t.overrun)

	return flags[0], uint32(t.n)
}

// Poll serves the endpoint 2 trace stream. It returns nil when the stream
// transport is not selected or nothing has been captured.
func (t *Trace) Poll(limit int) []byte {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	streaming := t.transport == swoTransportEndpoint
	t.mu.Unlock()

	if !streaming {
		return nil
	}

	data := t.take(limit)
	if len(data) == 0 {
		return nil
	}

	return data
}

func (p *Processor) dapSWOTransport(req *request, resp *Buffer) {
	transport := req.ReadByte()

	if p.trace == nil || transport > swoTransportEndpoint {
		resp.WriteByte(dapError)
		return
	}

	p.trace.mu.Lock()
	active := p.trace.active
	if !active {
		p.trace.transport = transport
	}
	p.trace.mu.Unlock()

	if active {
		resp.WriteByte(dapError)
		return
	}

	resp.WriteByte(dapOK)
}

func (p *Processor) dapSWOMode(req *request, resp *Buffer) {
	mode := req.ReadByte()

	if p.trace == nil || mode > swoModeUART {
		resp.WriteByte(dapError)
		return
	}

	p.trace.stop()

	p.trace.mu.Lock()
	p.trace.mode = mode
	p.trace.mu.Unlock()

	resp.WriteByte(dapOK)
}

func (p *Processor) dapSWOBaudrate(req *request, resp *Buffer) {
	baudrate := req.ReadUint32LE()

	if p.trace == nil {
		resp.WriteUint32LE(0)
		return
	}

	p.trace.stop()

	p.trace.mu.Lock()
	p.trace.baudrate = baudrate
	p.trace.mu.Unlock()

	resp.WriteUint32LE(baudrate)
}

func (p *Processor) dapSWOControl(req *request, resp *Buffer) {
	control := req.ReadByte()

	if p.trace == nil {
		resp.WriteByte(dapError)
		return
	}

	switch control {
	case swoControlStart:
		if err := p.trace.start(); err != nil {
			logger.Debug(err)
			resp.WriteByte(dapError)
			return
		}

	case swoControlStop:
		p.trace.stop()

	default:
		resp.WriteByte(dapError)
		return
	}

	resp.WriteByte(dapOK)
}

func (p *Processor) dapSWOStatus(req *request, resp *Buffer) {
	if p.trace == nil {
		resp.WriteByte(0)
		resp.WriteUint32LE(0)
		return
	}

	status, count := p.trace.status()

	resp.WriteByte(status)
	resp.WriteUint32LE(count)
}

func (p *Processor) dapSWOExtendedStatus(req *request, resp *Buffer) {
	control := req.ReadByte()

	var status byte
	var count, index uint32

	if p.trace != nil {
		status, count = p.trace.status()

		p.trace.mu.Lock()
		index = p.trace.index
		p.trace.mu.Unlock()
	}

	if control&0x01 != 0 {
		resp.WriteByte(status)
	}
	if control&0x02 != 0 {
		resp.WriteUint32LE(count)
	}
	if control&0x04 != 0 {
		resp.WriteUint32LE(index)
		resp.WriteUint32LE(p.timestamp())
	}
}

func (p *Processor) dapSWOData(req *request, resp *Buffer) {
	limit := int(req.ReadUint16LE())

	if p.trace == nil {
		resp.WriteByte(0)
		resp.WriteUint16LE(0)
		return
	}

	status, _ := p.trace.status()

	if free := resp.Free() - 3; limit > free {
		limit = free
	}

	var data []byte

	p.trace.mu.Lock()
	command := p.trace.transport == swoTransportCommand
	p.trace.mu.Unlock()

	if command && limit > 0 {
		data = p.trace.take(limit)
	}

	resp.WriteByte(status)
	resp.WriteUint16LE(uint16(len(data)))
	resp.Write(data)
}
