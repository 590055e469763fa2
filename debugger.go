// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"time"
)

var (
	resetPulse  = 20 * time.Millisecond
	resetSettle = 10 * time.Millisecond
	maxPinWait  = 3 * time.Second
)

func (p *Processor) dapHostStatus(req *request, resp *Buffer) {
	statusType := req.ReadByte()
	status := req.ReadByte()

	switch statusType {
	case 0:
		p.pins.SetPin(PinLEDConnected, status != 0)
	case 1:
		p.pins.SetPin(PinLEDRunning, status != 0)
	default:
		resp.WriteByte(dapError)
		return
	}

	resp.WriteByte(dapOK)
}

func (p *Processor) dapDelay(req *request, resp *Buffer) {
	delay := req.ReadUint16LE()

	time.Sleep(time.Duration(delay) * time.Microsecond)

	resp.WriteByte(dapOK)
}

// assertReset pulses nRESET low and waits for the target to come back up.
func (p *Processor) assertReset() {
	p.pins.SetOutput(PinNRESET, true)
	p.pins.SetPin(PinNRESET, false)
	time.Sleep(resetPulse)
	p.pins.SetPin(PinNRESET, true)
	time.Sleep(resetSettle)
}

func (p *Processor) dapResetTarget(req *request, resp *Buffer) {
	logger.Debug("hardware reset of target")

	p.assertReset()

	resp.WriteByte(dapOK)
	resp.WriteByte(1)
}

var swjPins = [...]struct {
	bit uint
	pin Pin
}{
	{swjPinSWCLK, PinSWCLK},
	{swjPinSWDIO, PinSWDIO},
	{swjPinTDI, PinTDI},
	{swjPinTDO, PinTDO},
	{swjPinNTRST, PinNTRST},
	{swjPinNRESET, PinNRESET},
}

func (p *Processor) readSWJPins() byte {
	var value byte

	for _, s := range swjPins {
		if p.pins.ReadPin(s.pin) {
			value |= 1 << s.bit
		}
	}

	return value
}

func (p *Processor) dapSWJPins(req *request, resp *Buffer) {
	value := req.ReadByte()
	selected := req.ReadByte()
	wait := req.ReadUint32LE()

	for _, s := range swjPins {
		if selected&(1<<s.bit) == 0 || s.pin == PinTDO {
			continue
		}

		if s.pin == PinSWDIO {
			p.pins.SetOutput(PinSWDIO, true)
		}

		p.pins.SetPin(s.pin, value&(1<<s.bit) != 0)
	}

	if wait != 0 && selected != 0 {
		timeout := time.Duration(wait) * time.Microsecond
		if timeout > maxPinWait {
			timeout = maxPinWait
		}

		deadline := time.Now().Add(timeout)
		for (p.readSWJPins()^value)&selected != 0 && time.Now().Before(deadline) {
			time.Sleep(time.Microsecond)
		}
	}

	resp.WriteByte(p.readSWJPins())
}

func (p *Processor) dapWriteAbort(req *request, resp *Buffer) {
	index := req.ReadByte()
	data := req.ReadUint32LE()

	switch p.port {
	case PortSWD:
		p.swd.Transfer(p.request(dpAbort, data))

	case PortJTAG:
		if !p.jtag.selectDevice(int(index)) {
			resp.WriteByte(dapError)
			return
		}

		p.jtag.writeAbort(data)

	default:
		resp.WriteByte(dapError)
		return
	}

	resp.WriteByte(dapOK)
}
