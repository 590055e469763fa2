// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

// dapSWJSequence clocks up to 256 bits on SWDIO/TMS, e.g. a line reset or
// the JTAG to SWD switch sequence.
func (p *Processor) dapSWJSequence(req *request, resp *Buffer) {
	count := int(req.ReadByte())
	if count == 0 {
		count = 256
	}

	data := req.Next(bytesForBits(count))

	for offset := 0; offset < count; offset += sequenceMaxBits {
		n := count - offset
		if n > sequenceMaxBits {
			n = sequenceMaxBits
		}

		p.swd.Sequence(Sequence{Count: n, Out: bufGetBits(data, uint(offset), uint(n))})
	}

	p.jtag.invalidateIR()

	resp.WriteByte(dapOK)
}

func (p *Processor) dapSWDSequence(req *request, resp *Buffer) {
	count := int(req.ReadByte())

	statusPos := resp.Len()
	resp.WriteByte(dapOK)

	for ; count > 0; count-- {
		info := req.ReadByte()
		n := sequenceCount(info)

		if info&0x80 != 0 {
			in := p.swd.Sequence(Sequence{Count: n, Capture: true})

			captured := make([]byte, bytesForBits(n))
			bufSetBits(captured, 0, uint(n), in)

			if _, err := resp.Write(captured); err != nil {
				resp.SetByte(statusPos, dapError)
			}
		} else {
			data := req.Next(bytesForBits(n))
			p.swd.Sequence(Sequence{Count: n, Out: bufGetBits(data, 0, uint(n))})
		}
	}

	if req.short {
		resp.SetByte(statusPos, dapError)
	}
}

func (p *Processor) dapJTAGSequence(req *request, resp *Buffer) {
	count := int(req.ReadByte())

	statusPos := resp.Len()
	resp.WriteByte(dapOK)

	for ; count > 0; count-- {
		info := req.ReadByte()
		n := sequenceCount(info)
		tdi := req.Next(bytesForBits(n))

		tdo := p.jtag.sequence(n, info&0x40 != 0, tdi)

		if info&0x80 != 0 {
			if _, err := resp.Write(tdo); err != nil {
				resp.SetByte(statusPos, dapError)
			}
		}
	}

	p.jtag.invalidateIR()

	if req.short {
		resp.SetByte(statusPos, dapError)
	}
}

func (p *Processor) dapJTAGConfigure(req *request, resp *Buffer) {
	count := int(req.ReadByte())
	lengths := make([]int, count)

	for i := range lengths {
		lengths[i] = int(req.ReadByte())
	}

	if count == 0 || count > maxJTAGDevices || req.short {
		resp.WriteByte(dapError)
		return
	}

	p.jtag.chain.configure(lengths)
	p.jtag.invalidateIR()

	resp.WriteByte(dapOK)
}

func (p *Processor) dapJTAGIDCode(req *request, resp *Buffer) {
	index := req.ReadByte()

	if p.port != PortJTAG || !p.jtag.selectDevice(int(index)) {
		resp.WriteByte(dapError)
		return
	}

	resp.WriteByte(dapOK)
	resp.WriteUint32LE(p.jtag.readIDCode())
}
