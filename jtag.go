// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

// jtagChain describes the scan chain set up by DAP_JTAG_Configure. Device 0
// is the one closest to TDO.
type jtagChain struct {
	count    int
	index    int
	irLength [maxJTAGDevices]int
	irBefore [maxJTAGDevices]int
	irAfter  [maxJTAGDevices]int
}

func (c *jtagChain) configure(lengths []int) {
	c.count = len(lengths)
	c.index = 0

	before := 0
	for i, l := range lengths {
		c.irLength[i] = l
		c.irBefore[i] = before
		before += l
	}

	after := 0
	for i := len(lengths) - 1; i >= 0; i-- {
		c.irAfter[i] = after
		after += lengths[i]
	}
}

type jtag struct {
	bang  *bitBang
	chain jtagChain

	ir      uint32
	irValid bool
}

func newJTAG(bang *bitBang) *jtag {
	j := &jtag{bang: bang}
	j.chain.configure([]int{4})

	return j
}

func (j *jtag) invalidateIR() {
	j.irValid = false
}

// selectDevice makes index the target of subsequent scans.
func (j *jtag) selectDevice(index int) bool {
	if index >= j.chain.count {
		return false
	}

	if index != j.chain.index {
		j.chain.index = index
		j.irValid = false
	}

	return true
}

func (j *jtag) setIR(ir uint32) {
	if j.irValid && j.ir == ir {
		return
	}

	idx := j.chain.index
	b := j.bang
	value := ir

	b.tck(true, true)  // Select-DR-Scan
	b.tck(true, true)  // Select-IR-Scan
	b.tck(false, true) // Capture-IR
	b.tck(false, true) // Shift-IR

	for n := j.chain.irBefore[idx]; n > 0; n-- {
		b.tck(false, true)
	}

	for n := j.chain.irLength[idx] - 1; n > 0; n-- {
		b.tck(false, value&1 == 1)
		value >>= 1
	}

	if after := j.chain.irAfter[idx]; after > 0 {
		b.tck(false, value&1 == 1)
		for n := after - 1; n > 0; n-- {
			b.tck(false, true)
		}
		b.tck(true, true) // Exit1-IR
	} else {
		b.tck(true, value&1 == 1) // last bit & Exit1-IR
	}

	b.tck(true, true)  // Update-IR
	b.tck(false, true) // Run-Test/Idle

	j.ir = ir
	j.irValid = true
}

func (j *jtag) enterShiftDR() {
	b := j.bang

	b.tck(true, true)  // Select-DR-Scan
	b.tck(false, true) // Capture-DR
	b.tck(false, true) // Shift-DR

	for n := j.chain.index; n > 0; n-- {
		b.tck(false, true)
	}
}

// shiftLast clocks the last data bit and any bypass bits behind the device,
// leaving the TAP in Exit1-DR.
func (j *jtag) shiftLast(tdi bool) bool {
	b := j.bang

	after := j.chain.count - j.chain.index - 1
	if after <= 0 {
		return b.tck(true, tdi)
	}

	tdo := b.tck(false, tdi)
	for n := after - 1; n > 0; n-- {
		b.tck(false, true)
	}
	b.tck(true, true)

	return tdo
}

func (j *jtag) exitDR() {
	j.bang.tck(true, true)  // Update-DR
	j.bang.tck(false, true) // Run-Test/Idle
}

func (j *jtag) readIDCode() uint32 {
	j.setIR(jtagIDCode)
	j.enterShiftDR()

	var value uint32
	for i := 0; i < 31; i++ {
		if j.bang.tck(false, true) {
			value |= 1 << uint(i)
		}
	}

	if j.shiftLast(true) {
		value |= 1 << 31
	}

	j.exitDR()

	return value
}

// transferOnce runs one DPACC/APACC scan. The returned data belongs to the
// previous scan, as JTAG-DP posts every read.
func (j *jtag) transferOnce(req Request) (Ack, uint32) {
	if req.APnDP {
		j.setIR(jtagAPACC)
	} else {
		j.setIR(jtagDPACC)
	}

	b := j.bang
	j.enterShiftDR()

	var ack Ack
	if b.tck(false, req.RnW) {
		ack |= 0x02
	}
	if b.tck(false, req.Addr&0x04 != 0) {
		ack |= 0x01
	}
	if b.tck(false, req.Addr&0x08 != 0) {
		ack |= 0x04
	}

	if ack != AckOK {
		b.tck(true, true) // Exit1-DR
		j.exitDR()

		return ack, 0
	}

	var value uint32
	if req.RnW {
		for i := 0; i < 31; i++ {
			if b.tck(false, true) {
				value |= 1 << uint(i)
			}
		}
		if j.shiftLast(true) {
			value |= 1 << 31
		}
	} else {
		data := req.Data
		for i := 0; i < 31; i++ {
			b.tck(false, data&1 == 1)
			data >>= 1
		}
		j.shiftLast(data&1 == 1)
	}

	j.exitDR()

	for n := req.IdleCycles; n > 0; n-- {
		b.tck(false, true)
	}

	return ack, value
}

func (j *jtag) Transfer(req Request) (Ack, uint32) {
	for retry := 0; retry <= swdWaitRetries; retry++ {
		ack, data := j.transferOnce(req)

		if ack != AckWait {
			return ack, data
		}
	}

	logger.Debugf("jtag %s: retry bound exceeded", req)

	return AckProtocolError, 0
}

func (j *jtag) posted(req Request) bool {
	return true
}

func (j *jtag) writeAbort(data uint32) {
	j.setIR(jtagAbort)
	j.enterShiftDR()

	b := j.bang

	// RnW, A2 and A3 all zero
	b.tck(false, false)
	b.tck(false, false)
	b.tck(false, false)

	for i := 0; i < 31; i++ {
		b.tck(false, data&1 == 1)
		data >>= 1
	}
	j.shiftLast(data&1 == 1)

	j.exitDR()
}

// sequence clocks one JTAG_Sequence entry and returns captured TDO bits.
func (j *jtag) sequence(count int, tms bool, tdi []byte) []byte {
	tdo := make([]byte, bytesForBits(count))

	for i := 0; i < count; i++ {
		bit := bufGetBits(tdi, uint(i), 1) == 1

		if j.bang.tck(tms, bit) {
			bufSetBits(tdo, uint(i), 1, 1)
		}
	}

	return tdo
}
