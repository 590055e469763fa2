// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import "time"

// phy clocks the phases of an SWD packet. Both implementations produce the
// same wire traffic; all framing decisions live in the Engine.
type phy interface {
	// header sends the 8 bit request, clocks trn turnaround cycles, samples
	// the 3 ack bits and clocks trnAfter more cycles with SWDIO released.
	header(req uint8, trn int, trnAfter int) uint8
	// readData samples 32 data bits and parity, then clocks trn cycles.
	readData(trn int) (uint32, uint32)
	writeData(data uint32, parity uint32)
	// idle clocks cycles with SWDIO driven low.
	idle(cycles int)
	// release clocks cycles with SWDIO not driven by the host.
	release(cycles int)
	// drive sets the SWDIO level without clocking.
	drive(high bool)
	sequence(count int, out uint64)
	capture(count int) uint64
}

type bitBang struct {
	pins  PinDriver
	delay time.Duration
}

func newBitBang(pins PinDriver) *bitBang {
	return &bitBang{pins: pins}
}

func (b *bitBang) wait() {
	if b.delay <= 0 {
		return
	}

	for start := time.Now(); time.Since(start) < b.delay; {
	}
}

func (b *bitBang) cycle() {
	b.pins.SetPin(PinSWCLK, false)
	b.wait()
	b.pins.SetPin(PinSWCLK, true)
	b.wait()
}

func (b *bitBang) writeBit(bit bool) {
	b.pins.SetPin(PinSWDIO, bit)
	b.cycle()
}

func (b *bitBang) readBit() bool {
	b.pins.SetPin(PinSWCLK, false)
	b.wait()
	bit := b.pins.ReadPin(PinSWDIO)
	b.pins.SetPin(PinSWCLK, true)
	b.wait()

	return bit
}

func (b *bitBang) header(req uint8, trn int, trnAfter int) uint8 {
	b.pins.SetOutput(PinSWDIO, true)

	for i := 0; i < 8; i++ {
		b.writeBit((req>>uint(i))&1 == 1)
	}

	b.pins.SetOutput(PinSWDIO, false)

	for i := 0; i < trn; i++ {
		b.cycle()
	}

	var ack uint8
	for i := 0; i < 3; i++ {
		if b.readBit() {
			ack |= 1 << uint(i)
		}
	}

	for i := 0; i < trnAfter; i++ {
		b.cycle()
	}

	return ack
}

func (b *bitBang) readData(trn int) (uint32, uint32) {
	var data uint32

	for i := 0; i < 32; i++ {
		if b.readBit() {
			data |= 1 << uint(i)
		}
	}

	var parity uint32
	if b.readBit() {
		parity = 1
	}

	for i := 0; i < trn; i++ {
		b.cycle()
	}

	return data, parity
}

func (b *bitBang) writeData(data uint32, parity uint32) {
	b.pins.SetOutput(PinSWDIO, true)

	for i := 0; i < 32; i++ {
		b.writeBit((data>>uint(i))&1 == 1)
	}

	b.writeBit(parity&1 == 1)
}

func (b *bitBang) idle(cycles int) {
	b.pins.SetOutput(PinSWDIO, true)
	b.pins.SetPin(PinSWDIO, false)

	for i := 0; i < cycles; i++ {
		b.cycle()
	}
}

func (b *bitBang) release(cycles int) {
	b.pins.SetOutput(PinSWDIO, false)

	for i := 0; i < cycles; i++ {
		b.cycle()
	}
}

func (b *bitBang) drive(high bool) {
	b.pins.SetOutput(PinSWDIO, true)
	b.pins.SetPin(PinSWDIO, high)
}

func (b *bitBang) sequence(count int, out uint64) {
	b.pins.SetOutput(PinSWDIO, true)

	for i := 0; i < count; i++ {
		b.writeBit((out>>uint(i))&1 == 1)
	}
}

func (b *bitBang) capture(count int) uint64 {
	b.pins.SetOutput(PinSWDIO, false)

	var in uint64
	for i := 0; i < count; i++ {
		if b.readBit() {
			in |= 1 << uint(i)
		}
	}

	return in
}

// tck clocks one JTAG cycle and returns TDO sampled before the rising edge.
func (b *bitBang) tck(tms bool, tdi bool) bool {
	b.pins.SetPin(PinTMS, tms)
	b.pins.SetPin(PinTDI, tdi)
	b.pins.SetPin(PinTCK, false)
	b.wait()
	tdo := b.pins.ReadPin(PinTDO)
	b.pins.SetPin(PinTCK, true)
	b.wait()

	return tdo
}
