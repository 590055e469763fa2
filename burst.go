// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

// burst drives SWD packets through a hardware shift register. Static line
// levels still go through the pin driver.
type burst struct {
	pins    PinDriver
	shifter Shifter
}

func newBurst(pins PinDriver, shifter Shifter) *burst {
	return &burst{pins: pins, shifter: shifter}
}

func (b *burst) header(req uint8, trn int, trnAfter int) uint8 {
	in := b.shifter.Shift(uint64(req), 8, trn+3+trnAfter)

	return uint8(in>>uint(trn)) & 0x07
}

func (b *burst) readData(trn int) (uint32, uint32) {
	in := b.shifter.Shift(0, 0, 33+trn)

	return uint32(in), uint32(in>>32) & 1
}

func (b *burst) writeData(data uint32, parity uint32) {
	out := uint64(data) | uint64(parity&1)<<32

	if b.shifter.ExactFraming() {
		b.shifter.Shift(out, 33, 0)
		return
	}

	// bit 33 stays low: an idle bit the target cannot read as a start bit
	b.shifter.Shift(out, 34, 0)
}

func (b *burst) idle(cycles int) {
	for cycles > 0 {
		n := cycles
		if n > 64 {
			n = 64
		}

		b.shifter.Shift(0, n, 0)
		cycles -= n
	}
}

func (b *burst) release(cycles int) {
	for cycles > 0 {
		n := cycles
		if n > 64 {
			n = 64
		}

		b.shifter.Shift(0, 0, n)
		cycles -= n
	}
}

func (b *burst) drive(high bool) {
	b.pins.SetOutput(PinSWDIO, true)
	b.pins.SetPin(PinSWDIO, high)
}

func (b *burst) sequence(count int, out uint64) {
	b.shifter.Shift(out, count, 0)
}

func (b *burst) capture(count int) uint64 {
	return b.shifter.Shift(0, 0, count) & lowBits(count)
}
