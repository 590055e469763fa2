// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

type Pin uint8 // debug and status lines the probe drives

const (
	PinSWCLK Pin = iota
	PinSWDIO
	PinTDI
	PinTDO
	PinNTRST
	PinNRESET
	PinLEDConnected
	PinLEDRunning
)

// JTAG shares clock and mode select with the SWD lines.
const (
	PinTCK = PinSWCLK
	PinTMS = PinSWDIO
)

var pinNames = [...]string{"SWCLK/TCK", "SWDIO/TMS", "TDI", "TDO", "nTRST", "nRESET", "LED connected", "LED running"}

func (p Pin) String() string {
	if int(p) < len(pinNames) {
		return pinNames[p]
	}

	return "unknown"
}

// PinDriver is implemented once per board. The core never touches a
// hardware register itself.
type PinDriver interface {
	SetPin(p Pin, high bool)
	ReadPin(p Pin) bool
	// SetOutput drives the pin when enable is true and releases it otherwise.
	SetOutput(p Pin, enable bool)
}

// Shifter is a hardware shift register clocking bursts on SWDIO.
type Shifter interface {
	// Shift clocks outBits host driven bits of out, LSB first, then releases
	// SWDIO and captures inBits bits. Either count may be zero; neither is
	// larger than 64.
	Shift(out uint64, outBits int, inBits int) uint64

	// ExactFraming reports whether an odd burst of 33 bits can be framed.
	ExactFraming() bool

	SetClockDivisor(div int)
}
