// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package swdsim simulates an ARM debug port behind the pin and shifter
// interfaces of the probe, clock by clock. It is not safe for concurrent
// use.
package swdsim

import (
	"math/bits"

	"github.com/bbnote/netdap"
)

type Mode int

const (
	ModeSWD Mode = iota
	ModeJTAG
)

// Wire acks of the SWD protocol. AckNone leaves the line undriven.
const (
	AckNone  uint8 = 0
	AckOK    uint8 = 1
	AckWait  uint8 = 2
	AckFault uint8 = 4
)

// Access is one decoded debug port request.
type Access struct {
	APnDP bool
	RnW   bool
	Addr  uint8
	Data  uint32
}

type swdState int

const (
	swdIdle swdState = iota
	swdHeader
	swdTurnToAck
	swdAck
	swdReadData
	swdTurnToWrite
	swdWriteData
)

// Target is a single debug port. The zero value is not usable, see New.
type Target struct {
	Mode   Mode
	IDCode uint32

	// Turnaround is the number of turnaround cycles the target expects.
	Turnaround int
	// ExactBursts is reported by ExactFraming.
	ExactBursts bool
	// BadParity corrupts the parity bit of every read.
	BadParity bool
	// Respond picks the ack for a decoded request. nil answers OK.
	Respond func(a Access) uint8

	CtrlStat uint32
	Select   uint32
	Abort    uint32
	AP       map[uint8]uint32

	// Accesses lists every request the target carried out.
	Accesses []Access

	Divisor int

	levels  [8]bool
	outputs [8]bool

	tgtDrive bool
	tgtLevel bool

	state     swdState
	count     int
	shift     uint64
	ones      int
	lineReset bool
	req       Access
	ack       uint8
	data      uint32
	rdbuff    uint32
	resend    uint32

	tap     tapState
	ir      uint8
	irShift uint64
	dr      uint64
	drLen   int
	drAck   uint8
	pending *Access
	result  uint32

	cycles       int
	lineResets   int
	hardResets   int
	headerErrors int
	parityErrors int
	contentions  int
}

func New(idcode uint32) *Target {
	t := &Target{
		IDCode:     idcode,
		Turnaround: 1,
		AP:         make(map[uint8]uint32),
	}

	t.levels[netdap.PinNRESET] = true
	t.levels[netdap.PinNTRST] = true
	t.ir = irIDCode

	return t
}

func (t *Target) Cycles() int {
	return t.cycles
}

func (t *Target) LineResets() int {
	return t.lineResets
}

func (t *Target) HardResets() int {
	return t.hardResets
}

// HeaderErrors counts request headers that failed start, stop, park or
// parity checks.
func (t *Target) HeaderErrors() int {
	return t.headerErrors
}

func (t *Target) ParityErrors() int {
	return t.parityErrors
}

// Contentions counts clock edges where host and target drove SWDIO at the
// same time.
func (t *Target) Contentions() int {
	return t.contentions
}

// InLineReset reports whether the target saw a line reset and no idle cycle
// since.
func (t *Target) InLineReset() bool {
	return t.lineReset
}

func (t *Target) Level(p netdap.Pin) bool {
	return t.levels[p]
}

func (t *Target) SetPin(p netdap.Pin, high bool) {
	if p == netdap.PinSWCLK {
		rising := !t.levels[p] && high
		t.levels[p] = high

		if rising {
			t.edge()
		}
		return
	}

	if p == netdap.PinNRESET && t.levels[p] && !high {
		t.hardResets++
		t.resetPort()
	}

	t.levels[p] = high
}

func (t *Target) SetOutput(p netdap.Pin, enable bool) {
	t.outputs[p] = enable
}

func (t *Target) ReadPin(p netdap.Pin) bool {
	switch p {
	case netdap.PinSWDIO:
		return t.sample()
	case netdap.PinTDO:
		return t.tdo()
	}

	return t.levels[p]
}

func (t *Target) Shift(out uint64, outBits int, inBits int) uint64 {
	for i := 0; i < outBits; i++ {
		t.outputs[netdap.PinSWDIO] = true
		t.levels[netdap.PinSWDIO] = (out>>uint(i))&1 == 1
		t.edge()
	}

	var in uint64

	if inBits > 0 {
		t.outputs[netdap.PinSWDIO] = false
	}

	for i := 0; i < inBits; i++ {
		if t.sample() {
			in |= 1 << uint(i)
		}
		t.edge()
	}

	return in
}

func (t *Target) ExactFraming() bool {
	return t.ExactBursts
}

func (t *Target) SetClockDivisor(div int) {
	t.Divisor = div
}

func (t *Target) resetPort() {
	t.state = swdIdle
	t.tgtDrive = false
	t.pending = nil
	t.CtrlStat = 0
	t.Select = 0
}

// sample returns the SWDIO level seen on the wire. Nobody driving reads as
// the pull-up.
func (t *Target) sample() bool {
	if t.outputs[netdap.PinSWDIO] {
		return t.levels[netdap.PinSWDIO]
	}
	if t.tgtDrive {
		return t.tgtLevel
	}

	return true
}

func (t *Target) edge() {
	t.cycles++

	if t.Mode == ModeJTAG {
		t.tapClock(t.levels[netdap.PinTMS], t.levels[netdap.PinTDI])
		return
	}

	driven := t.outputs[netdap.PinSWDIO]
	if driven && t.tgtDrive {
		t.contentions++
	}

	t.swdClock(t.sample(), driven)
}

func (t *Target) drive(high bool) {
	t.tgtDrive = true
	t.tgtLevel = high
}

func (t *Target) release() {
	t.tgtDrive = false
}

func (t *Target) trn() int {
	if t.Turnaround < 1 {
		return 1
	}

	return t.Turnaround
}

func (t *Target) swdClock(bit bool, driven bool) {
	if driven {
		if bit {
			t.ones++
			if t.ones >= 50 {
				if !t.lineReset {
					t.lineResets++
				}
				t.lineReset = true
				t.state = swdIdle
				t.release()
				return
			}
		} else {
			t.ones = 0
			t.lineReset = false
		}
	}

	switch t.state {
	case swdIdle:
		if driven && bit && !t.lineReset {
			t.state = swdHeader
			t.shift = 1
			t.count = 1
		}

	case swdHeader:
		if bit {
			t.shift |= 1 << uint(t.count)
		}
		t.count++

		if t.count == 8 {
			t.decode()
		}

	case swdTurnToAck:
		t.count++
		if t.count >= t.trn() {
			t.state = swdAck
			t.count = 0
			t.drive(t.ack&1 != 0)
		}

	case swdAck:
		t.count++
		if t.count < 3 {
			t.drive((t.ack>>uint(t.count))&1 != 0)
			return
		}

		t.count = 0

		switch {
		case t.ack == AckOK && t.req.RnW:
			t.state = swdReadData
			t.drive(t.data&1 != 0)
		case t.ack == AckOK:
			t.release()
			t.state = swdTurnToWrite
		default:
			t.release()
			t.state = swdIdle
		}

	case swdReadData:
		t.count++

		switch {
		case t.count < 32:
			t.drive((t.data>>uint(t.count))&1 != 0)
		case t.count == 32:
			parity := parity32(t.data)
			if t.BadParity {
				parity = !parity
			}
			t.drive(parity)
		default:
			t.release()
			t.state = swdIdle
		}

	case swdTurnToWrite:
		t.count++
		if t.count >= t.trn() {
			t.state = swdWriteData
			t.count = 0
			t.shift = 0
		}

	case swdWriteData:
		if bit {
			t.shift |= 1 << uint(t.count)
		}
		t.count++

		if t.count == 33 {
			data := uint32(t.shift)
			if parity32(data) != ((t.shift>>32)&1 == 1) {
				t.parityErrors++
			} else {
				t.req.Data = data
				t.write(t.req)
			}
			t.state = swdIdle
		}
	}
}

func (t *Target) decode() {
	h := uint8(t.shift)
	req := (h >> 1) & 0x0f

	if h&0x01 == 0 || h&0x40 != 0 || h&0x80 == 0 || (h>>5)&1 != uint8(bits.OnesCount8(req)&1) {
		t.headerErrors++
		t.state = swdIdle
		return
	}

	t.req = Access{
		APnDP: req&0x01 != 0,
		RnW:   req&0x02 != 0,
		Addr:  req & 0x0c,
	}

	t.ack = t.respond(t.req)
	if t.ack == AckNone {
		t.state = swdIdle
		return
	}

	if t.ack == AckOK && t.req.RnW {
		t.data = t.read(t.req)
	}

	t.state = swdTurnToAck
	t.count = 0
}

func (t *Target) respond(a Access) uint8 {
	if t.Respond == nil {
		return AckOK
	}

	return t.Respond(a)
}

func (t *Target) apKey(addr uint8) uint8 {
	return uint8(t.Select&0xf0) | addr&0x0c
}

func (t *Target) read(a Access) uint32 {
	var v uint32

	if a.APnDP {
		v = t.rdbuff
		t.rdbuff = t.AP[t.apKey(a.Addr)]
	} else {
		switch a.Addr {
		case 0x00:
			v = t.IDCode
		case 0x04:
			v = t.CtrlStat
		case 0x08:
			v = t.resend
		default:
			v = t.rdbuff
		}
	}

	t.resend = v
	a.Data = v
	t.Accesses = append(t.Accesses, a)

	return v
}

func (t *Target) write(a Access) {
	t.Accesses = append(t.Accesses, a)

	if a.APnDP {
		t.AP[t.apKey(a.Addr)] = a.Data
		return
	}

	switch a.Addr {
	case 0x00:
		t.Abort = a.Data
	case 0x04:
		// power-up requests are acknowledged at once
		t.CtrlStat = a.Data&^0xa0000000 | (a.Data&0x50000000)<<1
	case 0x08:
		t.Select = a.Data
	}
}

func parity32(v uint32) bool {
	return bits.OnesCount32(v)&1 == 1
}

// WaitOn answers WAIT to every request match selects and OK to the rest.
func WaitOn(match func(a Access) bool) func(a Access) uint8 {
	return func(a Access) uint8 {
		if match(a) {
			return AckWait
		}
		return AckOK
	}
}

// WaitTimes answers WAIT to the next n requests.
func WaitTimes(n int) func(a Access) uint8 {
	return func(a Access) uint8 {
		if n > 0 {
			n--
			return AckWait
		}
		return AckOK
	}
}
