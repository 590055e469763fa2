// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package swdsim

type tapState int

const (
	tapReset tapState = iota
	tapIdle
	tapSelectDR
	tapCaptureDR
	tapShiftDR
	tapExit1DR
	tapPauseDR
	tapExit2DR
	tapUpdateDR
	tapSelectIR
	tapCaptureIR
	tapShiftIR
	tapExit1IR
	tapPauseIR
	tapExit2IR
	tapUpdateIR
)

// next state for TMS low and high
var tapNext = [...][2]tapState{
	tapReset:     {tapIdle, tapReset},
	tapIdle:      {tapIdle, tapSelectDR},
	tapSelectDR:  {tapCaptureDR, tapSelectIR},
	tapCaptureDR: {tapShiftDR, tapExit1DR},
	tapShiftDR:   {tapShiftDR, tapExit1DR},
	tapExit1DR:   {tapPauseDR, tapUpdateDR},
	tapPauseDR:   {tapPauseDR, tapExit2DR},
	tapExit2DR:   {tapShiftDR, tapUpdateDR},
	tapUpdateDR:  {tapIdle, tapSelectDR},
	tapSelectIR:  {tapCaptureIR, tapReset},
	tapCaptureIR: {tapShiftIR, tapExit1IR},
	tapShiftIR:   {tapShiftIR, tapExit1IR},
	tapExit1IR:   {tapPauseIR, tapUpdateIR},
	tapPauseIR:   {tapPauseIR, tapExit2IR},
	tapExit2IR:   {tapShiftIR, tapUpdateIR},
	tapUpdateIR:  {tapIdle, tapSelectDR},
}

const (
	irLength = 4

	irAbort  = 0x8
	irDPACC  = 0xa
	irAPACC  = 0xb
	irIDCode = 0xe

	// JTAG-DP acks as captured in the DR scan
	jtagOK   = 0x2
	jtagWait = 0x1
)

func bit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// IR returns the current instruction.
func (t *Target) IR() uint8 {
	return t.ir
}

func (t *Target) TAPIdle() bool {
	return t.tap == tapIdle
}

// tdo is the TDO level between two rising edges.
func (t *Target) tdo() bool {
	switch t.tap {
	case tapShiftDR:
		return t.dr&1 == 1
	case tapShiftIR:
		return t.irShift&1 == 1
	}

	return true
}

func (t *Target) tapClock(tms bool, tdi bool) {
	switch t.tap {
	case tapCaptureDR:
		t.captureDR()
	case tapShiftDR:
		t.dr = t.dr>>1 | bit(tdi)<<uint(t.drLen-1)
	case tapCaptureIR:
		t.irShift = 0x1
	case tapShiftIR:
		t.irShift = t.irShift>>1 | bit(tdi)<<(irLength-1)
	}

	next := tapNext[t.tap][bit(tms)]

	switch next {
	case tapUpdateDR:
		t.updateDR()
	case tapUpdateIR:
		t.ir = uint8(t.irShift & (1<<irLength - 1))
	case tapReset:
		t.ir = irIDCode
	}

	t.tap = next
}

func (t *Target) captureDR() {
	switch t.ir {
	case irIDCode:
		t.dr, t.drLen = uint64(t.IDCode), 32

	case irDPACC, irAPACC:
		t.drAck = t.complete()
		t.dr, t.drLen = uint64(t.result)<<3|uint64(t.drAck), 35

	case irAbort:
		t.dr, t.drLen = 0, 35

	default:
		t.dr, t.drLen = 0, 1
	}
}

// complete finishes the access posted by the previous scan unless the
// target still answers WAIT for it.
func (t *Target) complete() uint8 {
	if t.pending == nil {
		return jtagOK
	}

	if t.respond(*t.pending) == AckWait {
		return jtagWait
	}

	a := *t.pending
	t.pending = nil

	if !a.RnW {
		t.write(a)
		return jtagOK
	}

	switch {
	case a.APnDP:
		t.result = t.AP[t.apKey(a.Addr)]
	case a.Addr == 0x04:
		t.result = t.CtrlStat
	case a.Addr == 0x08:
		t.result = t.Select
	default:
		// RDBUFF reads as zero on JTAG-DP
		t.result = 0
	}

	a.Data = t.result
	t.Accesses = append(t.Accesses, a)

	return jtagOK
}

func (t *Target) updateDR() {
	switch t.ir {
	case irDPACC, irAPACC:
		if t.drAck == jtagWait {
			return
		}

		t.pending = &Access{
			APnDP: t.ir == irAPACC,
			RnW:   t.dr&1 == 1,
			Addr:  uint8(t.dr>>1&0x3) << 2,
			Data:  uint32(t.dr >> 3),
		}

	case irAbort:
		t.Abort = uint32(t.dr >> 3)
		t.Accesses = append(t.Accesses, Access{Data: t.Abort})
	}
}
