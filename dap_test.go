// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap_test

import (
	"encoding/binary"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/bbnote/netdap"
	"github.com/bbnote/netdap/internal/swdsim"
)

func newProbe(options ...netdap.Option) (*netdap.Processor, *swdsim.Target) {
	target := swdsim.New(testIDCode)

	return netdap.NewProcessor(target, netdap.DefaultConfig(), options...), target
}

func process(p *netdap.Processor, request ...byte) []byte {
	response := make([]byte, p.PacketSize())
	n := p.Process(request, response)

	return response[:n]
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func connectSWD(c *qt.C, p *netdap.Processor) {
	c.Assert(process(p, 0x02, 0x01), qt.DeepEquals, []byte{0x02, 0x01})
	c.Assert(process(p, 0x12, 0x08, 0x00), qt.DeepEquals, []byte{0x12, 0x00})
}

func TestInfo(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe()

	c.Assert(process(p, 0x00, 0x01), qt.DeepEquals, cat([]byte{0x00, 11}, []byte("windowsair\x00")))
	c.Assert(process(p, 0x00, 0x02), qt.DeepEquals, cat([]byte{0x00, 23}, []byte("Wireless ESP CMSIS-DAP\x00")))
	c.Assert(process(p, 0x00, 0x05), qt.DeepEquals, []byte{0x00, 0x00})
	c.Assert(process(p, 0x00, 0xf0), qt.DeepEquals, []byte{0x00, 0x01, 0x33})
	c.Assert(process(p, 0x00, 0xf1), qt.DeepEquals, cat([]byte{0x00, 0x04}, le32(5000000)))
	c.Assert(process(p, 0x00, 0xfe), qt.DeepEquals, []byte{0x00, 0x01, 20})
	c.Assert(process(p, 0x00, 0xff), qt.DeepEquals, []byte{0x00, 0x02, 0x00, 0x02})
	c.Assert(process(p, 0x00, 0x42), qt.DeepEquals, []byte{0x00, 0x00})
}

func TestInfoWithTrace(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe(netdap.WithTrace(netdap.NewTrace(nil, 1024)))

	c.Assert(process(p, 0x00, 0xf0), qt.DeepEquals, []byte{0x00, 0x01, 0x77})
	c.Assert(process(p, 0x00, 0xfd), qt.DeepEquals, cat([]byte{0x00, 0x04}, le32(1024)))
}

func TestUnknownCommand(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe()

	c.Assert(process(p, 0x42, 0x01, 0x02), qt.DeepEquals, []byte{0xff})
	c.Assert(process(p, 0x7d), qt.DeepEquals, []byte{0xff})
}

func TestConnect(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()

	c.Assert(process(p, 0x02, 0x00), qt.DeepEquals, []byte{0x02, 0x01})
	c.Assert(p.Port(), qt.Equals, netdap.PortSWD)
	c.Assert(target.Level(netdap.PinLEDConnected), qt.IsTrue)

	c.Assert(process(p, 0x02, 0x02), qt.DeepEquals, []byte{0x02, 0x02})
	c.Assert(p.Port(), qt.Equals, netdap.PortJTAG)

	c.Assert(process(p, 0x02, 0x05), qt.DeepEquals, []byte{0x02, 0x00})
	c.Assert(p.Port(), qt.Equals, netdap.PortJTAG)

	c.Assert(process(p, 0x03), qt.DeepEquals, []byte{0x03, 0x00})
	c.Assert(p.Port(), qt.Equals, netdap.PortDisabled)
	c.Assert(target.Level(netdap.PinLEDConnected), qt.IsFalse)
}

func TestTransferStopsAtWait(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	connectSWD(c, p)

	target.Respond = swdsim.WaitOn(func(a swdsim.Access) bool {
		return !a.APnDP && a.RnW && a.Addr == 0x04
	})

	resp := process(p, 0x05, 0x00, 0x02, 0x02, 0x06)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x01, 0x08}, le32(testIDCode)))
}

func TestLineResetThenTransfer(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()

	c.Assert(process(p, 0x12, 51, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x07), qt.DeepEquals, []byte{0x12, 0x00})
	c.Assert(target.LineResets(), qt.Equals, 1)

	connectSWD(c, p)

	resp := process(p, 0x05, 0x00, 0x01, 0x02)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x01, 0x01}, le32(testIDCode)))
}

func TestReadIDCode(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()

	id, err := p.ReadIDCode()
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, uint32(testIDCode))
	c.Assert(target.LineResets(), qt.Equals, 2)

	target.Respond = func(swdsim.Access) uint8 { return swdsim.AckFault }
	_, err = p.ReadIDCode()
	c.Assert(err, qt.ErrorMatches, "swd protocol error.*")
}

func TestTransferPostedAPRead(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	connectSWD(c, p)

	target.AP[0xfc] = 0x24770011
	target.AP[0xf8] = 0xe00ff003

	resp := process(p, cat(
		[]byte{0x05, 0x00, 0x03},
		[]byte{0x08}, le32(0xf0),
		[]byte{0x0f},
		[]byte{0x0b},
	)...)

	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x03, 0x01}, le32(0x24770011), le32(0xe00ff003)))
}

func TestTransferWriteCheckedWithRdBuff(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	connectSWD(c, p)

	resp := process(p, cat([]byte{0x05, 0x00, 0x02, 0x04}, le32(0x50000000), []byte{0x06})...)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x02, 0x01}, le32(0xf0000000)))

	n := len(target.Accesses)
	resp = process(p, cat([]byte{0x05, 0x00, 0x01, 0x08}, le32(0x000000f0))...)
	c.Assert(resp, qt.DeepEquals, []byte{0x05, 0x01, 0x01})

	// SELECT write plus the RDBUFF check
	c.Assert(target.Accesses[n:], qt.HasLen, 2)
	c.Assert(target.Accesses[n+1], qt.DeepEquals, swdsim.Access{RnW: true, Addr: 0x0c})
}

func TestTransferValueMatch(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	connectSWD(c, p)

	target.CtrlStat = 0xf0000000

	resp := process(p, cat([]byte{0x05, 0x00, 0x01, 0x16}, le32(0xf0000000))...)
	c.Assert(resp, qt.DeepEquals, []byte{0x05, 0x01, 0x01})

	resp = process(p, cat([]byte{0x05, 0x00, 0x01, 0x16}, le32(0x00000001))...)
	c.Assert(resp, qt.DeepEquals, []byte{0x05, 0x00, 0x11})

	// mask off everything but the power-up acks
	resp = process(p, cat(
		[]byte{0x05, 0x00, 0x02},
		[]byte{0x20}, le32(0xa0000000),
		[]byte{0x16}, le32(0xa0000000),
	)...)
	c.Assert(resp, qt.DeepEquals, []byte{0x05, 0x02, 0x01})
}

func TestTransferTimestamp(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe()
	connectSWD(c, p)

	resp := process(p, 0x05, 0x00, 0x01, 0x82)
	c.Assert(resp, qt.HasLen, 11)
	c.Assert(resp[:3], qt.DeepEquals, []byte{0x05, 0x01, 0x01})
	c.Assert(resp[7:], qt.DeepEquals, le32(testIDCode))
}

func TestTransferNotConnected(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe()

	resp := process(p, cat([]byte{0x05, 0x00, 0x02, 0x02, 0x08}, le32(0xf0), []byte{0x00, 0x01})...)
	c.Assert(resp, qt.DeepEquals, []byte{0x05, 0x00, 0x00})
}

func TestTransferBlock(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	connectSWD(c, p)

	resp := process(p, cat([]byte{0x06, 0x00, 0x03, 0x00, 0x0d}, le32(1), le32(2), le32(3))...)
	c.Assert(resp, qt.DeepEquals, []byte{0x06, 0x03, 0x00, 0x01})
	c.Assert(target.AP[0x0c], qt.Equals, uint32(3))

	target.AP[0x0c] = 0xcafe

	resp = process(p, 0x06, 0x00, 0x02, 0x00, 0x0f)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x06, 0x02, 0x00, 0x01}, le32(0xcafe), le32(0xcafe)))
}

func TestExecuteCommands(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe()

	resp := process(p, 0x7f, 0x02, 0x00, 0x01, 0x00, 0xfe)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x7f, 0x02, 0x00, 11}, []byte("windowsair\x00"), []byte{0x00, 0x01, 20}))
}

func TestExecuteCommandsResponseFull(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe()

	response := make([]byte, 2+13)
	n := p.Process([]byte{0x7f, 0x02, 0x00, 0x01, 0x00, 0xfe}, response)

	c.Assert(response[:n], qt.DeepEquals, cat([]byte{0x7f, 0x01, 0x00, 11}, []byte("windowsair\x00")))
}

func TestSWDSequence(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe()
	connectSWD(c, p)

	resp := process(p, 0x1d, 0x02, 0x88, 0x08, 0x00)
	c.Assert(resp, qt.DeepEquals, []byte{0x1d, 0x00, 0xff})

	resp = process(p, 0x1d, 0x01, 0x10)
	c.Assert(resp, qt.DeepEquals, []byte{0x1d, 0xff})
}

func TestWriteAbort(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()

	c.Assert(process(p, cat([]byte{0x08, 0x00}, le32(0x1e))...), qt.DeepEquals, []byte{0x08, 0xff})

	connectSWD(c, p)

	c.Assert(process(p, cat([]byte{0x08, 0x00}, le32(0x1e))...), qt.DeepEquals, []byte{0x08, 0x00})
	c.Assert(target.Abort, qt.Equals, uint32(0x1e))
}

func TestResetTarget(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()

	c.Assert(process(p, 0x0a), qt.DeepEquals, []byte{0x0a, 0x00, 0x01})
	c.Assert(target.HardResets(), qt.Equals, 1)
	c.Assert(target.Level(netdap.PinNRESET), qt.IsTrue)
}

func TestSWJPins(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	connectSWD(c, p)

	resp := process(p, cat([]byte{0x10, 0x00, 0x80}, le32(0))...)
	c.Assert(resp, qt.HasLen, 2)
	c.Assert(resp[1]&0x80, qt.Equals, byte(0))
	c.Assert(target.HardResets(), qt.Equals, 1)

	resp = process(p, cat([]byte{0x10, 0x80, 0x80}, le32(100))...)
	c.Assert(resp[1]&0x80, qt.Equals, byte(0x80))
}

func TestSWJClock(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe()

	c.Assert(process(p, cat([]byte{0x11}, le32(4000000))...), qt.DeepEquals, []byte{0x11, 0x00})
	c.Assert(process(p, cat([]byte{0x11}, le32(0))...), qt.DeepEquals, []byte{0x11, 0xff})
}

func TestSWJClockShifter(t *testing.T) {
	c := qt.New(t)
	target := swdsim.New(testIDCode)
	p := netdap.NewProcessor(target, netdap.DefaultConfig(), netdap.WithShifter(target))

	c.Assert(target.Divisor, qt.Equals, 80)
	c.Assert(process(p, cat([]byte{0x11}, le32(12000000))...), qt.DeepEquals, []byte{0x11, 0x00})
	c.Assert(target.Divisor, qt.Equals, 8)
	c.Assert(process(p, cat([]byte{0x11}, le32(1000))...), qt.DeepEquals, []byte{0x11, 0x00})
	c.Assert(target.Divisor, qt.Equals, 1600)
}

func TestConfigureCommands(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	connectSWD(c, p)

	c.Assert(process(p, 0x04, 0x02, 0x40, 0x00, 0x03, 0x00), qt.DeepEquals, []byte{0x04, 0x00})
	c.Assert(process(p, 0x13, 0x01), qt.DeepEquals, []byte{0x13, 0x00})

	target.Turnaround = 2

	resp := process(p, 0x05, 0x00, 0x01, 0x02)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x01, 0x01}, le32(testIDCode)))
	c.Assert(target.Contentions(), qt.Equals, 0)
}

func TestHostStatusAndDelay(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()

	c.Assert(process(p, 0x01, 0x01, 0x01), qt.DeepEquals, []byte{0x01, 0x00})
	c.Assert(target.Level(netdap.PinLEDRunning), qt.IsTrue)
	c.Assert(process(p, 0x01, 0x07, 0x01), qt.DeepEquals, []byte{0x01, 0xff})
	c.Assert(process(p, 0x09, 0x0a, 0x00), qt.DeepEquals, []byte{0x09, 0x00})
}

func TestAbortStopsRunningTransfer(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	connectSWD(c, p)

	target.Respond = func(swdsim.Access) uint8 {
		p.Abort()
		return swdsim.AckOK
	}

	resp := process(p, 0x05, 0x00, 0x02, 0x02, 0x02)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x01, 0x01}, le32(testIDCode)))

	resp = process(p, 0x06, 0x00, 0x03, 0x00, 0x02)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x06, 0x01, 0x00, 0x01}, le32(testIDCode)))
}

func TestAbortWhileIdleIsForgotten(t *testing.T) {
	c := qt.New(t)
	p, _ := newProbe()
	connectSWD(c, p)

	p.Abort()

	resp := process(p, 0x05, 0x00, 0x01, 0x02)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x01, 0x01}, le32(testIDCode)))

	p.Abort()

	resp = process(p, 0x06, 0x00, 0x02, 0x00, 0x02)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x06, 0x02, 0x00, 0x01}, le32(testIDCode), le32(testIDCode)))
}

func jtagReset(c *qt.C, p *netdap.Processor) {
	c.Assert(process(p, 0x02, 0x02), qt.DeepEquals, []byte{0x02, 0x02})
	// five clocks with TMS high, then one into Run-Test/Idle
	c.Assert(process(p, 0x14, 0x02, 0x45, 0xff, 0x01, 0x00), qt.DeepEquals, []byte{0x14, 0x00})
}

func TestJTAGIDCode(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	target.Mode = swdsim.ModeJTAG

	c.Assert(process(p, 0x16, 0x00), qt.DeepEquals, []byte{0x16, 0xff})

	jtagReset(c, p)
	c.Assert(target.TAPIdle(), qt.IsTrue)

	c.Assert(process(p, 0x15, 0x01, 0x04), qt.DeepEquals, []byte{0x15, 0x00})
	c.Assert(process(p, 0x16, 0x00), qt.DeepEquals, cat([]byte{0x16, 0x00}, le32(testIDCode)))
	c.Assert(process(p, 0x16, 0x01), qt.DeepEquals, []byte{0x16, 0xff})
	c.Assert(target.IR(), qt.Equals, uint8(0x0e))
	c.Assert(target.TAPIdle(), qt.IsTrue)
}

func TestJTAGSequenceCapture(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	target.Mode = swdsim.ModeJTAG

	jtagReset(c, p)

	// Select-DR, Capture-DR, Shift-DR with IDCODE loaded
	c.Assert(process(p, 0x14, 0x02, 0x41, 0x00, 0x02, 0x00), qt.DeepEquals, []byte{0x14, 0x00})

	resp := process(p, 0x14, 0x01, 0xa0, 0xff, 0xff, 0xff, 0xff)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x14, 0x00}, le32(testIDCode)))
}

func TestJTAGTransfer(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	target.Mode = swdsim.ModeJTAG
	target.AP[0xfc] = 0x24770011

	jtagReset(c, p)

	resp := process(p, cat([]byte{0x05, 0x00, 0x02, 0x04}, le32(0x50000000), []byte{0x06})...)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x02, 0x01}, le32(0xf0000000)))

	resp = process(p, cat([]byte{0x05, 0x00, 0x02, 0x08}, le32(0xf0), []byte{0x0f})...)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x02, 0x01}, le32(0x24770011)))
	c.Assert(target.Select, qt.Equals, uint32(0xf0))

	c.Assert(process(p, cat([]byte{0x08, 0x00}, le32(0x1e))...), qt.DeepEquals, []byte{0x08, 0x00})
	c.Assert(target.Abort, qt.Equals, uint32(0x1e))
}

func TestJTAGTransferWait(t *testing.T) {
	c := qt.New(t)
	p, target := newProbe()
	target.Mode = swdsim.ModeJTAG
	target.CtrlStat = 0xf0000000

	jtagReset(c, p)

	target.Respond = swdsim.WaitTimes(5)

	resp := process(p, 0x05, 0x00, 0x01, 0x06)
	c.Assert(resp, qt.DeepEquals, cat([]byte{0x05, 0x01, 0x01}, le32(0xf0000000)))

	target.Respond = swdsim.WaitOn(func(a swdsim.Access) bool { return a.Addr == 0x04 })

	// the posted read itself went out, its result never came back
	resp = process(p, 0x05, 0x00, 0x01, 0x06)
	c.Assert(resp, qt.DeepEquals, []byte{0x05, 0x01, 0x08})
}
