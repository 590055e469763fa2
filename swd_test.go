// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/bbnote/netdap"
	"github.com/bbnote/netdap/internal/swdsim"
)

const testIDCode = 0x2ba01477

type engineSetup struct {
	name  string
	burst bool
	exact bool
}

var engineSetups = []engineSetup{
	{"bitbang", false, false},
	{"burst", true, false},
	{"burst-exact", true, true},
}

func newEngine(s engineSetup) (*netdap.Engine, *swdsim.Target) {
	target := swdsim.New(testIDCode)
	target.ExactBursts = s.exact

	if s.burst {
		return netdap.NewSWDEngine(target, target), target
	}

	return netdap.NewSWDEngine(target, nil), target
}

func forEachEngine(t *testing.T, f func(c *qt.C, e *netdap.Engine, target *swdsim.Target)) {
	c := qt.New(t)

	for _, s := range engineSetups {
		s := s
		c.Run(s.name, func(c *qt.C) {
			e, target := newEngine(s)
			f(c, e, target)
			c.Assert(target.Contentions(), qt.Equals, 0)
		})
	}
}

func dpRead(addr uint8) netdap.Request {
	return netdap.Request{RnW: true, Addr: addr}
}

func TestTransferReadIDCode(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		ack, data := e.Transfer(dpRead(0x00))

		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(data, qt.Equals, uint32(testIDCode))
	})
}

func TestTransferWriteAndPostedRead(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		target.AP[0xfc] = 0x24770011

		ack, _ := e.Transfer(netdap.Request{Addr: 0x08, Data: 0xf0})
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(target.Select, qt.Equals, uint32(0xf0))

		ack, _ = e.Transfer(netdap.Request{APnDP: true, RnW: true, Addr: 0x0c})
		c.Assert(ack, qt.Equals, netdap.AckOK)

		ack, data := e.Transfer(dpRead(0x0c))
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(data, qt.Equals, uint32(0x24770011))
		c.Assert(target.ParityErrors(), qt.Equals, 0)
	})
}

func TestTransferWriteParity(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		for _, v := range []uint32{0, 1, 0x80000000, 0xffffffff, 0x12345678} {
			ack, _ := e.Transfer(netdap.Request{APnDP: true, Addr: 0x04, Data: v})
			c.Assert(ack, qt.Equals, netdap.AckOK)
			c.Assert(target.AP[0x04], qt.Equals, v)
		}

		c.Assert(target.ParityErrors(), qt.Equals, 0)
	})
}

func TestTransferBadParity(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		target.BadParity = true

		ack, _ := e.Transfer(dpRead(0x00))
		c.Assert(ack, qt.Equals, netdap.AckProtocolError)

		target.BadParity = false

		ack, data := e.Transfer(dpRead(0x00))
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(data, qt.Equals, uint32(testIDCode))
	})
}

func TestTransferWaitRetried(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		// the 100th attempt is the last one
		target.Respond = swdsim.WaitTimes(99)

		ack, data := e.Transfer(dpRead(0x00))
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(data, qt.Equals, uint32(testIDCode))

		target.Respond = swdsim.WaitTimes(100)

		ack, _ = e.Transfer(netdap.Request{Addr: 0x04, Data: 0x50000000})
		c.Assert(ack, qt.Equals, netdap.AckProtocolError)
		c.Assert(target.CtrlStat, qt.Equals, uint32(0))

		ack, _ = e.Transfer(netdap.Request{Addr: 0x04, Data: 0x50000000})
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(target.CtrlStat, qt.Equals, uint32(0xf0000000))
	})
}

func TestTransferWaitWithDataPhase(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		e.SetDataPhase(true)
		target.Respond = swdsim.WaitTimes(2)

		ack, _ := e.Transfer(netdap.Request{Addr: 0x08, Data: 0x01000000})
		c.Assert(ack, qt.Equals, netdap.AckOK)

		target.Respond = swdsim.WaitTimes(2)

		ack, data := e.Transfer(dpRead(0x08))
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(data, qt.Equals, uint32(0x01000000))
	})
}

func TestDataPhaseAfterWait(t *testing.T) {
	c := qt.New(t)

	cycles := func(s engineSetup, dataPhase bool, req netdap.Request) int {
		e, target := newEngine(s)
		e.SetDataPhase(dataPhase)
		target.Respond = swdsim.WaitTimes(1)

		ack, _ := e.Transfer(req)
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(target.Contentions(), qt.Equals, 0)

		return target.Cycles()
	}

	for _, s := range engineSetups {
		for _, req := range []netdap.Request{dpRead(0x00), {Addr: 0x08, Data: 0xf0}} {
			without := cycles(s, false, req)
			with := cycles(s, true, req)

			c.Check(with-without, qt.Equals, 33, qt.Commentf("%s %s", s.name, req))
		}
	}
}

func TestTransferFaultBound(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		target.Respond = func(swdsim.Access) uint8 { return swdsim.AckFault }

		ack, _ := e.Transfer(dpRead(0x04))
		c.Assert(ack, qt.Equals, netdap.AckProtocolError)
	})
}

func TestTransferSilentTarget(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		target.Respond = func(swdsim.Access) uint8 { return swdsim.AckNone }

		ack, _ := e.Transfer(dpRead(0x00))
		c.Assert(ack, qt.Equals, netdap.AckProtocolError)

		ack, _ = e.Transfer(netdap.Request{Addr: 0x08, Data: 0xf0})
		c.Assert(ack, qt.Equals, netdap.AckProtocolError)

		target.Respond = nil

		ack, data := e.Transfer(dpRead(0x00))
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(data, qt.Equals, uint32(testIDCode))
		c.Assert(target.HeaderErrors(), qt.Equals, 0)
	})
}

func TestTransferTurnaround(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		target.Turnaround = 3

		ack, _ := e.Transfer(netdap.Request{Addr: 0x08, Data: 0xf0, Turnaround: 3})
		c.Assert(ack, qt.Equals, netdap.AckOK)

		ack, data := e.Transfer(netdap.Request{RnW: true, Addr: 0x08, Turnaround: 3, IdleCycles: 8})
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(data, qt.Equals, uint32(0xf0))
	})
}

func TestEncodingsClockSameCycles(t *testing.T) {
	c := qt.New(t)

	run := func(s engineSetup) int {
		e, target := newEngine(s)
		target.Respond = swdsim.WaitTimes(3)

		e.Transfer(dpRead(0x00))
		e.Transfer(netdap.Request{Addr: 0x08, Data: 0xf0, IdleCycles: 2})
		e.Transfer(netdap.Request{APnDP: true, RnW: true, Addr: 0x0c})
		e.Sequence(netdap.Sequence{Count: 51, Out: 1<<51 - 1})

		return target.Cycles()
	}

	bitbang := run(engineSetups[0])
	c.Assert(run(engineSetups[2]), qt.Equals, bitbang)
	// one padding bit per write data phase
	c.Assert(run(engineSetups[1]), qt.Equals, bitbang+1)
}

func TestSequenceCaptureIdempotent(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		first := e.Sequence(netdap.Sequence{Count: 40, Capture: true})
		second := e.Sequence(netdap.Sequence{Count: 40, Capture: true})

		c.Assert(first, qt.Equals, uint64(1<<40-1))
		c.Assert(second, qt.Equals, first)
	})
}

func TestSequenceOutputReturnsNothing(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		c.Assert(e.Sequence(netdap.Sequence{Count: 8, Out: 0xff}), qt.Equals, uint64(0))
		c.Assert(e.Sequence(netdap.Sequence{Count: 0, Capture: true}), qt.Equals, uint64(0))
		c.Assert(e.Sequence(netdap.Sequence{Count: 65, Capture: true}), qt.Equals, uint64(0))
	})
}

func TestLineReset(t *testing.T) {
	forEachEngine(t, func(c *qt.C, e *netdap.Engine, target *swdsim.Target) {
		e.Sequence(netdap.Sequence{Count: 51, Out: 1<<51 - 1})
		c.Assert(target.LineResets(), qt.Equals, 1)
		c.Assert(target.InLineReset(), qt.IsTrue)

		e.Sequence(netdap.Sequence{Count: 8})
		c.Assert(target.InLineReset(), qt.IsFalse)

		ack, data := e.Transfer(dpRead(0x00))
		c.Assert(ack, qt.Equals, netdap.AckOK)
		c.Assert(data, qt.Equals, uint32(testIDCode))
	})
}

func TestRequestString(t *testing.T) {
	c := qt.New(t)

	c.Assert(netdap.Request{APnDP: true, RnW: true, Addr: 0x0c}.String(), qt.Equals, "AP read 0xc")
	c.Assert(netdap.Request{Addr: 0x04}.String(), qt.Equals, "DP write 0x4")
	c.Assert(netdap.AckWait.String(), qt.Equals, "WAIT")
	c.Assert((netdap.AckOK | netdap.AckMismatch).String(), qt.Equals, "MISMATCH")
}
