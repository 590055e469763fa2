// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import "fmt"

// Ack is the acknowledge of one debug port transaction, encoded the way
// DAP_Transfer reports it.
type Ack uint8

const (
	AckOK            Ack = 0x01
	AckWait          Ack = 0x02
	AckFault         Ack = 0x04
	AckProtocolError Ack = 0x08
	AckMismatch      Ack = 0x10
)

func (a Ack) String() string {
	switch a {
	case AckOK:
		return "OK"
	case AckWait:
		return "WAIT"
	case AckFault:
		return "FAULT"
	case AckProtocolError:
		return "PROTOCOL_ERROR"
	default:
		if a&AckMismatch != 0 {
			return "MISMATCH"
		}
		return fmt.Sprintf("ack(0x%x)", uint8(a))
	}
}

// Request is one debug port access. It is consumed by a single Transfer.
type Request struct {
	APnDP bool
	RnW   bool
	// Addr holds the register address; only A[3:2] go on the wire.
	Addr uint8
	Data uint32

	IdleCycles int
	Turnaround int
}

// bits returns APnDP, RnW, A2 and A3 in DAP_Transfer request order.
func (r Request) bits() uint8 {
	var req uint8

	if r.APnDP {
		req |= transferAPnDP
	}
	if r.RnW {
		req |= transferRnW
	}

	return req | (r.Addr & 0x0c)
}

// header is the 8 bit packet request: start, APnDP, RnW, A2, A3, parity,
// stop and park.
func (r Request) header() uint8 {
	req := r.bits()

	return 0x81 | req<<1 | parity4(req)<<5
}

func (r Request) String() string {
	port, dir := "DP", "write"
	if r.APnDP {
		port = "AP"
	}
	if r.RnW {
		dir = "read"
	}

	return fmt.Sprintf("%s %s 0x%x", port, dir, r.Addr&0x0c)
}

// Sequence is a raw bit sequence of 1 to 64 bits.
type Sequence struct {
	Count    int
	Out      uint64
	Capture  bool
	MSBFirst bool
}

// Engine encodes SWD transactions on top of a bit transport.
type Engine struct {
	phy       phy
	dataPhase bool
}

func (e *Engine) setPhy(p phy) {
	e.phy = p
}

// Transfer runs one transaction and retries it while the target answers
// WAIT or FAULT, giving up with AckProtocolError after the retry bound.
func (e *Engine) Transfer(req Request) (Ack, uint32) {
	for retry := 0; retry <= swdWaitRetries; retry++ {
		ack, data := e.transferOnce(req)

		if ack != AckWait && ack != AckFault {
			return ack, data
		}
	}

	logger.Debugf("%s: retry bound exceeded", req)

	return AckProtocolError, 0
}

func (e *Engine) transferOnce(req Request) (Ack, uint32) {
	trn := req.Turnaround
	if trn < 1 {
		trn = 1
	}

	if req.RnW {
		ack := Ack(e.phy.header(req.header(), trn, 0))

		switch ack {
		case AckOK:
			data, parity := e.phy.readData(trn)
			if parity != parity32(data) {
				ack = AckProtocolError
			}

			e.phy.idle(req.IdleCycles)
			e.phy.drive(true)

			return ack, data

		case AckWait, AckFault:
			if e.dataPhase {
				e.phy.release(33)
			}
			e.phy.release(trn)
			e.phy.drive(true)

			return ack, 0

		default:
			e.phy.release(trn + 33)
			e.phy.drive(true)

			return AckProtocolError, 0
		}
	}

	ack := Ack(e.phy.header(req.header(), trn, trn))

	switch ack {
	case AckOK:
		e.phy.writeData(req.Data, parity32(req.Data))
		e.phy.idle(req.IdleCycles)
		e.phy.drive(true)

		return ack, 0

	case AckWait, AckFault:
		if e.dataPhase {
			e.phy.idle(33)
		}
		e.phy.drive(true)

		return ack, 0

	default:
		// the turnaround was already clocked with the ack
		e.phy.release(33)
		e.phy.drive(true)

		return AckProtocolError, 0
	}
}

// Sequence clocks a raw bit sequence. Captured bits are returned in the
// requested bit order; nothing is returned when Capture is false.
func (e *Engine) Sequence(seq Sequence) uint64 {
	count := seq.Count
	if count < 1 || count > sequenceMaxBits {
		return 0
	}

	if !seq.Capture {
		out := seq.Out & lowBits(count)
		if seq.MSBFirst {
			out = reverseBits(out, count)
		}

		e.phy.sequence(count, out)

		return 0
	}

	in := e.phy.capture(count) & lowBits(count)
	if seq.MSBFirst {
		in = reverseBits(in, count)
	}

	return in
}

// posted reports whether the read result arrives with the next access. SWD
// only posts AP reads.
func (e *Engine) posted(req Request) bool {
	return req.APnDP
}
