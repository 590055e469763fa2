// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"fmt"
	"math"
	"time"
)

/* shift register clock, 80 MHz base clock divided */
type speedMap struct {
	hz      uint32
	divisor int
}

var shifterSpeedMap = [...]speedMap{
	{40000000, 2},
	{20000000, 4},
	{10000000, 8},
	{5000000, 16},
	{2000000, 40},
	{1000000, 80}, /* default */
	{500000, 160},
	{200000, 400},
	{100000, 800},
	{50000, 1600},
}

// at or above this rate the bit-banged transport runs without delays
const fastClockHz = 10000000

// matchSpeedMap returns the index of the fastest entry not above hz. When no
// entry is slow enough the slowest one is used and an error describes the
// substitution.
func matchSpeedMap(smap []speedMap, hz uint32) (int, error) {
	var lastValid = -1
	var index = -1
	var bestDiff uint32 = math.MaxUint32

	for i, s := range smap {
		if s.hz == 0 {
			continue
		}

		lastValid = i
		if hz == s.hz {
			return i, nil
		}

		if hz > s.hz && hz-s.hz < bestDiff {
			bestDiff = hz - s.hz
			index = i
		}
	}

	if index == -1 {
		if lastValid == -1 {
			return -1, NewProtocolError("empty speed map", ErrorClock)
		}

		return lastValid, NewProtocolError(fmt.Sprintf("unable to match requested speed %d Hz, using %d Hz",
			hz, smap[lastValid].hz), ErrorClock)
	}

	return index, nil
}

// halfPeriod returns the bit-bang delay for one clock phase.
func halfPeriod(hz uint32) time.Duration {
	if hz >= fastClockHz {
		return 0
	}

	return time.Second / time.Duration(2*hz)
}

// setClock programs both transports for hz.
func (p *Processor) setClock(hz uint32) error {
	if hz == 0 {
		return NewProtocolError("clock rate of 0 Hz requested", ErrorClock)
	}

	p.clock = hz
	p.bang.delay = halfPeriod(hz)

	if p.shifter != nil {
		index, err := matchSpeedMap(shifterSpeedMap[:], hz)
		if index < 0 {
			return err
		}

		if err != nil {
			logger.Debug(err)
		}

		p.shifter.SetClockDivisor(shifterSpeedMap[index].divisor)
		logger.Debugf("swj clock %d Hz, shifter divisor %d", hz, shifterSpeedMap[index].divisor)
	} else {
		logger.Debugf("swj clock %d Hz, half period %v", hz, p.bang.delay)
	}

	return nil
}
