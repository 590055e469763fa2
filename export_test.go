// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

// NewSWDEngine returns an engine on a bare transport, bit-banged when
// shifter is nil.
func NewSWDEngine(pins PinDriver, shifter Shifter) *Engine {
	e := &Engine{}

	if shifter != nil {
		e.setPhy(newBurst(pins, shifter))
	} else {
		e.setPhy(newBitBang(pins))
	}

	return e
}

func (e *Engine) SetDataPhase(on bool) {
	e.dataPhase = on
}
