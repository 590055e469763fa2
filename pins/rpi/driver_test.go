// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package rpi

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/bbnote/netdap"
)

func TestParsePinoutDefault(t *testing.T) {
	c := qt.New(t)

	pinout, err := ParsePinout("")
	c.Assert(err, qt.IsNil)
	c.Assert(pinout, qt.Equals, DefaultPinout)
}

func TestParsePinoutOverrides(t *testing.T) {
	c := qt.New(t)

	pinout, err := ParsePinout("swclk=11, TMS=9,run=-")
	c.Assert(err, qt.IsNil)

	c.Assert(pinout[netdap.PinSWCLK], qt.Equals, rpio.Pin(11))
	c.Assert(pinout[netdap.PinSWDIO], qt.Equals, rpio.Pin(9))
	c.Assert(pinout[netdap.PinLEDRunning], qt.Equals, Unused)
	c.Assert(pinout[netdap.PinTDO], qt.Equals, DefaultPinout[netdap.PinTDO])
}

func TestParsePinoutErrors(t *testing.T) {
	c := qt.New(t)

	_, err := ParsePinout("swclk")
	c.Assert(err, qt.ErrorMatches, "gpio mapping 'swclk' is not name=number")

	_, err = ParsePinout("trace=4")
	c.Assert(err, qt.ErrorMatches, "unknown probe line 'trace'")

	_, err = ParsePinout("tdi=40")
	c.Assert(err, qt.ErrorMatches, "invalid gpio number '40' for TDI")
}
