// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package rpi drives the debug lines from Raspberry Pi GPIOs.
package rpi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/bbnote/netdap"
)

// Unused marks a line that is not wired.
const Unused = rpio.Pin(0xFF)

// Pinout maps every probe line to a BCM GPIO number.
type Pinout [netdap.PinLEDRunning + 1]rpio.Pin

var DefaultPinout = Pinout{
	netdap.PinSWCLK:        25,
	netdap.PinSWDIO:        24,
	netdap.PinTDI:          23,
	netdap.PinTDO:          22,
	netdap.PinNTRST:        27,
	netdap.PinNRESET:       18,
	netdap.PinLEDConnected: 17,
	netdap.PinLEDRunning:   4,
}

var pinKeys = map[string]netdap.Pin{
	"swclk": netdap.PinSWCLK,
	"tck":   netdap.PinTCK,
	"swdio": netdap.PinSWDIO,
	"tms":   netdap.PinTMS,
	"tdi":   netdap.PinTDI,
	"tdo":   netdap.PinTDO,
	"ntrst": netdap.PinNTRST,
	"reset": netdap.PinNRESET,
	"led":   netdap.PinLEDConnected,
	"run":   netdap.PinLEDRunning,
}

// ParsePinout overrides DefaultPinout with a list like "swclk=11,swdio=9,run=-".
// A dash leaves the line unconnected.
func ParsePinout(s string) (Pinout, error) {
	pinout := DefaultPinout

	if strings.TrimSpace(s) == "" {
		return pinout, nil
	}

	for _, field := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(field), "=", 2)
		if len(kv) != 2 {
			return pinout, fmt.Errorf("gpio mapping '%s' is not name=number", field)
		}

		pin, ok := pinKeys[strings.ToLower(kv[0])]
		if !ok {
			return pinout, fmt.Errorf("unknown probe line '%s'", kv[0])
		}

		if kv[1] == "-" {
			pinout[pin] = Unused
			continue
		}

		n, err := strconv.ParseUint(kv[1], 10, 8)
		if err != nil || n > 27 {
			return pinout, fmt.Errorf("invalid gpio number '%s' for %s", kv[1], pin)
		}

		pinout[pin] = rpio.Pin(n)
	}

	return pinout, nil
}

// Driver implements netdap.PinDriver on top of the memory mapped GPIO block.
type Driver struct {
	pins Pinout
}

// Open maps the GPIO registers and parks every line as an input with pull-up,
// except the LEDs which start as low outputs.
func Open(pins Pinout) (*Driver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: %w", err)
	}

	d := &Driver{pins: pins}

	for p, gpio := range pins {
		if gpio == Unused {
			continue
		}

		switch netdap.Pin(p) {
		case netdap.PinLEDConnected, netdap.PinLEDRunning:
			gpio.Output()
			gpio.Low()
		default:
			gpio.Input()
			gpio.PullUp()
		}
	}

	netdap.Logger().Debugf("gpio opened, swclk=%d swdio=%d tdi=%d tdo=%d",
		pins[netdap.PinSWCLK], pins[netdap.PinSWDIO], pins[netdap.PinTDI], pins[netdap.PinTDO])

	return d, nil
}

func (d *Driver) Close() error {
	for _, gpio := range d.pins {
		if gpio != Unused {
			gpio.Input()
		}
	}

	return rpio.Close()
}

func (d *Driver) SetPin(p netdap.Pin, high bool) {
	gpio := d.pins[p]
	if gpio == Unused {
		return
	}

	if high {
		gpio.High()
	} else {
		gpio.Low()
	}
}

func (d *Driver) ReadPin(p netdap.Pin) bool {
	gpio := d.pins[p]
	if gpio == Unused {
		return true
	}

	return gpio.Read() == rpio.High
}

// SetOutput switches between push-pull output and pulled-up input.
func (d *Driver) SetOutput(p netdap.Pin, enable bool) {
	gpio := d.pins[p]
	if gpio == Unused {
		return
	}

	if enable {
		gpio.Output()
		return
	}

	gpio.Input()
	gpio.PullUp()
}
