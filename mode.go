// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

// setupSWD drives SWCLK and SWDIO high and releases the JTAG only lines.
func (p *Processor) setupSWD() {
	p.pins.SetOutput(PinSWCLK, true)
	p.pins.SetPin(PinSWCLK, true)
	p.pins.SetOutput(PinSWDIO, true)
	p.pins.SetPin(PinSWDIO, true)
	p.pins.SetOutput(PinTDI, false)
	p.pins.SetOutput(PinNTRST, false)
	p.pins.SetPin(PinNRESET, true)
}

func (p *Processor) setupJTAG() {
	p.pins.SetOutput(PinTCK, true)
	p.pins.SetPin(PinTCK, true)
	p.pins.SetOutput(PinTMS, true)
	p.pins.SetPin(PinTMS, true)
	p.pins.SetOutput(PinTDI, true)
	p.pins.SetPin(PinTDI, true)
	p.pins.SetOutput(PinTDO, false)
	p.pins.SetOutput(PinNTRST, true)
	p.pins.SetPin(PinNTRST, true)
	p.pins.SetPin(PinNRESET, true)

	p.jtag.invalidateIR()
}

func (p *Processor) portOff() {
	for _, pin := range []Pin{PinSWCLK, PinSWDIO, PinTDI, PinTDO, PinNTRST} {
		p.pins.SetOutput(pin, false)
	}

	p.pins.SetPin(PinLEDConnected, false)
	p.port = PortDisabled
}

func (p *Processor) dapConnect(req *request, resp *Buffer) {
	port := Port(req.ReadByte())

	if port == PortDisabled {
		port = p.config.DefaultPort
	}

	switch port {
	case PortSWD:
		p.setupSWD()

	case PortJTAG:
		p.setupJTAG()

	default:
		logger.Debugf("connect: unsupported port %d", port)
		port = PortDisabled
	}

	if port != PortDisabled {
		p.port = port
		p.pins.SetPin(PinLEDConnected, true)
		logger.Debugf("connected %s port", port)
	}

	resp.WriteByte(byte(port))
}

func (p *Processor) dapDisconnect(req *request, resp *Buffer) {
	p.portOff()

	resp.WriteByte(dapOK)
}

func (p *Processor) dapSWDConfigure(req *request, resp *Buffer) {
	cfg := req.ReadByte()

	p.turnaround = int(cfg&0x03) + 1
	p.swd.dataPhase = cfg&0x04 != 0

	resp.WriteByte(dapOK)
}

func (p *Processor) dapTransferConfigure(req *request, resp *Buffer) {
	p.transfer.idleCycles = req.ReadByte()
	// WAIT retries use the fixed bound of the engine
	req.ReadUint16LE()
	p.transfer.matchRetry = req.ReadUint16LE()

	resp.WriteByte(dapOK)
}

func (p *Processor) dapSWJClock(req *request, resp *Buffer) {
	hz := req.ReadUint32LE()

	if err := p.setClock(hz); err != nil {
		logger.Debug(err)
		resp.WriteByte(dapError)
		return
	}

	resp.WriteByte(dapOK)
}
