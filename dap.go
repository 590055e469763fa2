// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"sync/atomic"
	"time"
)

type Config struct {
	PacketSize   int
	PacketCount  int
	DefaultPort  Port
	DefaultClock uint32

	Vendor          string
	Product         string
	Serial          string
	FirmwareVersion string
	TargetVendor    string
	TargetName      string
	BoardVendor     string
	BoardName       string
	ProductFirmware string
}

func DefaultConfig() Config {
	return Config{
		PacketSize:      DefaultPacketSize,
		PacketCount:     DefaultPacketCount,
		DefaultPort:     PortSWD,
		DefaultClock:    DefaultClockHz,
		Vendor:          "windowsair",
		Product:         "Wireless ESP CMSIS-DAP",
		Serial:          "1234",
		FirmwareVersion: "2.1.0",
		BoardVendor:     "windowsair",
		BoardName:       "ESP wireless DAP",
		ProductFirmware: "2.1.0",
	}
}

type Option func(p *Processor)

// WithShifter routes SWD packets through a hardware shift register instead
// of bit-banging them.
func WithShifter(shifter Shifter) Option {
	return func(p *Processor) {
		p.shifter = shifter
	}
}

func WithTrace(trace *Trace) Option {
	return func(p *Processor) {
		p.trace = trace
	}
}

type transferConfig struct {
	idleCycles uint8
	matchRetry uint16
	matchMask  uint32
}

// transferPort is the debug port DAP_Transfer talks to.
type transferPort interface {
	Transfer(req Request) (Ack, uint32)
	posted(req Request) bool
}

// Processor interprets DAP commands. It owns all protocol state of one
// probe and must only be used from one goroutine at a time.
type Processor struct {
	config Config
	pins   PinDriver

	bang    *bitBang
	shifter Shifter
	swd     Engine
	jtag    *jtag

	port       Port
	transfer   transferConfig
	turnaround int
	clock      uint32

	abort atomic.Bool
	trace *Trace
	epoch time.Time
}

func NewProcessor(pins PinDriver, config Config, options ...Option) *Processor {
	if config.PacketSize <= 0 {
		config.PacketSize = DefaultPacketSize
	}
	if config.PacketCount <= 0 {
		config.PacketCount = DefaultPacketCount
	}
	if config.DefaultClock == 0 {
		config.DefaultClock = DefaultClockHz
	}

	p := &Processor{
		config: config,
		pins:   pins,
		epoch:  time.Now(),
	}

	p.bang = newBitBang(pins)
	p.jtag = newJTAG(p.bang)

	for _, option := range options {
		option(p)
	}

	if p.shifter != nil {
		p.swd.setPhy(newBurst(pins, p.shifter))
	} else {
		p.swd.setPhy(p.bang)
	}

	p.Reset()

	return p
}

// Reset restores the power-on protocol state and releases the debug port.
func (p *Processor) Reset() {
	p.portOff()

	p.transfer = transferConfig{
		matchMask: 0xFFFFFFFF,
	}
	p.turnaround = 1
	p.swd.dataPhase = false
	p.jtag.chain.configure([]int{4})
	p.jtag.invalidateIR()

	if err := p.setClock(p.config.DefaultClock); err != nil {
		logger.Warn(err)
	}

	if p.trace != nil {
		p.trace.reset()
	}

	p.abort.Store(false)
}

// Abort stops the transfer command currently running at its next request.
// It is safe to call from any goroutine.
func (p *Processor) Abort() {
	p.abort.Store(true)
}

func (p *Processor) PacketSize() int {
	return p.config.PacketSize
}

func (p *Processor) PacketCount() int {
	return p.config.PacketCount
}

func (p *Processor) Port() Port {
	return p.port
}

func (p *Processor) Trace() *Trace {
	return p.trace
}

func (p *Processor) timestamp() uint32 {
	return uint32(time.Since(p.epoch) / (time.Second / timestampClockHz))
}

type handlerFunc func(p *Processor, req *request, resp *Buffer)

var handlers = [...]handlerFunc{
	cmdInfo:              (*Processor).dapInfo,
	cmdHostStatus:        (*Processor).dapHostStatus,
	cmdConnect:           (*Processor).dapConnect,
	cmdDisconnect:        (*Processor).dapDisconnect,
	cmdTransferConfigure: (*Processor).dapTransferConfigure,
	cmdTransfer:          (*Processor).dapTransfer,
	cmdTransferBlock:     (*Processor).dapTransferBlock,
	cmdTransferAbort:     (*Processor).dapTransferAbort,
	cmdWriteAbort:        (*Processor).dapWriteAbort,
	cmdDelay:             (*Processor).dapDelay,
	cmdResetTarget:       (*Processor).dapResetTarget,
	cmdSWJPins:           (*Processor).dapSWJPins,
	cmdSWJClock:          (*Processor).dapSWJClock,
	cmdSWJSequence:       (*Processor).dapSWJSequence,
	cmdSWDConfigure:      (*Processor).dapSWDConfigure,
	cmdJTAGSequence:      (*Processor).dapJTAGSequence,
	cmdJTAGConfigure:     (*Processor).dapJTAGConfigure,
	cmdJTAGIDCode:        (*Processor).dapJTAGIDCode,
	cmdSWOTransport:      (*Processor).dapSWOTransport,
	cmdSWOMode:           (*Processor).dapSWOMode,
	cmdSWOBaudrate:       (*Processor).dapSWOBaudrate,
	cmdSWOControl:        (*Processor).dapSWOControl,
	cmdSWOStatus:         (*Processor).dapSWOStatus,
	cmdSWOData:           (*Processor).dapSWOData,
	cmdSWDSequence:       (*Processor).dapSWDSequence,
	cmdSWOExtendedStatus: (*Processor).dapSWOExtendedStatus,
}

// ProcessCommand runs the single command at the start of request and
// returns the number of request bytes it used and the response length.
func (p *Processor) ProcessCommand(request []byte, response []byte) (int, int) {
	if len(request) == 0 || len(response) == 0 {
		return 0, 0
	}

	id := request[0]
	resp := NewBuffer(response)

	if int(id) >= len(handlers) || handlers[id] == nil {
		logger.Debugf("unknown dap command 0x%02x", id)
		resp.WriteByte(cmdInvalid)

		return 1, 1
	}

	req := newRequest(request[1:])
	resp.WriteByte(id)

	handlers[id](p, req, resp)

	if req.short {
		logger.Debugf("dap command 0x%02x: request shorter than its arguments", id)
	}

	return 1 + req.Consumed(), resp.Len()
}

// ExecuteCommand runs one command, or every command of a DAP_ExecuteCommands
// batch, and returns request and response lengths.
func (p *Processor) ExecuteCommand(request []byte, response []byte) (int, int) {
	if len(request) < 2 || request[0] != cmdExecuteCommands || len(response) < 2 {
		return p.ProcessCommand(request, response)
	}

	count := int(request[1])
	response[0] = cmdExecuteCommands

	in, out, executed := 2, 2, 0
	for ; executed < count; executed++ {
		if in >= len(request) {
			break
		}

		n, m := p.ProcessCommand(request[in:], response[out:])
		if n == 0 {
			break
		}

		in += n
		out += m
	}

	response[1] = byte(executed)

	return in, out
}

// Process runs one Command Frame and returns the response length.
func (p *Processor) Process(request []byte, response []byte) int {
	_, n := p.ExecuteCommand(request, response)

	return n
}

func (p *Processor) request(b uint8, data uint32) Request {
	return Request{
		APnDP:      b&transferAPnDP != 0,
		RnW:        b&transferRnW != 0,
		Addr:       b & (transferA2 | transferA3),
		Data:       data,
		IdleCycles: int(p.transfer.idleCycles),
		Turnaround: p.turnaround,
	}
}

func (p *Processor) rdbuff() Request {
	return p.request(transferRnW|dpRdBuff, 0)
}

func (p *Processor) activePort(index uint8) transferPort {
	switch p.port {
	case PortSWD:
		return &p.swd

	case PortJTAG:
		if p.jtag.selectDevice(int(index)) {
			return p.jtag
		}
	}

	return nil
}

// ReadIDCode resets the SWD line and reads DP IDCODE. It is meant for host
// side checks and must not run while a pipeline worker owns the processor.
func (p *Processor) ReadIDCode() (uint32, error) {
	if p.port == PortDisabled {
		p.setupSWD()
		p.port = PortSWD
	}

	if p.port == PortJTAG {
		return p.jtag.readIDCode(), nil
	}

	p.swd.Sequence(Sequence{Count: 51, Out: lowBits(51)})
	p.swd.Sequence(Sequence{Count: 16, Out: 0xE79E})
	p.swd.Sequence(Sequence{Count: 51, Out: lowBits(51)})
	p.swd.Sequence(Sequence{Count: 8})

	ack, data := p.swd.Transfer(p.request(transferRnW|dpIDCode, 0))
	if err := ackError(ack); err != nil {
		return 0, err
	}

	return data, nil
}
