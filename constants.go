// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// command ids and payload layouts follow the CMSIS-DAP v2 command set
// for detailed information see

// https://arm-software.github.io/CMSIS_5/DAP/html/group__DAP__Commands__gr.html

package netdap

type Port uint8 // debug port selected by DAP_Connect

const (
	PortDisabled Port = 0
	PortSWD      Port = 1
	PortJTAG     Port = 2
)

func (p Port) String() string {
	switch p {
	case PortSWD:
		return "SWD"
	case PortJTAG:
		return "JTAG"
	default:
		return "disabled"
	}
}

// DAP command ids
const (
	cmdInfo               = 0x00
	cmdHostStatus         = 0x01
	cmdConnect            = 0x02
	cmdDisconnect         = 0x03
	cmdTransferConfigure  = 0x04
	cmdTransfer           = 0x05
	cmdTransferBlock      = 0x06
	cmdTransferAbort      = 0x07
	cmdWriteAbort         = 0x08
	cmdDelay              = 0x09
	cmdResetTarget        = 0x0A
	cmdSWJPins            = 0x10
	cmdSWJClock           = 0x11
	cmdSWJSequence        = 0x12
	cmdSWDConfigure       = 0x13
	cmdJTAGSequence       = 0x14
	cmdJTAGConfigure      = 0x15
	cmdJTAGIDCode         = 0x16
	cmdSWOTransport       = 0x17
	cmdSWOMode            = 0x18
	cmdSWOBaudrate        = 0x19
	cmdSWOControl         = 0x1A
	cmdSWOStatus          = 0x1B
	cmdSWOData            = 0x1C
	cmdSWDSequence        = 0x1D
	cmdSWOExtendedStatus  = 0x1E
	cmdQueueCommands      = 0x7E
	cmdExecuteCommands    = 0x7F
	cmdInvalid            = 0xFF
	CommandTransferAbort  = cmdTransferAbort
	CommandQueueCommands  = cmdQueueCommands
	CommandExecuteCommand = cmdExecuteCommands
)

// DAP status bytes
const (
	dapOK    = 0x00
	dapError = 0xFF
)

// DAP_Info ids
const (
	infoVendor          = 0x01
	infoProduct         = 0x02
	infoSerial          = 0x03
	infoFirmwareVersion = 0x04
	infoTargetVendor    = 0x05
	infoTargetName      = 0x06
	infoBoardVendor     = 0x07
	infoBoardName       = 0x08
	infoProductFirmware = 0x09
	infoCapabilities    = 0xF0
	infoTestDomainTimer = 0xF1
	infoUARTRxBuffer    = 0xFB
	infoUARTTxBuffer    = 0xFC
	infoSWOBufferSize   = 0xFD
	infoPacketCount     = 0xFE
	infoPacketSize      = 0xFF
)

// capability bits reported by DAP_Info 0xF0
const (
	capSWD            = 0
	capJTAG           = 1
	capSWOUART        = 2
	capSWOManchester  = 3
	capAtomicCommands = 4
	capTestDomainTime = 5
	capSWOStreaming   = 6
	capUART           = 7
)

// transfer request bits
const (
	transferAPnDP      = 1 << 0
	transferRnW        = 1 << 1
	transferA2         = 1 << 2
	transferA3         = 1 << 3
	transferMatchValue = 1 << 4
	transferMatchMask  = 1 << 5
	transferTimestamp  = 1 << 7
)

// debug port registers
const (
	dpIDCode   = 0x00
	dpAbort    = 0x00
	dpCtrlStat = 0x04
	dpSelect   = 0x08
	dpRdBuff   = 0x0C
)

// SWJ_Pins bit positions
const (
	swjPinSWCLK  = 0
	swjPinSWDIO  = 1
	swjPinTDI    = 2
	swjPinTDO    = 3
	swjPinNTRST  = 5
	swjPinNRESET = 7
)

// JTAG instructions of an ARM debug port
const (
	jtagAbort  = 0x08
	jtagDPACC  = 0x0A
	jtagAPACC  = 0x0B
	jtagIDCode = 0x0E
	jtagBypass = 0x0F

	maxJTAGDevices = 8
)

// SWO trace settings
const (
	swoTransportNone     = 0
	swoTransportCommand  = 1
	swoTransportEndpoint = 2

	swoModeOff  = 0
	swoModeUART = 1

	swoControlStop  = 0
	swoControlStart = 1

	swoStatusActive  = 0
	swoStatusError   = 6
	swoStatusOverrun = 7
)

const (
	DefaultPacketSize  = 512
	HIDPacketSize      = 255
	DefaultPacketCount = 20
	DefaultClockHz     = 1000000
	timestampClockHz   = 5000000

	swdWaitRetries  = 99
	sequenceMaxBits = 64
)
