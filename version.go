// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"github.com/boljen/go-bitmap"
)

func (p *Processor) capabilities() byte {
	var flags bitmap.Bitmap = bitmap.New(8)

	flags.Set(capSWD, true)
	flags.Set(capJTAG, true)
	flags.Set(capAtomicCommands, true)
	flags.Set(capTestDomainTime, true)

	if p.trace != nil {
		flags.Set(capSWOUART, true)
		flags.Set(capSWOStreaming, true)
	}

	return flags[0]
}

func writeInfoString(resp *Buffer, value string) {
	if value == "" {
		return
	}

	resp.Write([]byte(value))
	resp.WriteByte(0)
}

func (p *Processor) dapInfo(req *request, resp *Buffer) {
	id := req.ReadByte()

	lengthPos := resp.Len()
	resp.WriteByte(0)

	switch id {
	case infoVendor:
		writeInfoString(resp, p.config.Vendor)

	case infoProduct:
		writeInfoString(resp, p.config.Product)

	case infoSerial:
		writeInfoString(resp, p.config.Serial)

	case infoFirmwareVersion:
		writeInfoString(resp, p.config.FirmwareVersion)

	case infoTargetVendor:
		writeInfoString(resp, p.config.TargetVendor)

	case infoTargetName:
		writeInfoString(resp, p.config.TargetName)

	case infoBoardVendor:
		writeInfoString(resp, p.config.BoardVendor)

	case infoBoardName:
		writeInfoString(resp, p.config.BoardName)

	case infoProductFirmware:
		writeInfoString(resp, p.config.ProductFirmware)

	case infoCapabilities:
		resp.WriteByte(p.capabilities())

	case infoTestDomainTimer:
		resp.WriteUint32LE(timestampClockHz)

	case infoSWOBufferSize:
		if p.trace != nil {
			resp.WriteUint32LE(uint32(p.trace.Size()))
		}

	case infoPacketCount:
		resp.WriteByte(byte(p.config.PacketCount))

	case infoPacketSize:
		resp.WriteUint16LE(uint16(p.config.PacketSize))

	default:
		logger.Debugf("unsupported dap info id 0x%02x", id)
	}

	resp.SetByte(lengthPos, byte(resp.Len()-lengthPos-1))
}
