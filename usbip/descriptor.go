// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package usbip

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/google/gousb"
)

// descriptor types
const (
	dtDevice          = 0x01
	dtConfiguration   = 0x02
	dtString          = 0x03
	dtInterface       = 0x04
	dtEndpoint        = 0x05
	dtDeviceQualifier = 0x06
	dtOtherSpeed      = 0x07
	dtInterfacePower  = 0x08
	dtBOS             = 0x0F
	dtDeviceCap       = 0x10
)

const (
	configurationSize   = 9
	interfaceSize       = 9
	endpointSize        = 7
	deviceSize          = 18
	deviceQualifierSize = 10
)

const (
	msOS20DescriptorIndex   = 7
	msOS20SetAltEnumeration = 8
	msOS20VendorCode        = 0x01
	msOS20SetHeader         = 0x00
	msOS20CompatibleID      = 0x03
	msOS20RegProperty       = 0x04
	devCapPlatform          = 0x05
)

var msOS20PlatformUUID = []byte{0xDF, 0x60, 0xDD, 0xD8, 0x89, 0x45, 0xC7, 0x4C, 0x9C, 0xD2, 0x65, 0x9D, 0x9E, 0x64, 0x8A, 0x9F}

// interface GUID every CMSIS-DAP v2 host looks for
const cmsisDAPv2GUID = "{CDB3B5AD-293B-4663-AA36-1AAE46463776}"

type Endpoint struct {
	Number    int
	Direction gousb.EndpointDirection
	Type      gousb.TransferType
	MaxPacket int
}

func (e Endpoint) Address() uint8 {
	addr := uint8(e.Number)
	if e.Direction == gousb.EndpointDirectionIn {
		addr |= 0x80
	}

	return addr
}

// Identity describes the emulated USB device.
type Identity struct {
	Vendor     gousb.ID
	Product    gousb.ID
	Release    gousb.BCD
	Class      gousb.Class
	Speed      gousb.Speed
	MaxPacket0 int
	MaxPower   int

	Manufacturer string
	ProductName  string
	Serial       string

	InterfaceClass gousb.Class
	Endpoints      []Endpoint

	BusID   string
	Path    string
	BusNum  uint32
	DevNum  uint32
	Address uint8
}

// DefaultIdentity is the vendor class CMSIS-DAP v2 device: bulk request,
// response and trace endpoints.
func DefaultIdentity() Identity {
	return Identity{
		Vendor:         0xC251,
		Product:        0xF00A,
		Release:        gousb.BCD(0x0100),
		Class:          gousb.ClassPerInterface,
		Speed:          gousb.SpeedHigh,
		MaxPacket0:     64,
		MaxPower:       250,
		Manufacturer:   "windowsair",
		ProductName:    "Wireless ESP CMSIS-DAP",
		Serial:         "1234",
		InterfaceClass: gousb.ClassVendorSpec,
		Endpoints: []Endpoint{
			{1, gousb.EndpointDirectionOut, gousb.TransferTypeBulk, 512},
			{1, gousb.EndpointDirectionIn, gousb.TransferTypeBulk, 512},
			{2, gousb.EndpointDirectionIn, gousb.TransferTypeBulk, 512},
		},
		BusID:  "1-1",
		Path:   "/sys/devices/pci0000:00/0000:00:01.2/usb1/1-1",
		BusNum: 1,
		DevNum: 1,
	}
}

func (id *Identity) DevID() uint32 {
	return id.BusNum<<16 | id.DevNum
}

func (id *Identity) Record() DeviceRecord {
	rec := DeviceRecord{
		BusNum:             id.BusNum,
		DevNum:             id.DevNum,
		Speed:              uint32(id.Speed),
		IDVendor:           uint16(id.Vendor),
		IDProduct:          uint16(id.Product),
		BCDDevice:          uint16(id.Release),
		DeviceClass:        uint8(id.Class),
		ConfigurationValue: 1,
		NumConfigurations:  1,
		NumInterfaces:      1,
	}

	rec.SetPath(id.Path)
	rec.SetBusID(id.BusID)

	return rec
}

func (id *Identity) Interfaces() []InterfaceRecord {
	return []InterfaceRecord{{Class: uint8(id.InterfaceClass)}}
}

/**
  Device descriptor. bcdUSB 2.10 announces the BOS descriptor that carries
  the Microsoft OS 2.0 platform capability, so Windows binds WinUSB without
  an inf file.
*/
func (id *Identity) DeviceDescriptor() []byte {
	d := make([]byte, deviceSize)

	d[0] = deviceSize
	d[1] = dtDevice
	binary.LittleEndian.PutUint16(d[2:], 0x0210)
	d[4] = uint8(id.Class)
	d[5] = 0
	d[6] = 0
	d[7] = uint8(id.MaxPacket0)
	binary.LittleEndian.PutUint16(d[8:], uint16(id.Vendor))
	binary.LittleEndian.PutUint16(d[10:], uint16(id.Product))
	binary.LittleEndian.PutUint16(d[12:], uint16(id.Release))
	d[14] = 1
	d[15] = 2
	d[16] = 3
	d[17] = 1

	return d
}

func (id *Identity) interfaceBlock() []byte {
	d := make([]byte, 0, interfaceSize+endpointSize*len(id.Endpoints))

	d = append(d, interfaceSize, dtInterface, 0, 0, uint8(len(id.Endpoints)), uint8(id.InterfaceClass), 0, 0, 2)

	for _, ep := range id.Endpoints {
		d = append(d, endpointSize, dtEndpoint, ep.Address(), uint8(ep.Type),
			uint8(ep.MaxPacket), uint8(ep.MaxPacket>>8), 0)
	}

	return d
}

// ConfigDescriptor returns the configuration descriptor followed by the
// interface and endpoint descriptors.
func (id *Identity) ConfigDescriptor() []byte {
	block := id.interfaceBlock()
	total := configurationSize + len(block)

	d := make([]byte, configurationSize, total)

	d[0] = configurationSize
	d[1] = dtConfiguration
	binary.LittleEndian.PutUint16(d[2:], uint16(total))
	d[4] = 1
	d[5] = 1
	d[6] = 0
	d[7] = 0x80
	d[8] = uint8(id.MaxPower)

	return append(d, block...)
}

func (id *Identity) strings() []string {
	return []string{"", id.Manufacturer, id.ProductName, id.Serial}
}

// StringDescriptor returns string index as UTF-16LE. Index 0 is the
// language table; unknown indexes return nil.
func (id *Identity) StringDescriptor(index uint8) []byte {
	if index == 0 {
		return []byte{4, dtString, 0x09, 0x04}
	}

	table := id.strings()
	if int(index) >= len(table) {
		return nil
	}

	units := utf16.Encode([]rune(table[index]))

	d := make([]byte, 2, 2+2*len(units))
	d[0] = uint8(2 + 2*len(units))
	d[1] = dtString

	for _, u := range units {
		d = binary.LittleEndian.AppendUint16(d, u)
	}

	return d
}

func (id *Identity) DeviceQualifier() []byte {
	return make([]byte, deviceQualifierSize)
}

func utf16z(s string) []byte {
	var d []byte

	for _, u := range utf16.Encode([]rune(s)) {
		d = binary.LittleEndian.AppendUint16(d, u)
	}

	return append(d, 0, 0)
}

// MSOS20Descriptor returns the Microsoft OS 2.0 descriptor set: a WinUSB
// compatible id and the CMSIS-DAP v2 DeviceInterfaceGUIDs property.
func MSOS20Descriptor() []byte {
	name := utf16z("DeviceInterfaceGUIDs")
	value := append(utf16z(cmsisDAPv2GUID), 0, 0)

	property := make([]byte, 0, 10+len(name)+len(value))
	property = binary.LittleEndian.AppendUint16(property, uint16(10+len(name)+len(value)))
	property = binary.LittleEndian.AppendUint16(property, msOS20RegProperty)
	property = binary.LittleEndian.AppendUint16(property, 0x0007)
	property = binary.LittleEndian.AppendUint16(property, uint16(len(name)))
	property = append(property, name...)
	property = binary.LittleEndian.AppendUint16(property, uint16(len(value)))
	property = append(property, value...)

	compatible := []byte{0x14, 0x00, msOS20CompatibleID, 0x00,
		'W', 'I', 'N', 'U', 'S', 'B', 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0}

	total := 10 + len(compatible) + len(property)

	d := make([]byte, 0, total)
	d = binary.LittleEndian.AppendUint16(d, 10)
	d = binary.LittleEndian.AppendUint16(d, msOS20SetHeader)
	d = append(d, 0x00, 0x00, 0x03, 0x06)
	d = binary.LittleEndian.AppendUint16(d, uint16(total))
	d = append(d, compatible...)

	return append(d, property...)
}

// BOSDescriptor returns the binary object store with the single Microsoft
// OS 2.0 platform capability.
func BOSDescriptor() []byte {
	set := len(MSOS20Descriptor())

	capability := []byte{0x1C, dtDeviceCap, devCapPlatform, 0x00}
	capability = append(capability, msOS20PlatformUUID...)
	capability = append(capability, 0x00, 0x00, 0x03, 0x06)
	capability = binary.LittleEndian.AppendUint16(capability, uint16(set))
	capability = append(capability, msOS20VendorCode, 0)

	d := []byte{0x05, dtBOS}
	d = binary.LittleEndian.AppendUint16(d, uint16(5+len(capability)))
	d = append(d, 1)

	return append(d, capability...)
}
