// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package usbip

// standard requests
const (
	reqGetStatus        = 0x00
	reqClearFeature     = 0x01
	reqSetFeature       = 0x03
	reqSetAddress       = 0x05
	reqGetDescriptor    = 0x06
	reqSetDescriptor    = 0x07
	reqGetConfiguration = 0x08
	reqSetConfiguration = 0x09
	reqGetInterface     = 0x0A
	reqSetInterface     = 0x0B
	reqSynchFrame       = 0x0C
)

// request types
const (
	rtHostToDevice    = 0x00
	rtHostToInterface = 0x01
	rtHostToEndpoint  = 0x02
	rtDeviceToHost    = 0x80
	rtInterfaceToHost = 0x81
	rtEndpointToHost  = 0x82
	rtVendorToHost    = 0xC0
)

// Control answers a request on endpoint 0. A nil payload with StatusOK is a
// zero length answer.
func (id *Identity) Control(setup SetupPacket) (int32, []byte) {
	switch setup.RequestType {
	case rtHostToDevice:
		switch setup.Request {
		case reqClearFeature, reqSetFeature, reqSetAddress, reqSetDescriptor, reqSetConfiguration:
			return StatusOK, nil
		}

	case rtHostToInterface:
		switch setup.Request {
		case reqClearFeature, reqSetFeature, reqSetInterface:
			return StatusOK, nil
		}

	case rtHostToEndpoint:
		switch setup.Request {
		case reqClearFeature, reqSetFeature:
			return StatusOK, nil
		}

	case rtDeviceToHost:
		switch setup.Request {
		case reqGetConfiguration, reqGetStatus:
			return StatusOK, nil

		case reqGetDescriptor:
			return id.descriptor(setup)
		}

	case rtInterfaceToHost:
		switch setup.Request {
		case reqGetInterface, reqSynchFrame, reqGetStatus:
			return StatusOK, nil
		}

	case rtEndpointToHost:
		if setup.Request == reqGetStatus {
			return StatusOK, nil
		}

	case rtVendorToHost:
		switch setup.Index {
		case msOS20DescriptorIndex:
			return StatusOK, truncate(MSOS20Descriptor(), setup.Length)

		case msOS20SetAltEnumeration:
			return StatusOK, nil
		}
	}

	return StatusPipe, nil
}

func (id *Identity) descriptor(setup SetupPacket) (int32, []byte) {
	var d []byte

	switch setup.DescriptorType() {
	case dtDevice:
		d = id.DeviceDescriptor()

	case dtConfiguration:
		d = id.ConfigDescriptor()
		if setup.Length == configurationSize {
			d = d[:configurationSize]
		}

	case dtString:
		d = id.StringDescriptor(setup.DescriptorIndex())

	case dtDeviceQualifier:
		d = id.DeviceQualifier()

	case dtBOS:
		d = BOSDescriptor()

	case dtInterface, dtEndpoint, dtOtherSpeed, dtInterfacePower:
		return StatusOK, nil

	default:
		return StatusPipe, nil
	}

	return StatusOK, truncate(d, setup.Length)
}

func truncate(d []byte, length uint16) []byte {
	if len(d) > int(length) {
		return d[:length]
	}

	return d
}
