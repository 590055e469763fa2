// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import "math/bits"

// parity32 returns the even parity bit of value.
func parity32(value uint32) uint32 {
	return uint32(bits.OnesCount32(value) & 1)
}

func parity4(value uint8) uint8 {
	return uint8(bits.OnesCount8(value&0x0f) & 1)
}

// reverseBits mirrors the lowest count bits of value.
func reverseBits(value uint64, count int) uint64 {
	if count <= 0 {
		return 0
	}

	return bits.Reverse64(value) >> uint(64-count)
}

func lowBits(count int) uint64 {
	if count >= 64 {
		return ^uint64(0)
	}

	return (uint64(1) << uint(count)) - 1
}

func bufSetBits(buffer []uint8, first uint, num uint, value uint64) {

	if (num == 8) && (first%8 == 0) {
		buffer[first/8] = uint8(value)
	} else {
		for i := first; i < first+num; i++ {
			if ((value >> (i - first)) & 1) == 1 {
				buffer[i/8] |= 1 << (i % 8)
			} else {
				buffer[i/8] &= ^(1 << (i % 8))
			}
		}
	}
}

func bufGetBits(buffer []byte, first uint, num uint) uint64 {
	if (num == 8) && (first%8 == 0) {
		return uint64(buffer[first/8])
	} else {
		var result uint64 = 0
		for i := first; i < first+num; i++ {
			if ((buffer[i/8] >> (i % 8)) & 1) == 1 {
				result |= uint64(1) << (i - first)
			}
		}
		return result
	}
}

// sequenceCount decodes the 6 bit count field of SWD and JTAG sequence info
// bytes, where 0 stands for 64.
func sequenceCount(info uint8) int {
	n := int(info & 0x3f)
	if n == 0 {
		n = 64
	}

	return n
}

func bytesForBits(count int) int {
	return (count + 7) / 8
}
