// Copyright 2026 Zerobus Wrapper Authors. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wire implements the protobuf wire primitives the row encoder
// emits: base-128 varints, zigzag transforms, field tags, and
// length-delimited framing. All functions append into a caller-owned
// buffer and allocate nothing beyond buffer growth.
package wire

import "encoding/binary"

// Protobuf wire types.
const (
	TypeVarint          = 0
	TypeFixed64         = 1
	TypeLengthDelimited = 2
	TypeFixed32         = 5
)

// AppendVarint appends v in base-128 varint encoding: LSB-first, seven
// payload bits per byte, continuation bit in the MSB.
func AppendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// Zigzag32 maps a signed 32-bit value to its zigzag form so that
// small-magnitude values stay compact under varint encoding.
func Zigzag32(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

// Zigzag64 maps a signed 64-bit value to its zigzag form.
func Zigzag64(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// AppendTag appends the tag varint((fieldNumber << 3) | wireType).
func AppendTag(buf []byte, fieldNumber int32, wireType uint8) []byte {
	return AppendVarint(buf, uint64(uint32(fieldNumber)<<3|uint32(wireType)))
}

// AppendFixed64 appends v as 8 little-endian bytes.
func AppendFixed64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// AppendFixed32 appends v as 4 little-endian bytes.
func AppendFixed32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

// AppendLengthDelimited appends varint(len(b)) followed by b.
func AppendLengthDelimited(buf, b []byte) []byte {
	buf = AppendVarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// AppendLengthDelimitedString appends varint(len(s)) followed by the raw
// bytes of s, without an intermediate []byte conversion allocation.
func AppendLengthDelimitedString(buf []byte, s string) []byte {
	buf = AppendVarint(buf, uint64(len(s)))
	return append(buf, s...)
}
