// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plotmodel

import "math"

// Type is a variable's primitive type, as resolved from the target's debug
// information or assigned to a trace channel.
type Type int

const (
	TypeUnknown Type = iota
	TypeU8
	TypeI8
	TypeU16
	TypeI16
	TypeU32
	TypeI32
	TypeF32
	TypeBool
)

// Size returns the byte size of a value of this type, per spec.md §6's
// type->size table. 0 for TypeUnknown.
func (t Type) Size() uint8 {
	switch t {
	case TypeU8, TypeI8, TypeBool:
		return 1
	case TypeU16, TypeI16:
		return 2
	case TypeU32, TypeI32, TypeF32:
		return 4
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t {
	case TypeU8:
		return "U8"
	case TypeI8:
		return "I8"
	case TypeU16:
		return "U16"
	case TypeI16:
		return "I16"
	case TypeU32:
		return "U32"
	case TypeI32:
		return "I32"
	case TypeF32:
		return "F32"
	case TypeBool:
		return "bool"
	default:
		return "unknown"
	}
}

// RawToDouble bit-reinterprets a 32-bit raw word as the double value of the
// given type. This is pure bit-reinterpretation, never a numeric cast: a
// TypeU8 value only ever looks at the low byte, an I16 sign-extends just the
// low 16 bits, and so on, mirroring TraceDataHandler::getDoubleValue.
func RawToDouble(t Type, raw uint32) float64 {
	switch t {
	case TypeU8, TypeBool:
		return float64(uint8(raw))
	case TypeI8:
		return float64(int8(uint8(raw)))
	case TypeU16:
		return float64(uint16(raw))
	case TypeI16:
		return float64(int16(uint16(raw)))
	case TypeU32:
		return float64(raw)
	case TypeI32:
		return float64(int32(raw))
	case TypeF32:
		return float64(math.Float32frombits(raw))
	default:
		return float64(raw)
	}
}

// DoubleToRaw is the inverse of RawToDouble: it packs v into the low N bytes
// of a 32-bit word according to t, truncating/wrapping exactly the way the
// corresponding C integer type would. Round-tripping RawToDouble(t,
// DoubleToRaw(t, v)) reproduces v exactly for integer types and within one
// ULP for F32.
func DoubleToRaw(t Type, v float64) uint32 {
	switch t {
	case TypeU8, TypeBool:
		return uint32(uint8(v))
	case TypeI8:
		return uint32(uint8(int8(v)))
	case TypeU16:
		return uint32(uint16(v))
	case TypeI16:
		return uint32(uint16(int16(v)))
	case TypeU32:
		return uint32(v)
	case TypeI32:
		return uint32(int32(v))
	case TypeF32:
		return math.Float32bits(float32(v))
	default:
		return uint32(v)
	}
}

// DigitalValue applies the project's 0xAA digital convention (§6): any raw
// byte equal to 0xAA maps to 1.0, everything else to 0.0. This is distinct
// from TypeBool, which RawToDouble reads as the plain low byte.
func DigitalValue(raw uint32) float64 {
	if raw&0xff == 0xaa {
		return 1.0
	}
	return 0.0
}
