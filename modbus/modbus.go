// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package modbus implements the wire-level pieces of Modbus RTU shared
// between the frame parser and the request dispatcher: function and
// exception codes, the protocol data unit, CRC-16, and resynchronising
// frame extraction. It has no knowledge of registers, devices, or the
// serial port itself.
package modbus

import "fmt"

// Function codes this simulator answers. Modbus defines more; anything
// else is treated as noise by the frame parser (spec ties support to
// exactly these four).
const (
	FuncCodeReadHoldingRegisters  byte = 0x03
	FuncCodeReadInputRegisters    byte = 0x04
	FuncCodeWriteSingleRegister   byte = 0x06
	FuncCodeWriteMultipleRegisters byte = 0x10
)

// Exception codes, per Modbus Application Protocol spec.
const (
	ExceptionCodeIllegalFunction    byte = 0x01
	ExceptionCodeIllegalDataAddress byte = 0x02
	ExceptionCodeIllegalDataValue   byte = 0x03
	ExceptionCodeDeviceFailure      byte = 0x04 // reused here for "locked", see design notes
)

// ProtocolDataUnit is the function code plus payload, independent of
// the RTU framing (unit id + CRC) wrapped around it.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// ModbusError represents a Modbus exception response.
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: function code %d, exception code %d", e.FunctionCode, e.ExceptionCode)
}

// IsSupportedFunctionCode reports whether fc is one of the four codes
// this simulator implements. Anything else is resync noise to the
// frame parser, not a candidate for an exception response — the
// simulator cannot know a frame using an FC it doesn't understand was
// even addressed to it (spec §4.2 step 2, §7).
func IsSupportedFunctionCode(fc byte) bool {
	switch fc {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeWriteSingleRegister, FuncCodeWriteMultipleRegisters:
		return true
	default:
		return false
	}
}

// NewExceptionResponse builds the PDU for a Modbus exception: the
// function code with its high bit set and a single exception byte.
func NewExceptionResponse(functionCode, exceptionCode byte) *ProtocolDataUnit {
	return &ProtocolDataUnit{
		FunctionCode: functionCode | 0x80,
		Data:         []byte{exceptionCode},
	}
}
