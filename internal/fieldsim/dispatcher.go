// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import (
	"encoding/binary"

	"github.com/rs485lab/fieldsim/modbus"
)

// maxReadCount is the largest register count FC03/FC04 will serve in
// one request (spec §4.6: "count (1..=125)").
const maxReadCount = 125

// Dispatcher answers a decoded request PDU against the registry, bank
// and validator, generalizing the teacher's Handler to the multi-slave,
// four-function-code surface of spec §4.6.
type Dispatcher struct {
	registry  *Registry
	bank      *RegisterBank
	validator *WriteValidator
	engine    *Engine
	events    *EventBus
}

// NewDispatcher wires a dispatcher to its collaborators.
func NewDispatcher(registry *Registry, bank *RegisterBank, validator *WriteValidator, engine *Engine, events *EventBus) *Dispatcher {
	return &Dispatcher{registry: registry, bank: bank, validator: validator, engine: engine, events: events}
}

// Handle answers one decoded request. ok is false when the spec calls
// for no response at all (unknown unit id, or a disabled device) —
// the caller must not write anything to the wire in that case.
func (d *Dispatcher) Handle(unitID byte, fc byte, data []byte) (response []byte, ok bool) {
	dev, exists := d.registry.Get(unitID)
	if !exists {
		return nil, false
	}
	if !dev.Enabled {
		d.events.Logf(SeverityInfo, "slave %d: request dropped, device disabled", unitID)
		return nil, false
	}

	var pdu *modbus.ProtocolDataUnit
	switch fc {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		pdu = d.handleRead(dev, fc, data)
	case modbus.FuncCodeWriteSingleRegister:
		pdu = d.handleWriteSingle(dev, fc, data)
	case modbus.FuncCodeWriteMultipleRegisters:
		pdu = d.handleWriteMultiple(dev, fc, data)
	default:
		pdu = modbus.NewExceptionResponse(fc, modbus.ExceptionCodeIllegalFunction)
	}

	resp, err := modbus.EncodeResponse(unitID, pdu)
	if err != nil {
		d.events.Logf(SeverityErr, "slave %d: encoding response: %v", unitID, err)
		return nil, false
	}
	return resp, true
}

// handleRead implements FC 03/04 (spec §4.6): both read the same flat
// bank, a deliberate simplification the spec calls out explicitly.
func (d *Dispatcher) handleRead(dev Device, fc byte, data []byte) *modbus.ProtocolDataUnit {
	if len(data) < 4 {
		return modbus.NewExceptionResponse(fc, modbus.ExceptionCodeIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	count := binary.BigEndian.Uint16(data[2:4])

	if count < 1 || count > maxReadCount {
		return modbus.NewExceptionResponse(fc, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(addr)+int(count) > registerSpace {
		return modbus.NewExceptionResponse(fc, modbus.ExceptionCodeIllegalDataValue)
	}

	values := d.bank.ReadMany(dev.ID, addr, count)
	out := make([]byte, 1+len(values)*2)
	out[0] = byte(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(out[1+i*2:], v)
	}
	return &modbus.ProtocolDataUnit{FunctionCode: fc, Data: out}
}

// handleWriteSingle implements FC 06 (spec §4.6): validate, then
// either exception or write-and-echo.
func (d *Dispatcher) handleWriteSingle(dev Device, fc byte, data []byte) *modbus.ProtocolDataUnit {
	if len(data) < 4 {
		return modbus.NewExceptionResponse(fc, modbus.ExceptionCodeIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	val := binary.BigEndian.Uint16(data[2:4])

	if allowed, exceptionCode := d.validator.Validate(dev.ID, addr, val); !allowed {
		return modbus.NewExceptionResponse(fc, exceptionCode)
	}

	d.bank.Write(dev.ID, addr, val)
	d.engine.OnWrite(dev, addr, val)
	return &modbus.ProtocolDataUnit{FunctionCode: fc, Data: data}
}

// handleWriteMultiple implements FC 16 (spec §4.6): validate every
// (addr+i, val_i) before writing any of them.
func (d *Dispatcher) handleWriteMultiple(dev Device, fc byte, data []byte) *modbus.ProtocolDataUnit {
	if len(data) < 5 {
		return modbus.NewExceptionResponse(fc, modbus.ExceptionCodeIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	count := binary.BigEndian.Uint16(data[2:4])
	byteCount := data[4]

	if count < 1 || count > 123 || byteCount != byte(count*2) || len(data) < int(5)+int(byteCount) {
		return modbus.NewExceptionResponse(fc, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(addr)+int(count) > registerSpace {
		return modbus.NewExceptionResponse(fc, modbus.ExceptionCodeIllegalDataValue)
	}

	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[5+i*2:])
	}

	for i, v := range values {
		if allowed, exceptionCode := d.validator.Validate(dev.ID, addr+uint16(i), v); !allowed {
			return modbus.NewExceptionResponse(fc, exceptionCode)
		}
	}

	for i, v := range values {
		d.bank.Write(dev.ID, addr+uint16(i), v)
		d.engine.OnWrite(dev, addr+uint16(i), v)
	}

	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], addr)
	binary.BigEndian.PutUint16(out[2:4], count)
	return &modbus.ProtocolDataUnit{FunctionCode: fc, Data: out}
}
