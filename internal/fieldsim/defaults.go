// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import "math"

// mirrorOffset is the constant distance between an inverter's primary
// status registers (0x3000+) and their U00-group mirror (0x0300+),
// carried over from the vendor register map in
// original_source/ModbusInverterSimulator.py (e.g. 0x3000 <-> 0x0300,
// 0x3017 <-> 0x0317).
const mirrorOffset = 0x2D00

func mirror(addr uint16) uint16 {
	return addr - mirrorOffset
}

// defaultsFor returns the {address -> initial value} pairs applied
// once, at device creation, for the given device type (spec §3, §6
// appendix).
func defaultsFor(t DeviceType) map[uint16]uint16 {
	switch t {
	case DeviceInverter:
		return inverterDefaults()
	case DeviceFlowmeter:
		return flowmeterDefaults()
	case DeviceEnergymeter:
		return energymeterDefaults()
	default:
		return nil
	}
}

// mirroredStatusRegs are the only primary registers with a 0x0300+
// alias (original_source/ModbusInverterSimulator.py:292-293's
// status_regs/alias_regs pair). applyControlCommand re-inits six of
// them (0x3000 and 0x3002-0x3006) on a run/stop command; 0x3017 and
// 0x3023 keep their defaults.
var mirroredStatusRegs = map[uint16]bool{
	0x3000: true, 0x3002: true, 0x3003: true, 0x3004: true,
	0x3005: true, 0x3006: true, 0x3017: true, 0x3023: true,
}

func inverterDefaults() map[uint16]uint16 {
	primary := map[uint16]uint16{
		0x3000: 5000,
		0x3002: 2200,
		0x3003: 50,
		0x3004: 11,
		0x3005: 1450,
		0x3006: 3100,
		0x3017: 350,
		0x3023: 999,
		0x840A: 1,
		0x0B15: 45,
	}
	out := make(map[uint16]uint16, len(primary)+len(mirroredStatusRegs))
	for addr, val := range primary {
		out[addr] = val
		if mirroredStatusRegs[addr] {
			out[mirror(addr)] = val
		}
	}
	return out
}

func flowmeterDefaults() map[uint16]uint16 {
	out := map[uint16]uint16{
		774: 0x0403, // unit code
	}
	putFloat32CDAB(out, 261, 424.0)
	putFloat32CDAB(out, 281, 100.0)
	putFloat32CDAB(out, 284, 10.0)
	return out
}

func energymeterDefaults() map[uint16]uint16 {
	out := map[uint16]uint16{
		0x0834: 0x0032,
		0x008D: 0x0001,
		0x008E: 0x0001,
	}
	putFloat32MSW(out, 0x082E, 1.0)
	putFloat32MSW(out, 0x0830, 1.0)
	putFloat32MSW(out, 0x0832, 1.0)
	return out
}

// putFloat32CDAB stores a 32-bit float across two consecutive
// registers with the low-order word at the lower address (flowmeter
// convention, spec §6/glossary "CDAB word order").
func putFloat32CDAB(out map[uint16]uint16, base uint16, f float32) {
	bits := math.Float32bits(f)
	out[base] = uint16(bits)
	out[base+1] = uint16(bits >> 16)
}

// putFloat32MSW stores a 32-bit float across two consecutive registers
// with the high-order word at the lower (base) address — the
// convention used by inverter float-like fields and energymeter
// floats, the opposite of the flowmeter's CDAB order.
func putFloat32MSW(out map[uint16]uint16, base uint16, f float32) {
	bits := math.Float32bits(f)
	out[base] = uint16(bits >> 16)
	out[base+1] = uint16(bits)
}

// registersFromFloat32MSW returns the two register values for f using
// the MSW-at-base convention (inverter/energymeter), for callers that
// need the pair without a map (the behavior engine's periodic drift).
func registersFromFloat32MSW(f float32) (hi, lo uint16) {
	bits := math.Float32bits(f)
	return uint16(bits >> 16), uint16(bits)
}
