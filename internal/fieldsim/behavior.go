// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import "math/rand"

// controlCommandRegister is the inverter's run/stop/direction command
// (spec §4.7).
const controlCommandRegister uint16 = 0x2000

// telemetry base addresses re-initialised on a control-command write.
// Each has a mirror at addr-mirrorOffset (defaults.go).
const (
	telemetryFreq   uint16 = 0x3000
	telemetryVolt   uint16 = 0x3002
	telemetryCurr   uint16 = 0x3003
	telemetryPower  uint16 = 0x3004
	telemetrySpeed  uint16 = 0x3005
	telemetryEnergy uint16 = 0x3006
)

// parameterNames maps the inverter's named parameter registers to the
// value->label lookup used when reporting a parameter-change event
// (spec §4.7, grounded on original_source/ModbusInverterSimulator.py's
// per-register comments, e.g. {"addr": 0x8200, "name": "Start Command
// Mode"}).
var parameterNames = map[uint16]map[uint16]string{
	0x8200: {0: "Keypad", 1: "Terminal", 2: "RS485/Comm"},
}

// isParameterRegister reports whether addr is one of the named
// parameter registers that gets a parameter-change event in addition
// to the generic register-changed event.
func isParameterRegister(addr uint16) bool {
	switch addr {
	case 0x8000, 0x8001, 0x8006, 0x8200, 0x840A:
		return true
	default:
		return false
	}
}

// Engine applies the reactive and periodic side effects a write or a
// tick can have on a device's telemetry, publishing the resulting
// events (spec §4.7). It never decides whether a write is allowed —
// that's the WriteValidator's job — only what happens after one is
// committed to the bank.
type Engine struct {
	bank   *RegisterBank
	events *EventBus
	rand   *rand.Rand
}

// NewEngine wires an engine to the bank it mutates and the bus it
// reports through.
func NewEngine(bank *RegisterBank, events *EventBus) *Engine {
	return &Engine{bank: bank, events: events, rand: rand.New(rand.NewSource(1))}
}

// OnWrite runs every reactive hook for a single committed write to
// (id, addr, val) and always emits the generic register-changed event
// last, matching the "any write" catch-all in spec §4.7.
func (e *Engine) OnWrite(dev Device, addr, val uint16) {
	if dev.Type == DeviceInverter && addr == controlCommandRegister {
		e.applyControlCommand(dev.ID, val)
	}
	if dev.Type == DeviceInverter && isParameterRegister(addr) {
		e.emitParameterChange(dev.ID, addr, val)
	}
	e.events.Publish(Event{Kind: EventRegisterChanged, SlaveID: dev.ID, Addr: addr, Value: val})
}

// applyControlCommand implements the run/stop telemetry re-init rule.
// Every value is written to both the primary 0x3000+ register and its
// 0x0300+ mirror.
func (e *Engine) applyControlCommand(id byte, cmd uint16) {
	var freq, volt, curr, power, speed, energy uint16
	switch cmd {
	case 0, 5, 6: // stop
		freq, volt, curr, power, speed, energy = 0, 0, 0, 0, 0, 0
	case 1, 2, 3, 4: // run forward/reverse/jog
		n := uint16(id)
		freq = n * 1000
		volt = (100 + 10*n) * 10
		curr = n * 10
		power = n * 10
		speed = n * 100
		energy = n
	default:
		return
	}

	set := func(addr, val uint16) {
		e.bank.Write(id, addr, val)
		e.bank.Write(id, mirror(addr), val)
	}
	set(telemetryFreq, freq)
	set(telemetryVolt, volt)
	set(telemetryCurr, curr)
	set(telemetryPower, power)
	set(telemetrySpeed, speed)
	set(telemetryEnergy, energy)
}

// emitParameterChange publishes a parameter-change event for a write,
// with the value's label from parameterNames when one is known and the
// raw value alone otherwise.
func (e *Engine) emitParameterChange(id byte, addr, val uint16) {
	if label, ok := parameterNames[addr][val]; ok {
		e.events.Logf(SeverityInfo, "slave %d: parameter 0x%04X set to %d (%s)", id, addr, val, label)
		return
	}
	e.events.Logf(SeverityInfo, "slave %d: parameter 0x%04X set to %d", id, addr, val)
}

// energymeter telemetry addresses (spec §4.7, MSW-at-base convention).
// Chosen to fall well clear of the power-factor/flag defaults spec §6
// fixes at 0x082E-0x0834 and 0x008D-0x008E (defaults.go's
// energymeterDefaults) — the periodic tick must not overwrite those.
const (
	energymeterVoltA uint16 = 0x0850
	energymeterCurrA uint16 = 0x0856
	energymeterPower uint16 = 0x085C
	energymeterFreq  uint16 = 0x085E
)

// Tick applies one second's worth of periodic drift to every enabled
// device in devices whose sim_mode is random. Only energymeter devices
// have periodic telemetry (spec §4.7: "Inverter, flowmeter: no
// periodic drift in this spec").
func (e *Engine) Tick(devices []Device) {
	for _, dev := range devices {
		if !dev.Enabled || dev.SimMode != SimRandom || dev.Type != DeviceEnergymeter {
			continue
		}
		e.tickEnergymeter(dev.ID)
	}
}

// tickEnergymeter jitters three-phase voltage/current/power/frequency
// and batches every register it touches into one registers-changed
// event (spec §4.7: "batches all register writes for that device into
// one event").
func (e *Engine) tickEnergymeter(id byte) {
	updates := make(map[uint16]uint16, 16)

	put := func(base uint16, f float32) {
		hi, lo := registersFromFloat32MSW(f)
		updates[base], updates[base+1] = hi, lo
	}

	var totalPower float32
	for phase := uint16(0); phase < 3; phase++ {
		volt := 220 * (1 + e.jitter(0.02))
		curr := 5 + e.rand.Float32()*5
		power := volt * curr
		totalPower += power

		put(energymeterVoltA+phase*2, volt)
		put(energymeterCurrA+phase*2, curr)
	}
	put(energymeterPower, totalPower)
	put(energymeterFreq, 50+e.jitter(0.1))

	for addr, val := range updates {
		e.bank.Write(id, addr, val)
	}
	e.events.Publish(Event{Kind: EventRegistersChanged, SlaveID: id, Updates: updates})
}

// jitter returns a uniform random value in [-frac, +frac].
func (e *Engine) jitter(frac float32) float32 {
	return (e.rand.Float32()*2 - 1) * frac
}
