// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import (
	"time"

	"github.com/rs485lab/fieldsim/modbus"
)

// unlockIdleTimeout is how long an inverter stays unlocked with no
// writes before the protection register re-engages (spec §3/§4.5).
const unlockIdleTimeout = 5 * time.Minute

// protectionRegister gates writes to the rest of an inverter's memory
// when it holds 1 and the device isn't unlocked.
const protectionRegister uint16 = 0x0002

// passwordRegister is how passwords are established (when currently
// zero) or entered (to transition to unlocked).
const passwordRegister uint16 = 0x0000

// readOnly reports whether addr falls in a read-only range for
// inverters: the U00 status group, the U01 fault group, or the two
// standalone read-only registers.
func readOnly(addr uint16) bool {
	switch {
	case addr >= 0x3000 && addr <= 0x30FF:
		return true
	case addr >= 0x3100 && addr <= 0x31FF:
		return true
	case addr == 0x2100 || addr == 0x2101:
		return true
	default:
		return false
	}
}

// controlRegisterRanges enumerates the inverter's range-checked
// control registers (spec §3). 0x2004 is a signed range, hence the
// int16 conversion.
var controlRegisterRanges = map[uint16]func(uint16) bool{
	0x2000: func(v uint16) bool { return v <= 7 },
	0x2001: func(v uint16) bool { return v <= 60000 },
	0x2002: func(v uint16) bool { return v <= 1000 },
	0x2003: func(v uint16) bool { return v <= 1000 },
	0x2004: func(v uint16) bool { sv := int16(v); return sv >= -3000 && sv <= 3000 },
}

// WriteValidator implements the full inverter write policy (spec
// §4.5) and passes every write through unchanged for other device
// types ("For non-inverter device types, all writes are permitted").
type WriteValidator struct {
	registry *Registry
	bank     *RegisterBank
	events   *EventBus
	now      func() time.Time
}

// NewWriteValidator wires a validator to the registry (for unlock
// state) and bank (for reading the protection/password registers).
func NewWriteValidator(registry *Registry, bank *RegisterBank, events *EventBus) *WriteValidator {
	return &WriteValidator{registry: registry, bank: bank, events: events, now: time.Now}
}

// Validate implements the ordered checks from spec §4.5.
func (v *WriteValidator) Validate(id byte, addr, val uint16) (ok bool, exceptionCode byte) {
	dev, exists := v.registry.Get(id)
	if !exists {
		return false, modbus.ExceptionCodeIllegalDataAddress
	}
	if dev.Type != DeviceInverter {
		return true, 0
	}

	now := v.now()
	unlock := v.autoLock(id, dev.Unlock, now)

	// Step 1: addr 0x0000 is always allowed — it's how passwords are
	// established or entered.
	if addr == passwordRegister {
		v.handlePasswordWrite(id, val, unlock, now)
		return true, 0
	}

	// Step 2: read-only ranges.
	if readOnly(addr) {
		return false, modbus.ExceptionCodeIllegalDataAddress
	}

	// Step 3: protection register gates everything else while locked.
	protected := v.bank.Read(id, protectionRegister) == 1
	if protected && addr != protectionRegister && !unlock.Unlocked {
		return false, modbus.ExceptionCodeDeviceFailure
	}

	// Step 4: range-checked control registers.
	if allowed, checked := controlRegisterRanges[addr]; checked && !allowed(val) {
		return false, modbus.ExceptionCodeIllegalDataValue
	}

	// Step 5: allow, refreshing activity if unlocked.
	if unlock.Unlocked {
		unlock.LastActivity = now
		v.registry.markUnlock(id, unlock)
	}
	return true, 0
}

// autoLock clears an expired unlock and returns the (possibly updated)
// state to use for the rest of this validation call.
func (v *WriteValidator) autoLock(id byte, unlock UnlockState, now time.Time) UnlockState {
	if unlock.Unlocked && now.Sub(unlock.LastActivity) > unlockIdleTimeout {
		unlock = UnlockState{}
		v.registry.markUnlock(id, unlock)
		v.events.Logf(SeverityInfo, "slave %d: parameter unlock expired", id)
	}
	return unlock
}

// handlePasswordWrite implements the three password outcomes from
// spec §4.5: set (stored password is currently zero), unlock (val
// matches), or ignored-with-warning (val doesn't match).
func (v *WriteValidator) handlePasswordWrite(id byte, val uint16, unlock UnlockState, now time.Time) {
	stored := v.bank.Read(id, passwordRegister)
	switch {
	case stored == 0:
		// The register write itself (performed by the dispatcher after
		// Validate returns true) establishes the new password; no
		// unlock transition happens here.
	case val == stored:
		v.registry.markUnlock(id, UnlockState{Unlocked: true, LastActivity: now})
	default:
		v.events.Logf(SeverityWarn, "slave %d: incorrect password attempt", id)
	}
	_ = unlock
}
