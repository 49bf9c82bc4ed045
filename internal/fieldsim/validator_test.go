// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import (
	"testing"
	"time"

	"github.com/rs485lab/fieldsim/modbus"
)

func asUint16(v int16) uint16 { return uint16(v) }

func newTestValidator(t DeviceType) (*WriteValidator, *Registry, *RegisterBank) {
	bank := NewRegisterBank()
	events := NewEventBus()
	registry := NewRegistry(bank, events)
	registry.Add(1, t)
	v := NewWriteValidator(registry, bank, events)
	return v, registry, bank
}

func TestValidatorNonInverterAlwaysAllows(t *testing.T) {
	v, _, _ := newTestValidator(DeviceFlowmeter)
	if ok, _ := v.Validate(1, 0x2000, 9999); !ok {
		t.Errorf("non-inverter write rejected, want always allowed")
	}
}

func TestValidatorReadOnlyRangesRejected(t *testing.T) {
	v, _, _ := newTestValidator(DeviceInverter)
	tests := []uint16{0x3000, 0x30FF, 0x3100, 0x31FF, 0x2100, 0x2101}
	for _, addr := range tests {
		ok, code := v.Validate(1, addr, 1)
		if ok {
			t.Errorf("Validate(1, 0x%04X, 1) allowed, want rejected", addr)
		}
		if code != modbus.ExceptionCodeIllegalDataAddress {
			t.Errorf("Validate(1, 0x%04X, 1) code = 0x%02X, want 0x02", addr, code)
		}
	}
}

func TestValidatorPasswordSetThenUnlock(t *testing.T) {
	v, registry, bank := newTestValidator(DeviceInverter)
	bank.Write(1, protectionRegister, 1) // engage protection

	// stored password is 0: this write sets it, no unlock transition.
	if ok, _ := v.Validate(1, passwordRegister, 1234); !ok {
		t.Fatalf("password-set write rejected")
	}
	bank.Write(1, passwordRegister, 1234)
	dev, _ := registry.Get(1)
	if dev.Unlock.Unlocked {
		t.Errorf("device unlocked after setting a password, want still locked")
	}

	// wrong password: no state change.
	if ok, _ := v.Validate(1, passwordRegister, 1); !ok {
		t.Fatalf("wrong-password write rejected (should still be allowed, addr 0)")
	}
	dev, _ = registry.Get(1)
	if dev.Unlock.Unlocked {
		t.Errorf("device unlocked after wrong password")
	}

	// correct password: unlocks.
	if ok, _ := v.Validate(1, passwordRegister, 1234); !ok {
		t.Fatalf("correct-password write rejected")
	}
	dev, _ = registry.Get(1)
	if !dev.Unlock.Unlocked {
		t.Errorf("device not unlocked after correct password")
	}
}

func TestValidatorProtectionBlocksWhileLocked(t *testing.T) {
	v, _, bank := newTestValidator(DeviceInverter)
	bank.Write(1, protectionRegister, 1)

	ok, code := v.Validate(1, 0x2001, 100)
	if ok {
		t.Errorf("write allowed while locked and protected")
	}
	if code != modbus.ExceptionCodeDeviceFailure {
		t.Errorf("code = 0x%02X, want 0x04", code)
	}
}

func TestValidatorProtectionRegisterItselfAlwaysWritable(t *testing.T) {
	v, _, bank := newTestValidator(DeviceInverter)
	bank.Write(1, protectionRegister, 1)

	if ok, _ := v.Validate(1, protectionRegister, 0); !ok {
		t.Errorf("write to protection register itself rejected while locked")
	}
}

func TestValidatorRangeCheckedControlRegisters(t *testing.T) {
	v, _, _ := newTestValidator(DeviceInverter)
	tests := []struct {
		addr uint16
		val  uint16
		ok   bool
	}{
		{0x2000, 7, true},
		{0x2000, 8, false},
		{0x2001, 60000, true},
		{0x2001, 60001, false},
		{0x2002, 1000, true},
		{0x2002, 1001, false},
		{0x2004, asUint16(-3000), true},
		{0x2004, asUint16(-3001), false},
		{0x2004, 3000, true},
		{0x2004, 3001, false},
	}
	for _, tt := range tests {
		ok, _ := v.Validate(1, tt.addr, tt.val)
		if ok != tt.ok {
			t.Errorf("Validate(1, 0x%04X, %d) = %v, want %v", tt.addr, tt.val, ok, tt.ok)
		}
	}
}

func TestValidatorAutoLockExpiresAfterIdleTimeout(t *testing.T) {
	v, registry, _ := newTestValidator(DeviceInverter)
	registry.markUnlock(1, UnlockState{Unlocked: true, LastActivity: time.Now().Add(-6 * time.Minute)})

	v.Validate(1, 0x2001, 1) // any validation should trigger the auto-lock check

	dev, _ := registry.Get(1)
	if dev.Unlock.Unlocked {
		t.Errorf("unlock survived past the 5-minute idle timeout")
	}
}

func TestValidatorUnlockedActivityRefreshesOnAllow(t *testing.T) {
	v, registry, _ := newTestValidator(DeviceInverter)
	past := time.Now().Add(-1 * time.Minute)
	registry.markUnlock(1, UnlockState{Unlocked: true, LastActivity: past})

	v.Validate(1, 0x2001, 1)

	dev, _ := registry.Get(1)
	if !dev.Unlock.LastActivity.After(past) {
		t.Errorf("LastActivity not refreshed by an allowed write")
	}
}
