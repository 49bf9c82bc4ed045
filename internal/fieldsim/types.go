// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package fieldsim implements the simulated register bank, device
// registry, write validation, request dispatch and behavior engine for
// a multi-device Modbus RTU slave bank. It generalizes the teacher's
// single-slave internal/simulator package (one DataStore, one Handler)
// to a roster of independently addressed devices with type-specific
// register layouts and reactive behavior.
package fieldsim

import (
	"fmt"
	"time"
)

// DeviceType selects a device's default register profile and its
// semantic hooks (write validation, control-command effects, periodic
// telemetry drift).
type DeviceType string

const (
	DeviceInverter    DeviceType = "inverter"
	DeviceFlowmeter   DeviceType = "flowmeter"
	DeviceEnergymeter DeviceType = "energymeter"
)

// MarshalText implements encoding.TextMarshaler so DeviceType round
// trips through the YAML roster file as a plain scalar.
func (t DeviceType) MarshalText() ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	return []byte(t), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DeviceType) UnmarshalText(text []byte) error {
	candidate := DeviceType(text)
	if err := candidate.validate(); err != nil {
		return err
	}
	*t = candidate
	return nil
}

func (t DeviceType) validate() error {
	switch t {
	case DeviceInverter, DeviceFlowmeter, DeviceEnergymeter:
		return nil
	default:
		return fmt.Errorf("fieldsim: unknown device type %q", string(t))
	}
}

// SimMode controls whether the behavior engine periodically mutates a
// device's telemetry.
type SimMode string

const (
	SimRandom SimMode = "random"
	SimManual SimMode = "manual"
)

// MarshalText implements encoding.TextMarshaler.
func (m SimMode) MarshalText() ([]byte, error) {
	switch m {
	case SimRandom, SimManual:
		return []byte(m), nil
	default:
		return nil, fmt.Errorf("fieldsim: unknown sim mode %q", string(m))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *SimMode) UnmarshalText(text []byte) error {
	candidate := SimMode(text)
	switch candidate {
	case SimRandom, SimManual:
		*m = candidate
		return nil
	default:
		return fmt.Errorf("fieldsim: unknown sim mode %q", string(candidate))
	}
}

// UnlockState tracks an inverter's parameter-protection unlock. Flow
// and energy meters keep the default zero value (locked, no activity)
// forever since their write validator never checks it.
type UnlockState struct {
	Unlocked     bool
	LastActivity time.Time
}

// Device is one simulated slave, identified by a unique unit id in
// [1, 247].
type Device struct {
	ID      byte
	Type    DeviceType
	Enabled bool
	SimMode SimMode
	Unlock  UnlockState
}
