// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import (
	"fmt"
	"sort"
	"sync"
)

// RosterSaver persists the current device roster. Registry calls it
// after every mutation (spec §4.4: "every mutation triggers ... a
// roster snapshot to persistence"). A nil saver is a valid no-op
// configuration, used in tests that don't care about durability.
type RosterSaver interface {
	SaveRoster(devices []Device) error
}

// Registry holds the current roster of simulated slaves and owns the
// RegisterBank's device lifecycle: a device's memory exists exactly
// while its entry exists here (spec §3 invariant).
type Registry struct {
	mu      sync.RWMutex
	devices map[byte]*Device

	bank   *RegisterBank
	events *EventBus
	saver  RosterSaver
}

// NewRegistry returns an empty registry backed by bank, publishing
// mutation events to events.
func NewRegistry(bank *RegisterBank, events *EventBus) *Registry {
	return &Registry{
		devices: make(map[byte]*Device),
		bank:    bank,
		events:  events,
	}
}

// SetSaver installs (or clears, with nil) the roster persistence hook.
func (r *Registry) SetSaver(saver RosterSaver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saver = saver
}

// Add creates a new device with defaults, enabled, in random sim mode.
// It fails if id is already present.
func (r *Registry) Add(id byte, t DeviceType) error {
	r.mu.Lock()
	if _, exists := r.devices[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("fieldsim: device %d already exists", id)
	}
	if err := t.validate(); err != nil {
		r.mu.Unlock()
		return err
	}
	dev := &Device{ID: id, Type: t, Enabled: true, SimMode: SimRandom}
	r.devices[id] = dev
	r.mu.Unlock()

	r.bank.AllocateDevice(id, t)
	r.events.Publish(Event{Kind: EventDeviceAdded, Device: *dev})
	r.persist()
	return nil
}

// Remove destroys a device and frees its memory. It fails if id is
// absent.
func (r *Registry) Remove(id byte) error {
	r.mu.Lock()
	dev, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("fieldsim: device %d does not exist", id)
	}
	delete(r.devices, id)
	r.mu.Unlock()

	r.bank.FreeDevice(id)
	r.events.Publish(Event{Kind: EventDeviceRemoved, Device: *dev})
	r.persist()
	return nil
}

// SetType destroys and recreates a device's memory with the new type's
// defaults, preserving its enabled flag (spec §4.4/§3: "a device-type
// change is equivalent to destroy-and-recreate").
func (r *Registry) SetType(id byte, t DeviceType) error {
	if err := t.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	dev, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("fieldsim: device %d does not exist", id)
	}
	dev.Type = t
	dev.Unlock = UnlockState{}
	updated := *dev
	r.mu.Unlock()

	r.bank.AllocateDevice(id, t)
	r.events.Publish(Event{Kind: EventDeviceUpdated, Device: updated})
	r.persist()
	return nil
}

// SetEnabled toggles whether requests to id get a response at all.
func (r *Registry) SetEnabled(id byte, enabled bool) error {
	r.mu.Lock()
	dev, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("fieldsim: device %d does not exist", id)
	}
	dev.Enabled = enabled
	updated := *dev
	r.mu.Unlock()

	r.events.Publish(Event{Kind: EventDeviceUpdated, Device: updated})
	r.persist()
	return nil
}

// SetSimMode toggles whether the behavior engine periodically drifts
// id's telemetry.
func (r *Registry) SetSimMode(id byte, mode SimMode) error {
	r.mu.Lock()
	dev, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("fieldsim: device %d does not exist", id)
	}
	dev.SimMode = mode
	updated := *dev
	r.mu.Unlock()

	r.events.Publish(Event{Kind: EventDeviceUpdated, Device: updated})
	r.persist()
	return nil
}

// Seed populates the registry from a previously persisted (or
// default) roster at startup, allocating each device's bank memory but
// without publishing device-added events or re-triggering persistence
// — the roster it's given already came from persistence, or is the
// built-in default that persistence will pick up on the first real
// mutation.
func (r *Registry) Seed(devices []Device) {
	r.mu.Lock()
	for _, d := range devices {
		dev := d
		r.devices[dev.ID] = &dev
	}
	r.mu.Unlock()

	for _, d := range devices {
		r.bank.AllocateDevice(d.ID, d.Type)
	}
}

// Get returns a copy of id's device record and whether it exists.
func (r *Registry) Get(id byte) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *dev, true
}

// List returns every device, ordered by slave id.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// snapshotLocked assumes r.mu is held (for reading or writing).
func (r *Registry) snapshotLocked() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// markUnlock updates id's unlock state in place, used by the write
// validator when a password write or auto-lock timeout fires. It does
// not publish a device-updated event or persist — unlock state is
// deliberately not part of the durable roster (spec §4.8 lists only
// {type, enabled, sim_mode}).
func (r *Registry) markUnlock(id byte, state UnlockState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[id]; ok {
		dev.Unlock = state
	}
}

func (r *Registry) persist() {
	r.mu.RLock()
	saver := r.saver
	devices := r.snapshotLocked()
	r.mu.RUnlock()

	if saver == nil {
		return
	}
	if err := saver.SaveRoster(devices); err != nil {
		r.events.Logf(SeverityErr, "persisting roster: %v", err)
	}
}
