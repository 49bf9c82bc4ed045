// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import "sync"

// registerSpace is the maximum address space of one device's 16-bit
// register memory (spec §3: "a dense mapping from 16-bit address
// (0..=65535) to 16-bit value").
const registerSpace = 65536

// deviceMemory is one device's flat register array, generalizing the
// teacher's DataStore.holdingRegs []uint16 to a per-slave allocation.
type deviceMemory struct {
	regs []uint16
}

// RegisterBank owns a per-slave 65536-entry 16-bit store. It is lazily
// populated: a device's memory is created and seeded with its
// type-specific defaults on AllocateDevice, not before (spec §9: "lazy
// allocation avoids 128 KB x N pre-allocation for rosters with many
// disabled slots"). RegisterBank itself does not enforce write policy
// — that is the WriteValidator's job; the bank is a plain store.
type RegisterBank struct {
	mu      sync.RWMutex
	devices map[byte]*deviceMemory
}

// NewRegisterBank returns an empty bank.
func NewRegisterBank() *RegisterBank {
	return &RegisterBank{devices: make(map[byte]*deviceMemory)}
}

// AllocateDevice creates id's memory (or replaces it, for
// SetType-driven destroy-and-recreate) and applies t's default
// profile. Defaults are written exactly once, here.
func (b *RegisterBank) AllocateDevice(id byte, t DeviceType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mem := &deviceMemory{regs: make([]uint16, registerSpace)}
	for addr, val := range defaultsFor(t) {
		mem.regs[addr] = val
	}
	b.devices[id] = mem
}

// FreeDevice releases a device's memory. A no-op if the device was
// never allocated.
func (b *RegisterBank) FreeDevice(id byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devices, id)
}

// Read returns the value at addr for device id, or zero if the device
// or the address has no defined value.
func (b *RegisterBank) Read(id byte, addr uint16) uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mem, ok := b.devices[id]
	if !ok {
		return 0
	}
	return mem.regs[addr]
}

// ReadMany reads count consecutive registers starting at addr. The
// caller is responsible for validating that addr+count fits in the
// 16-bit address space before calling; ReadMany itself trusts its
// arguments.
func (b *RegisterBank) ReadMany(id byte, addr, count uint16) []uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]uint16, count)
	mem, ok := b.devices[id]
	if !ok {
		return out
	}
	for i := uint16(0); i < count; i++ {
		out[i] = mem.regs[addr+i]
	}
	return out
}

// Write sets the value at addr for device id. Writing to a device with
// no allocated memory is a silent no-op — the registry is expected to
// have allocated memory for every device it lists (spec §3 invariant:
// "a device's memory exists iff the device is in the registry").
func (b *RegisterBank) Write(id byte, addr, val uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mem, ok := b.devices[id]
	if !ok {
		return
	}
	mem.regs[addr] = val
}

// WriteMany writes each (addr+i, values[i]) pair for device id.
func (b *RegisterBank) WriteMany(id byte, addr uint16, values []uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mem, ok := b.devices[id]
	if !ok {
		return
	}
	for i, v := range values {
		mem.regs[addr+uint16(i)] = v
	}
}

// Snapshot returns every non-zero (address, value) pair for device id
// — the sparse view persistence writes to durable storage (spec §4.8).
func (b *RegisterBank) Snapshot(id byte) map[uint16]uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mem, ok := b.devices[id]
	if !ok {
		return nil
	}
	out := make(map[uint16]uint16)
	for addr, v := range mem.regs {
		if v != 0 {
			out[uint16(addr)] = v
		}
	}
	return out
}

// Restore applies a sparse snapshot on top of a freshly allocated
// device's memory, used when reloading persisted non-default values
// (spec §4.8: "on reload, every previously-written non-default value
// is restored").
func (b *RegisterBank) Restore(id byte, values map[uint16]uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mem, ok := b.devices[id]
	if !ok {
		return
	}
	for addr, v := range values {
		mem.regs[addr] = v
	}
}
