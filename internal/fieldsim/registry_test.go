// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import "testing"

type fakeSaver struct {
	saved []Device
	calls int
}

func (f *fakeSaver) SaveRoster(devices []Device) error {
	f.saved = devices
	f.calls++
	return nil
}

func newTestRegistry() (*Registry, *RegisterBank, *fakeSaver) {
	bank := NewRegisterBank()
	events := NewEventBus()
	registry := NewRegistry(bank, events)
	saver := &fakeSaver{}
	registry.SetSaver(saver)
	return registry, bank, saver
}

func TestRegistryAddRejectsDuplicate(t *testing.T) {
	registry, _, _ := newTestRegistry()
	if err := registry.Add(1, DeviceInverter); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	if err := registry.Add(1, DeviceInverter); err == nil {
		t.Errorf("second Add(1, ...) succeeded, want error")
	}
}

func TestRegistryAddAllocatesBankMemory(t *testing.T) {
	registry, bank, _ := newTestRegistry()
	if err := registry.Add(1, DeviceInverter); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if got := bank.Read(1, 0x3000); got != 5000 {
		t.Errorf("bank not allocated on Add: Read(1, 0x3000) = %d, want 5000", got)
	}
}

func TestRegistryRemoveFreesBankMemory(t *testing.T) {
	registry, bank, _ := newTestRegistry()
	registry.Add(1, DeviceInverter)
	if err := registry.Remove(1); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if got := bank.Read(1, 0x3000); got != 0 {
		t.Errorf("bank not freed on Remove: Read(1, 0x3000) = %d, want 0", got)
	}
	if _, exists := registry.Get(1); exists {
		t.Errorf("device still present after Remove")
	}
}

func TestRegistrySetTypeResetsMemoryAndUnlock(t *testing.T) {
	registry, bank, _ := newTestRegistry()
	registry.Add(1, DeviceInverter)
	registry.markUnlock(1, UnlockState{Unlocked: true})

	if err := registry.SetType(1, DeviceFlowmeter); err != nil {
		t.Fatalf("SetType failed: %v", err)
	}

	dev, _ := registry.Get(1)
	if dev.Type != DeviceFlowmeter {
		t.Errorf("Type = %v, want flowmeter", dev.Type)
	}
	if dev.Unlock.Unlocked {
		t.Errorf("Unlock state survived a SetType, want reset")
	}
	if got := bank.Read(1, 0x3000); got != 0 {
		t.Errorf("inverter default 0x3000 survived SetType to flowmeter: got %d, want 0", got)
	}
}

func TestRegistryEveryMutationPersists(t *testing.T) {
	registry, _, saver := newTestRegistry()
	registry.Add(1, DeviceInverter)
	registry.SetEnabled(1, false)
	registry.SetSimMode(1, SimManual)
	registry.Remove(1)

	if saver.calls != 4 {
		t.Errorf("SaveRoster called %d times, want 4", saver.calls)
	}
}

func TestRegistryListSortedByID(t *testing.T) {
	registry, _, _ := newTestRegistry()
	registry.Add(5, DeviceInverter)
	registry.Add(1, DeviceInverter)
	registry.Add(3, DeviceFlowmeter)

	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("List() length = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID > list[i].ID {
			t.Errorf("List() not sorted by ID: %v", list)
			break
		}
	}
}

func TestRegistrySeedDoesNotPersist(t *testing.T) {
	registry, bank, saver := newTestRegistry()
	registry.Seed([]Device{{ID: 1, Type: DeviceInverter, Enabled: true, SimMode: SimRandom}})

	if saver.calls != 0 {
		t.Errorf("Seed triggered %d persist calls, want 0", saver.calls)
	}
	if got := bank.Read(1, 0x3000); got != 5000 {
		t.Errorf("Seed did not allocate bank memory: Read(1, 0x3000) = %d", got)
	}
}
