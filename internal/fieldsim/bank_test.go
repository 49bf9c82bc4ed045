// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import "testing"

func TestRegisterBankAllocateSeedsDefaults(t *testing.T) {
	bank := NewRegisterBank()
	bank.AllocateDevice(1, DeviceInverter)

	if got := bank.Read(1, 0x3000); got != 5000 {
		t.Errorf("Read(1, 0x3000) = %d, want 5000", got)
	}
	if got := bank.Read(1, mirror(0x3000)); got != 5000 {
		t.Errorf("mirror register not seeded: got %d, want 5000", got)
	}
}

func TestRegisterBankFreeDeviceClearsMemory(t *testing.T) {
	bank := NewRegisterBank()
	bank.AllocateDevice(1, DeviceInverter)
	bank.FreeDevice(1)

	if got := bank.Read(1, 0x3000); got != 0 {
		t.Errorf("Read after FreeDevice = %d, want 0", got)
	}
}

func TestRegisterBankReadWriteUnallocatedIsNoop(t *testing.T) {
	bank := NewRegisterBank()
	bank.Write(9, 0x0000, 42) // no allocated memory for slave 9

	if got := bank.Read(9, 0x0000); got != 0 {
		t.Errorf("Read(9, ...) = %d, want 0", got)
	}
}

func TestRegisterBankReadManyWriteMany(t *testing.T) {
	bank := NewRegisterBank()
	bank.AllocateDevice(1, DeviceFlowmeter)

	bank.WriteMany(1, 100, []uint16{10, 20, 30})
	got := bank.ReadMany(1, 100, 3)
	want := []uint16{10, 20, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ReadMany[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRegisterBankSnapshotOnlyNonZero(t *testing.T) {
	bank := NewRegisterBank()
	bank.AllocateDevice(1, DeviceEnergymeter)
	bank.Write(1, 500, 0) // explicit zero, shouldn't appear
	bank.Write(1, 501, 7)

	snap := bank.Snapshot(1)
	if _, present := snap[500]; present {
		t.Errorf("Snapshot includes zero-valued register 500")
	}
	if snap[501] != 7 {
		t.Errorf("Snapshot[501] = %d, want 7", snap[501])
	}
}

func TestRegisterBankRestoreAppliesSparseValues(t *testing.T) {
	bank := NewRegisterBank()
	bank.AllocateDevice(1, DeviceInverter)
	bank.Restore(1, map[uint16]uint16{0x3000: 9999})

	if got := bank.Read(1, 0x3000); got != 9999 {
		t.Errorf("Read after Restore = %d, want 9999", got)
	}
}
