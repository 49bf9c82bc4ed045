// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
	"gopkg.in/yaml.v3"
)

// rosterEntry is one device's durable roster record (spec §4.8: "{id
// -> {type, enabled, sim_mode}}"). Unlock state is deliberately absent
// — it isn't part of the durable roster.
type rosterEntry struct {
	Type    DeviceType `yaml:"type"`
	Enabled bool       `yaml:"enabled"`
	SimMode SimMode    `yaml:"sim_mode"`
}

type rosterFile struct {
	Devices map[byte]rosterEntry `yaml:"devices"`
}

type registersFile struct {
	Devices map[byte]map[uint16]uint16 `yaml:"devices"`
}

// Store persists the roster and sparse register snapshots as two
// human-readable YAML files, matching spec §4.8's "self-describing
// text encoding readable by humans." Reads memory-map the file before
// unmarshalling, following the "map, read, unmap" shape of
// MmapStorage.Load in the sibling gateway repo this design is grounded
// on; writes go through a temp-file-then-rename for atomic
// replacement, following the teacher's own care around explicit
// sync/error handling in RTUServer and its pty transport.
type Store struct {
	mu            sync.Mutex
	rosterPath    string
	registersPath string
}

// NewStore returns a Store persisting to roster.yaml and
// registers.yaml inside dir.
func NewStore(dir string) *Store {
	return &Store{
		rosterPath:    filepath.Join(dir, "roster.yaml"),
		registersPath: filepath.Join(dir, "registers.yaml"),
	}
}

// DefaultRoster is the built-in roster used when no roster file exists
// on disk (spec §4.8: "five inverters at ids 1..5 and two flowmeters
// at 110, 111").
func DefaultRoster() []Device {
	devices := make([]Device, 0, 7)
	for id := byte(1); id <= 5; id++ {
		devices = append(devices, Device{ID: id, Type: DeviceInverter, Enabled: true, SimMode: SimRandom})
	}
	devices = append(devices,
		Device{ID: 110, Type: DeviceFlowmeter, Enabled: true, SimMode: SimRandom},
		Device{ID: 111, Type: DeviceFlowmeter, Enabled: true, SimMode: SimRandom},
	)
	return devices
}

// SaveRoster implements RosterSaver, called on every registry
// mutation.
func (s *Store) SaveRoster(devices []Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rf := rosterFile{Devices: make(map[byte]rosterEntry, len(devices))}
	for _, d := range devices {
		rf.Devices[d.ID] = rosterEntry{Type: d.Type, Enabled: d.Enabled, SimMode: d.SimMode}
	}
	out, err := yaml.Marshal(rf)
	if err != nil {
		return fmt.Errorf("fieldsim: marshalling roster: %w", err)
	}
	return writeAtomic(s.rosterPath, out)
}

// SaveRegisters persists id's non-default register snapshot, called
// only on operator-initiated writes (spec §4.8: "not on every
// master-driven change — that would thrash the disk").
func (s *Store) SaveRegisters(id byte, snapshot map[uint16]uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadRegistersLocked()
	if err != nil {
		return err
	}
	if existing.Devices == nil {
		existing.Devices = make(map[byte]map[uint16]uint16)
	}
	existing.Devices[id] = snapshot

	out, err := yaml.Marshal(existing)
	if err != nil {
		return fmt.Errorf("fieldsim: marshalling registers: %w", err)
	}
	return writeAtomic(s.registersPath, out)
}

// Load reads the roster (or DefaultRoster if absent) and the sparse
// register snapshots, discarding any register entries for ids not
// present in the roster (spec §4.8: "if memory mentions an id not in
// the roster, ignore it").
func (s *Store) Load() (roster []Device, registers map[byte]map[uint16]uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rf, err := s.loadRosterLocked()
	if err != nil {
		return nil, nil, err
	}
	if rf.Devices == nil {
		return DefaultRoster(), nil, nil
	}

	roster = make([]Device, 0, len(rf.Devices))
	known := make(map[byte]bool, len(rf.Devices))
	for id, entry := range rf.Devices {
		roster = append(roster, Device{ID: id, Type: entry.Type, Enabled: entry.Enabled, SimMode: entry.SimMode})
		known[id] = true
	}

	regs, err := s.loadRegistersLocked()
	if err != nil {
		return nil, nil, err
	}
	registers = make(map[byte]map[uint16]uint16, len(regs.Devices))
	for id, snapshot := range regs.Devices {
		if known[id] {
			registers[id] = snapshot
		}
	}
	return roster, registers, nil
}

func (s *Store) loadRosterLocked() (rosterFile, error) {
	var rf rosterFile
	data, err := readMmap(s.rosterPath)
	if err != nil {
		if os.IsNotExist(err) {
			return rf, nil
		}
		return rf, err
	}
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return rf, fmt.Errorf("fieldsim: parsing %s: %w", s.rosterPath, err)
	}
	return rf, nil
}

func (s *Store) loadRegistersLocked() (registersFile, error) {
	var regs registersFile
	data, err := readMmap(s.registersPath)
	if err != nil {
		if os.IsNotExist(err) {
			return regs, nil
		}
		return regs, err
	}
	if err := yaml.Unmarshal(data, &regs); err != nil {
		return regs, fmt.Errorf("fieldsim: parsing %s: %w", s.registersPath, err)
	}
	return regs, nil
}

// readMmap maps path into memory, copies its contents into a plain
// byte slice, and unmaps it before returning — the file descriptor and
// mapping don't outlive this call.
func readMmap(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("fieldsim: mapping %s: %w", path, err)
	}
	defer m.Unmap()

	out := make([]byte, len(m))
	copy(out, m)
	return out, nil
}

// writeAtomic writes data to a temp file beside path and renames it
// into place, so a crash mid-write never leaves a truncated file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("fieldsim: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fieldsim: writing %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fieldsim: syncing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fieldsim: closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fieldsim: renaming %s to %s: %w", tmpPath, path, err)
	}
	return nil
}
