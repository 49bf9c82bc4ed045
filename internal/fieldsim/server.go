// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package fieldsim implements a multi-device Modbus RTU slave on top of
// package modbus's resynchronising frame parser: a per-slave register bank, a device
// registry, an inverter write validator, a reactive/periodic behavior
// engine, a request dispatcher, YAML persistence, and an event stream
// — everything upstream of the byte transport itself.
package fieldsim

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/rs485lab/fieldsim/modbus"
)

// tickInterval drives the behavior engine's periodic telemetry drift
// (spec §4.7: "a 1 Hz tick").
const tickInterval = 1 * time.Second

// readPollInterval bounds how long a single stream read blocks before
// the dispatch loop rechecks its stop channel and ticker (spec §5:
// "suspension points ... awaiting new bytes").
const readPollInterval = 100 * time.Millisecond

// Server owns the single dispatch goroutine that reads frames off a
// ByteStream, answers them, and drives the behavior engine's ticker —
// directly generalizing the teacher's RTUServer.serve/handleRequest
// loop to multiple slaves (spec §5: "single-threaded cooperative
// dispatch").
type Server struct {
	Registry *Registry
	Bank     *RegisterBank
	Events   *EventBus

	dispatcher *Dispatcher
	validator  *WriteValidator
	engine     *Engine
	store      *Store
	logger     *log.Logger

	stream ByteStream
	parser *modbus.Parser

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewServer wires a Server around stream and store, loading persisted
// (or default) state before returning.
func NewServer(stream ByteStream, store *Store, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "fieldsimd: ", log.LstdFlags)
	}

	bank := NewRegisterBank()
	events := NewEventBus()
	registry := NewRegistry(bank, events)
	registry.SetSaver(store)
	validator := NewWriteValidator(registry, bank, events)
	engine := NewEngine(bank, events)
	dispatcher := NewDispatcher(registry, bank, validator, engine, events)

	roster, registers, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("fieldsim: loading persisted state: %w", err)
	}
	registry.Seed(roster)
	for id, snapshot := range registers {
		bank.Restore(id, snapshot)
	}

	return &Server{
		Registry:   registry,
		Bank:       bank,
		Events:     events,
		dispatcher: dispatcher,
		validator:  validator,
		engine:     engine,
		store:      store,
		logger:     logger,
		stream:     stream,
		parser:     modbus.NewParser(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start launches the dispatch loop in a goroutine and returns
// immediately.
func (s *Server) Start() {
	s.Events.Publish(Event{Kind: EventServerStatus, Running: true})
	go s.serve()
}

// Stop closes the byte stream, discards any in-flight frame assembly,
// and waits for the dispatch loop to exit (spec §5: "stopping the
// server closes the serial port; any in-flight frame assembly is
// discarded").
func (s *Server) Stop() error {
	close(s.stopCh)
	err := s.stream.Close()

	select {
	case <-s.doneCh:
	case <-time.After(1 * time.Second):
		s.logger.Printf("stop timed out waiting for dispatch loop")
	}

	s.Events.Publish(Event{Kind: EventServerStatus, Running: false})
	return err
}

func (s *Server) serve() {
	defer close(s.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	buf := make([]byte, 512)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.engine.Tick(s.Registry.List())
		default:
		}

		if err := s.stream.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			s.logger.Printf("warning: failed to set read deadline: %v", err)
		}

		n, err := s.stream.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if os.IsTimeout(err) {
				continue
			}
			s.logger.Printf("read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}

		frames, overflowed := s.parser.Feed(buf[:n])
		if overflowed {
			s.logger.Printf("frame buffer overflow, discarding unparsed bytes")
		}
		for _, frame := range frames {
			s.handleFrame(frame)
		}
	}
}

func (s *Server) handleFrame(frame []byte) {
	unitID, pdu, err := modbus.DecodeRequest(frame)
	if err != nil {
		s.logger.Printf("decode error: %v", err)
		return
	}
	if !modbus.IsSupportedFunctionCode(pdu.FunctionCode) {
		return
	}

	response, ok := s.dispatcher.Handle(unitID, pdu.FunctionCode, pdu.Data)
	if !ok {
		return
	}
	if _, err := s.stream.Write(response); err != nil {
		s.logger.Printf("write error: %v", err)
	}
}

// AddDevice, RemoveDevice, SetType, SetEnabled and SetSimMode are the
// registry mutations of the operator command surface (spec §6).
func (s *Server) AddDevice(id byte, t DeviceType) error  { return s.Registry.Add(id, t) }
func (s *Server) RemoveDevice(id byte) error             { return s.Registry.Remove(id) }
func (s *Server) SetType(id byte, t DeviceType) error    { return s.Registry.SetType(id, t) }
func (s *Server) SetEnabled(id byte, enabled bool) error { return s.Registry.SetEnabled(id, enabled) }
func (s *Server) SetSimMode(id byte, mode SimMode) error { return s.Registry.SetSimMode(id, mode) }
func (s *Server) ListDevices() []Device                  { return s.Registry.List() }
func (s *Server) GetDeviceState(id byte) (Device, bool)  { return s.Registry.Get(id) }

// GetRegister reads a single register (spec §6).
func (s *Server) GetRegister(id byte, addr uint16) uint16 {
	return s.Bank.Read(id, addr)
}

// SetRegister performs an operator-initiated write: it runs through
// the same validator and behavior engine as a master-driven write, but
// additionally persists the device's register snapshot immediately
// (spec §4.8: "written on every operator-initiated register change").
func (s *Server) SetRegister(id byte, addr, val uint16) error {
	dev, exists := s.Registry.Get(id)
	if !exists {
		return fmt.Errorf("fieldsim: device %d does not exist", id)
	}

	if allowed, code := s.validator.Validate(id, addr, val); !allowed {
		return &modbus.ModbusError{FunctionCode: modbus.FuncCodeWriteSingleRegister, ExceptionCode: code}
	}

	s.Bank.Write(id, addr, val)
	s.engine.OnWrite(dev, addr, val)

	if err := s.store.SaveRegisters(id, s.Bank.Snapshot(id)); err != nil {
		s.Events.Logf(SeverityErr, "persisting registers for slave %d: %v", id, err)
	}
	return nil
}
