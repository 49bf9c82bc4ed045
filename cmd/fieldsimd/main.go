// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Command fieldsimd runs a multi-device Modbus RTU slave simulator
// against a real serial port or, when none is configured, an
// ephemeral loopback pty for development.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs485lab/fieldsim/internal/fieldsim"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(os.Stdout, "fieldsimd: ", log.LstdFlags)

	stream, clientPath, err := openTransport(cfg)
	if err != nil {
		return fmt.Errorf("opening transport: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	store := fieldsim.NewStore(cfg.StateDir)

	server, err := fieldsim.NewServer(stream, store, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	var bridge *mqttBridge
	stopBridge := make(chan struct{})
	if cfg.MQTTBroker != "" {
		bridge, err = startMQTTBridge(cfg.MQTTBroker, cfg.MQTTTopic, server.Events, logger, stopBridge)
		if err != nil {
			return fmt.Errorf("starting mqtt bridge: %w", err)
		}
	}

	server.Start()
	logger.Printf("listening on %s (baud %d), %d device(s)", clientPath, cfg.BaudRate, len(server.ListDevices()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Printf("shutting down")
	close(stopBridge)
	if bridge != nil {
		bridge.Close()
	}
	return server.Stop()
}

// openTransport opens the configured serial device, or an ephemeral
// loopback pty when Device is unset — the same "no hardware needed"
// path the teacher's RTUServer always used, now opt-in for development
// rather than the only mode.
func openTransport(cfg *Config) (fieldsim.ByteStream, string, error) {
	if cfg.Device == "" {
		stream, err := fieldsim.NewPtyByteStream()
		if err != nil {
			return nil, "", err
		}
		return stream, stream.ClientPath(), nil
	}

	stream, err := OpenSerialPort(cfg.Device, cfg.BaudRate)
	if err != nil {
		return nil, "", err
	}
	return stream, cfg.Device, nil
}
