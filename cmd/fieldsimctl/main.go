// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Command fieldsimctl inspects and edits a fieldsim daemon's persisted
// roster and register state offline — it never talks to a running
// fieldsimd or the serial line, only the YAML files fieldsimd reads
// and writes.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rs485lab/fieldsim/internal/fieldsim"
)

func main() {
	app := &cli.App{
		Name:  "fieldsimctl",
		Usage: "inspect and edit a fieldsim daemon's persisted state offline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state-dir",
				Aliases: []string{"d"},
				Usage:   "directory containing roster.yaml and registers.yaml",
				Value:   "./fieldsim-state",
			},
		},
		Commands: []*cli.Command{
			{Name: "list", Usage: "list every device in the roster", Action: listAction},
			{
				Name:  "add",
				Usage: "add a device to the roster",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "type", Required: true, Usage: "inverter, flowmeter, or energymeter"},
				},
				Action: addAction,
			},
			{
				Name:  "remove",
				Usage: "remove a device from the roster",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "id", Required: true},
				},
				Action: removeAction,
			},
			{
				Name:  "get-register",
				Usage: "print a single register's value",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "id", Required: true},
					&cli.UintFlag{Name: "addr", Required: true},
				},
				Action: getRegisterAction,
			},
			{
				Name:  "set-register",
				Usage: "write a single register, validated exactly as a live write would be",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "id", Required: true},
					&cli.UintFlag{Name: "addr", Required: true},
					&cli.UintFlag{Name: "value", Required: true},
				},
				Action: setRegisterAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadOffline reconstructs a Registry and RegisterBank from persisted
// state, the same seeding NewServer does, without opening a byte
// stream or starting the dispatch loop.
func loadOffline(stateDir string) (*fieldsim.Store, *fieldsim.Registry, *fieldsim.RegisterBank, *fieldsim.EventBus, error) {
	store := fieldsim.NewStore(stateDir)
	roster, registers, err := store.Load()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	bank := fieldsim.NewRegisterBank()
	events := fieldsim.NewEventBus()
	registry := fieldsim.NewRegistry(bank, events)
	registry.SetSaver(store)
	registry.Seed(roster)
	for id, snapshot := range registers {
		bank.Restore(id, snapshot)
	}
	return store, registry, bank, events, nil
}

func listAction(c *cli.Context) error {
	_, registry, _, _, err := loadOffline(c.String("state-dir"))
	if err != nil {
		return err
	}
	for _, dev := range registry.List() {
		fmt.Printf("%3d  %-11s enabled=%-5t sim_mode=%s\n", dev.ID, dev.Type, dev.Enabled, dev.SimMode)
	}
	return nil
}

func addAction(c *cli.Context) error {
	_, registry, _, _, err := loadOffline(c.String("state-dir"))
	if err != nil {
		return err
	}
	return registry.Add(byte(c.Uint("id")), fieldsim.DeviceType(c.String("type")))
}

func removeAction(c *cli.Context) error {
	_, registry, _, _, err := loadOffline(c.String("state-dir"))
	if err != nil {
		return err
	}
	return registry.Remove(byte(c.Uint("id")))
}

func getRegisterAction(c *cli.Context) error {
	_, _, bank, _, err := loadOffline(c.String("state-dir"))
	if err != nil {
		return err
	}
	val := bank.Read(byte(c.Uint("id")), uint16(c.Uint("addr")))
	fmt.Printf("0x%04X\n", val)
	return nil
}

func setRegisterAction(c *cli.Context) error {
	store, registry, bank, events, err := loadOffline(c.String("state-dir"))
	if err != nil {
		return err
	}
	id := byte(c.Uint("id"))
	addr := uint16(c.Uint("addr"))
	value := uint16(c.Uint("value"))

	validator := fieldsim.NewWriteValidator(registry, bank, events)
	if allowed, code := validator.Validate(id, addr, value); !allowed {
		return fmt.Errorf("write rejected with exception code 0x%02X", code)
	}

	bank.Write(id, addr, value)
	return store.SaveRegisters(id, bank.Snapshot(id))
}
