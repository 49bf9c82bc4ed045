// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/rs485lab/fieldsim/internal/fieldsim"
)

// mqttBridge republishes every event on an EventBus to an MQTT topic as
// JSON, one concrete example of the external collaborator the event
// stream exists to serve (spec §6). It is entirely optional: the
// daemon runs identically with it disabled.
type mqttBridge struct {
	client paho.Client
	topic  string
	logger *log.Logger
}

// startMQTTBridge connects to broker and forwards events until stop is
// closed.
func startMQTTBridge(broker, topic string, events *fieldsim.EventBus, logger *log.Logger, stop <-chan struct{}) (*mqttBridge, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("fieldsimd").
		SetCleanSession(true)

	client := paho.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout connecting to %s", broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b := &mqttBridge{client: client, topic: topic, logger: logger}
	go b.forward(events, stop)
	return b, nil
}

func (b *mqttBridge) forward(events *fieldsim.EventBus, stop <-chan struct{}) {
	sub := events.Subscribe()
	for {
		select {
		case <-stop:
			return
		case ev := <-sub:
			payload, err := json.Marshal(ev)
			if err != nil {
				b.logger.Printf("mqtt bridge: marshalling event: %v", err)
				continue
			}
			tok := b.client.Publish(b.topic, 0, false, payload)
			tok.Wait()
			if err := tok.Error(); err != nil {
				b.logger.Printf("mqtt bridge: publish failed: %v", err)
			}
		}
	}
}

func (b *mqttBridge) Close() {
	b.client.Disconnect(250)
}
