// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package fieldsim

import (
	"fmt"
	"sync"
)

// Severity classifies a log event, matching spec §6's event surface.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityErr  Severity = "err"
	SeverityRX   Severity = "rx"
	SeverityTX   Severity = "tx"
)

// EventKind names the shape of an Event's payload.
type EventKind string

const (
	EventServerStatus     EventKind = "server-status"
	EventDeviceAdded      EventKind = "device-added"
	EventDeviceRemoved    EventKind = "device-removed"
	EventDeviceUpdated    EventKind = "device-updated"
	EventDevicesList      EventKind = "devices-list"
	EventRegisterChanged  EventKind = "register-changed"
	EventRegistersChanged EventKind = "registers-changed"
	EventLog              EventKind = "log"
)

// Event is one item on the operator event stream (spec §6). Only the
// fields relevant to Kind are populated; consumers switch on Kind.
type Event struct {
	Kind EventKind

	// server-status
	Running bool

	// device-added / device-removed / device-updated
	Device Device

	// devices-list
	Devices []Device

	// register-changed
	SlaveID byte
	Addr    uint16
	Value   uint16

	// registers-changed
	Updates map[uint16]uint16

	// log
	Severity Severity
	Text     string
}

// eventBusCapacity bounds each subscriber's channel. A slow consumer
// falls behind and starts losing the oldest queued events rather than
// stalling the dispatcher (spec §5, §9: "dropping oldest events on
// overflow is acceptable given events are advisory").
const eventBusCapacity = 256

// EventBus is a bounded, drop-oldest fan-out broadcaster: write-only by
// the core, read-only by observers (spec §5).
type EventBus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a new observer and returns its channel. The
// channel is never closed by Publish; callers that stop listening
// should just stop reading from it — the bus does not track exit.
func (b *EventBus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, eventBusCapacity)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish fans e out to every subscriber, dropping the oldest queued
// event for any subscriber whose channel is full rather than blocking.
func (b *EventBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Logf publishes a log event at the given severity.
func (b *EventBus) Logf(sev Severity, format string, args ...any) {
	b.Publish(Event{Kind: EventLog, Severity: sev, Text: fmt.Sprintf(format, args...)})
}
