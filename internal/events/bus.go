/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Broadcast lifecycle events
	EventBroadcastStarted     EventType = "broadcast.started"
	EventBroadcastCompleted   EventType = "broadcast.completed"
	EventBroadcastInterrupted EventType = "broadcast.interrupted"
	EventBroadcastResumed     EventType = "broadcast.resumed"
	EventBroadcastDenied      EventType = "broadcast.denied"
	EventBroadcastStopped     EventType = "broadcast.stopped"

	// Emergency alarm events
	EventEmergencyActivated EventType = "emergency.activated"
	EventEmergencyCleared   EventType = "emergency.cleared"

	// Schedule events
	EventScheduleCreated EventType = "schedule.created"
	EventScheduleUpdated EventType = "schedule.updated"
	EventScheduleDeleted EventType = "schedule.deleted"
	EventScheduleFired   EventType = "schedule.fired"

	// Controller state events
	EventStateChanged EventType = "state.changed"

	// Liveness supervision events
	EventWatchdogStale  EventType = "watchdog.stale"
	EventWatchdogZombie EventType = "watchdog.zombie"
	EventDeviceOnline   EventType = "device.online"

	// Housekeeping events
	EventNotification EventType = "notification.created"
	EventAudioStored  EventType = "audio.stored"
	EventLogCleanup   EventType = "logs.cleanup"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Broker is the pubsub surface shared by the in-process bus and external bridges.
type Broker interface {
	Subscribe(eventType EventType) Subscriber
	Publish(eventType EventType, payload Payload)
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
