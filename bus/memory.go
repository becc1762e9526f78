// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bus

import (
	"sort"
	"sync"

	"github.com/flightledger/flightledger/models"
)

// MemoryBus is the in-process snapshot bus: an ordered map of topic to
// append-only event list preserving publish order.
type MemoryBus struct {
	mtx    sync.RWMutex
	topics map[string][]models.CanonicalEvent
}

// NewMemoryBus returns an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string][]models.CanonicalEvent)}
}

// Publish appends the event to its mapped topic.
func (b *MemoryBus) Publish(event models.CanonicalEvent) error {
	topic, err := TopicFor(event.EventType)
	if err != nil {
		return err
	}
	b.mtx.Lock()
	b.topics[topic] = append(b.topics[topic], event)
	b.mtx.Unlock()
	return nil
}

// PublishMany publishes events in order, stopping at the first failure.
func (b *MemoryBus) PublishMany(events []models.CanonicalEvent) error {
	for _, event := range events {
		if err := b.Publish(event); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for the in-memory bus.
func (b *MemoryBus) Close() error { return nil }

// Topic returns a copy of the events published to topic, in publish order.
func (b *MemoryBus) Topic(topic string) []models.CanonicalEvent {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	events := make([]models.CanonicalEvent, len(b.topics[topic]))
	copy(events, b.topics[topic])
	return events
}

// TopicNames returns the populated topics in lexical order.
func (b *MemoryBus) TopicNames() []string {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of all topics and their events.
func (b *MemoryBus) Snapshot() map[string][]models.CanonicalEvent {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	snapshot := make(map[string][]models.CanonicalEvent, len(b.topics))
	for topic, events := range b.topics {
		copied := make([]models.CanonicalEvent, len(events))
		copy(copied, events)
		snapshot[topic] = copied
	}
	return snapshot
}
