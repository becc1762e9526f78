// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bus

import (
	"errors"

	"github.com/flightledger/flightledger/models"
)

// FanoutBus forwards every event to each of its sinks. A failing sink never
// blocks the others; the per-sink errors are joined and surfaced to the
// caller.
type FanoutBus struct {
	sinks []Bus
}

// NewFanoutBus returns a bus that forwards to sinks in order.
func NewFanoutBus(sinks ...Bus) *FanoutBus {
	return &FanoutBus{sinks: sinks}
}

// Publish forwards event to every sink.
func (b *FanoutBus) Publish(event models.CanonicalEvent) error {
	var errs []error
	for _, sink := range b.sinks {
		if err := sink.Publish(event); err != nil {
			log.Warnf("fanout: sink publish failed for event %s: %v", event.EventID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishMany forwards every event to every sink.
func (b *FanoutBus) PublishMany(events []models.CanonicalEvent) error {
	var errs []error
	for _, event := range events {
		if err := b.Publish(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink, joining any errors.
func (b *FanoutBus) Close() error {
	var errs []error
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
