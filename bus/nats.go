// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/flightledger/flightledger/models"
)

// NATSBus publishes canonical events to a NATS deployment, one subject per
// topic, JSON-encoded with the ticket number carried as a message header so
// downstream consumers can partition without decoding the body.
type NATSBus struct {
	conn     *nats.Conn
	ownsConn bool
}

// NewNATSBus connects to the bootstrap URL and returns a remote bus.
func NewNATSBus(bootstrap, clientID string) (*NATSBus, error) {
	conn, err := nats.Connect(bootstrap, nats.Name(clientID))
	if err != nil {
		return nil, fmt.Errorf("connect transport bus: %w", err)
	}
	log.Infof("Transport bus connected to %s as %s", bootstrap, clientID)
	return &NATSBus{conn: conn, ownsConn: true}, nil
}

// NewNATSBusWithConn wraps an existing connection. Close leaves the
// connection open for the owner.
func NewNATSBusWithConn(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn}
}

// Publish sends the event to its mapped subject.
func (b *NATSBus) Publish(event models.CanonicalEvent) error {
	topic, err := TopicFor(event.EventType)
	if err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.EventID, err)
	}
	msg := nats.NewMsg(topic)
	msg.Header.Set("ticket-number", event.TicketNumber)
	msg.Data = body
	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish event %s to %s: %w", event.EventID, topic, err)
	}
	return nil
}

// PublishMany publishes events in order and flushes the connection so the
// batch is on the wire before returning.
func (b *NATSBus) PublishMany(events []models.CanonicalEvent) error {
	for _, event := range events {
		if err := b.Publish(event); err != nil {
			return err
		}
	}
	return b.conn.Flush()
}

// Close flushes pending publishes and, when the bus owns the connection,
// closes it.
func (b *NATSBus) Close() error {
	err := b.conn.Flush()
	if b.ownsConn {
		b.conn.Close()
	}
	return err
}
