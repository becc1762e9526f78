// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bus routes canonical events onto wire-stable topics and fans them
// out to one or more sinks.
package bus

import (
	"fmt"

	"github.com/flightledger/flightledger/models"
)

// Topic names are wire-stable.
const (
	TopicTicketIssued    = "ticket.issued"
	TopicCouponFlown     = "coupon.flown"
	TopicRefundRequested = "refund.requested"
	TopicSettlementDue   = "settlement.due"
	TopicBookingModified = "booking.modified"
)

// eventTopics maps every canonical event type to its topic.
var eventTopics = map[models.EventType]string{
	models.EventTicketIssued:    TopicTicketIssued,
	models.EventTicketReissued:  TopicTicketIssued,
	models.EventTicketVoided:    TopicTicketIssued,
	models.EventCouponFlown:     TopicCouponFlown,
	models.EventRefundRequested: TopicRefundRequested,
	models.EventSettlementDue:   TopicSettlementDue,
	models.EventBookingModified: TopicBookingModified,
	models.EventInterlineClaim:  TopicSettlementDue,
}

// TopicFor returns the topic a canonical event type routes to.
func TopicFor(eventType models.EventType) (string, error) {
	topic, ok := eventTopics[eventType]
	if !ok {
		return "", fmt.Errorf("no topic mapped for event type %q", eventType)
	}
	return topic, nil
}

// Bus publishes canonical events onto their mapped topics. Publish order is
// preserved per publisher within a topic.
type Bus interface {
	Publish(event models.CanonicalEvent) error
	PublishMany(events []models.CanonicalEvent) error
	Close() error
}
