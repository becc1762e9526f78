// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceSystem identifies the counterparty system a canonical event was
// normalized from.
type SourceSystem string

const (
	SourcePSS       SourceSystem = "PSS"
	SourceDCS       SourceSystem = "DCS"
	SourceGDS       SourceSystem = "GDS"
	SourceOTA       SourceSystem = "OTA"
	SourceInterline SourceSystem = "INTERLINE"
)

// Valid reports whether s is one of the five known source systems.
func (s SourceSystem) Valid() bool {
	switch s {
	case SourcePSS, SourceDCS, SourceGDS, SourceOTA, SourceInterline:
		return true
	}
	return false
}

// EventType is the canonical lifecycle event kind. The string values are
// wire-stable and appear verbatim in source payloads, topics and storage.
type EventType string

const (
	EventTicketIssued    EventType = "ticket_issued"
	EventTicketReissued  EventType = "ticket_reissued"
	EventTicketVoided    EventType = "ticket_voided"
	EventCouponFlown     EventType = "coupon_flown"
	EventRefundRequested EventType = "refund_requested"
	EventSettlementDue   EventType = "settlement_due"
	EventBookingModified EventType = "booking_modified"
	EventInterlineClaim  EventType = "interline_claim"
)

// EventTypes lists every canonical event type in declaration order.
func EventTypes() []EventType {
	return []EventType{
		EventTicketIssued,
		EventTicketReissued,
		EventTicketVoided,
		EventCouponFlown,
		EventRefundRequested,
		EventSettlementDue,
		EventBookingModified,
		EventInterlineClaim,
	}
}

// ParseEventType validates a raw event type string from a source payload.
func ParseEventType(raw string) (EventType, error) {
	et := EventType(raw)
	for _, known := range EventTypes() {
		if et == known {
			return et, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", raw)
}

// CanonicalEvent is the typed record shared by every pipeline stage. Events
// are immutable once created and uniquely identified by EventID. Monetary
// amounts are exact decimals; they encode as JSON strings so precision
// survives the transport boundary.
type CanonicalEvent struct {
	EventID          string            `json:"event_id"`
	OccurredAt       time.Time         `json:"occurred_at"`
	SourceSystem     SourceSystem      `json:"source_system"`
	EventType        EventType         `json:"event_type"`
	TicketNumber     string            `json:"ticket_number"`
	CouponNumber     *int              `json:"coupon_number,omitempty"`
	PNR              string            `json:"pnr,omitempty"`
	PassengerName    string            `json:"passenger_name,omitempty"`
	MarketingCarrier string            `json:"marketing_carrier,omitempty"`
	OperatingCarrier string            `json:"operating_carrier,omitempty"`
	FlightNumber     string            `json:"flight_number,omitempty"`
	FlightDate       string            `json:"flight_date,omitempty"`
	Origin           string            `json:"origin,omitempty"`
	Destination      string            `json:"destination,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	GrossAmount      *decimal.Decimal  `json:"gross_amount,omitempty"`
	NetAmount        *decimal.Decimal  `json:"net_amount,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// NewEventID returns a fresh globally unique event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// MarshalPayload encodes the event for persistence in a ticket event row.
func (e *CanonicalEvent) MarshalPayload() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	return payload, nil
}

// EventFromRow decodes the canonical event persisted in a ticket event row.
func EventFromRow(row TicketEventRow) (CanonicalEvent, error) {
	var event CanonicalEvent
	if err := json.Unmarshal(row.Payload, &event); err != nil {
		return CanonicalEvent{}, fmt.Errorf("decode event payload for row %s: %w", row.ID, err)
	}
	if event.EventID == "" {
		event.EventID = row.EventID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = row.OccurredAt
	}
	return event, nil
}
