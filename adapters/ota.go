// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package adapters

import (
	"bytes"
	"encoding/json"

	"github.com/flightledger/flightledger/models"
)

// otaBooking is one online-travel-agent webhook body. The webhook delivers
// either a single booking or an array of them; event_type defaults to
// booking_modified and must name a known type when present.
type otaBooking struct {
	EventType     string          `json:"event_type"`
	TicketNumber  string          `json:"ticket_number"`
	PNR           string          `json:"pnr"`
	PassengerName string          `json:"passenger_name"`
	FlightNumber  string          `json:"flight_number"`
	FlightDate    string          `json:"flight_date"`
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	Currency      string          `json:"currency"`
	GrossAmount   json.RawMessage `json:"gross_amount"`
	NetAmount     json.RawMessage `json:"net_amount"`
	OTA           string          `json:"ota"`
	Status        string          `json:"status"`
}

// OTAAdapter parses online-travel-agent webhook payloads.
type OTAAdapter struct{}

func (OTAAdapter) Source() models.SourceSystem { return models.SourceOTA }

func (a OTAAdapter) Parse(payload []byte) ([]models.CanonicalEvent, error) {
	var bookings []otaBooking
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &bookings); err != nil {
			return nil, parseErrorf(a.Source(), err, "malformed JSON array")
		}
	} else {
		var single otaBooking
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, parseErrorf(a.Source(), err, "malformed JSON object")
		}
		bookings = []otaBooking{single}
	}

	events := make([]models.CanonicalEvent, 0, len(bookings))
	for i, booking := range bookings {
		eventType := models.EventBookingModified
		if booking.EventType != "" {
			var err error
			eventType, err = models.ParseEventType(booking.EventType)
			if err != nil {
				return nil, parseErrorf(a.Source(), err, "booking %d", i)
			}
		}
		if booking.TicketNumber == "" {
			return nil, parseErrorf(a.Source(), nil, "booking %d: missing ticket_number", i)
		}
		gross, err := optionalDecimalJSON(booking.GrossAmount)
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "booking %d: bad gross_amount", i)
		}
		net, err := optionalDecimalJSON(booking.NetAmount)
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "booking %d: bad net_amount", i)
		}

		event := newEvent(a.Source(), eventType, booking.TicketNumber)
		event.PNR = booking.PNR
		event.PassengerName = booking.PassengerName
		event.FlightNumber = booking.FlightNumber
		event.FlightDate = booking.FlightDate
		event.Origin = booking.Origin
		event.Destination = booking.Destination
		event.Currency = booking.Currency
		event.GrossAmount = gross
		event.NetAmount = net
		event.Metadata = map[string]string{"source_record_type": "ota_webhook_json"}
		putMeta(event.Metadata, "ota", booking.OTA)
		putMeta(event.Metadata, "status", booking.Status)
		events = append(events, event)
	}
	log.Debugf("OTA: parsed %d event(s)", len(events))
	return events, nil
}
