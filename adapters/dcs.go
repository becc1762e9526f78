// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package adapters

import (
	"bytes"
	"encoding/json"

	"github.com/flightledger/flightledger/models"
)

// dcsRecord is one departure-control boarding record. The stream delivers
// either a single object or an array of them.
type dcsRecord struct {
	TicketNumber string `json:"ticket_number"`
	CouponNumber *int   `json:"coupon_number"`
	PNR          string `json:"pnr"`
	FlightNumber string `json:"flight_number"`
	FlightDate   string `json:"flight_date"`
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`
	BoardedAt    string `json:"boarded_at"`
	Gate         string `json:"gate"`
}

// DCSAdapter parses departure-control boarding messages. Every record becomes
// a coupon_flown event.
type DCSAdapter struct{}

func (DCSAdapter) Source() models.SourceSystem { return models.SourceDCS }

func (a DCSAdapter) Parse(payload []byte) ([]models.CanonicalEvent, error) {
	var records []dcsRecord
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, parseErrorf(a.Source(), err, "malformed JSON array")
		}
	} else {
		var single dcsRecord
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, parseErrorf(a.Source(), err, "malformed JSON object")
		}
		records = []dcsRecord{single}
	}

	events := make([]models.CanonicalEvent, 0, len(records))
	for i, record := range records {
		if record.TicketNumber == "" {
			return nil, parseErrorf(a.Source(), nil, "record %d: missing ticket_number", i)
		}
		event := newEvent(a.Source(), models.EventCouponFlown, record.TicketNumber)
		event.CouponNumber = record.CouponNumber
		event.PNR = record.PNR
		event.FlightNumber = record.FlightNumber
		event.FlightDate = record.FlightDate
		event.Origin = record.Origin
		event.Destination = record.Destination
		event.Metadata = map[string]string{"source_record_type": "dcs_json"}
		putMeta(event.Metadata, "boarded_at", record.BoardedAt)
		putMeta(event.Metadata, "gate", record.Gate)
		events = append(events, event)
	}
	log.Debugf("DCS: parsed %d event(s)", len(events))
	return events, nil
}
