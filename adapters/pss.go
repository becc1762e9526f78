// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package adapters

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/flightledger/flightledger/models"
)

// PSSAdapter parses reservation-system ticketing batches. The payload is CSV
// with a header row; each row names its own event type. Optional cells may be
// empty and parse to null.
type PSSAdapter struct{}

func (PSSAdapter) Source() models.SourceSystem { return models.SourcePSS }

func (a PSSAdapter) Parse(payload []byte) ([]models.CanonicalEvent, error) {
	reader := csv.NewReader(bytes.NewReader(payload))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, parseErrorf(a.Source(), err, "missing CSV header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var events []models.CanonicalEvent
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "malformed CSV row %d", line)
		}

		eventType, err := models.ParseEventType(field(row, "event_type"))
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "row %d", line)
		}
		ticketNumber := field(row, "ticket_number")
		if ticketNumber == "" {
			return nil, parseErrorf(a.Source(), nil, "row %d: missing ticket_number", line)
		}
		coupon, err := optionalInt(field(row, "coupon_number"))
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "row %d: bad coupon_number", line)
		}
		gross, err := optionalDecimal(field(row, "gross_amount"))
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "row %d: bad gross_amount", line)
		}
		net, err := optionalDecimal(field(row, "net_amount"))
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "row %d: bad net_amount", line)
		}

		event := newEvent(a.Source(), eventType, ticketNumber)
		event.CouponNumber = coupon
		event.PNR = field(row, "pnr")
		event.PassengerName = field(row, "passenger_name")
		event.MarketingCarrier = field(row, "marketing_carrier")
		event.OperatingCarrier = field(row, "operating_carrier")
		event.FlightNumber = field(row, "flight_number")
		event.FlightDate = field(row, "flight_date")
		event.Origin = field(row, "origin")
		event.Destination = field(row, "destination")
		event.Currency = field(row, "currency")
		event.GrossAmount = gross
		event.NetAmount = net
		event.Metadata = map[string]string{"source_record_type": "pss_csv"}
		putMeta(event.Metadata, "sales_channel", field(row, "sales_channel"))
		events = append(events, event)
	}
	log.Debugf("PSS: parsed %d event(s)", len(events))
	return events, nil
}
