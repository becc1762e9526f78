// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package adapters

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"

	"github.com/flightledger/flightledger/models"
)

// gdsRecord is one GDS/agent settlement line. Records can appear at any depth
// under the document root.
type gdsRecord struct {
	TicketNumber   string `xml:"ticket_number"`
	CouponNumber   string `xml:"coupon_number"`
	Currency       string `xml:"currency"`
	GrossAmount    string `xml:"gross_amount"`
	NetAmount      string `xml:"net_amount"`
	GDS            string `xml:"gds"`
	SettlementWeek string `xml:"settlement_week"`
}

// GDSAdapter parses GDS settlement files. Every record becomes a
// settlement_due event; amounts are parsed as exact decimals.
type GDSAdapter struct{}

func (GDSAdapter) Source() models.SourceSystem { return models.SourceGDS }

func (a GDSAdapter) Parse(payload []byte) ([]models.CanonicalEvent, error) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	var events []models.CanonicalEvent
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "malformed XML")
		}
		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "record" {
			continue
		}
		var record gdsRecord
		if err := decoder.DecodeElement(&record, &start); err != nil {
			return nil, parseErrorf(a.Source(), err, "malformed record element")
		}
		if record.TicketNumber == "" {
			return nil, parseErrorf(a.Source(), nil, "record %d: missing ticket_number", len(events))
		}
		coupon, err := optionalInt(record.CouponNumber)
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "bad coupon_number for ticket %s", record.TicketNumber)
		}
		gross, err := optionalDecimal(record.GrossAmount)
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "bad gross_amount for ticket %s", record.TicketNumber)
		}
		net, err := optionalDecimal(record.NetAmount)
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "bad net_amount for ticket %s", record.TicketNumber)
		}

		event := newEvent(a.Source(), models.EventSettlementDue, record.TicketNumber)
		event.CouponNumber = coupon
		event.Currency = record.Currency
		event.GrossAmount = gross
		event.NetAmount = net
		event.Metadata = map[string]string{"source_record_type": "gds_xml"}
		putMeta(event.Metadata, "gds", record.GDS)
		putMeta(event.Metadata, "settlement_week", record.SettlementWeek)
		events = append(events, event)
	}
	log.Debugf("GDS: parsed %d event(s)", len(events))
	return events, nil
}
