// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package system

import (
	"github.com/flightledger/flightledger/adapters"
)

// SourceChannel describes one demo feed and the adapter that parses it.
type SourceChannel struct {
	ChannelID string
	Name      string
	Protocol  string
	Format    string
	Adapter   adapters.Adapter
	Payload   string
}

// SourceChannels returns the five demo counterparty feeds. The payloads are
// a self-contained close cycle: matched coupons plus one of every break kind.
func SourceChannels() []SourceChannel {
	return []SourceChannel{
		{
			ChannelID: "reservation_pss",
			Name:      "Reservation (PSS)",
			Protocol:  "SFTP Batch",
			Format:    "CSV",
			Adapter:   adapters.PSSAdapter{},
			Payload:   pssTicketsCSV,
		},
		{
			ChannelID: "departure_control_dcs",
			Name:      "Departure Control (DCS)",
			Protocol:  "WebSocket Streaming",
			Format:    "JSON",
			Adapter:   adapters.DCSAdapter{},
			Payload:   dcsCouponFlownJSON,
		},
		{
			ChannelID: "gds_agent_settlement",
			Name:      "GDS/Agent Settlements",
			Protocol:  "SFTP",
			Format:    "XML",
			Adapter:   adapters.GDSAdapter{},
			Payload:   gdsSettlementsXML,
		},
		{
			ChannelID: "ota_partners",
			Name:      "OTA Partners",
			Protocol:  "REST + Webhook",
			Format:    "JSON",
			Adapter:   adapters.OTAAdapter{},
			Payload:   otaWebhookJSON,
		},
		{
			ChannelID: "interline_partners",
			Name:      "Interline Partners",
			Protocol:  "REST API",
			Format:    "JSON",
			Adapter:   adapters.InterlineAdapter{},
			Payload:   interlineClaimsJSON,
		},
	}
}

const pssTicketsCSV = `event_type,ticket_number,coupon_number,pnr,passenger_name,marketing_carrier,operating_carrier,flight_number,flight_date,origin,destination,currency,gross_amount,net_amount,sales_channel
ticket_issued,0012400000111,1,QX7PLM,Amara Okafor,FL,FL,FL100,2024-06-01,JFK,LHR,USD,450.00,410.00,direct
ticket_issued,0012400000111,2,QX7PLM,Amara Okafor,FL,BA,FL204,2024-06-03,LHR,CDG,USD,220.00,200.00,direct
ticket_issued,0012400000122,1,MK3RTB,Bruno Silva,FL,FL,FL482,2024-06-02,GRU,MIA,USD,320.50,,ota
ticket_issued,0012400000133,1,ZV9QKD,Chen Wei,FL,UA,FL777,2024-06-04,PEK,SFO,USD,780.00,705.00,gds
ticket_issued,0012400000144,1,TL4WNE,Dara Patel,FL,FL,FL310,2024-06-05,DEL,BOM,USD,150.00,135.00,direct
ticket_issued,0012400000155,1,HB2SFJ,Elif Yilmaz,FL,FL,FL650,2024-06-06,IST,AMS,USD,95.25,,ota
`

const dcsCouponFlownJSON = `[
  {"ticket_number": "0012400000111", "coupon_number": 1, "pnr": "QX7PLM", "flight_number": "FL100", "flight_date": "2024-06-01", "origin": "JFK", "destination": "LHR", "boarded_at": "2024-06-01T17:42:00Z", "gate": "B22"},
  {"ticket_number": "0012400000111", "coupon_number": 2, "pnr": "QX7PLM", "flight_number": "FL204", "flight_date": "2024-06-03", "origin": "LHR", "destination": "CDG", "boarded_at": "2024-06-03T08:15:00Z", "gate": "A4"},
  {"ticket_number": "0012400000122", "coupon_number": 1, "pnr": "MK3RTB", "flight_number": "FL482", "flight_date": "2024-06-02", "origin": "GRU", "destination": "MIA", "boarded_at": "2024-06-02T22:05:00Z", "gate": "C11"},
  {"ticket_number": "0012400000133", "coupon_number": 1, "pnr": "ZV9QKD", "flight_number": "FL777", "flight_date": "2024-06-04", "origin": "PEK", "destination": "SFO", "boarded_at": "2024-06-04T11:30:00Z", "gate": "D7"},
  {"ticket_number": "0012400000133", "coupon_number": 1, "pnr": "ZV9QKD", "flight_number": "FL777", "flight_date": "2024-06-04", "origin": "PEK", "destination": "SFO", "boarded_at": "2024-06-04T11:31:00Z", "gate": "D7"},
  {"ticket_number": "0012400000144", "coupon_number": 1, "pnr": "TL4WNE", "flight_number": "FL310", "flight_date": "2024-06-05", "origin": "DEL", "destination": "BOM", "boarded_at": "2024-06-05T06:50:00Z", "gate": "12"},
  {"ticket_number": "0012400000177", "coupon_number": 1, "flight_number": "FL901", "flight_date": "2024-06-07", "origin": "SYD", "destination": "AKL", "boarded_at": "2024-06-07T09:10:00Z", "gate": "35"}
]
`

const gdsSettlementsXML = `<?xml version="1.0" encoding="UTF-8"?>
<settlement_file>
  <batch week="2024-W23">
    <record>
      <ticket_number>0012400000111</ticket_number>
      <coupon_number>1</coupon_number>
      <currency>USD</currency>
      <gross_amount>450.00</gross_amount>
      <net_amount>410.00</net_amount>
      <gds>Amadeus</gds>
      <settlement_week>2024-W23</settlement_week>
    </record>
    <record>
      <ticket_number>0012400000111</ticket_number>
      <coupon_number>2</coupon_number>
      <currency>USD</currency>
      <gross_amount>170.00</gross_amount>
      <net_amount>155.00</net_amount>
      <gds>Amadeus</gds>
      <settlement_week>2024-W23</settlement_week>
    </record>
    <record>
      <ticket_number>0012400000122</ticket_number>
      <coupon_number>1</coupon_number>
      <currency>USD</currency>
      <gross_amount>315.00</gross_amount>
      <net_amount></net_amount>
      <gds>Sabre</gds>
      <settlement_week>2024-W23</settlement_week>
    </record>
    <record>
      <ticket_number>0012400000155</ticket_number>
      <coupon_number>1</coupon_number>
      <currency>USD</currency>
      <gross_amount>95.25</gross_amount>
      <net_amount></net_amount>
      <gds>Sabre</gds>
      <settlement_week>2024-W23</settlement_week>
    </record>
  </batch>
</settlement_file>
`

const otaWebhookJSON = `[
  {"ticket_number": "0012400000122", "pnr": "MK3RTB", "passenger_name": "Bruno R. Silva", "ota": "TravelWeb", "status": "modified"},
  {"event_type": "refund_requested", "ticket_number": "0012400000144", "pnr": "TL4WNE", "currency": "USD", "gross_amount": "150.00", "ota": "TravelWeb", "status": "refund"}
]
`

const interlineClaimsJSON = `{
  "claims": [
    {"ticket_number": "0012400000133", "coupon_number": 1, "currency": "USD", "claim_amount": "780.00", "partner_carrier": "UA", "claim_id": "CLM-88121", "claim_status": "submitted"},
    {"ticket_number": "0012400000166", "coupon_number": 1, "currency": "USD", "claim_amount": "120.00", "partner_carrier": "AF", "claim_id": "CLM-88122", "claim_status": "submitted"}
  ]
}
`
