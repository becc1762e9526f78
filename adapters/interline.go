// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package adapters

import (
	"bytes"
	"encoding/json"

	"github.com/flightledger/flightledger/models"
)

// interlineClaim is one partner-carrier billing claim. The partner API wraps
// claims in a {"claims": [...]} envelope but bare lists are accepted too.
type interlineClaim struct {
	TicketNumber   string          `json:"ticket_number"`
	CouponNumber   *int            `json:"coupon_number"`
	Currency       string          `json:"currency"`
	ClaimAmount    json.RawMessage `json:"claim_amount"`
	PartnerCarrier string          `json:"partner_carrier"`
	ClaimID        string          `json:"claim_id"`
	ClaimStatus    string          `json:"claim_status"`
}

type interlineEnvelope struct {
	Claims []interlineClaim `json:"claims"`
}

// InterlineAdapter parses interline partner claim payloads. Every claim
// becomes an interline_claim event with claim_amount as gross_amount.
type InterlineAdapter struct{}

func (InterlineAdapter) Source() models.SourceSystem { return models.SourceInterline }

func (a InterlineAdapter) Parse(payload []byte) ([]models.CanonicalEvent, error) {
	var claims []interlineClaim
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &claims); err != nil {
			return nil, parseErrorf(a.Source(), err, "malformed JSON array")
		}
	} else {
		var envelope interlineEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, parseErrorf(a.Source(), err, "malformed JSON envelope")
		}
		claims = envelope.Claims
	}

	events := make([]models.CanonicalEvent, 0, len(claims))
	for i, claim := range claims {
		if claim.TicketNumber == "" {
			return nil, parseErrorf(a.Source(), nil, "claim %d: missing ticket_number", i)
		}
		amount, err := optionalDecimalJSON(claim.ClaimAmount)
		if err != nil {
			return nil, parseErrorf(a.Source(), err, "claim %d: bad claim_amount", i)
		}

		event := newEvent(a.Source(), models.EventInterlineClaim, claim.TicketNumber)
		event.CouponNumber = claim.CouponNumber
		event.Currency = claim.Currency
		event.GrossAmount = amount
		event.Metadata = map[string]string{"source_record_type": "interline_rest_json"}
		putMeta(event.Metadata, "partner_carrier", claim.PartnerCarrier)
		putMeta(event.Metadata, "claim_id", claim.ClaimID)
		putMeta(event.Metadata, "claim_status", claim.ClaimStatus)
		events = append(events, event)
	}
	log.Debugf("INTERLINE: parsed %d event(s)", len(events))
	return events, nil
}
