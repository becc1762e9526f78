// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package adapters normalizes heterogeneous counterparty payloads (CSV, JSON,
// XML) into canonical events. Parsing is pure: a given payload always yields
// the same events modulo freshly assigned event ids and ingest timestamps.
package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flightledger/flightledger/models"
)

// Adapter turns one raw source payload into canonical events. A failed parse
// rejects the whole payload, never a prefix of it.
type Adapter interface {
	// Source returns the source system this adapter normalizes for.
	Source() models.SourceSystem
	// Parse normalizes payload into canonical events, or returns a
	// *ParseError describing why the payload was rejected.
	Parse(payload []byte) ([]models.CanonicalEvent, error)
}

// ParseError reports a rejected source payload. It is fatal for the payload
// but not for the surrounding batch.
type ParseError struct {
	Source models.SourceSystem
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s adapter: %s: %v", e.Source, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s adapter: %s", e.Source, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErrorf(source models.SourceSystem, err error, format string, args ...any) *ParseError {
	return &ParseError{Source: source, Msg: fmt.Sprintf(format, args...), Err: err}
}

// newEvent stamps the fields every adapter assigns the same way.
func newEvent(source models.SourceSystem, eventType models.EventType, ticketNumber string) models.CanonicalEvent {
	return models.CanonicalEvent{
		EventID:      models.NewEventID(),
		OccurredAt:   time.Now().UTC(),
		SourceSystem: source,
		EventType:    eventType,
		TicketNumber: ticketNumber,
	}
}

// optionalInt coerces an optional integer cell. Empty strings are null,
// never zero.
func optionalInt(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// optionalDecimal coerces an optional monetary cell. Empty strings are null,
// never zero.
func optionalDecimal(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// optionalDecimalJSON coerces an optional monetary JSON value that may be a
// number, a numeric string, an empty string or null.
func optionalDecimalJSON(raw json.RawMessage) (*decimal.Decimal, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return optionalDecimal(s)
	}
	return optionalDecimal(trimmed)
}

func putMeta(meta map[string]string, key, value string) {
	if value != "" {
		meta[key] = value
	}
}
