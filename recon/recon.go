// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package recon runs three-way reconciliation: issued amounts against flown
// lifts against counterparty settlement amounts, classifying every mismatch
// as a typed break.
package recon

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/matching"
	"github.com/flightledger/flightledger/models"
	"github.com/flightledger/flightledger/stores"
)

// reconTypeThreeWay tags rows produced by the full three-way pass.
const reconTypeThreeWay = "three_way"

const autoResolvedNote = "Rounded below tolerance."

var (
	// amountTolerance is the rounding tolerance under which two amounts
	// are considered equal.
	amountTolerance = decimal.RequireFromString("0.01")

	// highSeverityGap escalates a fare mismatch to high severity.
	highSeverityGap = decimal.NewFromInt(10)
)

// Classification is the outcome of the break decision table.
type Classification struct {
	BreakType  string
	Severity   string
	Status     string
	Resolution string
}

// ClassifyBreak applies the ordered decision table to one (ticket, coupon)
// comparison. Earlier rules win.
func ClassifyBreak(ourAmount, theirAmount *decimal.Decimal, flownExists, duplicateLift, settlementExists bool) Classification {
	switch {
	case duplicateLift:
		return Classification{models.BreakDuplicateLift, models.SeverityHigh,
			models.ReconStatusBreak, models.ResolutionUnresolved}
	case !flownExists:
		return Classification{models.BreakTiming, models.SeverityLow,
			models.ReconStatusBreak, models.ResolutionUnresolved}
	case !settlementExists:
		return Classification{models.BreakMissingSettlement, models.SeverityHigh,
			models.ReconStatusBreak, models.ResolutionUnresolved}
	case ourAmount == nil || theirAmount == nil:
		return Classification{models.BreakMissingSettlement, models.SeverityHigh,
			models.ReconStatusBreak, models.ResolutionUnresolved}
	}
	gap := ourAmount.Sub(*theirAmount).Abs()
	switch {
	case gap.LessThan(amountTolerance):
		return Classification{"", models.SeverityLow,
			models.ReconStatusMatched, models.ResolutionAuto}
	case gap.GreaterThanOrEqual(highSeverityGap):
		return Classification{models.BreakFareMismatch, models.SeverityHigh,
			models.ReconStatusBreak, models.ResolutionUnresolved}
	}
	return Classification{models.BreakFareMismatch, models.SeverityMedium,
		models.ReconStatusBreak, models.ResolutionUnresolved}
}

// Summary aggregates one full reconciliation pass.
type Summary struct {
	TotalMatched int            `json:"total_matched"`
	TotalBreaks  int            `json:"total_breaks"`
	ByType       map[string]int `json:"by_type"`
	BySeverity   map[string]int `json:"by_severity"`
}

// Engine drives reconciliation over the lifecycle store and match rows.
type Engine struct {
	store   *stores.TicketLifecycleStore
	matcher *matching.CouponMatcher
	results db.ReconRepository
}

// NewEngine returns a reconciliation engine.
func NewEngine(store *stores.TicketLifecycleStore, matcher *matching.CouponMatcher, results db.ReconRepository) *Engine {
	return &Engine{store: store, matcher: matcher, results: results}
}

// couponKey identifies one coupon on one ticket.
type couponKey struct {
	Ticket string
	Coupon int
}

// legAmounts collects per-key gross amounts and occurrence counts for the
// given event types. Later events win the amount.
func (e *Engine) legAmounts(eventTypes ...models.EventType) (map[couponKey]*decimal.Decimal, map[couponKey]int, error) {
	rows, err := e.store.EventsByType(eventTypes...)
	if err != nil {
		return nil, nil, err
	}
	amounts := make(map[couponKey]*decimal.Decimal)
	counts := make(map[couponKey]int)
	for _, row := range rows {
		event, err := models.EventFromRow(row)
		if err != nil {
			return nil, nil, err
		}
		if event.CouponNumber == nil {
			continue
		}
		key := couponKey{Ticket: event.TicketNumber, Coupon: *event.CouponNumber}
		counts[key]++
		if event.GrossAmount != nil {
			amount := *event.GrossAmount
			amounts[key] = &amount
		} else if _, ok := amounts[key]; !ok {
			amounts[key] = nil
		}
	}
	return amounts, counts, nil
}

// RunFullRecon clears recon rows, reruns matching, then reconciles every
// coupon that was issued.
func (e *Engine) RunFullRecon() (Summary, error) {
	if err := e.results.Reset(); err != nil {
		return Summary{}, err
	}
	if _, err := e.matcher.RunMatching(); err != nil {
		return Summary{}, err
	}

	issued, _, err := e.legAmounts(models.EventTicketIssued, models.EventTicketReissued)
	if err != nil {
		return Summary{}, err
	}
	_, flownCounts, err := e.legAmounts(models.EventCouponFlown)
	if err != nil {
		return Summary{}, err
	}
	settled, settledCounts, err := e.legAmounts(models.EventSettlementDue, models.EventInterlineClaim)
	if err != nil {
		return Summary{}, err
	}

	keys := make([]couponKey, 0, len(issued))
	for key := range issued {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Ticket != keys[j].Ticket {
			return keys[i].Ticket < keys[j].Ticket
		}
		return keys[i].Coupon < keys[j].Coupon
	})

	summary := Summary{ByType: make(map[string]int), BySeverity: make(map[string]int)}
	now := time.Now().UTC()
	for _, key := range keys {
		ourAmount := issued[key]
		theirAmount := settled[key]
		flownExists := flownCounts[key] > 0
		duplicateLift := flownCounts[key] > 1
		settlementExists := settledCounts[key] > 0

		class := ClassifyBreak(ourAmount, theirAmount, flownExists, duplicateLift, settlementExists)
		row := models.ReconResultRow{
			ID:           uuid.NewString(),
			TicketNumber: key.Ticket,
			CouponNumber: key.Coupon,
			ReconType:    reconTypeThreeWay,
			Status:       class.Status,
			BreakType:    class.BreakType,
			Severity:     class.Severity,
			Resolution:   class.Resolution,
			CreatedAt:    now,
		}
		if ourAmount != nil {
			row.OurAmount = decimal.NullDecimal{Decimal: *ourAmount, Valid: true}
		}
		if theirAmount != nil {
			row.TheirAmount = decimal.NullDecimal{Decimal: *theirAmount, Valid: true}
		}
		if ourAmount != nil && theirAmount != nil {
			row.Difference = decimal.NullDecimal{Decimal: ourAmount.Sub(*theirAmount), Valid: true}
		}
		if class.Resolution == models.ResolutionAuto {
			row.ResolutionNotes = autoResolvedNote
		}
		if err := e.results.Insert(row); err != nil {
			return Summary{}, err
		}

		if class.Status == models.ReconStatusMatched {
			summary.TotalMatched++
		} else {
			summary.TotalBreaks++
			summary.ByType[class.BreakType]++
			summary.BySeverity[class.Severity]++
		}
	}
	log.Infof("Recon complete: %d matched, %d breaks", summary.TotalMatched, summary.TotalBreaks)
	return summary, nil
}

// Results returns every recon row.
func (e *Engine) Results() ([]models.ReconResultRow, error) {
	return e.results.AllRows()
}

// Breaks returns break rows, optionally filtered by resolution and type.
func (e *Engine) Breaks(resolution, breakType string) ([]models.ReconResultRow, error) {
	return e.results.Breaks(resolution, breakType)
}

// ResolveBreak marks the break resolved with the given resolution and notes.
// Fails with db.ErrNotFound for an unknown break id.
func (e *Engine) ResolveBreak(breakID, resolution, notes string) error {
	return e.results.Resolve(breakID, resolution, notes, time.Now().UTC())
}

// Reset clears all recon rows.
func (e *Engine) Reset() error {
	return e.results.Reset()
}
