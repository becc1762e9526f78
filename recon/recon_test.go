// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package recon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/matching"
	"github.com/flightledger/flightledger/models"
	"github.com/flightledger/flightledger/stores"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestClassifyBreakDecisionTable(t *testing.T) {
	tests := []struct {
		name             string
		our, their       *decimal.Decimal
		flown            bool
		duplicateLift    bool
		settlementExists bool
		want             Classification
	}{{
		name:          "duplicate lift wins over everything",
		our:           dec("450.00"),
		their:         dec("450.00"),
		flown:         true,
		duplicateLift: true,
		want: Classification{models.BreakDuplicateLift, models.SeverityHigh,
			models.ReconStatusBreak, models.ResolutionUnresolved},
	}, {
		name:             "issued but never flown is a timing break",
		our:              dec("95.25"),
		their:            dec("95.25"),
		settlementExists: true,
		want: Classification{models.BreakTiming, models.SeverityLow,
			models.ReconStatusBreak, models.ResolutionUnresolved},
	}, {
		name:  "flown with no settlement",
		our:   dec("150.00"),
		flown: true,
		want: Classification{models.BreakMissingSettlement, models.SeverityHigh,
			models.ReconStatusBreak, models.ResolutionUnresolved},
	}, {
		name:             "settlement exists but amount is null",
		our:              dec("150.00"),
		their:            nil,
		flown:            true,
		settlementExists: true,
		want: Classification{models.BreakMissingSettlement, models.SeverityHigh,
			models.ReconStatusBreak, models.ResolutionUnresolved},
	}, {
		name:             "sub-tolerance rounding matches",
		our:              dec("100.00"),
		their:            dec("99.995"),
		flown:            true,
		settlementExists: true,
		want: Classification{"", models.SeverityLow,
			models.ReconStatusMatched, models.ResolutionAuto},
	}, {
		name:             "exact equality matches",
		our:              dec("450.00"),
		their:            dec("450.00"),
		flown:            true,
		settlementExists: true,
		want: Classification{"", models.SeverityLow,
			models.ReconStatusMatched, models.ResolutionAuto},
	}, {
		name:             "gap under ten is a medium fare mismatch",
		our:              dec("320.50"),
		their:            dec("315.00"),
		flown:            true,
		settlementExists: true,
		want: Classification{models.BreakFareMismatch, models.SeverityMedium,
			models.ReconStatusBreak, models.ResolutionUnresolved},
	}, {
		name:             "gap of ten or more is a high fare mismatch",
		our:              dec("220.00"),
		their:            dec("170.00"),
		flown:            true,
		settlementExists: true,
		want: Classification{models.BreakFareMismatch, models.SeverityHigh,
			models.ReconStatusBreak, models.ResolutionUnresolved},
	}, {
		name:             "boundary gap of exactly ten is high",
		our:              dec("110.00"),
		their:            dec("100.00"),
		flown:            true,
		settlementExists: true,
		want: Classification{models.BreakFareMismatch, models.SeverityHigh,
			models.ReconStatusBreak, models.ResolutionUnresolved},
	}}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := ClassifyBreak(test.our, test.their, test.flown,
				test.duplicateLift, test.settlementExists)
			require.Equal(t, test.want, got)
		})
	}
}

type reconFixture struct {
	store  *stores.TicketLifecycleStore
	engine *Engine
	base   time.Time
}

func newFixture(t *testing.T) *reconFixture {
	t.Helper()
	repos := db.NewMemoryRepositories()
	store := stores.NewTicketLifecycleStore(repos.TicketEvents, repos.TicketStates)
	matcher := matching.NewCouponMatcher(store, repos.CouponMatches)
	return &reconFixture{
		store:  store,
		engine: NewEngine(store, matcher, repos.Recon),
		base:   time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (f *reconFixture) append(t *testing.T, ticket string, coupon int, eventType models.EventType, gross *decimal.Decimal) {
	t.Helper()
	event := models.CanonicalEvent{
		EventID:      models.NewEventID(),
		OccurredAt:   f.base,
		SourceSystem: models.SourcePSS,
		EventType:    eventType,
		TicketNumber: ticket,
		CouponNumber: &coupon,
		GrossAmount:  gross,
	}
	f.base = f.base.Add(time.Minute)
	_, _, err := f.store.Append(event)
	require.NoError(t, err)
}

func TestRunFullReconClassifiesEveryIssuedCoupon(t *testing.T) {
	f := newFixture(t)

	// T1c1: issued, flown once, settled at the same amount.
	f.append(t, "T1", 1, models.EventTicketIssued, dec("450.00"))
	f.append(t, "T1", 1, models.EventCouponFlown, nil)
	f.append(t, "T1", 1, models.EventSettlementDue, dec("450.00"))

	// T2c1: issued and flown, settled fifty short.
	f.append(t, "T2", 1, models.EventTicketIssued, dec("220.00"))
	f.append(t, "T2", 1, models.EventCouponFlown, nil)
	f.append(t, "T2", 1, models.EventSettlementDue, dec("170.00"))

	// T3c1: lifted twice.
	f.append(t, "T3", 1, models.EventTicketIssued, dec("780.00"))
	f.append(t, "T3", 1, models.EventCouponFlown, nil)
	f.append(t, "T3", 1, models.EventCouponFlown, nil)
	f.append(t, "T3", 1, models.EventInterlineClaim, dec("780.00"))

	// T4c1: flown, never settled.
	f.append(t, "T4", 1, models.EventTicketIssued, dec("150.00"))
	f.append(t, "T4", 1, models.EventCouponFlown, nil)

	// T5c1: settled before it flew.
	f.append(t, "T5", 1, models.EventTicketIssued, dec("95.25"))
	f.append(t, "T5", 1, models.EventSettlementDue, dec("95.25"))

	summary, err := f.engine.RunFullRecon()
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalMatched)
	require.Equal(t, 4, summary.TotalBreaks)
	require.Equal(t, map[string]int{
		models.BreakFareMismatch:      1,
		models.BreakDuplicateLift:     1,
		models.BreakMissingSettlement: 1,
		models.BreakTiming:            1,
	}, summary.ByType)
	require.Equal(t, map[string]int{
		models.SeverityHigh: 3,
		models.SeverityLow:  1,
	}, summary.BySeverity)

	results, err := f.engine.Results()
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, row := range results {
		require.Equal(t, "three_way", row.ReconType)
		if row.Status == models.ReconStatusMatched {
			require.Equal(t, models.ResolutionAuto, row.Resolution)
		} else {
			require.Equal(t, models.ResolutionUnresolved, row.Resolution)
		}
	}

	// The fare mismatch row carries both amounts and the signed difference.
	breaks, err := f.engine.Breaks(models.ResolutionUnresolved, models.BreakFareMismatch)
	require.NoError(t, err)
	require.Len(t, breaks, 1)
	row := breaks[0]
	require.Equal(t, "T2", row.TicketNumber)
	require.True(t, row.OurAmount.Decimal.Equal(decimal.RequireFromString("220.00")))
	require.True(t, row.TheirAmount.Decimal.Equal(decimal.RequireFromString("170.00")))
	require.True(t, row.Difference.Decimal.Equal(decimal.RequireFromString("50.00")))
}

func TestRunFullReconAutoResolvesRounding(t *testing.T) {
	f := newFixture(t)
	f.append(t, "T1", 1, models.EventTicketIssued, dec("100.00"))
	f.append(t, "T1", 1, models.EventCouponFlown, nil)
	f.append(t, "T1", 1, models.EventSettlementDue, dec("99.995"))

	summary, err := f.engine.RunFullRecon()
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalMatched)
	require.Zero(t, summary.TotalBreaks)

	results, err := f.engine.Results()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, models.ReconStatusMatched, results[0].Status)
	require.Equal(t, models.ResolutionAuto, results[0].Resolution)
	require.Equal(t, "Rounded below tolerance.", results[0].ResolutionNotes)
}

func TestResolveBreak(t *testing.T) {
	f := newFixture(t)
	f.append(t, "T1", 1, models.EventTicketIssued, dec("220.00"))
	f.append(t, "T1", 1, models.EventCouponFlown, nil)
	f.append(t, "T1", 1, models.EventSettlementDue, dec("170.00"))

	_, err := f.engine.RunFullRecon()
	require.NoError(t, err)
	breaks, err := f.engine.Breaks(models.ResolutionUnresolved, "")
	require.NoError(t, err)
	require.Len(t, breaks, 1)

	require.NoError(t, f.engine.ResolveBreak(breaks[0].ID,
		models.ResolutionManual, "Agent commission writeoff"))

	resolved, err := f.engine.Breaks(models.ResolutionManual, "")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, "Agent commission writeoff", resolved[0].ResolutionNotes)
	require.NotNil(t, resolved[0].ResolvedAt)

	open, err := f.engine.Breaks(models.ResolutionUnresolved, "")
	require.NoError(t, err)
	require.Empty(t, open)

	require.ErrorIs(t, f.engine.ResolveBreak("no-such-break",
		models.ResolutionManual, ""), db.ErrNotFound)
}

func TestRunFullReconIsRerunSafe(t *testing.T) {
	f := newFixture(t)
	f.append(t, "T1", 1, models.EventTicketIssued, dec("450.00"))
	f.append(t, "T1", 1, models.EventCouponFlown, nil)
	f.append(t, "T1", 1, models.EventSettlementDue, dec("450.00"))

	first, err := f.engine.RunFullRecon()
	require.NoError(t, err)
	second, err := f.engine.RunFullRecon()
	require.NoError(t, err)
	require.Equal(t, first, second)

	results, err := f.engine.Results()
	require.NoError(t, err)
	require.Len(t, results, 1)
}
