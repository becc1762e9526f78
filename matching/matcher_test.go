// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/models"
	"github.com/flightledger/flightledger/stores"
)

type matcherFixture struct {
	store   *stores.TicketLifecycleStore
	matcher *CouponMatcher
	base    time.Time
}

func newFixture(t *testing.T) *matcherFixture {
	t.Helper()
	repos := db.NewMemoryRepositories()
	store := stores.NewTicketLifecycleStore(repos.TicketEvents, repos.TicketStates)
	return &matcherFixture{
		store:   store,
		matcher: NewCouponMatcher(store, repos.CouponMatches),
		base:    time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (f *matcherFixture) append(t *testing.T, ticket string, coupon int, eventType models.EventType) {
	t.Helper()
	event := models.CanonicalEvent{
		EventID:      models.NewEventID(),
		OccurredAt:   f.base,
		SourceSystem: models.SourcePSS,
		EventType:    eventType,
		TicketNumber: ticket,
		CouponNumber: &coupon,
	}
	f.base = f.base.Add(time.Minute)
	_, _, err := f.store.Append(event)
	require.NoError(t, err)
}

func TestRunMatchingJoinsIssuedAndFlown(t *testing.T) {
	f := newFixture(t)
	f.append(t, "T1", 1, models.EventTicketIssued)
	f.append(t, "T1", 1, models.EventCouponFlown)

	summary, err := f.matcher.RunMatching()
	require.NoError(t, err)
	require.Equal(t, Summary{Total: 1, Matched: 1}, summary)

	rows, err := f.matcher.MatchRows()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	require.Equal(t, models.MatchStatusMatched, row.Status)
	require.NotEmpty(t, row.IssuedEventRef)
	require.NotEmpty(t, row.FlownEventRef)
	require.NotNil(t, row.IssuedAt)
	require.NotNil(t, row.FlownAt)
	require.NotNil(t, row.MatchedAt)
}

func TestRunMatchingClassifiesBothUnmatchedSides(t *testing.T) {
	f := newFixture(t)
	// Five issued coupons; three fly. One orphan lift has no issue.
	for i, ticket := range []string{"T1", "T2", "T3", "T4", "T5"} {
		f.append(t, ticket, 1, models.EventTicketIssued)
		if i < 3 {
			f.append(t, ticket, 1, models.EventCouponFlown)
		}
	}
	f.append(t, "T9", 1, models.EventCouponFlown)

	summary, err := f.matcher.RunMatching()
	require.NoError(t, err)
	require.Equal(t, Summary{
		Total:           6,
		Matched:         3,
		UnmatchedIssued: 2,
		UnmatchedFlown:  1,
	}, summary)

	rows, err := f.matcher.MatchRows()
	require.NoError(t, err)
	for _, row := range rows {
		// matched_at is set exactly on matched rows.
		if row.Status == models.MatchStatusMatched {
			require.NotNil(t, row.MatchedAt)
		} else {
			require.Nil(t, row.MatchedAt)
		}
	}
}

func TestRunMatchingIsRerunSafe(t *testing.T) {
	f := newFixture(t)
	f.append(t, "T1", 1, models.EventTicketIssued)
	f.append(t, "T2", 1, models.EventTicketIssued)

	first, err := f.matcher.RunMatching()
	require.NoError(t, err)
	second, err := f.matcher.RunMatching()
	require.NoError(t, err)
	require.Equal(t, first, second)

	rows, err := f.matcher.MatchRows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestReissueCountsAsIssuedLeg(t *testing.T) {
	f := newFixture(t)
	f.append(t, "T1", 1, models.EventTicketReissued)
	f.append(t, "T1", 1, models.EventCouponFlown)

	summary, err := f.matcher.RunMatching()
	require.NoError(t, err)
	require.Equal(t, 1, summary.Matched)
}

func TestEventsWithoutCouponNumberAreIgnored(t *testing.T) {
	f := newFixture(t)
	event := models.CanonicalEvent{
		EventID:      models.NewEventID(),
		OccurredAt:   f.base,
		SourceSystem: models.SourceOTA,
		EventType:    models.EventTicketIssued,
		TicketNumber: "T1",
	}
	_, _, err := f.store.Append(event)
	require.NoError(t, err)

	summary, err := f.matcher.RunMatching()
	require.NoError(t, err)
	require.Equal(t, Summary{}, summary)
}

func TestAgeSuspensePromotesAgedRows(t *testing.T) {
	f := newFixture(t)
	f.append(t, "T1", 1, models.EventTicketIssued)
	f.append(t, "T2", 1, models.EventTicketIssued)
	f.append(t, "T2", 1, models.EventCouponFlown)

	_, err := f.matcher.RunMatching()
	require.NoError(t, err)

	// Thirty days of aging leaves the row unmatched; the thirty-first tips
	// it into suspense.
	for day := 0; day < 30; day++ {
		aged, err := f.matcher.AgeSuspense()
		require.NoError(t, err)
		require.Equal(t, 1, aged)
	}
	summary, err := f.matcher.CurrentSummary()
	require.NoError(t, err)
	require.Equal(t, 1, summary.UnmatchedIssued)
	require.Zero(t, summary.Suspense)

	_, err = f.matcher.AgeSuspense()
	require.NoError(t, err)
	summary, err = f.matcher.CurrentSummary()
	require.NoError(t, err)
	require.Zero(t, summary.UnmatchedIssued)
	require.Equal(t, 1, summary.Suspense)

	items, err := f.matcher.SuspenseItems(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 31, items[0].DaysInSuspense)
	require.Empty(t, items[0].Notes)
}

func TestAgeSuspenseFlagsEscalation(t *testing.T) {
	f := newFixture(t)
	f.append(t, "T1", 1, models.EventTicketIssued)
	_, err := f.matcher.RunMatching()
	require.NoError(t, err)

	for day := 0; day < 91; day++ {
		_, err := f.matcher.AgeSuspense()
		require.NoError(t, err)
	}
	items, err := f.matcher.SuspenseItems(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, models.MatchStatusSuspense, items[0].Status)
	require.Equal(t, 91, items[0].DaysInSuspense)
	require.Equal(t, "Escalation required (>90 days).", items[0].Notes)
}

func TestSuspenseItemsFilterAndOrder(t *testing.T) {
	f := newFixture(t)
	repos := db.NewMemoryRepositories()
	f.matcher = NewCouponMatcher(f.store, repos.CouponMatches)

	for i, days := range []int{5, 45, 95} {
		_, err := repos.CouponMatches.Upsert(models.CouponMatchRow{
			TicketNumber:   "T1",
			CouponNumber:   i + 1,
			Status:         models.MatchStatusSuspense,
			DaysInSuspense: days,
		})
		require.NoError(t, err)
	}

	items, err := f.matcher.SuspenseItems(30)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// Oldest rows surface first.
	require.Equal(t, 95, items[0].DaysInSuspense)
	require.Equal(t, 45, items[1].DaysInSuspense)
}

func TestRunMatchingRebuildsFromScratch(t *testing.T) {
	// A rerun rebuilds rows from the event log, so accumulated age resets
	// and the rebuilt row is plain unmatched again.
	f := newFixture(t)
	f.append(t, "T1", 1, models.EventTicketIssued)
	_, err := f.matcher.RunMatching()
	require.NoError(t, err)
	for day := 0; day < 31; day++ {
		_, err := f.matcher.AgeSuspense()
		require.NoError(t, err)
	}

	summary, err := f.matcher.RunMatching()
	require.NoError(t, err)
	require.Equal(t, 1, summary.UnmatchedIssued)
	require.Zero(t, summary.Suspense)
}
