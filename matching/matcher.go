// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package matching joins issued coupons against flown lifts per
// (ticket, coupon) key and ages the unmatched remainder through suspense.
package matching

import (
	"sort"
	"time"

	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/models"
	"github.com/flightledger/flightledger/stores"
)

// Suspense thresholds in days.
const (
	suspenseAfterDays   = 30
	escalationAfterDays = 90
)

const escalationNote = "Escalation required (>90 days)."

// couponKey identifies one coupon on one ticket.
type couponKey struct {
	Ticket string
	Coupon int
}

// legRef is one side of a potential match.
type legRef struct {
	EventID    string
	OccurredAt time.Time
	Count      int
}

// Summary aggregates match rows by status.
type Summary struct {
	Total           int `json:"total"`
	Matched         int `json:"matched"`
	UnmatchedIssued int `json:"unmatched_issued"`
	UnmatchedFlown  int `json:"unmatched_flown"`
	Suspense        int `json:"suspense"`
}

// CouponMatcher drives the issued/flown join over the lifecycle store.
type CouponMatcher struct {
	store   *stores.TicketLifecycleStore
	matches db.CouponMatchRepository
}

// NewCouponMatcher returns a matcher over the store and match repository.
func NewCouponMatcher(store *stores.TicketLifecycleStore, matches db.CouponMatchRepository) *CouponMatcher {
	return &CouponMatcher{store: store, matches: matches}
}

// collectLegs keys events of the given types by (ticket, coupon), skipping
// events without a coupon number. Later events win the reference; the count
// tracks duplicate lifts.
func (m *CouponMatcher) collectLegs(eventTypes ...models.EventType) (map[couponKey]legRef, error) {
	rows, err := m.store.EventsByType(eventTypes...)
	if err != nil {
		return nil, err
	}
	legs := make(map[couponKey]legRef)
	for _, row := range rows {
		event, err := models.EventFromRow(row)
		if err != nil {
			return nil, err
		}
		if event.CouponNumber == nil {
			continue
		}
		key := couponKey{Ticket: event.TicketNumber, Coupon: *event.CouponNumber}
		leg := legs[key]
		leg.EventID = event.EventID
		leg.OccurredAt = event.OccurredAt
		leg.Count++
		legs[key] = leg
	}
	return legs, nil
}

// RunMatching clears existing match rows and rebuilds them from the event
// log. Keys are visited in ticket-then-coupon order so reruns are
// deterministic.
func (m *CouponMatcher) RunMatching() (Summary, error) {
	if err := m.matches.Reset(); err != nil {
		return Summary{}, err
	}
	issued, err := m.collectLegs(models.EventTicketIssued, models.EventTicketReissued)
	if err != nil {
		return Summary{}, err
	}
	flown, err := m.collectLegs(models.EventCouponFlown)
	if err != nil {
		return Summary{}, err
	}

	keys := make([]couponKey, 0, len(issued)+len(flown))
	seen := make(map[couponKey]struct{}, len(issued)+len(flown))
	for key := range issued {
		keys = append(keys, key)
		seen[key] = struct{}{}
	}
	for key := range flown {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Ticket != keys[j].Ticket {
			return keys[i].Ticket < keys[j].Ticket
		}
		return keys[i].Coupon < keys[j].Coupon
	})

	now := time.Now().UTC()
	for _, key := range keys {
		issuedLeg, hasIssued := issued[key]
		flownLeg, hasFlown := flown[key]
		row := models.CouponMatchRow{
			TicketNumber: key.Ticket,
			CouponNumber: key.Coupon,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		switch {
		case hasIssued && hasFlown:
			row.Status = models.MatchStatusMatched
			row.IssuedEventRef = issuedLeg.EventID
			row.FlownEventRef = flownLeg.EventID
			issuedAt, flownAt, matchedAt := issuedLeg.OccurredAt, flownLeg.OccurredAt, now
			row.IssuedAt, row.FlownAt, row.MatchedAt = &issuedAt, &flownAt, &matchedAt
		case hasIssued:
			row.Status = models.MatchStatusUnmatchedIssued
			row.IssuedEventRef = issuedLeg.EventID
			issuedAt := issuedLeg.OccurredAt
			row.IssuedAt = &issuedAt
		default:
			row.Status = models.MatchStatusUnmatchedFlown
			row.FlownEventRef = flownLeg.EventID
			flownAt := flownLeg.OccurredAt
			row.FlownAt = &flownAt
		}
		if _, err := m.matches.Upsert(row); err != nil {
			return Summary{}, err
		}
	}

	// Rows carrying accumulated age past the threshold land straight in
	// suspense.
	if err := m.reclassifyAged(); err != nil {
		return Summary{}, err
	}
	summary, err := m.CurrentSummary()
	if err != nil {
		return Summary{}, err
	}
	log.Infof("Matching complete: %d keys, %d matched, %d suspense",
		summary.Total, summary.Matched, summary.Suspense)
	return summary, nil
}

func (m *CouponMatcher) reclassifyAged() error {
	rows, err := m.matches.AllRows()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Status == models.MatchStatusMatched || row.Status == models.MatchStatusSuspense {
			continue
		}
		if row.DaysInSuspense > suspenseAfterDays {
			row.Status = models.MatchStatusSuspense
			row.UpdatedAt = time.Now().UTC()
			if _, err := m.matches.Upsert(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// AgeSuspense advances every open match row by one day, moving rows past the
// threshold into suspense and flagging long-aged rows for escalation. Returns
// the number of rows aged.
func (m *CouponMatcher) AgeSuspense() (int, error) {
	rows, err := m.matches.AllRows()
	if err != nil {
		return 0, err
	}
	aged := 0
	now := time.Now().UTC()
	for _, row := range rows {
		switch row.Status {
		case models.MatchStatusUnmatchedIssued, models.MatchStatusUnmatchedFlown,
			models.MatchStatusSuspense:
		default:
			continue
		}
		row.DaysInSuspense++
		if row.DaysInSuspense > suspenseAfterDays {
			row.Status = models.MatchStatusSuspense
		}
		if row.DaysInSuspense > escalationAfterDays {
			row.Notes = escalationNote
		}
		row.UpdatedAt = now
		if _, err := m.matches.Upsert(row); err != nil {
			return 0, err
		}
		aged++
	}
	log.Debugf("Aged %d open match rows", aged)
	return aged, nil
}

// SuspenseItems returns open rows at least minAgeDays old, oldest first.
func (m *CouponMatcher) SuspenseItems(minAgeDays int) ([]models.CouponMatchRow, error) {
	rows, err := m.matches.Suspense(minAgeDays)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].DaysInSuspense > rows[j].DaysInSuspense
	})
	return rows, nil
}

// MatchRows returns every match row in ticket-then-coupon order.
func (m *CouponMatcher) MatchRows() ([]models.CouponMatchRow, error) {
	return m.matches.AllRows()
}

// CurrentSummary recomputes the status counters from the stored rows.
func (m *CouponMatcher) CurrentSummary() (Summary, error) {
	rows, err := m.matches.AllRows()
	if err != nil {
		return Summary{}, err
	}
	var summary Summary
	for _, row := range rows {
		countStatus(&summary, row.Status)
	}
	return summary, nil
}

// Reset clears all match rows.
func (m *CouponMatcher) Reset() error {
	return m.matches.Reset()
}

func countStatus(summary *Summary, status string) {
	summary.Total++
	switch status {
	case models.MatchStatusMatched:
		summary.Matched++
	case models.MatchStatusUnmatchedIssued:
		summary.UnmatchedIssued++
	case models.MatchStatusUnmatchedFlown:
		summary.UnmatchedFlown++
	case models.MatchStatusSuspense:
		summary.Suspense++
	}
}
