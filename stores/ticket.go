// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package stores holds the event-sourced ticket lifecycle store. The event
// log is authoritative; the per-ticket state snapshot is a cache re-derived
// by deterministic replay.
package stores

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/models"
)

// appendRetries bounds the conflict-retry loop when concurrent processes race
// on the same ticket sequence against the remote backend.
const appendRetries = 3

// TicketLifecycleStore appends canonical events and projects per-ticket state.
type TicketLifecycleStore struct {
	events db.TicketEventRepository
	states db.TicketStateRepository

	mtx     sync.Mutex
	tickets map[string]*sync.Mutex
}

// NewTicketLifecycleStore returns a store over the two repositories.
func NewTicketLifecycleStore(events db.TicketEventRepository, states db.TicketStateRepository) *TicketLifecycleStore {
	return &TicketLifecycleStore{
		events:  events,
		states:  states,
		tickets: make(map[string]*sync.Mutex),
	}
}

func (s *TicketLifecycleStore) ticketLock(ticketNumber string) *sync.Mutex {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	lock, ok := s.tickets[ticketNumber]
	if !ok {
		lock = new(sync.Mutex)
		s.tickets[ticketNumber] = lock
	}
	return lock
}

// Append persists the event and re-derives the ticket snapshot. Appends are
// idempotent by event id: a replayed event returns the already-persisted row
// with appended=false and changes nothing. Sequence conflicts from another
// process are retried with a fresh sequence.
func (s *TicketLifecycleStore) Append(event models.CanonicalEvent) (models.TicketEventRow, bool, error) {
	if event.TicketNumber == "" {
		return models.TicketEventRow{}, false, errors.New("append: event has no ticket number")
	}
	if event.EventID == "" {
		return models.TicketEventRow{}, false, errors.New("append: event has no event id")
	}

	lock := s.ticketLock(event.TicketNumber)
	lock.Lock()
	defer lock.Unlock()

	payload, err := event.MarshalPayload()
	if err != nil {
		return models.TicketEventRow{}, false, err
	}

	for attempt := 0; attempt < appendRetries; attempt++ {
		existing, err := s.events.FindByEventID(event.EventID)
		if err != nil {
			return models.TicketEventRow{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}

		seq, err := s.events.NextSequence(event.TicketNumber)
		if err != nil {
			return models.TicketEventRow{}, false, err
		}
		row := models.TicketEventRow{
			ID:            uuid.NewString(),
			TicketNumber:  event.TicketNumber,
			EventSequence: seq,
			EventID:       event.EventID,
			EventType:     string(event.EventType),
			SourceSystem:  string(event.SourceSystem),
			OccurredAt:    event.OccurredAt,
			IngestedAt:    time.Now().UTC(),
			Payload:       payload,
		}
		err = s.events.Insert(row)
		if errors.Is(err, db.ErrConflict) {
			log.Debugf("Append conflict on ticket %s seq %d, retrying", event.TicketNumber, seq)
			continue
		}
		if err != nil {
			return models.TicketEventRow{}, false, err
		}
		if err := s.reproject(event.TicketNumber); err != nil {
			return models.TicketEventRow{}, false, err
		}
		return row, true, nil
	}
	return models.TicketEventRow{}, false, fmt.Errorf("append: gave up after %d sequence conflicts on ticket %s",
		appendRetries, event.TicketNumber)
}

func (s *TicketLifecycleStore) reproject(ticketNumber string) error {
	rows, err := s.events.ByTicket(ticketNumber)
	if err != nil {
		return err
	}
	state, err := ProjectState(ticketNumber, rows)
	if err != nil {
		return err
	}
	return s.states.Upsert(state)
}

// History returns the ticket's full event history in sequence order.
func (s *TicketLifecycleStore) History(ticketNumber string) ([]models.TicketEventRow, error) {
	return s.events.ByTicket(ticketNumber)
}

// StateAt projects the ticket's state from only the events that occurred at
// or before asOf.
func (s *TicketLifecycleStore) StateAt(ticketNumber string, asOf time.Time) (models.TicketStateRow, error) {
	rows, err := s.events.ByTicketAt(ticketNumber, asOf)
	if err != nil {
		return models.TicketStateRow{}, err
	}
	return ProjectState(ticketNumber, rows)
}

// CurrentState returns the projected snapshot, replaying the history when no
// snapshot is stored. Returns nil for a ticket with no events.
func (s *TicketLifecycleStore) CurrentState(ticketNumber string) (*models.TicketStateRow, error) {
	state, err := s.states.Get(ticketNumber)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}
	rows, err := s.events.ByTicket(ticketNumber)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	replayed, err := ProjectState(ticketNumber, rows)
	if err != nil {
		return nil, err
	}
	return &replayed, nil
}

// EventsByType returns every persisted row whose event type is in the set.
// No ordering contract beyond determinism.
func (s *TicketLifecycleStore) EventsByType(eventTypes ...models.EventType) ([]models.TicketEventRow, error) {
	names := make([]string, 0, len(eventTypes))
	for _, et := range eventTypes {
		names = append(names, string(et))
	}
	return s.events.ByEventTypes(names)
}

// AllEvents returns every persisted event row.
func (s *TicketLifecycleStore) AllEvents() ([]models.TicketEventRow, error) {
	return s.events.AllRows()
}

// Reset clears snapshots first, then the event log.
func (s *TicketLifecycleStore) Reset() error {
	if err := s.states.Reset(); err != nil {
		return err
	}
	if err := s.events.Reset(); err != nil {
		return err
	}
	s.mtx.Lock()
	s.tickets = make(map[string]*sync.Mutex)
	s.mtx.Unlock()
	return nil
}

// ProjectState replays rows in event-sequence order into a state snapshot.
// Replay is deterministic: the same history always yields the same snapshot.
func ProjectState(ticketNumber string, rows []models.TicketEventRow) (models.TicketStateRow, error) {
	state := models.TicketStateRow{
		TicketNumber:   ticketNumber,
		Status:         models.TicketStatusUnknown,
		CouponStatuses: make(map[int]string),
	}
	for _, row := range rows {
		event, err := models.EventFromRow(row)
		if err != nil {
			return models.TicketStateRow{}, err
		}
		applyEvent(&state, event)
	}
	state.UpdatedAt = state.LastModified
	return state, nil
}

func applyEvent(state *models.TicketStateRow, event models.CanonicalEvent) {
	state.EventCount++
	state.LastEventType = string(event.EventType)
	state.LastModified = event.OccurredAt

	// Last-wins on descriptive fields, nulls never overwrite.
	if event.PNR != "" {
		state.PNR = event.PNR
	}
	if event.PassengerName != "" {
		state.PassengerName = event.PassengerName
	}
	if event.Origin != "" {
		state.Origin = event.Origin
	}
	if event.Destination != "" {
		state.Destination = event.Destination
	}
	if event.Currency != "" {
		state.Currency = event.Currency
	}
	if event.GrossAmount != nil {
		state.CurrentAmount = decimalNull(*event.GrossAmount)
	}

	if event.CouponNumber != nil {
		switch event.EventType {
		case models.EventTicketIssued, models.EventTicketReissued:
			state.CouponStatuses[*event.CouponNumber] = "issued"
		case models.EventCouponFlown:
			state.CouponStatuses[*event.CouponNumber] = "flown"
		}
	}

	switch event.EventType {
	case models.EventTicketIssued:
		state.Status = models.TicketStatusIssued
	case models.EventTicketReissued:
		state.Status = models.TicketStatusReissued
	case models.EventTicketVoided:
		state.Status = models.TicketStatusVoided
	case models.EventCouponFlown:
		state.Status = models.TicketStatusFlown
	case models.EventRefundRequested:
		state.Status = models.TicketStatusRefunded
	case models.EventBookingModified:
		// A modification never overwrites a real lifecycle status.
		if state.Status == models.TicketStatusUnknown {
			state.Status = models.TicketStatusModified
		}
	}
}

func decimalNull(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
