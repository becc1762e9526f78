// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flightledger/flightledger/models"
)

// memoryState holds every in-memory table behind one lock. Writers take the
// exclusive lock, readers the shared one. The state is owned by the
// Repositories value returned from NewMemoryRepositories.
type memoryState struct {
	mtx sync.RWMutex

	ticketEvents map[string][]models.TicketEventRow // by ticket, sorted by sequence
	eventIDs     map[string]struct{}
	ticketStates map[string]models.TicketStateRow

	matches map[matchKey]models.CouponMatchRow

	recon      map[string]models.ReconResultRow
	reconOrder []string

	auditLog []models.AuditRecord

	dagRuns      map[string]models.DagRun
	taskRuns     map[string]models.TaskRun
	taskRunOrder []string
	settlements  map[string]models.Settlement
	settleOrder  []string
	sagaLog      []models.SettlementSagaStep
}

type matchKey struct {
	ticket string
	coupon int
}

// NewMemoryRepositories returns a repository bundle over a fresh in-memory
// state.
func NewMemoryRepositories() Repositories {
	state := &memoryState{
		ticketEvents: make(map[string][]models.TicketEventRow),
		eventIDs:     make(map[string]struct{}),
		ticketStates: make(map[string]models.TicketStateRow),
		matches:      make(map[matchKey]models.CouponMatchRow),
		recon:        make(map[string]models.ReconResultRow),
		dagRuns:      make(map[string]models.DagRun),
		taskRuns:     make(map[string]models.TaskRun),
		settlements:  make(map[string]models.Settlement),
	}
	return Repositories{
		TicketEvents:  &memTicketEvents{state},
		TicketStates:  &memTicketStates{state},
		CouponMatches: &memCouponMatches{state},
		Recon:         &memRecon{state},
		Audit:         &memAudit{state},
		DagRuns:       &memDagRuns{state},
		TaskRuns:      &memTaskRuns{state},
		Settlements:   &memSettlements{state},
	}
}

type memTicketEvents struct{ state *memoryState }

func (r *memTicketEvents) Reset() error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	r.state.ticketEvents = make(map[string][]models.TicketEventRow)
	r.state.eventIDs = make(map[string]struct{})
	return nil
}

func (r *memTicketEvents) NextSequence(ticketNumber string) (int64, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	return int64(len(r.state.ticketEvents[ticketNumber])) + 1, nil
}

func (r *memTicketEvents) FindByEventID(eventID string) (*models.TicketEventRow, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	for _, rows := range r.state.ticketEvents {
		for i := range rows {
			if rows[i].EventID == eventID {
				row := rows[i]
				return &row, nil
			}
		}
	}
	return nil, nil
}

func (r *memTicketEvents) Insert(row models.TicketEventRow) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	if _, ok := r.state.eventIDs[row.EventID]; ok {
		return ErrConflict
	}
	history := r.state.ticketEvents[row.TicketNumber]
	for i := range history {
		if history[i].EventSequence == row.EventSequence {
			return ErrConflict
		}
	}
	history = append(history, row)
	sort.Slice(history, func(i, j int) bool {
		return history[i].EventSequence < history[j].EventSequence
	})
	r.state.ticketEvents[row.TicketNumber] = history
	r.state.eventIDs[row.EventID] = struct{}{}
	return nil
}

func (r *memTicketEvents) ByTicket(ticketNumber string) ([]models.TicketEventRow, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	rows := make([]models.TicketEventRow, len(r.state.ticketEvents[ticketNumber]))
	copy(rows, r.state.ticketEvents[ticketNumber])
	return rows, nil
}

func (r *memTicketEvents) ByTicketAt(ticketNumber string, asOf time.Time) ([]models.TicketEventRow, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	var rows []models.TicketEventRow
	for _, row := range r.state.ticketEvents[ticketNumber] {
		if !row.OccurredAt.After(asOf) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (r *memTicketEvents) ByEventTypes(eventTypes []string) ([]models.TicketEventRow, error) {
	wanted := make(map[string]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		wanted[et] = struct{}{}
	}
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	var rows []models.TicketEventRow
	for _, ticket := range r.sortedTickets() {
		for _, row := range r.state.ticketEvents[ticket] {
			if _, ok := wanted[row.EventType]; ok {
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

func (r *memTicketEvents) AllRows() ([]models.TicketEventRow, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	var rows []models.TicketEventRow
	for _, ticket := range r.sortedTickets() {
		rows = append(rows, r.state.ticketEvents[ticket]...)
	}
	return rows, nil
}

// sortedTickets is called with the state lock held.
func (r *memTicketEvents) sortedTickets() []string {
	tickets := make([]string, 0, len(r.state.ticketEvents))
	for ticket := range r.state.ticketEvents {
		tickets = append(tickets, ticket)
	}
	sort.Strings(tickets)
	return tickets
}

type memTicketStates struct{ state *memoryState }

func (r *memTicketStates) Reset() error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	r.state.ticketStates = make(map[string]models.TicketStateRow)
	return nil
}

func (r *memTicketStates) Upsert(row models.TicketStateRow) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	row.CouponStatuses = cloneCoupons(row.CouponStatuses)
	r.state.ticketStates[row.TicketNumber] = row
	return nil
}

func (r *memTicketStates) Get(ticketNumber string) (*models.TicketStateRow, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	row, ok := r.state.ticketStates[ticketNumber]
	if !ok {
		return nil, nil
	}
	row.CouponStatuses = cloneCoupons(row.CouponStatuses)
	return &row, nil
}

type memCouponMatches struct{ state *memoryState }

func (r *memCouponMatches) Reset() error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	r.state.matches = make(map[matchKey]models.CouponMatchRow)
	return nil
}

func (r *memCouponMatches) Upsert(row models.CouponMatchRow) (models.CouponMatchRow, error) {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	key := matchKey{ticket: row.TicketNumber, coupon: row.CouponNumber}
	if row.ID == "" {
		if existing, ok := r.state.matches[key]; ok {
			row.ID = existing.ID
		} else {
			row.ID = uuid.NewString()
		}
	}
	r.state.matches[key] = row
	return row, nil
}

func (r *memCouponMatches) AllRows() ([]models.CouponMatchRow, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	rows := make([]models.CouponMatchRow, 0, len(r.state.matches))
	for _, row := range r.state.matches {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TicketNumber != rows[j].TicketNumber {
			return rows[i].TicketNumber < rows[j].TicketNumber
		}
		return rows[i].CouponNumber < rows[j].CouponNumber
	})
	return rows, nil
}

func (r *memCouponMatches) Suspense(minAgeDays int) ([]models.CouponMatchRow, error) {
	rows, _ := r.AllRows()
	var out []models.CouponMatchRow
	for _, row := range rows {
		switch row.Status {
		case models.MatchStatusSuspense, models.MatchStatusUnmatchedIssued, models.MatchStatusUnmatchedFlown:
			if row.DaysInSuspense >= minAgeDays {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

type memRecon struct{ state *memoryState }

func (r *memRecon) Reset() error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	r.state.recon = make(map[string]models.ReconResultRow)
	r.state.reconOrder = nil
	return nil
}

func (r *memRecon) Insert(row models.ReconResultRow) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	if _, ok := r.state.recon[row.ID]; ok {
		return ErrConflict
	}
	r.state.recon[row.ID] = row
	r.state.reconOrder = append(r.state.reconOrder, row.ID)
	return nil
}

func (r *memRecon) AllRows() ([]models.ReconResultRow, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	rows := make([]models.ReconResultRow, 0, len(r.state.reconOrder))
	for _, id := range r.state.reconOrder {
		rows = append(rows, r.state.recon[id])
	}
	return rows, nil
}

func (r *memRecon) Breaks(resolution, breakType string) ([]models.ReconResultRow, error) {
	rows, _ := r.AllRows()
	var out []models.ReconResultRow
	for _, row := range rows {
		if row.Status != models.ReconStatusBreak {
			continue
		}
		if resolution != "" && row.Resolution != resolution {
			continue
		}
		if breakType != "" && row.BreakType != breakType {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *memRecon) Resolve(breakID, resolution, notes string, resolvedAt time.Time) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	row, ok := r.state.recon[breakID]
	if !ok {
		return ErrNotFound
	}
	row.Resolution = resolution
	row.ResolutionNotes = notes
	row.ResolvedAt = &resolvedAt
	r.state.recon[breakID] = row
	return nil
}

type memAudit struct{ state *memoryState }

func (r *memAudit) Reset() error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	r.state.auditLog = nil
	return nil
}

func (r *memAudit) Insert(record models.AuditRecord) (models.AuditRecord, error) {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	r.state.auditLog = append(r.state.auditLog, record)
	return record, nil
}

func (r *memAudit) ByTicket(ticketNumber string) ([]models.AuditRecord, error) {
	return r.filter(func(rec models.AuditRecord) bool {
		return rec.TicketNumber == ticketNumber
	})
}

func (r *memAudit) ByOutputReference(outputReference string) ([]models.AuditRecord, error) {
	return r.filter(func(rec models.AuditRecord) bool {
		return rec.OutputReference == outputReference
	})
}

func (r *memAudit) filter(keep func(models.AuditRecord) bool) ([]models.AuditRecord, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	var out []models.AuditRecord
	for _, rec := range r.state.auditLog {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

type memDagRuns struct{ state *memoryState }

func (r *memDagRuns) Insert(run models.DagRun) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	r.state.dagRuns[run.ID] = run
	return nil
}

func (r *memDagRuns) Update(run models.DagRun) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	if _, ok := r.state.dagRuns[run.ID]; !ok {
		return ErrNotFound
	}
	r.state.dagRuns[run.ID] = run
	return nil
}

func (r *memDagRuns) Get(runID string) (*models.DagRun, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	run, ok := r.state.dagRuns[runID]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

type memTaskRuns struct{ state *memoryState }

func (r *memTaskRuns) Insert(task models.TaskRun) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	r.state.taskRuns[task.ID] = task
	r.state.taskRunOrder = append(r.state.taskRunOrder, task.ID)
	return nil
}

func (r *memTaskRuns) Update(task models.TaskRun) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	if _, ok := r.state.taskRuns[task.ID]; !ok {
		return ErrNotFound
	}
	r.state.taskRuns[task.ID] = task
	return nil
}

func (r *memTaskRuns) ByRun(dagRunID string) ([]models.TaskRun, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	var out []models.TaskRun
	for _, id := range r.state.taskRunOrder {
		if task := r.state.taskRuns[id]; task.DagRunID == dagRunID {
			out = append(out, task)
		}
	}
	return out, nil
}

type memSettlements struct{ state *memoryState }

func (r *memSettlements) Reset() error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	r.state.settlements = make(map[string]models.Settlement)
	r.state.settleOrder = nil
	r.state.sagaLog = nil
	return nil
}

func (r *memSettlements) Insert(settlement models.Settlement) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	if _, ok := r.state.settlements[settlement.ID]; ok {
		return ErrConflict
	}
	r.state.settlements[settlement.ID] = settlement
	r.state.settleOrder = append(r.state.settleOrder, settlement.ID)
	return nil
}

func (r *memSettlements) UpdateStatus(settlementID, status string, theirAmount *decimal.Decimal, updatedAt time.Time) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	settlement, ok := r.state.settlements[settlementID]
	if !ok {
		return ErrNotFound
	}
	settlement.Status = status
	settlement.UpdatedAt = updatedAt
	if theirAmount != nil {
		settlement.TheirAmount = decimal.NewNullDecimal(*theirAmount)
	}
	r.state.settlements[settlementID] = settlement
	return nil
}

func (r *memSettlements) Get(settlementID string) (*models.Settlement, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	settlement, ok := r.state.settlements[settlementID]
	if !ok {
		return nil, nil
	}
	return &settlement, nil
}

func (r *memSettlements) ListAll() ([]models.Settlement, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	out := make([]models.Settlement, 0, len(r.state.settleOrder))
	for _, id := range r.state.settleOrder {
		out = append(out, r.state.settlements[id])
	}
	return out, nil
}

func (r *memSettlements) InsertSagaStep(step models.SettlementSagaStep) error {
	r.state.mtx.Lock()
	defer r.state.mtx.Unlock()
	r.state.sagaLog = append(r.state.sagaLog, step)
	return nil
}

func (r *memSettlements) SagaLog(settlementID string) ([]models.SettlementSagaStep, error) {
	r.state.mtx.RLock()
	defer r.state.mtx.RUnlock()
	var out []models.SettlementSagaStep
	for _, step := range r.state.sagaLog {
		if step.SettlementID == settlementID {
			out = append(out, step)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func cloneCoupons(src map[int]string) map[int]string {
	if src == nil {
		return nil
	}
	dst := make(map[int]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
