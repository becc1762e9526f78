// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package db abstracts FlightLedger persistence behind narrow repository
// interfaces with two implementations: an in-memory backend (authoritative
// for tests and the default runtime) and a remote MySQL table store.
package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flightledger/flightledger/models"
)

// Backend selects the storage implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRemote Backend = "remote"
)

// ParseBackend validates a backend name from configuration.
func ParseBackend(raw string) (Backend, error) {
	switch Backend(raw) {
	case BackendMemory:
		return BackendMemory, nil
	case BackendRemote:
		return BackendRemote, nil
	}
	return "", fmt.Errorf("unsupported storage backend %q, use %q or %q",
		raw, BackendMemory, BackendRemote)
}

var (
	// ErrConflict reports an insert that would duplicate a unique key,
	// e.g. two concurrent appends racing on the same ticket sequence.
	// The caller retries idempotently.
	ErrConflict = errors.New("conflicting row")

	// ErrNotFound reports a lookup or update of a row that does not exist.
	ErrNotFound = errors.New("row not found")
)

// BackendError wraps a remote backend failure. The surrounding stage records
// it in its audit or task log and either retries idempotent inserts or aborts
// the stage; state is left untouched.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("storage backend: %s: %v", e.Op, e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }

// TicketEventRepository persists the append-only canonical event log.
type TicketEventRepository interface {
	Reset() error
	// NextSequence returns the next dense per-ticket sequence, starting
	// at 1.
	NextSequence(ticketNumber string) (int64, error)
	// FindByEventID returns nil when no row carries the event id.
	FindByEventID(eventID string) (*models.TicketEventRow, error)
	// Insert fails with ErrConflict when (ticket, sequence) or the event
	// id already exist.
	Insert(row models.TicketEventRow) error
	// ByTicket returns the full history ordered by event sequence.
	ByTicket(ticketNumber string) ([]models.TicketEventRow, error)
	// ByTicketAt returns the prefix of history with occurred_at <= asOf,
	// ordered by event sequence.
	ByTicketAt(ticketNumber string, asOf time.Time) ([]models.TicketEventRow, error)
	// ByEventTypes returns all rows whose event type is in the set.
	ByEventTypes(eventTypes []string) ([]models.TicketEventRow, error)
	AllRows() ([]models.TicketEventRow, error)
}

// TicketStateRepository persists the per-ticket projection snapshot.
type TicketStateRepository interface {
	Reset() error
	Upsert(row models.TicketStateRow) error
	// Get returns nil when no snapshot exists for the ticket.
	Get(ticketNumber string) (*models.TicketStateRow, error)
}

// CouponMatchRepository persists matcher outcomes keyed by (ticket, coupon).
type CouponMatchRepository interface {
	Reset() error
	Upsert(row models.CouponMatchRow) (models.CouponMatchRow, error)
	AllRows() ([]models.CouponMatchRow, error)
	// Suspense returns rows in the suspense set with at least minAgeDays
	// days in suspense.
	Suspense(minAgeDays int) ([]models.CouponMatchRow, error)
}

// ReconRepository persists three-way reconciliation outcomes.
type ReconRepository interface {
	Reset() error
	Insert(row models.ReconResultRow) error
	AllRows() ([]models.ReconResultRow, error)
	// Breaks returns break rows filtered by resolution and optionally by
	// break type.
	Breaks(resolution, breakType string) ([]models.ReconResultRow, error)
	// Resolve fails with ErrNotFound for an unknown break id.
	Resolve(breakID, resolution, notes string, resolvedAt time.Time) error
}

// AuditRepository persists the append-only audit/lineage log. No update or
// delete verbs exist by design of the audit contract.
type AuditRepository interface {
	Reset() error
	Insert(record models.AuditRecord) (models.AuditRecord, error)
	// ByTicket returns records for the ticket in timestamp-ascending order.
	ByTicket(ticketNumber string) ([]models.AuditRecord, error)
	// ByOutputReference returns records referencing the output, in
	// timestamp-ascending order.
	ByOutputReference(outputReference string) ([]models.AuditRecord, error)
}

// DagRunRepository persists DAG run rows.
type DagRunRepository interface {
	Insert(run models.DagRun) error
	// Update replaces the run row; ErrNotFound for an unknown id.
	Update(run models.DagRun) error
	// Get returns nil when the run id is unknown.
	Get(runID string) (*models.DagRun, error)
}

// TaskRunRepository persists per-task rows within DAG runs.
type TaskRunRepository interface {
	Insert(task models.TaskRun) error
	// Update replaces the task row; ErrNotFound for an unknown id.
	Update(task models.TaskRun) error
	ByRun(dagRunID string) ([]models.TaskRun, error)
}

// SettlementRepository persists settlements and their append-only saga log.
type SettlementRepository interface {
	Reset() error
	Insert(settlement models.Settlement) error
	// UpdateStatus transitions a settlement, optionally recording the
	// counterparty amount. ErrNotFound for an unknown id.
	UpdateStatus(settlementID, status string, theirAmount *decimal.Decimal, updatedAt time.Time) error
	// Get returns nil when the settlement id is unknown.
	Get(settlementID string) (*models.Settlement, error)
	ListAll() ([]models.Settlement, error)
	InsertSagaStep(step models.SettlementSagaStep) error
	// SagaLog returns steps for the settlement in timestamp-ascending
	// order.
	SagaLog(settlementID string) ([]models.SettlementSagaStep, error)
}

// Repositories bundles every repository over one backend. Inject it into the
// runtime; there is no process-wide singleton.
type Repositories struct {
	TicketEvents  TicketEventRepository
	TicketStates  TicketStateRepository
	CouponMatches CouponMatchRepository
	Recon         ReconRepository
	Audit         AuditRepository
	DagRuns       DagRunRepository
	TaskRuns      TaskRunRepository
	Settlements   SettlementRepository
}
