// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket lifecycle statuses projected from replayed event history.
const (
	TicketStatusUnknown  = "unknown"
	TicketStatusIssued   = "issued"
	TicketStatusReissued = "reissued"
	TicketStatusVoided   = "voided"
	TicketStatusFlown    = "flown"
	TicketStatusRefunded = "refunded"
	TicketStatusModified = "modified"
)

// Coupon match statuses.
const (
	MatchStatusMatched         = "matched"
	MatchStatusUnmatchedIssued = "unmatched_issued"
	MatchStatusUnmatchedFlown  = "unmatched_flown"
	MatchStatusSuspense        = "suspense"
)

// Reconciliation statuses, break types, severities and resolutions.
const (
	ReconStatusMatched = "matched"
	ReconStatusBreak   = "break"

	BreakFareMismatch      = "fare_mismatch"
	BreakMissingSettlement = "missing_settlement"
	BreakDuplicateLift     = "duplicate_lift"
	BreakTiming            = "timing"

	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"

	ResolutionAuto       = "auto_resolved"
	ResolutionUnresolved = "unresolved"
	ResolutionManual     = "manually_resolved"
)

// Settlement saga statuses.
const (
	SettlementCalculated  = "calculated"
	SettlementValidated   = "validated"
	SettlementSubmitted   = "submitted"
	SettlementConfirmed   = "confirmed"
	SettlementDisputed    = "disputed"
	SettlementReconciled  = "reconciled"
	SettlementCompensated = "compensated"
)

// DAG run and task run statuses.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusSkipped   = "skipped"
)

// TicketEventRow is the persisted, append-only form of a canonical event.
// (TicketNumber, EventSequence) and EventID are both unique; rows are never
// updated after insert.
type TicketEventRow struct {
	ID            string
	TicketNumber  string
	EventSequence int64
	EventID       string
	EventType     string
	SourceSystem  string
	OccurredAt    time.Time
	IngestedAt    time.Time
	Payload       []byte
}

// TicketStateRow is the upserted projection snapshot for one ticket. It is a
// cache of the replayed history, never authoritative.
type TicketStateRow struct {
	TicketNumber   string
	Status         string
	PNR            string
	PassengerName  string
	Origin         string
	Destination    string
	Currency       string
	CurrentAmount  decimal.NullDecimal
	EventCount     int64
	LastEventType  string
	LastModified   time.Time
	CouponStatuses map[int]string
	UpdatedAt      time.Time
}

// CouponMatchRow is the matcher outcome for one (ticket, coupon) key.
type CouponMatchRow struct {
	ID             string
	TicketNumber   string
	CouponNumber   int
	Status         string
	IssuedEventRef string
	FlownEventRef  string
	IssuedAt       *time.Time
	FlownAt        *time.Time
	MatchedAt      *time.Time
	DaysInSuspense int
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReconResultRow is the three-way reconciliation outcome for one
// (ticket, coupon) key.
type ReconResultRow struct {
	ID              string
	TicketNumber    string
	CouponNumber    int
	ReconType       string
	Status          string
	BreakType       string
	Severity        string
	OurAmount       decimal.NullDecimal
	TheirAmount     decimal.NullDecimal
	Difference      decimal.NullDecimal
	Resolution      string
	ResolutionNotes string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// Settlement is a per-coupon settlement obligation driven through the saga
// state machine. It is the only row kind the engine updates in place; the
// transition history lives in the companion saga step log.
type Settlement struct {
	ID               string
	TicketNumber     string
	Counterparty     string
	CounterpartyType string
	OurAmount        decimal.Decimal
	TheirAmount      decimal.NullDecimal
	Currency         string
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SettlementSagaStep is one append-only saga log entry.
type SettlementSagaStep struct {
	ID           string
	SettlementID string
	FromStatus   string
	ToStatus     string
	Action       string
	Detail       map[string]string
	Timestamp    time.Time
}

// AuditRecord is one append-only audit/lineage entry tying a stage output to
// its inputs.
type AuditRecord struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Action          string            `json:"action"`
	Component       string            `json:"component"`
	TicketNumber    string            `json:"ticket_number,omitempty"`
	InputEventIDs   []string          `json:"input_event_ids"`
	OutputReference string            `json:"output_reference,omitempty"`
	Detail          map[string]string `json:"detail"`
	RawSourceHash   string            `json:"raw_source_hash,omitempty"`
}

// DagRun is one execution of a DAG.
type DagRun struct {
	ID          string
	DagName     string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// TaskRun is the per-task record within a DAG run.
type TaskRun struct {
	ID           string
	DagRunID     string
	TaskName     string
	Status       string
	DependsOn    []string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	Result       map[string]any
}
