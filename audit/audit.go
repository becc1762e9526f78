// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package audit records the append-only lineage trail. Every processing stage
// logs what it produced, from which input events, over which raw source
// bytes. Records are never updated or deleted.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/models"
)

// Store writes and queries audit records.
type Store struct {
	repo db.AuditRepository
}

// NewStore returns a Store over the repository.
func NewStore(repo db.AuditRepository) *Store {
	return &Store{repo: repo}
}

// Entry is the caller-supplied portion of an audit record. ID and Timestamp
// are assigned by Log.
type Entry struct {
	Action          string
	Component       string
	TicketNumber    string
	InputEventIDs   []string
	OutputReference string
	Detail          map[string]string
	RawSourceHash   string
}

// Log appends one audit record, stamping a fresh id and the current UTC time.
func (s *Store) Log(entry Entry) (models.AuditRecord, error) {
	record := models.AuditRecord{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Action:          entry.Action,
		Component:       entry.Component,
		TicketNumber:    entry.TicketNumber,
		InputEventIDs:   entry.InputEventIDs,
		OutputReference: entry.OutputReference,
		Detail:          entry.Detail,
		RawSourceHash:   entry.RawSourceHash,
	}
	if record.InputEventIDs == nil {
		record.InputEventIDs = []string{}
	}
	if record.Detail == nil {
		record.Detail = map[string]string{}
	}
	stored, err := s.repo.Insert(record)
	if err != nil {
		return models.AuditRecord{}, err
	}
	log.Tracef("Audit %s by %s ref=%s", stored.Action, stored.Component, stored.OutputReference)
	return stored, nil
}

// HistoryByTicket returns every record touching the ticket, oldest first.
func (s *Store) HistoryByTicket(ticketNumber string) ([]models.AuditRecord, error) {
	return s.repo.ByTicket(ticketNumber)
}

// Lineage returns every record whose output reference matches, oldest first.
// Walking Lineage plus InputEventIDs reconstructs how a derived row came to
// exist.
func (s *Store) Lineage(outputReference string) ([]models.AuditRecord, error) {
	return s.repo.ByOutputReference(outputReference)
}

// Reset clears the audit log.
func (s *Store) Reset() error {
	return s.repo.Reset()
}
