// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flightledger/flightledger/models"
)

func eventRow(ticket string, seq int64, eventID string, occurredAt time.Time) models.TicketEventRow {
	return models.TicketEventRow{
		ID:            "row-" + eventID,
		TicketNumber:  ticket,
		EventSequence: seq,
		EventID:       eventID,
		EventType:     string(models.EventTicketIssued),
		SourceSystem:  string(models.SourcePSS),
		OccurredAt:    occurredAt,
		IngestedAt:    occurredAt,
		Payload:       []byte(`{}`),
	}
}

func TestMemoryTicketEventsUniqueness(t *testing.T) {
	repos := NewMemoryRepositories()
	events := repos.TicketEvents
	now := time.Now().UTC()

	seq, err := events.NextSequence("T1")
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)

	require.NoError(t, events.Insert(eventRow("T1", 1, "e1", now)))

	// Duplicate event id, even on another ticket, conflicts.
	require.ErrorIs(t, events.Insert(eventRow("T2", 1, "e1", now)), ErrConflict)

	// Duplicate (ticket, sequence) conflicts.
	require.ErrorIs(t, events.Insert(eventRow("T1", 1, "e2", now)), ErrConflict)

	require.NoError(t, events.Insert(eventRow("T1", 2, "e2", now.Add(time.Minute))))
	seq, err = events.NextSequence("T1")
	require.NoError(t, err)
	require.Equal(t, int64(3), seq)

	found, err := events.FindByEventID("e2")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, int64(2), found.EventSequence)

	missing, err := events.FindByEventID("e404")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMemoryTicketEventsQueries(t *testing.T) {
	repos := NewMemoryRepositories()
	events := repos.TicketEvents
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, events.Insert(eventRow("T1", 1, "e1", base)))
	require.NoError(t, events.Insert(eventRow("T1", 2, "e2", base.Add(time.Hour))))
	voided := eventRow("T1", 3, "e3", base.Add(2*time.Hour))
	voided.EventType = string(models.EventTicketVoided)
	require.NoError(t, events.Insert(voided))
	require.NoError(t, events.Insert(eventRow("T2", 1, "e4", base)))

	history, err := events.ByTicket("T1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, row := range history {
		require.Equal(t, int64(i+1), row.EventSequence)
	}

	prefix, err := events.ByTicketAt("T1", base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, prefix, 2)
	require.Equal(t, "e2", prefix[1].EventID)

	byType, err := events.ByEventTypes([]string{string(models.EventTicketVoided)})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	require.Equal(t, "e3", byType[0].EventID)

	all, err := events.AllRows()
	require.NoError(t, err)
	require.Len(t, all, 4)

	require.NoError(t, events.Reset())
	all, err = events.AllRows()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestMemoryCouponMatches(t *testing.T) {
	repos := NewMemoryRepositories()
	matches := repos.CouponMatches

	row, err := matches.Upsert(models.CouponMatchRow{
		TicketNumber: "T1",
		CouponNumber: 1,
		Status:       models.MatchStatusUnmatchedIssued,
	})
	require.NoError(t, err)
	require.NotEmpty(t, row.ID)

	// Upserting the same key keeps the row id stable.
	updated, err := matches.Upsert(models.CouponMatchRow{
		TicketNumber:   "T1",
		CouponNumber:   1,
		Status:         models.MatchStatusSuspense,
		DaysInSuspense: 31,
	})
	require.NoError(t, err)
	require.Equal(t, row.ID, updated.ID)

	_, err = matches.Upsert(models.CouponMatchRow{
		TicketNumber: "T1",
		CouponNumber: 2,
		Status:       models.MatchStatusMatched,
	})
	require.NoError(t, err)

	all, err := matches.AllRows()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 1, all[0].CouponNumber)
	require.Equal(t, 2, all[1].CouponNumber)

	// Matched rows never enter the suspense view.
	suspense, err := matches.Suspense(30)
	require.NoError(t, err)
	require.Len(t, suspense, 1)
	require.Equal(t, models.MatchStatusSuspense, suspense[0].Status)

	suspense, err = matches.Suspense(60)
	require.NoError(t, err)
	require.Empty(t, suspense)
}

func TestMemoryReconBreaks(t *testing.T) {
	repos := NewMemoryRepositories()
	recon := repos.Recon

	require.NoError(t, recon.Insert(models.ReconResultRow{
		ID:         "r1",
		Status:     models.ReconStatusMatched,
		Resolution: models.ResolutionAuto,
	}))
	require.NoError(t, recon.Insert(models.ReconResultRow{
		ID:         "r2",
		Status:     models.ReconStatusBreak,
		BreakType:  models.BreakFareMismatch,
		Resolution: models.ResolutionUnresolved,
	}))
	require.NoError(t, recon.Insert(models.ReconResultRow{
		ID:         "r3",
		Status:     models.ReconStatusBreak,
		BreakType:  models.BreakTiming,
		Resolution: models.ResolutionUnresolved,
	}))
	require.ErrorIs(t, recon.Insert(models.ReconResultRow{ID: "r2"}), ErrConflict)

	breaks, err := recon.Breaks(models.ResolutionUnresolved, "")
	require.NoError(t, err)
	require.Len(t, breaks, 2)

	breaks, err = recon.Breaks(models.ResolutionUnresolved, models.BreakTiming)
	require.NoError(t, err)
	require.Len(t, breaks, 1)
	require.Equal(t, "r3", breaks[0].ID)

	resolvedAt := time.Now().UTC()
	require.NoError(t, recon.Resolve("r2", models.ResolutionManual, "writeoff", resolvedAt))
	require.ErrorIs(t, recon.Resolve("r404", models.ResolutionManual, "", resolvedAt), ErrNotFound)

	breaks, err = recon.Breaks(models.ResolutionManual, "")
	require.NoError(t, err)
	require.Len(t, breaks, 1)
	require.Equal(t, "writeoff", breaks[0].ResolutionNotes)
	require.NotNil(t, breaks[0].ResolvedAt)
}

func TestMemoryAuditOrdering(t *testing.T) {
	repos := NewMemoryRepositories()
	auditRepo := repos.Audit
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	// Insert out of timestamp order; reads come back ascending.
	for _, rec := range []models.AuditRecord{
		{ID: "a2", Timestamp: base.Add(time.Hour), Action: "second", TicketNumber: "T1"},
		{ID: "a1", Timestamp: base, Action: "first", TicketNumber: "T1"},
		{ID: "a3", Timestamp: base.Add(2 * time.Hour), Action: "third", TicketNumber: "T2", OutputReference: "run-1"},
	} {
		_, err := auditRepo.Insert(rec)
		require.NoError(t, err)
	}

	records, err := auditRepo.ByTicket("T1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "first", records[0].Action)
	require.Equal(t, "second", records[1].Action)

	byRef, err := auditRepo.ByOutputReference("run-1")
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	require.Equal(t, "a3", byRef[0].ID)

	assigned, err := auditRepo.Insert(models.AuditRecord{Timestamp: base, TicketNumber: "T3"})
	require.NoError(t, err)
	require.NotEmpty(t, assigned.ID)
}

func TestMemorySettlements(t *testing.T) {
	repos := NewMemoryRepositories()
	settlements := repos.Settlements
	now := time.Now().UTC()

	require.NoError(t, settlements.Insert(models.Settlement{
		ID:        "s1",
		OurAmount: decimal.RequireFromString("200.00"),
		Status:    models.SettlementCalculated,
		CreatedAt: now,
	}))
	require.ErrorIs(t, settlements.Insert(models.Settlement{ID: "s1"}), ErrConflict)

	their := decimal.RequireFromString("195.00")
	require.NoError(t, settlements.UpdateStatus("s1", models.SettlementDisputed, &their, now))
	require.ErrorIs(t, settlements.UpdateStatus("s404", models.SettlementDisputed, nil, now), ErrNotFound)

	got, err := settlements.Get("s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, models.SettlementDisputed, got.Status)
	require.True(t, got.TheirAmount.Valid)
	require.True(t, got.TheirAmount.Decimal.Equal(their))

	missing, err := settlements.Get("s404")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, settlements.InsertSagaStep(models.SettlementSagaStep{
		ID: "step1", SettlementID: "s1", Action: "calculate", Timestamp: now,
	}))
	require.NoError(t, settlements.InsertSagaStep(models.SettlementSagaStep{
		ID: "step2", SettlementID: "s1", Action: "dispute", Timestamp: now.Add(time.Second),
	}))
	saga, err := settlements.SagaLog("s1")
	require.NoError(t, err)
	require.Len(t, saga, 2)
	require.Equal(t, "calculate", saga[0].Action)
}

func TestMemoryDagAndTaskRuns(t *testing.T) {
	repos := NewMemoryRepositories()
	now := time.Now().UTC()

	require.NoError(t, repos.DagRuns.Insert(models.DagRun{
		ID: "run-1", DagName: "month_end_close", Status: models.RunStatusRunning,
		StartedAt: now, CreatedAt: now,
	}))
	require.ErrorIs(t, repos.DagRuns.Update(models.DagRun{ID: "run-404"}), ErrNotFound)

	run, err := repos.DagRuns.Get("run-1")
	require.NoError(t, err)
	require.NotNil(t, run)

	require.NoError(t, repos.TaskRuns.Insert(models.TaskRun{
		ID: "t1", DagRunID: "run-1", TaskName: "ingest", Status: models.RunStatusPending,
	}))
	require.NoError(t, repos.TaskRuns.Insert(models.TaskRun{
		ID: "t2", DagRunID: "run-1", TaskName: "match", Status: models.RunStatusPending,
	}))
	require.ErrorIs(t, repos.TaskRuns.Update(models.TaskRun{ID: "t404"}), ErrNotFound)

	tasks, err := repos.TaskRuns.ByRun("run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "ingest", tasks[0].TaskName)

	run.Status = models.RunStatusSucceeded
	require.NoError(t, repos.DagRuns.Update(*run))
	run, err = repos.DagRuns.Get("run-1")
	require.NoError(t, err)
	require.Equal(t, models.RunStatusSucceeded, run.Status)
}

func TestParseStorageBackend(t *testing.T) {
	backend, err := ParseBackend("memory")
	require.NoError(t, err)
	require.Equal(t, BackendMemory, backend)

	backend, err = ParseBackend("remote")
	require.NoError(t, err)
	require.Equal(t, BackendRemote, backend)

	_, err = ParseBackend("tape")
	require.Error(t, err)
}
