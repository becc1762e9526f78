// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package audit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightledger/flightledger/db"
)

func TestLogStampsIdentityAndDefaults(t *testing.T) {
	store := NewStore(db.NewMemoryRepositories().Audit)

	record, err := store.Log(Entry{
		Action:       "source_ingested",
		Component:    "pss_adapter",
		TicketNumber: "T1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	require.False(t, record.Timestamp.IsZero())
	// Nil collections are stored as empty, so JSON readers never see null.
	require.NotNil(t, record.InputEventIDs)
	require.Empty(t, record.InputEventIDs)
	require.NotNil(t, record.Detail)

	second, err := store.Log(Entry{
		Action:        "ticket_event_appended",
		Component:     "lifecycle_store",
		TicketNumber:  "T1",
		InputEventIDs: []string{"e1", "e2"},
		Detail:        map[string]string{"event_type": "ticket_issued"},
	})
	require.NoError(t, err)
	require.NotEqual(t, record.ID, second.ID)
	require.Equal(t, []string{"e1", "e2"}, second.InputEventIDs)
}

func TestHistoryAndLineage(t *testing.T) {
	store := NewStore(db.NewMemoryRepositories().Audit)

	_, err := store.Log(Entry{Action: "first", Component: "a", TicketNumber: "T1"})
	require.NoError(t, err)
	_, err = store.Log(Entry{Action: "second", Component: "b", TicketNumber: "T1",
		OutputReference: "match-1"})
	require.NoError(t, err)
	_, err = store.Log(Entry{Action: "other", Component: "a", TicketNumber: "T2"})
	require.NoError(t, err)

	history, err := store.HistoryByTicket("T1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "first", history[0].Action)
	require.Equal(t, "second", history[1].Action)

	lineage, err := store.Lineage("match-1")
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	require.Equal(t, "b", lineage[0].Component)

	require.NoError(t, store.Reset())
	history, err = store.HistoryByTicket("T1")
	require.NoError(t, err)
	require.Empty(t, history)
}
