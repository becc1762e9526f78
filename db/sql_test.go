// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-gorp/gorp"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/flightledger/flightledger/models"
)

func newMockDbMap(t *testing.T) (*gorp.DbMap, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &gorp.DbMap{Db: db, Dialect: gorp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8MB4"}}, mock
}

func TestWrapSQL(t *testing.T) {
	require.NoError(t, wrapSQL("noop", nil))

	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	require.ErrorIs(t, wrapSQL("insert", dup), ErrConflict)

	other := errors.New("connection reset")
	err := wrapSQL("select", other)
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	require.Equal(t, "select", backendErr.Op)
	require.ErrorIs(t, err, other)
}

func TestSQLTicketEventsNextSequence(t *testing.T) {
	dbMap, mock := newMockDbMap(t)
	repo := &sqlTicketEvents{dbMap}

	query := "SELECT MAX(EventSequence) FROM TicketEvents WHERE TicketNumber = ?"
	mock.ExpectQuery(query).WithArgs("T1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	seq, err := repo.NextSequence("T1")
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)

	mock.ExpectQuery(query).WithArgs("T1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(4)))
	seq, err = repo.NextSequence("T1")
	require.NoError(t, err)
	require.Equal(t, int64(5), seq)
}

func TestSQLTicketEventsFindByEventID(t *testing.T) {
	dbMap, mock := newMockDbMap(t)
	repo := &sqlTicketEvents{dbMap}
	now := time.Now().UTC()

	columns := []string{"ID", "TicketNumber", "EventSequence", "EventID",
		"EventType", "SourceSystem", "OccurredAt", "IngestedAt", "Payload"}
	query := "SELECT * FROM TicketEvents WHERE EventID = ?"

	mock.ExpectQuery(query).WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("row-1", "T1", int64(1), "e1", "ticket_issued", "PSS", now, now, []byte(`{}`)))
	row, err := repo.FindByEventID("e1")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "T1", row.TicketNumber)
	require.Equal(t, int64(1), row.EventSequence)

	mock.ExpectQuery(query).WithArgs("e404").
		WillReturnRows(sqlmock.NewRows(columns))
	row, err = repo.FindByEventID("e404")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestSQLReconResolve(t *testing.T) {
	dbMap, mock := newMockDbMap(t)
	repo := &sqlRecon{dbMap}
	resolvedAt := time.Now().UTC()

	query := "UPDATE ReconResults SET Resolution = ?, ResolutionNotes = ?, ResolvedAt = ? WHERE ID = ?"
	mock.ExpectExec(query).
		WithArgs(models.ResolutionManual, "writeoff", resolvedAt, "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Resolve("r1", models.ResolutionManual, "writeoff", resolvedAt))

	mock.ExpectExec(query).
		WithArgs(models.ResolutionManual, "", resolvedAt, "r404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Resolve("r404", models.ResolutionManual, "", resolvedAt), ErrNotFound)
}

func TestSQLSettlementsUpdateStatus(t *testing.T) {
	dbMap, mock := newMockDbMap(t)
	repo := &sqlSettlements{dbMap}
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE Settlements SET Status = ?, UpdatedAt = ? WHERE ID = ?").
		WithArgs(models.SettlementValidated, now, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus("s1", models.SettlementValidated, nil, now))

	mock.ExpectExec("UPDATE Settlements SET Status = ?, UpdatedAt = ? WHERE ID = ?").
		WithArgs(models.SettlementValidated, now, "s404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.UpdateStatus("s404", models.SettlementValidated, nil, now), ErrNotFound)
}

func TestCouponStatusJSONRoundTrip(t *testing.T) {
	coupons, err := couponsFromJSON(nil)
	require.NoError(t, err)
	require.Nil(t, coupons)

	encoded := couponsToJSON(map[int]string{1: "flown", 2: "issued"})
	require.Equal(t, map[string]string{"1": "flown", "2": "issued"}, encoded)

	decoded, err := couponsFromJSON([]byte(`{"1":"flown","2":"issued"}`))
	require.NoError(t, err)
	require.Equal(t, map[int]string{1: "flown", 2: "issued"}, decoded)
}
