// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-gorp/gorp"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flightledger/flightledger/models"
)

// mysqlDupEntry is the MySQL error number for a violated unique key.
const mysqlDupEntry = 1062

// SQLConfig describes the remote table-store connection. Timeout applies to
// dial, read and write so remote calls fail fast and leave state untouched.
type SQLConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	Timeout  time.Duration
}

// ConnectSQL opens the MySQL connection, registers every table and creates
// missing ones.
func ConnectSQL(cfg SQLConfig) (*gorp.DbMap, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dsn := fmt.Sprintf("%s:%s@(%s:%s)/%s?charset=utf8mb4&parseTime=true&timeout=%s&readTimeout=%s&writeTimeout=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, timeout, timeout, timeout)
	database, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, &BackendError{Op: "open", Err: err}
	}
	if err := database.Ping(); err != nil {
		return nil, &BackendError{Op: "ping", Err: err}
	}

	dbMap := &gorp.DbMap{Db: database, Dialect: gorp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8MB4"}}

	events := dbMap.AddTableWithName(sqlTicketEvent{}, "TicketEvents").SetKeys(false, "ID")
	events.SetUniqueTogether("TicketNumber", "EventSequence")
	events.ColMap("EventID").SetUnique(true)
	events.ColMap("Payload").SetMaxSize(16384)
	dbMap.AddTableWithName(sqlTicketState{}, "TicketCurrentState").SetKeys(false, "TicketNumber")
	matches := dbMap.AddTableWithName(sqlCouponMatch{}, "CouponMatches").SetKeys(false, "ID")
	matches.SetUniqueTogether("TicketNumber", "CouponNumber")
	dbMap.AddTableWithName(sqlReconResult{}, "ReconResults").SetKeys(false, "ID")
	dbMap.AddTableWithName(sqlAuditRecord{}, "AuditLog").SetKeys(false, "ID")
	dbMap.AddTableWithName(sqlDagRun{}, "DagRuns").SetKeys(false, "ID")
	dbMap.AddTableWithName(sqlTaskRun{}, "TaskRuns").SetKeys(false, "ID")
	dbMap.AddTableWithName(sqlSettlement{}, "Settlements").SetKeys(false, "ID")
	dbMap.AddTableWithName(sqlSagaStep{}, "SettlementSagaLog").SetKeys(false, "ID")

	if err := dbMap.CreateTablesIfNotExists(); err != nil {
		return nil, &BackendError{Op: "create tables", Err: err}
	}
	log.Infof("Connected to remote table store %s/%s", cfg.Host, cfg.Name)
	return dbMap, nil
}

// NewSQLRepositories returns a repository bundle over the remote backend.
func NewSQLRepositories(dbMap *gorp.DbMap) Repositories {
	return Repositories{
		TicketEvents:  &sqlTicketEvents{dbMap},
		TicketStates:  &sqlTicketStates{dbMap},
		CouponMatches: &sqlCouponMatches{dbMap},
		Recon:         &sqlRecon{dbMap},
		Audit:         &sqlAudit{dbMap},
		DagRuns:       &sqlDagRuns{dbMap},
		TaskRuns:      &sqlTaskRuns{dbMap},
		Settlements:   &sqlSettlements{dbMap},
	}
}

// wrapSQL converts driver failures to the package error kinds. Duplicate-key
// violations surface as ErrConflict so callers can retry idempotently.
func wrapSQL(op string, err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDupEntry {
		return ErrConflict
	}
	return &BackendError{Op: op, Err: err}
}

// Table row mirrors. Slice- and map-valued fields are stored as JSON text.

type sqlTicketEvent struct {
	ID            string    `db:"ID"`
	TicketNumber  string    `db:"TicketNumber"`
	EventSequence int64     `db:"EventSequence"`
	EventID       string    `db:"EventID"`
	EventType     string    `db:"EventType"`
	SourceSystem  string    `db:"SourceSystem"`
	OccurredAt    time.Time `db:"OccurredAt"`
	IngestedAt    time.Time `db:"IngestedAt"`
	Payload       []byte    `db:"Payload"`
}

func (row sqlTicketEvent) toModel() models.TicketEventRow {
	return models.TicketEventRow(row)
}

type sqlTicketState struct {
	TicketNumber   string              `db:"TicketNumber"`
	Status         string              `db:"Status"`
	PNR            string              `db:"PNR"`
	PassengerName  string              `db:"PassengerName"`
	Origin         string              `db:"Origin"`
	Destination    string              `db:"Destination"`
	Currency       string              `db:"Currency"`
	CurrentAmount  decimal.NullDecimal `db:"CurrentAmount"`
	EventCount     int64               `db:"EventCount"`
	LastEventType  string              `db:"LastEventType"`
	LastModified   time.Time           `db:"LastModified"`
	CouponStatuses []byte              `db:"CouponStatuses"`
	UpdatedAt      time.Time           `db:"UpdatedAt"`
}

type sqlCouponMatch struct {
	ID             string     `db:"ID"`
	TicketNumber   string     `db:"TicketNumber"`
	CouponNumber   int64      `db:"CouponNumber"`
	Status         string     `db:"Status"`
	IssuedEventRef string     `db:"IssuedEventRef"`
	FlownEventRef  string     `db:"FlownEventRef"`
	IssuedAt       *time.Time `db:"IssuedAt"`
	FlownAt        *time.Time `db:"FlownAt"`
	MatchedAt      *time.Time `db:"MatchedAt"`
	DaysInSuspense int64      `db:"DaysInSuspense"`
	Notes          string     `db:"Notes"`
	CreatedAt      time.Time  `db:"CreatedAt"`
	UpdatedAt      time.Time  `db:"UpdatedAt"`
}

func (row sqlCouponMatch) toModel() models.CouponMatchRow {
	return models.CouponMatchRow{
		ID:             row.ID,
		TicketNumber:   row.TicketNumber,
		CouponNumber:   int(row.CouponNumber),
		Status:         row.Status,
		IssuedEventRef: row.IssuedEventRef,
		FlownEventRef:  row.FlownEventRef,
		IssuedAt:       row.IssuedAt,
		FlownAt:        row.FlownAt,
		MatchedAt:      row.MatchedAt,
		DaysInSuspense: int(row.DaysInSuspense),
		Notes:          row.Notes,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func couponMatchToSQL(row models.CouponMatchRow) sqlCouponMatch {
	return sqlCouponMatch{
		ID:             row.ID,
		TicketNumber:   row.TicketNumber,
		CouponNumber:   int64(row.CouponNumber),
		Status:         row.Status,
		IssuedEventRef: row.IssuedEventRef,
		FlownEventRef:  row.FlownEventRef,
		IssuedAt:       row.IssuedAt,
		FlownAt:        row.FlownAt,
		MatchedAt:      row.MatchedAt,
		DaysInSuspense: int64(row.DaysInSuspense),
		Notes:          row.Notes,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

type sqlReconResult struct {
	ID              string              `db:"ID"`
	TicketNumber    string              `db:"TicketNumber"`
	CouponNumber    int64               `db:"CouponNumber"`
	ReconType       string              `db:"ReconType"`
	Status          string              `db:"Status"`
	BreakType       string              `db:"BreakType"`
	Severity        string              `db:"Severity"`
	OurAmount       decimal.NullDecimal `db:"OurAmount"`
	TheirAmount     decimal.NullDecimal `db:"TheirAmount"`
	Difference      decimal.NullDecimal `db:"Difference"`
	Resolution      string              `db:"Resolution"`
	ResolutionNotes string              `db:"ResolutionNotes"`
	CreatedAt       time.Time           `db:"CreatedAt"`
	ResolvedAt      *time.Time          `db:"ResolvedAt"`
}

func (row sqlReconResult) toModel() models.ReconResultRow {
	return models.ReconResultRow{
		ID:              row.ID,
		TicketNumber:    row.TicketNumber,
		CouponNumber:    int(row.CouponNumber),
		ReconType:       row.ReconType,
		Status:          row.Status,
		BreakType:       row.BreakType,
		Severity:        row.Severity,
		OurAmount:       row.OurAmount,
		TheirAmount:     row.TheirAmount,
		Difference:      row.Difference,
		Resolution:      row.Resolution,
		ResolutionNotes: row.ResolutionNotes,
		CreatedAt:       row.CreatedAt,
		ResolvedAt:      row.ResolvedAt,
	}
}

type sqlAuditRecord struct {
	ID              string    `db:"ID"`
	Timestamp       time.Time `db:"Timestamp"`
	Action          string    `db:"Action"`
	Component       string    `db:"Component"`
	TicketNumber    string    `db:"TicketNumber"`
	InputEventIDs   []byte    `db:"InputEventIDs"`
	OutputReference string    `db:"OutputReference"`
	Detail          []byte    `db:"Detail"`
	RawSourceHash   string    `db:"RawSourceHash"`
}

type sqlDagRun struct {
	ID          string     `db:"ID"`
	DagName     string     `db:"DagName"`
	Status      string     `db:"Status"`
	StartedAt   time.Time  `db:"StartedAt"`
	CompletedAt *time.Time `db:"CompletedAt"`
	CreatedAt   time.Time  `db:"CreatedAt"`
}

type sqlTaskRun struct {
	ID           string     `db:"ID"`
	DagRunID     string     `db:"DagRunID"`
	TaskName     string     `db:"TaskName"`
	Status       string     `db:"Status"`
	DependsOn    []byte     `db:"DependsOn"`
	StartedAt    *time.Time `db:"StartedAt"`
	CompletedAt  *time.Time `db:"CompletedAt"`
	ErrorMessage string     `db:"ErrorMessage"`
	Result       []byte     `db:"Result"`
}

type sqlSettlement struct {
	ID               string              `db:"ID"`
	TicketNumber     string              `db:"TicketNumber"`
	Counterparty     string              `db:"Counterparty"`
	CounterpartyType string              `db:"CounterpartyType"`
	OurAmount        decimal.Decimal     `db:"OurAmount"`
	TheirAmount      decimal.NullDecimal `db:"TheirAmount"`
	Currency         string              `db:"Currency"`
	Status           string              `db:"Status"`
	CreatedAt        time.Time           `db:"CreatedAt"`
	UpdatedAt        time.Time           `db:"UpdatedAt"`
}

type sqlSagaStep struct {
	ID           string    `db:"ID"`
	SettlementID string    `db:"SettlementID"`
	FromStatus   string    `db:"FromStatus"`
	ToStatus     string    `db:"ToStatus"`
	Action       string    `db:"Action"`
	Detail       []byte    `db:"Detail"`
	Timestamp    time.Time `db:"Timestamp"`
}

type sqlTicketEvents struct{ dbMap *gorp.DbMap }

func (r *sqlTicketEvents) Reset() error {
	_, err := r.dbMap.Exec("DELETE FROM TicketEvents")
	return wrapSQL("reset ticket events", err)
}

func (r *sqlTicketEvents) NextSequence(ticketNumber string) (int64, error) {
	max, err := r.dbMap.SelectNullInt(
		"SELECT MAX(EventSequence) FROM TicketEvents WHERE TicketNumber = ?", ticketNumber)
	if err != nil {
		return 0, wrapSQL("next sequence", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

func (r *sqlTicketEvents) FindByEventID(eventID string) (*models.TicketEventRow, error) {
	var row sqlTicketEvent
	err := r.dbMap.SelectOne(&row, "SELECT * FROM TicketEvents WHERE EventID = ?", eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQL("find by event id", err)
	}
	out := row.toModel()
	return &out, nil
}

func (r *sqlTicketEvents) Insert(row models.TicketEventRow) error {
	return wrapSQL("insert ticket event", r.dbMap.Insert(&sqlTicketEvent{
		ID:            row.ID,
		TicketNumber:  row.TicketNumber,
		EventSequence: row.EventSequence,
		EventID:       row.EventID,
		EventType:     row.EventType,
		SourceSystem:  row.SourceSystem,
		OccurredAt:    row.OccurredAt,
		IngestedAt:    row.IngestedAt,
		Payload:       row.Payload,
	}))
}

func (r *sqlTicketEvents) selectRows(query string, args ...any) ([]models.TicketEventRow, error) {
	var rows []sqlTicketEvent
	if _, err := r.dbMap.Select(&rows, query, args...); err != nil {
		return nil, wrapSQL("select ticket events", err)
	}
	out := make([]models.TicketEventRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *sqlTicketEvents) ByTicket(ticketNumber string) ([]models.TicketEventRow, error) {
	return r.selectRows(
		"SELECT * FROM TicketEvents WHERE TicketNumber = ? ORDER BY EventSequence", ticketNumber)
}

func (r *sqlTicketEvents) ByTicketAt(ticketNumber string, asOf time.Time) ([]models.TicketEventRow, error) {
	return r.selectRows(
		"SELECT * FROM TicketEvents WHERE TicketNumber = ? AND OccurredAt <= ? ORDER BY EventSequence",
		ticketNumber, asOf)
}

func (r *sqlTicketEvents) ByEventTypes(eventTypes []string) ([]models.TicketEventRow, error) {
	if len(eventTypes) == 0 {
		return nil, nil
	}
	query := "SELECT * FROM TicketEvents WHERE EventType IN ("
	args := make([]any, 0, len(eventTypes))
	for i, et := range eventTypes {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, et)
	}
	query += ") ORDER BY TicketNumber, EventSequence"
	return r.selectRows(query, args...)
}

func (r *sqlTicketEvents) AllRows() ([]models.TicketEventRow, error) {
	return r.selectRows("SELECT * FROM TicketEvents ORDER BY TicketNumber, EventSequence")
}

type sqlTicketStates struct{ dbMap *gorp.DbMap }

func (r *sqlTicketStates) Reset() error {
	_, err := r.dbMap.Exec("DELETE FROM TicketCurrentState")
	return wrapSQL("reset ticket state", err)
}

func (r *sqlTicketStates) Upsert(row models.TicketStateRow) error {
	coupons, err := json.Marshal(couponsToJSON(row.CouponStatuses))
	if err != nil {
		return &BackendError{Op: "encode coupon statuses", Err: err}
	}
	sqlRow := sqlTicketState{
		TicketNumber:   row.TicketNumber,
		Status:         row.Status,
		PNR:            row.PNR,
		PassengerName:  row.PassengerName,
		Origin:         row.Origin,
		Destination:    row.Destination,
		Currency:       row.Currency,
		CurrentAmount:  row.CurrentAmount,
		EventCount:     row.EventCount,
		LastEventType:  row.LastEventType,
		LastModified:   row.LastModified,
		CouponStatuses: coupons,
		UpdatedAt:      row.UpdatedAt,
	}
	count, err := r.dbMap.Update(&sqlRow)
	if err != nil {
		return wrapSQL("update ticket state", err)
	}
	if count == 0 {
		return wrapSQL("insert ticket state", r.dbMap.Insert(&sqlRow))
	}
	return nil
}

func (r *sqlTicketStates) Get(ticketNumber string) (*models.TicketStateRow, error) {
	var row sqlTicketState
	err := r.dbMap.SelectOne(&row,
		"SELECT * FROM TicketCurrentState WHERE TicketNumber = ?", ticketNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQL("get ticket state", err)
	}
	coupons, err := couponsFromJSON(row.CouponStatuses)
	if err != nil {
		return nil, &BackendError{Op: "decode coupon statuses", Err: err}
	}
	out := models.TicketStateRow{
		TicketNumber:   row.TicketNumber,
		Status:         row.Status,
		PNR:            row.PNR,
		PassengerName:  row.PassengerName,
		Origin:         row.Origin,
		Destination:    row.Destination,
		Currency:       row.Currency,
		CurrentAmount:  row.CurrentAmount,
		EventCount:     row.EventCount,
		LastEventType:  row.LastEventType,
		LastModified:   row.LastModified,
		CouponStatuses: coupons,
		UpdatedAt:      row.UpdatedAt,
	}
	return &out, nil
}

type sqlCouponMatches struct{ dbMap *gorp.DbMap }

func (r *sqlCouponMatches) Reset() error {
	_, err := r.dbMap.Exec("DELETE FROM CouponMatches")
	return wrapSQL("reset coupon matches", err)
}

func (r *sqlCouponMatches) Upsert(row models.CouponMatchRow) (models.CouponMatchRow, error) {
	var existing sqlCouponMatch
	err := r.dbMap.SelectOne(&existing,
		"SELECT * FROM CouponMatches WHERE TicketNumber = ? AND CouponNumber = ?",
		row.TicketNumber, row.CouponNumber)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		sqlRow := couponMatchToSQL(row)
		return row, wrapSQL("insert coupon match", r.dbMap.Insert(&sqlRow))
	case err != nil:
		return models.CouponMatchRow{}, wrapSQL("select coupon match", err)
	}
	row.ID = existing.ID
	sqlRow := couponMatchToSQL(row)
	_, err = r.dbMap.Update(&sqlRow)
	return row, wrapSQL("update coupon match", err)
}

func (r *sqlCouponMatches) AllRows() ([]models.CouponMatchRow, error) {
	var rows []sqlCouponMatch
	_, err := r.dbMap.Select(&rows,
		"SELECT * FROM CouponMatches ORDER BY TicketNumber, CouponNumber")
	if err != nil {
		return nil, wrapSQL("select coupon matches", err)
	}
	out := make([]models.CouponMatchRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *sqlCouponMatches) Suspense(minAgeDays int) ([]models.CouponMatchRow, error) {
	var rows []sqlCouponMatch
	_, err := r.dbMap.Select(&rows,
		"SELECT * FROM CouponMatches WHERE Status IN (?, ?, ?) AND DaysInSuspense >= ? "+
			"ORDER BY TicketNumber, CouponNumber",
		models.MatchStatusSuspense, models.MatchStatusUnmatchedIssued,
		models.MatchStatusUnmatchedFlown, minAgeDays)
	if err != nil {
		return nil, wrapSQL("select suspense", err)
	}
	out := make([]models.CouponMatchRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

type sqlRecon struct{ dbMap *gorp.DbMap }

func (r *sqlRecon) Reset() error {
	_, err := r.dbMap.Exec("DELETE FROM ReconResults")
	return wrapSQL("reset recon results", err)
}

func (r *sqlRecon) Insert(row models.ReconResultRow) error {
	return wrapSQL("insert recon result", r.dbMap.Insert(&sqlReconResult{
		ID:              row.ID,
		TicketNumber:    row.TicketNumber,
		CouponNumber:    int64(row.CouponNumber),
		ReconType:       row.ReconType,
		Status:          row.Status,
		BreakType:       row.BreakType,
		Severity:        row.Severity,
		OurAmount:       row.OurAmount,
		TheirAmount:     row.TheirAmount,
		Difference:      row.Difference,
		Resolution:      row.Resolution,
		ResolutionNotes: row.ResolutionNotes,
		CreatedAt:       row.CreatedAt,
		ResolvedAt:      row.ResolvedAt,
	}))
}

func (r *sqlRecon) AllRows() ([]models.ReconResultRow, error) {
	var rows []sqlReconResult
	_, err := r.dbMap.Select(&rows,
		"SELECT * FROM ReconResults ORDER BY TicketNumber, CouponNumber")
	if err != nil {
		return nil, wrapSQL("select recon results", err)
	}
	out := make([]models.ReconResultRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *sqlRecon) Breaks(resolution, breakType string) ([]models.ReconResultRow, error) {
	query := "SELECT * FROM ReconResults WHERE Status = ?"
	args := []any{models.ReconStatusBreak}
	if resolution != "" {
		query += " AND Resolution = ?"
		args = append(args, resolution)
	}
	if breakType != "" {
		query += " AND BreakType = ?"
		args = append(args, breakType)
	}
	query += " ORDER BY TicketNumber, CouponNumber"
	var rows []sqlReconResult
	if _, err := r.dbMap.Select(&rows, query, args...); err != nil {
		return nil, wrapSQL("select breaks", err)
	}
	out := make([]models.ReconResultRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *sqlRecon) Resolve(breakID, resolution, notes string, resolvedAt time.Time) error {
	result, err := r.dbMap.Exec(
		"UPDATE ReconResults SET Resolution = ?, ResolutionNotes = ?, ResolvedAt = ? WHERE ID = ?",
		resolution, notes, resolvedAt, breakID)
	if err != nil {
		return wrapSQL("resolve break", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return wrapSQL("resolve break", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

type sqlAudit struct{ dbMap *gorp.DbMap }

func (r *sqlAudit) Reset() error {
	_, err := r.dbMap.Exec("DELETE FROM AuditLog")
	return wrapSQL("reset audit log", err)
}

func (r *sqlAudit) Insert(record models.AuditRecord) (models.AuditRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	inputIDs, err := json.Marshal(record.InputEventIDs)
	if err != nil {
		return models.AuditRecord{}, &BackendError{Op: "encode input event ids", Err: err}
	}
	detail, err := json.Marshal(record.Detail)
	if err != nil {
		return models.AuditRecord{}, &BackendError{Op: "encode detail", Err: err}
	}
	err = r.dbMap.Insert(&sqlAuditRecord{
		ID:              record.ID,
		Timestamp:       record.Timestamp,
		Action:          record.Action,
		Component:       record.Component,
		TicketNumber:    record.TicketNumber,
		InputEventIDs:   inputIDs,
		OutputReference: record.OutputReference,
		Detail:          detail,
		RawSourceHash:   record.RawSourceHash,
	})
	if err != nil {
		return models.AuditRecord{}, wrapSQL("insert audit record", err)
	}
	return record, nil
}

func (r *sqlAudit) selectRecords(query string, args ...any) ([]models.AuditRecord, error) {
	var rows []sqlAuditRecord
	if _, err := r.dbMap.Select(&rows, query, args...); err != nil {
		return nil, wrapSQL("select audit records", err)
	}
	out := make([]models.AuditRecord, 0, len(rows))
	for _, row := range rows {
		record := models.AuditRecord{
			ID:              row.ID,
			Timestamp:       row.Timestamp,
			Action:          row.Action,
			Component:       row.Component,
			TicketNumber:    row.TicketNumber,
			OutputReference: row.OutputReference,
			RawSourceHash:   row.RawSourceHash,
		}
		if err := json.Unmarshal(row.InputEventIDs, &record.InputEventIDs); err != nil {
			return nil, &BackendError{Op: "decode input event ids", Err: err}
		}
		if err := json.Unmarshal(row.Detail, &record.Detail); err != nil {
			return nil, &BackendError{Op: "decode detail", Err: err}
		}
		out = append(out, record)
	}
	return out, nil
}

func (r *sqlAudit) ByTicket(ticketNumber string) ([]models.AuditRecord, error) {
	return r.selectRecords(
		"SELECT * FROM AuditLog WHERE TicketNumber = ? ORDER BY Timestamp, ID", ticketNumber)
}

func (r *sqlAudit) ByOutputReference(outputReference string) ([]models.AuditRecord, error) {
	return r.selectRecords(
		"SELECT * FROM AuditLog WHERE OutputReference = ? ORDER BY Timestamp, ID", outputReference)
}

type sqlDagRuns struct{ dbMap *gorp.DbMap }

func (r *sqlDagRuns) Insert(run models.DagRun) error {
	return wrapSQL("insert dag run", r.dbMap.Insert(&sqlDagRun{
		ID: run.ID, DagName: run.DagName, Status: run.Status,
		StartedAt: run.StartedAt, CompletedAt: run.CompletedAt, CreatedAt: run.CreatedAt,
	}))
}

func (r *sqlDagRuns) Update(run models.DagRun) error {
	count, err := r.dbMap.Update(&sqlDagRun{
		ID: run.ID, DagName: run.DagName, Status: run.Status,
		StartedAt: run.StartedAt, CompletedAt: run.CompletedAt, CreatedAt: run.CreatedAt,
	})
	if err != nil {
		return wrapSQL("update dag run", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlDagRuns) Get(runID string) (*models.DagRun, error) {
	var row sqlDagRun
	err := r.dbMap.SelectOne(&row, "SELECT * FROM DagRuns WHERE ID = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQL("get dag run", err)
	}
	out := models.DagRun{
		ID: row.ID, DagName: row.DagName, Status: row.Status,
		StartedAt: row.StartedAt, CompletedAt: row.CompletedAt, CreatedAt: row.CreatedAt,
	}
	return &out, nil
}

type sqlTaskRuns struct{ dbMap *gorp.DbMap }

func taskRunToSQL(task models.TaskRun) (*sqlTaskRun, error) {
	dependsOn, err := json.Marshal(task.DependsOn)
	if err != nil {
		return nil, &BackendError{Op: "encode depends_on", Err: err}
	}
	var result []byte
	if task.Result != nil {
		if result, err = json.Marshal(task.Result); err != nil {
			return nil, &BackendError{Op: "encode task result", Err: err}
		}
	}
	return &sqlTaskRun{
		ID:           task.ID,
		DagRunID:     task.DagRunID,
		TaskName:     task.TaskName,
		Status:       task.Status,
		DependsOn:    dependsOn,
		StartedAt:    task.StartedAt,
		CompletedAt:  task.CompletedAt,
		ErrorMessage: task.ErrorMessage,
		Result:       result,
	}, nil
}

func (r *sqlTaskRuns) Insert(task models.TaskRun) error {
	row, err := taskRunToSQL(task)
	if err != nil {
		return err
	}
	return wrapSQL("insert task run", r.dbMap.Insert(row))
}

func (r *sqlTaskRuns) Update(task models.TaskRun) error {
	row, err := taskRunToSQL(task)
	if err != nil {
		return err
	}
	count, err := r.dbMap.Update(row)
	if err != nil {
		return wrapSQL("update task run", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlTaskRuns) ByRun(dagRunID string) ([]models.TaskRun, error) {
	var rows []sqlTaskRun
	_, err := r.dbMap.Select(&rows, "SELECT * FROM TaskRuns WHERE DagRunID = ?", dagRunID)
	if err != nil {
		return nil, wrapSQL("select task runs", err)
	}
	out := make([]models.TaskRun, 0, len(rows))
	for _, row := range rows {
		task := models.TaskRun{
			ID:           row.ID,
			DagRunID:     row.DagRunID,
			TaskName:     row.TaskName,
			Status:       row.Status,
			StartedAt:    row.StartedAt,
			CompletedAt:  row.CompletedAt,
			ErrorMessage: row.ErrorMessage,
		}
		if err := json.Unmarshal(row.DependsOn, &task.DependsOn); err != nil {
			return nil, &BackendError{Op: "decode depends_on", Err: err}
		}
		if len(row.Result) > 0 {
			if err := json.Unmarshal(row.Result, &task.Result); err != nil {
				return nil, &BackendError{Op: "decode task result", Err: err}
			}
		}
		out = append(out, task)
	}
	return out, nil
}

type sqlSettlements struct{ dbMap *gorp.DbMap }

func (r *sqlSettlements) Reset() error {
	if _, err := r.dbMap.Exec("DELETE FROM SettlementSagaLog"); err != nil {
		return wrapSQL("reset saga log", err)
	}
	_, err := r.dbMap.Exec("DELETE FROM Settlements")
	return wrapSQL("reset settlements", err)
}

func (r *sqlSettlements) Insert(settlement models.Settlement) error {
	return wrapSQL("insert settlement", r.dbMap.Insert(&sqlSettlement{
		ID:               settlement.ID,
		TicketNumber:     settlement.TicketNumber,
		Counterparty:     settlement.Counterparty,
		CounterpartyType: settlement.CounterpartyType,
		OurAmount:        settlement.OurAmount,
		TheirAmount:      settlement.TheirAmount,
		Currency:         settlement.Currency,
		Status:           settlement.Status,
		CreatedAt:        settlement.CreatedAt,
		UpdatedAt:        settlement.UpdatedAt,
	}))
}

func (r *sqlSettlements) UpdateStatus(settlementID, status string, theirAmount *decimal.Decimal, updatedAt time.Time) error {
	var result sql.Result
	var err error
	if theirAmount != nil {
		result, err = r.dbMap.Exec(
			"UPDATE Settlements SET Status = ?, TheirAmount = ?, UpdatedAt = ? WHERE ID = ?",
			status, *theirAmount, updatedAt, settlementID)
	} else {
		result, err = r.dbMap.Exec(
			"UPDATE Settlements SET Status = ?, UpdatedAt = ? WHERE ID = ?",
			status, updatedAt, settlementID)
	}
	if err != nil {
		return wrapSQL("update settlement status", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return wrapSQL("update settlement status", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlSettlements) Get(settlementID string) (*models.Settlement, error) {
	var row sqlSettlement
	err := r.dbMap.SelectOne(&row, "SELECT * FROM Settlements WHERE ID = ?", settlementID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQL("get settlement", err)
	}
	out := models.Settlement(row)
	return &out, nil
}

func (r *sqlSettlements) ListAll() ([]models.Settlement, error) {
	var rows []sqlSettlement
	_, err := r.dbMap.Select(&rows, "SELECT * FROM Settlements ORDER BY CreatedAt, ID")
	if err != nil {
		return nil, wrapSQL("select settlements", err)
	}
	out := make([]models.Settlement, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.Settlement(row))
	}
	return out, nil
}

func (r *sqlSettlements) InsertSagaStep(step models.SettlementSagaStep) error {
	detail, err := json.Marshal(step.Detail)
	if err != nil {
		return &BackendError{Op: "encode saga detail", Err: err}
	}
	return wrapSQL("insert saga step", r.dbMap.Insert(&sqlSagaStep{
		ID:           step.ID,
		SettlementID: step.SettlementID,
		FromStatus:   step.FromStatus,
		ToStatus:     step.ToStatus,
		Action:       step.Action,
		Detail:       detail,
		Timestamp:    step.Timestamp,
	}))
}

func (r *sqlSettlements) SagaLog(settlementID string) ([]models.SettlementSagaStep, error) {
	var rows []sqlSagaStep
	_, err := r.dbMap.Select(&rows,
		"SELECT * FROM SettlementSagaLog WHERE SettlementID = ? ORDER BY Timestamp, ID", settlementID)
	if err != nil {
		return nil, wrapSQL("select saga log", err)
	}
	out := make([]models.SettlementSagaStep, 0, len(rows))
	for _, row := range rows {
		step := models.SettlementSagaStep{
			ID:           row.ID,
			SettlementID: row.SettlementID,
			FromStatus:   row.FromStatus,
			ToStatus:     row.ToStatus,
			Action:       row.Action,
			Timestamp:    row.Timestamp,
		}
		if err := json.Unmarshal(row.Detail, &step.Detail); err != nil {
			return nil, &BackendError{Op: "decode saga detail", Err: err}
		}
		out = append(out, step)
	}
	return out, nil
}

func couponsToJSON(src map[int]string) map[string]string {
	out := make(map[string]string, len(src))
	for coupon, status := range src {
		out[fmt.Sprintf("%d", coupon)] = status
	}
	return out
}

func couponsFromJSON(raw []byte) (map[int]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	out := make(map[int]string, len(decoded))
	for key, status := range decoded {
		var coupon int
		if _, err := fmt.Sscanf(key, "%d", &coupon); err != nil {
			return nil, err
		}
		out[coupon] = status
	}
	return out, nil
}
