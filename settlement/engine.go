// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package settlement drives each settlement obligation through a saga state
// machine: calculate, validate, submit, confirm, reconcile, with compensate
// as the only rollback path. Every transition appends one saga step and one
// audit record.
package settlement

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flightledger/flightledger/audit"
	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/models"
)

const (
	// statusNone is the synthetic origin status before calculate.
	statusNone = "none"

	defaultCurrency         = "USD"
	defaultCounterpartyType = "interline_partner"

	component = "settlement_engine"
)

// confirmTolerance is the amount gap under which a counterparty confirmation
// is accepted rather than disputed.
var confirmTolerance = decimal.RequireFromString("0.01")

// InvalidTransitionError reports a saga action applied in a status that does
// not permit it. No state changes and no saga step is recorded.
type InvalidTransitionError struct {
	SettlementID string
	From         string
	Action       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("settlement %s: cannot %s from status %q", e.SettlementID, e.Action, e.From)
}

// Engine executes saga transitions over the settlement repository.
type Engine struct {
	repo  db.SettlementRepository
	audit *audit.Store
}

// NewEngine returns a saga engine.
func NewEngine(repo db.SettlementRepository, auditStore *audit.Store) *Engine {
	return &Engine{repo: repo, audit: auditStore}
}

// Calculate creates a settlement in status calculated. Currency defaults to
// USD and the counterparty is treated as an interline partner.
func (e *Engine) Calculate(ticketNumber, counterparty string, ourAmount decimal.Decimal) (models.Settlement, error) {
	now := time.Now().UTC()
	settlement := models.Settlement{
		ID:               uuid.NewString(),
		TicketNumber:     ticketNumber,
		Counterparty:     counterparty,
		CounterpartyType: defaultCounterpartyType,
		OurAmount:        ourAmount,
		Currency:         defaultCurrency,
		Status:           models.SettlementCalculated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.repo.Insert(settlement); err != nil {
		return models.Settlement{}, err
	}
	if err := e.recordFrom(settlement, statusNone, "calculate", map[string]string{
		"our_amount":   ourAmount.String(),
		"counterparty": counterparty,
	}); err != nil {
		return models.Settlement{}, err
	}
	log.Debugf("Calculated settlement %s for ticket %s (%s %s)",
		settlement.ID, ticketNumber, ourAmount, defaultCurrency)
	return settlement, nil
}

// Validate moves a calculated settlement to validated. A non-positive amount
// is a no-op: the settlement stays calculated without a saga step.
func (e *Engine) Validate(settlementID string) (models.Settlement, error) {
	settlement, err := e.get(settlementID)
	if err != nil {
		return models.Settlement{}, err
	}
	if settlement.Status != models.SettlementCalculated {
		return models.Settlement{}, &InvalidTransitionError{settlementID, settlement.Status, "validate"}
	}
	if settlement.OurAmount.LessThanOrEqual(decimal.Zero) {
		log.Debugf("Settlement %s amount %s not positive, staying calculated",
			settlementID, settlement.OurAmount)
		return settlement, nil
	}
	return e.transition(settlement, "validate", models.SettlementValidated, nil, nil)
}

// Submit moves a validated settlement to submitted.
func (e *Engine) Submit(settlementID string) (models.Settlement, error) {
	settlement, err := e.get(settlementID)
	if err != nil {
		return models.Settlement{}, err
	}
	if settlement.Status != models.SettlementValidated {
		return models.Settlement{}, &InvalidTransitionError{settlementID, settlement.Status, "submit"}
	}
	return e.transition(settlement, "submit", models.SettlementSubmitted, nil, nil)
}

// Confirm records the counterparty amount against a submitted settlement.
// Amounts agreeing within tolerance confirm; anything else disputes.
func (e *Engine) Confirm(settlementID string, theirAmount decimal.Decimal) (models.Settlement, error) {
	settlement, err := e.get(settlementID)
	if err != nil {
		return models.Settlement{}, err
	}
	if settlement.Status != models.SettlementSubmitted {
		return models.Settlement{}, &InvalidTransitionError{settlementID, settlement.Status, "confirm"}
	}
	to := models.SettlementConfirmed
	if settlement.OurAmount.Sub(theirAmount).Abs().GreaterThanOrEqual(confirmTolerance) {
		to = models.SettlementDisputed
	}
	detail := map[string]string{
		"our_amount":   settlement.OurAmount.String(),
		"their_amount": theirAmount.String(),
	}
	return e.transition(settlement, "confirm", to, &theirAmount, detail)
}

// Reconcile closes out a confirmed settlement.
func (e *Engine) Reconcile(settlementID string) (models.Settlement, error) {
	settlement, err := e.get(settlementID)
	if err != nil {
		return models.Settlement{}, err
	}
	if settlement.Status != models.SettlementConfirmed {
		return models.Settlement{}, &InvalidTransitionError{settlementID, settlement.Status, "reconcile"}
	}
	return e.transition(settlement, "reconcile", models.SettlementReconciled, nil, nil)
}

// Compensate rolls the settlement back from any live status. Compensating an
// already-compensated settlement is an idempotent no-op.
func (e *Engine) Compensate(settlementID, reason string) (models.Settlement, error) {
	settlement, err := e.get(settlementID)
	if err != nil {
		return models.Settlement{}, err
	}
	if settlement.Status == models.SettlementCompensated {
		return settlement, nil
	}
	return e.transition(settlement, "compensate", models.SettlementCompensated, nil,
		map[string]string{"reason": reason})
}

func (e *Engine) get(settlementID string) (models.Settlement, error) {
	settlement, err := e.repo.Get(settlementID)
	if err != nil {
		return models.Settlement{}, err
	}
	if settlement == nil {
		return models.Settlement{}, db.ErrNotFound
	}
	return *settlement, nil
}

func (e *Engine) transition(settlement models.Settlement, action, to string, theirAmount *decimal.Decimal, detail map[string]string) (models.Settlement, error) {
	from := settlement.Status
	now := time.Now().UTC()
	if err := e.repo.UpdateStatus(settlement.ID, to, theirAmount, now); err != nil {
		return models.Settlement{}, err
	}
	settlement.Status = to
	settlement.UpdatedAt = now
	if theirAmount != nil {
		settlement.TheirAmount = decimal.NullDecimal{Decimal: *theirAmount, Valid: true}
	}
	if err := e.recordFrom(settlement, from, action, detail); err != nil {
		return models.Settlement{}, err
	}
	log.Debugf("Settlement %s: %s %s -> %s", settlement.ID, action, from, to)
	return settlement, nil
}

func (e *Engine) recordFrom(settlement models.Settlement, from, action string, detail map[string]string) error {
	if detail == nil {
		detail = map[string]string{}
	}
	step := models.SettlementSagaStep{
		ID:           uuid.NewString(),
		SettlementID: settlement.ID,
		FromStatus:   from,
		ToStatus:     settlement.Status,
		Action:       action,
		Detail:       detail,
		Timestamp:    time.Now().UTC(),
	}
	if err := e.repo.InsertSagaStep(step); err != nil {
		return err
	}
	auditDetail := map[string]string{
		"from_status": from,
		"to_status":   settlement.Status,
	}
	for key, value := range detail {
		auditDetail[key] = value
	}
	_, err := e.audit.Log(audit.Entry{
		Action:          "settlement_" + action,
		Component:       component,
		TicketNumber:    settlement.TicketNumber,
		OutputReference: settlement.ID,
		Detail:          auditDetail,
	})
	return err
}

// Get returns one settlement; db.ErrNotFound for an unknown id.
func (e *Engine) Get(settlementID string) (models.Settlement, error) {
	return e.get(settlementID)
}

// ListSettlements returns settlements, optionally filtered by status, newest
// first.
func (e *Engine) ListSettlements(status string) ([]models.Settlement, error) {
	rows, err := e.repo.ListAll()
	if err != nil {
		return nil, err
	}
	filtered := rows[:0:0]
	for _, row := range rows {
		if status == "" || row.Status == status {
			filtered = append(filtered, row)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	return filtered, nil
}

// Saga returns the settlement's saga steps in timestamp-ascending order.
func (e *Engine) Saga(settlementID string) ([]models.SettlementSagaStep, error) {
	return e.repo.SagaLog(settlementID)
}

// Reset clears settlements and their saga log.
func (e *Engine) Reset() error {
	return e.repo.Reset()
}
