// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
flightledger is an airline revenue-accounting back-office engine.

It ingests ticketing and settlement feeds from five counterparty systems,
normalizes them into a canonical event stream, reconstructs per-ticket
lifecycle state by event-sourced replay, matches flown coupons against issued
coupons, runs three-way reconciliation against counterparty settlement
amounts, and drives each settlement obligation through a saga state machine
with a compensation branch for disputes.  A DAG orchestrator chains the
stages into a month-end close pipeline, and every stage writes to an
append-only audit/lineage log.

The HTTP façade exposes the dashboard and query endpoints under /api/v1.
*/
package main
