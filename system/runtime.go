// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package system owns the wired engines and repositories and drives the
// close cycle: seed the demo feeds through the real adapters, run matching
// and reconciliation, bootstrap settlement sagas, and serve the read-side
// queries. One refresh at a time; queries run concurrently between refreshes.
package system

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flightledger/flightledger/audit"
	"github.com/flightledger/flightledger/bus"
	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/matching"
	"github.com/flightledger/flightledger/models"
	"github.com/flightledger/flightledger/orchestrator"
	"github.com/flightledger/flightledger/recon"
	"github.com/flightledger/flightledger/settlement"
	"github.com/flightledger/flightledger/stores"
)

// Config carries the backend names the runtime reports on the dashboard.
type Config struct {
	BusBackend     string
	StorageBackend string
}

// ChannelSummary describes one ingested demo feed.
type ChannelSummary struct {
	ChannelID   string `json:"channel_id"`
	Name        string `json:"name"`
	Protocol    string `json:"protocol"`
	Format      string `json:"format"`
	RecordCount int    `json:"record_count"`
}

// TopicSummary is the per-topic slice of the dashboard payload.
type TopicSummary struct {
	Count  int                     `json:"count"`
	Events []models.CanonicalEvent `json:"events"`
}

// Dashboard is the aggregate payload for the overview endpoint.
type Dashboard struct {
	GeneratedAt    time.Time               `json:"generated_at"`
	BusBackend     string                  `json:"bus_backend"`
	StorageBackend string                  `json:"storage_backend"`
	TotalChannels  int                     `json:"total_channels"`
	TotalTopics    int                     `json:"total_topics"`
	TotalEvents    int                     `json:"total_events"`
	Channels       []ChannelSummary        `json:"channels"`
	Topics         map[string]TopicSummary `json:"topics"`
}

// TicketDetail pairs the projected state with the full event history.
type TicketDetail struct {
	TicketNumber string                  `json:"ticket_number"`
	State        *models.TicketStateRow  `json:"state"`
	History      []models.CanonicalEvent `json:"history"`
}

// DagTaskDef and DagDef describe a registered DAG shape.
type DagTaskDef struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on"`
}

type DagDef struct {
	Name  string       `json:"name"`
	Tasks []DagTaskDef `json:"tasks"`
}

// DagRunDetail pairs a run with its task rows.
type DagRunDetail struct {
	Run   models.DagRun    `json:"run"`
	Tasks []models.TaskRun `json:"tasks"`
}

// Runtime wires every engine over one repository bundle.
type Runtime struct {
	cfg       Config
	repos     db.Repositories
	transport bus.Bus

	Audit      *audit.Store
	Store      *stores.TicketLifecycleStore
	Matcher    *matching.CouponMatcher
	Recon      *recon.Engine
	Settlement *settlement.Engine

	mtx       sync.RWMutex
	seeded    bool
	snapshot  *bus.MemoryBus
	channels  []ChannelSummary
	lastRecon recon.Summary
	dags      map[string]orchestrator.DAG
	dagOrder  []string
}

// NewRuntime wires the engines. transport may be nil; when set, ingested
// events fan out to it alongside the in-memory snapshot bus.
func NewRuntime(repos db.Repositories, transport bus.Bus, cfg Config) *Runtime {
	auditStore := audit.NewStore(repos.Audit)
	store := stores.NewTicketLifecycleStore(repos.TicketEvents, repos.TicketStates)
	matcher := matching.NewCouponMatcher(store, repos.CouponMatches)
	r := &Runtime{
		cfg:        cfg,
		repos:      repos,
		transport:  transport,
		Audit:      auditStore,
		Store:      store,
		Matcher:    matcher,
		Recon:      recon.NewEngine(store, matcher, repos.Recon),
		Settlement: settlement.NewEngine(repos.Settlements, auditStore),
		snapshot:   bus.NewMemoryBus(),
	}
	r.dags = map[string]orchestrator.DAG{}
	monthEnd := r.monthEndCloseDAG()
	r.dags[monthEnd.Name] = monthEnd
	r.dagOrder = []string{monthEnd.Name}
	return r
}

// Refresh rebuilds all derived state from scratch: reset cascade, demo feed
// ingest, matching, reconciliation, settlement bootstrap.
func (r *Runtime) Refresh() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.refreshLocked()
}

func (r *Runtime) ensureSeeded() error {
	r.mtx.RLock()
	seeded := r.seeded
	r.mtx.RUnlock()
	if seeded {
		return nil
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.seeded {
		return nil
	}
	return r.refreshLocked()
}

func (r *Runtime) refreshLocked() error {
	r.seeded = false

	// Reset in dependency order: derived rows before the event log, the
	// audit trail last.
	if err := r.Settlement.Reset(); err != nil {
		return err
	}
	if err := r.Recon.Reset(); err != nil {
		return err
	}
	if err := r.Matcher.Reset(); err != nil {
		return err
	}
	if err := r.Store.Reset(); err != nil {
		return err
	}
	if err := r.Audit.Reset(); err != nil {
		return err
	}

	if err := r.ingestDemoFeeds(); err != nil {
		return err
	}
	if err := r.runMatchingRecon(); err != nil {
		return err
	}
	if err := r.bootstrapSettlements(); err != nil {
		return err
	}
	r.seeded = true
	log.Infof("Runtime refresh complete: %d channels ingested", len(r.channels))
	return nil
}

func (r *Runtime) ingestDemoFeeds() error {
	snapshot := bus.NewMemoryBus()
	var sink bus.Bus = snapshot
	if r.transport != nil {
		sink = bus.NewFanoutBus(snapshot, r.transport)
	}

	channels := make([]ChannelSummary, 0, 5)
	for _, source := range SourceChannels() {
		payload := []byte(source.Payload)
		events, err := source.Adapter.Parse(payload)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", source.ChannelID, err)
		}
		hash := sha256.Sum256(payload)
		sourceHash := hex.EncodeToString(hash[:])
		if _, err := r.Audit.Log(audit.Entry{
			Action:    "source_ingested",
			Component: "adapter",
			Detail: map[string]string{
				"channel_id":  source.ChannelID,
				"source_name": source.Name,
				"protocol":    source.Protocol,
				"format":      source.Format,
			},
			RawSourceHash: sourceHash,
		}); err != nil {
			return err
		}

		if err := sink.PublishMany(events); err != nil {
			// Transport sinks are best-effort; the snapshot bus never
			// fails, so the ingest continues.
			log.Warnf("Bus fan-out for channel %s: %v", source.ChannelID, err)
		}
		for _, event := range events {
			if _, _, err := r.Store.Append(event); err != nil {
				return err
			}
			if _, err := r.Audit.Log(audit.Entry{
				Action:          "ticket_event_appended",
				Component:       "ticket_lifecycle_store",
				TicketNumber:    event.TicketNumber,
				InputEventIDs:   []string{event.EventID},
				OutputReference: event.EventID,
				Detail: map[string]string{
					"event_type":    string(event.EventType),
					"source_system": string(event.SourceSystem),
				},
				RawSourceHash: sourceHash,
			}); err != nil {
				return err
			}
		}
		channels = append(channels, ChannelSummary{
			ChannelID:   source.ChannelID,
			Name:        source.Name,
			Protocol:    source.Protocol,
			Format:      source.Format,
			RecordCount: len(events),
		})
	}
	r.snapshot = snapshot
	r.channels = channels
	return nil
}

func (r *Runtime) runMatchingRecon() error {
	matchSummary, err := r.Matcher.RunMatching()
	if err != nil {
		return err
	}
	if _, err := r.Audit.Log(audit.Entry{
		Action:    "coupon_matching_completed",
		Component: "coupon_matcher",
		Detail: map[string]string{
			"matched":          fmt.Sprint(matchSummary.Matched),
			"unmatched_issued": fmt.Sprint(matchSummary.UnmatchedIssued),
			"unmatched_flown":  fmt.Sprint(matchSummary.UnmatchedFlown),
		},
	}); err != nil {
		return err
	}

	reconSummary, err := r.Recon.RunFullRecon()
	if err != nil {
		return err
	}
	r.lastRecon = reconSummary
	detail := map[string]string{
		"total_matched": fmt.Sprint(reconSummary.TotalMatched),
		"total_breaks":  fmt.Sprint(reconSummary.TotalBreaks),
	}
	for breakType, count := range reconSummary.ByType {
		detail["type_"+breakType] = fmt.Sprint(count)
	}
	_, err = r.Audit.Log(audit.Entry{
		Action:    "reconciliation_completed",
		Component: "reconciliation_engine",
		Detail:    detail,
	})
	return err
}

// bootstrapSettlements walks every settlement-bearing event through the saga.
// Every eighth obligation takes the dispute-and-compensate branch so the demo
// data exercises the rollback path.
func (r *Runtime) bootstrapSettlements() error {
	events, err := r.Store.EventsByType(models.EventSettlementDue, models.EventInterlineClaim)
	if err != nil {
		return err
	}
	for index, row := range events {
		event, err := models.EventFromRow(row)
		if err != nil {
			return err
		}
		amount := decimal.NewFromInt(1)
		if event.GrossAmount != nil && event.GrossAmount.IsPositive() {
			amount = *event.GrossAmount
		}
		counterparty := event.Metadata["partner_carrier"]
		if counterparty == "" {
			counterparty = event.Metadata["gds"]
		}
		if counterparty == "" {
			counterparty = "counterparty"
		}

		created, err := r.Settlement.Calculate(event.TicketNumber, counterparty, amount)
		if err != nil {
			return err
		}
		if _, err := r.Settlement.Validate(created.ID); err != nil {
			return err
		}
		if _, err := r.Settlement.Submit(created.ID); err != nil {
			return err
		}
		if index%8 == 0 {
			if _, err := r.Settlement.Confirm(created.ID, amount.Add(decimal.NewFromInt(5))); err != nil {
				return err
			}
			if _, err := r.Settlement.Compensate(created.ID, "Disputed amount"); err != nil {
				return err
			}
			continue
		}
		if _, err := r.Settlement.Confirm(created.ID, amount); err != nil {
			return err
		}
		if _, err := r.Settlement.Reconcile(created.ID); err != nil {
			return err
		}
	}
	return nil
}

// DashboardPayload returns the overview: channels, topics and event counts.
// With refresh true the whole pipeline reruns first.
func (r *Runtime) DashboardPayload(refresh bool) (Dashboard, error) {
	if refresh {
		if err := r.Refresh(); err != nil {
			return Dashboard{}, err
		}
	} else if err := r.ensureSeeded(); err != nil {
		return Dashboard{}, err
	}

	r.mtx.RLock()
	defer r.mtx.RUnlock()
	topics := make(map[string]TopicSummary)
	totalEvents := 0
	for _, topic := range r.snapshot.TopicNames() {
		events := r.snapshot.Topic(topic)
		topics[topic] = TopicSummary{Count: len(events), Events: events}
		totalEvents += len(events)
	}
	return Dashboard{
		GeneratedAt:    time.Now().UTC(),
		BusBackend:     r.cfg.BusBackend,
		StorageBackend: r.cfg.StorageBackend,
		TotalChannels:  len(r.channels),
		TotalTopics:    len(topics),
		TotalEvents:    totalEvents,
		Channels:       r.channels,
		Topics:         topics,
	}, nil
}

// TicketHistory returns the ticket's canonical events in sequence order.
func (r *Runtime) TicketHistory(ticketNumber string) ([]models.CanonicalEvent, error) {
	if err := r.ensureSeeded(); err != nil {
		return nil, err
	}
	rows, err := r.Store.History(ticketNumber)
	if err != nil {
		return nil, err
	}
	events := make([]models.CanonicalEvent, 0, len(rows))
	for _, row := range rows {
		event, err := models.EventFromRow(row)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// TicketDetail returns the projected state with the event history. State is
// nil for an unknown ticket.
func (r *Runtime) TicketDetail(ticketNumber string) (TicketDetail, error) {
	if err := r.ensureSeeded(); err != nil {
		return TicketDetail{}, err
	}
	state, err := r.Store.CurrentState(ticketNumber)
	if err != nil {
		return TicketDetail{}, err
	}
	history, err := r.TicketHistory(ticketNumber)
	if err != nil {
		return TicketDetail{}, err
	}
	return TicketDetail{TicketNumber: ticketNumber, State: state, History: history}, nil
}

// MatchingSummary returns the current match-status counters.
func (r *Runtime) MatchingSummary() (matching.Summary, error) {
	if err := r.ensureSeeded(); err != nil {
		return matching.Summary{}, err
	}
	return r.Matcher.CurrentSummary()
}

// SuspenseItems returns open match rows at least minAgeDays old.
func (r *Runtime) SuspenseItems(minAgeDays int) ([]models.CouponMatchRow, error) {
	if err := r.ensureSeeded(); err != nil {
		return nil, err
	}
	return r.Matcher.SuspenseItems(minAgeDays)
}

// ReconSummary returns the summary of the last full reconciliation pass.
func (r *Runtime) ReconSummary() (recon.Summary, error) {
	if err := r.ensureSeeded(); err != nil {
		return recon.Summary{}, err
	}
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.lastRecon, nil
}

// ReconBreaks returns break rows filtered by resolution and break type.
func (r *Runtime) ReconBreaks(resolution, breakType string) ([]models.ReconResultRow, error) {
	if err := r.ensureSeeded(); err != nil {
		return nil, err
	}
	return r.Recon.Breaks(resolution, breakType)
}

// ResolveBreak marks a break resolved and records the decision in the audit
// trail. The only mutating query-side operation.
func (r *Runtime) ResolveBreak(breakID, resolution, notes string) error {
	if err := r.ensureSeeded(); err != nil {
		return err
	}
	if err := r.Recon.ResolveBreak(breakID, resolution, notes); err != nil {
		return err
	}
	_, err := r.Audit.Log(audit.Entry{
		Action:          "break_resolved",
		Component:       "reconciliation",
		OutputReference: breakID,
		Detail:          map[string]string{"resolution": resolution, "notes": notes},
	})
	return err
}

// AuditHistory returns the ticket's audit records, oldest first.
func (r *Runtime) AuditHistory(ticketNumber string) ([]models.AuditRecord, error) {
	if err := r.ensureSeeded(); err != nil {
		return nil, err
	}
	return r.Audit.HistoryByTicket(ticketNumber)
}

// Settlements returns settlements, optionally filtered by status.
func (r *Runtime) Settlements(status string) ([]models.Settlement, error) {
	if err := r.ensureSeeded(); err != nil {
		return nil, err
	}
	return r.Settlement.ListSettlements(status)
}

// SettlementSaga returns the saga steps for one settlement.
func (r *Runtime) SettlementSaga(settlementID string) ([]models.SettlementSagaStep, error) {
	if err := r.ensureSeeded(); err != nil {
		return nil, err
	}
	return r.Settlement.Saga(settlementID)
}

// Dags lists the registered DAG definitions.
func (r *Runtime) Dags() []DagDef {
	defs := make([]DagDef, 0, len(r.dagOrder))
	for _, name := range r.dagOrder {
		dag := r.dags[name]
		tasks := make([]DagTaskDef, 0, len(dag.Tasks))
		for _, task := range dag.Tasks {
			dependsOn := task.DependsOn
			if dependsOn == nil {
				dependsOn = []string{}
			}
			tasks = append(tasks, DagTaskDef{Name: task.Name, DependsOn: dependsOn})
		}
		defs = append(defs, DagDef{Name: dag.Name, Tasks: tasks})
	}
	return defs
}

// RunDag executes the named DAG once. db.ErrNotFound for an unknown name.
func (r *Runtime) RunDag(dagName string) (DagRunDetail, error) {
	if err := r.ensureSeeded(); err != nil {
		return DagRunDetail{}, err
	}
	dag, ok := r.dags[dagName]
	if !ok {
		return DagRunDetail{}, db.ErrNotFound
	}
	runner, err := orchestrator.NewRunner(dag, r.repos.DagRuns, r.repos.TaskRuns, r.Audit)
	if err != nil {
		return DagRunDetail{}, err
	}
	run, err := runner.Run()
	if err != nil {
		return DagRunDetail{}, err
	}
	return r.DagRun(run.ID)
}

// DagRun returns one run with its task rows sorted by task name.
func (r *Runtime) DagRun(runID string) (DagRunDetail, error) {
	run, tasks, err := orchestrator.GetRun(r.repos.DagRuns, r.repos.TaskRuns, runID)
	if err != nil {
		return DagRunDetail{}, err
	}
	return DagRunDetail{Run: run, Tasks: tasks}, nil
}

// monthEndCloseDAG chains the close-cycle stages. Tasks run after the seeding
// refresh, so the heavy stages report over current state rather than mutating
// the event log.
func (r *Runtime) monthEndCloseDAG() orchestrator.DAG {
	return orchestrator.DAG{
		Name: "month_end_close",
		Tasks: []orchestrator.Task{
			{Name: "ingest_all_feeds", Fn: func() (any, error) {
				r.mtx.RLock()
				defer r.mtx.RUnlock()
				return map[string]any{"channels": len(r.channels)}, nil
			}},
			{Name: "coupon_matching", DependsOn: []string{"ingest_all_feeds"}, Fn: func() (any, error) {
				summary, err := r.MatchingSummary()
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"total":            summary.Total,
					"matched":          summary.Matched,
					"unmatched_issued": summary.UnmatchedIssued,
					"unmatched_flown":  summary.UnmatchedFlown,
					"suspense":         summary.Suspense,
				}, nil
			}},
			{Name: "reconciliation", DependsOn: []string{"coupon_matching"}, Fn: func() (any, error) {
				summary, err := r.ReconSummary()
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"total_matched": summary.TotalMatched,
					"total_breaks":  summary.TotalBreaks,
				}, nil
			}},
			{Name: "age_suspense", DependsOn: []string{"coupon_matching"}, Fn: func() (any, error) {
				aged, err := r.Matcher.AgeSuspense()
				if err != nil {
					return nil, err
				}
				return map[string]any{"aged": aged}, nil
			}},
			{Name: "generate_settlements", DependsOn: []string{"reconciliation"}, Fn: func() (any, error) {
				rows, err := r.Settlements("")
				if err != nil {
					return nil, err
				}
				return map[string]any{"count": len(rows)}, nil
			}},
			{Name: "resolve_breaks", DependsOn: []string{"reconciliation"}, Fn: func() (any, error) {
				open, err := r.ReconBreaks(models.ResolutionUnresolved, "")
				if err != nil {
					return nil, err
				}
				return map[string]any{"open_breaks": len(open)}, nil
			}},
			{Name: "revenue_reports", DependsOn: []string{"resolve_breaks", "generate_settlements"}, Fn: func() (any, error) {
				reportID := "RPT-" + time.Now().UTC().Format("20060102150405")
				return map[string]any{"report_id": reportID}, nil
			}},
			{Name: "regulatory_filing", DependsOn: []string{"revenue_reports"}, Fn: func() (any, error) {
				return map[string]any{"status": "submitted"}, nil
			}},
		},
	}
}
