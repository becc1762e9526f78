// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/zenazn/goji/web"

	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/models"
	"github.com/flightledger/flightledger/system"
)

// apiResponse is the envelope for every JSON endpoint.
type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Errorf("Failed to encode API response: %v", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, db.ErrNotFound) {
		code = http.StatusNotFound
	}
	writeJSON(w, code, apiResponse{Status: "error", Message: err.Error()})
}

// registerRoutes wires the query façade.  Break resolution is the only
// mutating endpoint besides re-running a DAG.
func registerRoutes(mux *web.Mux, runtime *system.Runtime) {
	mux.Get("/api/v1/dashboard", func(c web.C, w http.ResponseWriter, r *http.Request) {
		refresh := r.URL.Query().Get("refresh") == "true"
		payload, err := runtime.DashboardPayload(refresh)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, payload)
	})

	mux.Get("/api/v1/tickets/:ticketNumber", func(c web.C, w http.ResponseWriter, r *http.Request) {
		detail, err := runtime.TicketDetail(c.URLParams["ticketNumber"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, detail)
	})

	mux.Get("/api/v1/tickets/:ticketNumber/audit", func(c web.C, w http.ResponseWriter, r *http.Request) {
		records, err := runtime.AuditHistory(c.URLParams["ticketNumber"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, records)
	})

	mux.Get("/api/v1/matching/summary", func(c web.C, w http.ResponseWriter, r *http.Request) {
		summary, err := runtime.MatchingSummary()
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, summary)
	})

	mux.Get("/api/v1/matching/suspense", func(c web.C, w http.ResponseWriter, r *http.Request) {
		minAge := 0
		if raw := r.URL.Query().Get("min_age_days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, apiResponse{
					Status: "error", Message: "min_age_days must be an integer"})
				return
			}
			minAge = parsed
		}
		items, err := runtime.SuspenseItems(minAge)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, items)
	})

	mux.Get("/api/v1/recon/summary", func(c web.C, w http.ResponseWriter, r *http.Request) {
		summary, err := runtime.ReconSummary()
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, summary)
	})

	mux.Get("/api/v1/recon/breaks", func(c web.C, w http.ResponseWriter, r *http.Request) {
		resolution := r.URL.Query().Get("resolution")
		if resolution == "" {
			resolution = models.ResolutionUnresolved
		}
		breaks, err := runtime.ReconBreaks(resolution, r.URL.Query().Get("break_type"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, breaks)
	})

	mux.Post("/api/v1/recon/breaks/:breakID/resolve", func(c web.C, w http.ResponseWriter, r *http.Request) {
		var body struct {
			Resolution string `json:"resolution"`
			Notes      string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{
				Status: "error", Message: "invalid JSON body"})
			return
		}
		if body.Resolution == "" {
			body.Resolution = models.ResolutionManual
		}
		if err := runtime.ResolveBreak(c.URLParams["breakID"], body.Resolution, body.Notes); err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]string{"break_id": c.URLParams["breakID"], "resolution": body.Resolution})
	})

	mux.Get("/api/v1/settlements", func(c web.C, w http.ResponseWriter, r *http.Request) {
		rows, err := runtime.Settlements(r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, rows)
	})

	mux.Get("/api/v1/settlements/:settlementID/saga", func(c web.C, w http.ResponseWriter, r *http.Request) {
		steps, err := runtime.SettlementSaga(c.URLParams["settlementID"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, steps)
	})

	mux.Get("/api/v1/dags", func(c web.C, w http.ResponseWriter, r *http.Request) {
		writeData(w, runtime.Dags())
	})

	mux.Post("/api/v1/dags/:dagName/run", func(c web.C, w http.ResponseWriter, r *http.Request) {
		detail, err := runtime.RunDag(c.URLParams["dagName"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, detail)
	})

	mux.Get("/api/v1/dags/runs/:runID", func(c web.C, w http.ResponseWriter, r *http.Request) {
		detail, err := runtime.DagRun(c.URLParams["runID"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, detail)
	})
}
