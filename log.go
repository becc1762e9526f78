// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"

	"github.com/flightledger/flightledger/adapters"
	"github.com/flightledger/flightledger/audit"
	"github.com/flightledger/flightledger/bus"
	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/matching"
	"github.com/flightledger/flightledger/models"
	"github.com/flightledger/flightledger/orchestrator"
	"github.com/flightledger/flightledger/recon"
	"github.com/flightledger/flightledger/settlement"
	"github.com/flightledger/flightledger/signal"
	"github.com/flightledger/flightledger/stores"
	"github.com/flightledger/flightledger/system"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all
// subsystem loggers created from it will write to the backend.  When adding
// new subsystems, add the subsystem logger variable to the subsystemLoggers
// map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by
// calling initLogRotator.
var (
	backendLog = slog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log      = backendLog.Logger("FLGT")
	adptLog  = backendLog.Logger("ADPT")
	auditLog = backendLog.Logger("AUDT")
	busLog   = backendLog.Logger("BUS")
	dbLog    = backendLog.Logger("DB")
	dagLog   = backendLog.Logger("DAG")
	mdlLog   = backendLog.Logger("MODL")
	mtchLog  = backendLog.Logger("MTCH")
	recnLog  = backendLog.Logger("RECN")
	setlLog  = backendLog.Logger("SETL")
	sgnlLog  = backendLog.Logger("SGNL")
	storLog  = backendLog.Logger("STOR")
	sytmLog  = backendLog.Logger("SYTM")
)

// Initialize package-global logger variables.
func init() {
	adapters.UseLogger(adptLog)
	audit.UseLogger(auditLog)
	bus.UseLogger(busLog)
	db.UseLogger(dbLog)
	matching.UseLogger(mtchLog)
	models.UseLogger(mdlLog)
	orchestrator.UseLogger(dagLog)
	recon.UseLogger(recnLog)
	settlement.UseLogger(setlLog)
	signal.UseLogger(sgnlLog)
	stores.UseLogger(storLog)
	system.UseLogger(sytmLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]slog.Logger{
	"FLGT": log,
	"ADPT": adptLog,
	"AUDT": auditLog,
	"BUS":  busLog,
	"DB":   dbLog,
	"DAG":  dagLog,
	"MODL": mdlLog,
	"MTCH": mtchLog,
	"RECN": recnLog,
	"SETL": setlLog,
	"SGNL": sgnlLog,
	"STOR": storLog,
	"SYTM": sytmLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	logRotator = r
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.  Uninitialized subsystems are dynamically created
// as needed.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.  It also dynamically creates the subsystem loggers as needed, so it
// can be used to initialize the logging system.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
