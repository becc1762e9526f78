// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"

	"github.com/zenazn/goji/graceful"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/flightledger/flightledger/bus"
	"github.com/flightledger/flightledger/db"
	"github.com/flightledger/flightledger/signal"
	"github.com/flightledger/flightledger/system"
)

var cfg *config

func main() {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	loadedCfg, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}
	cfg = loadedCfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()
	log.Infof("Version: %s", version())
	log.Infof("Bus backend: %s, storage backend: %s", cfg.BusBackend, cfg.StorageBackend)

	repos, err := openRepositories(cfg)
	if err != nil {
		log.Errorf("Failed to open storage backend: %v", err)
		os.Exit(1)
	}

	transport, err := bus.NewTransport(bus.Backend(cfg.BusBackend),
		cfg.BusBootstrap, cfg.BusClientID)
	if err != nil {
		log.Errorf("Failed to open bus backend: %v", err)
		os.Exit(1)
	}

	runtime := system.NewRuntime(repos, transport, system.Config{
		BusBackend:     cfg.BusBackend,
		StorageBackend: cfg.StorageBackend,
	})
	if err := runtime.Refresh(); err != nil {
		log.Errorf("Initial refresh failed: %v", err)
		os.Exit(1)
	}

	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	registerRoutes(mux, runtime)

	// Interrupts drain in-flight requests before the process exits.
	shutdownCtx := signal.WithShutdownCancel(context.Background())
	go signal.ShutdownListener()
	go func() {
		<-shutdownCtx.Done()
		graceful.Shutdown()
	}()
	graceful.PostHook(func() {
		if transport != nil {
			if err := transport.Close(); err != nil {
				log.Warnf("Bus transport close: %v", err)
			}
		}
	})

	log.Infof("Listening on %s", cfg.Listen)
	if err := graceful.ListenAndServe(cfg.Listen, mux); err != nil {
		log.Errorf("HTTP server error: %v", err)
		os.Exit(1)
	}
	graceful.Wait()
}

// openRepositories selects the storage backend from configuration.
func openRepositories(cfg *config) (db.Repositories, error) {
	backend, err := db.ParseBackend(cfg.StorageBackend)
	if err != nil {
		return db.Repositories{}, err
	}
	if backend == db.BackendMemory {
		return db.NewMemoryRepositories(), nil
	}
	dbMap, err := db.ConnectSQL(db.SQLConfig{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPass,
		Name:     cfg.DBName,
		Timeout:  cfg.DBTimeout,
	})
	if err != nil {
		return db.Repositories{}, err
	}
	return db.NewSQLRepositories(dbMap), nil
}
