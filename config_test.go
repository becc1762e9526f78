// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"
)

func TestValidLogLevel(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "error", "critical"} {
		if !validLogLevel(level) {
			t.Errorf("level %q should be valid", level)
		}
	}
	for _, level := range []string{"", "verbose", "INFO", "warning"} {
		if validLogLevel(level) {
			t.Errorf("level %q should be invalid", level)
		}
	}
}

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		wantErr bool
	}{
		{name: "single level", level: "debug"},
		{name: "subsystem pair", level: "BUS=trace"},
		{name: "multiple pairs", level: "BUS=trace,DB=debug"},
		{name: "invalid level", level: "loud", wantErr: true},
		{name: "invalid subsystem", level: "NOPE=debug", wantErr: true},
		{name: "invalid pair level", level: "BUS=loud", wantErr: true},
		{name: "missing equals in pair list", level: "BUS=trace,DB", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := parseAndSetDebugLevels(test.level)
			if (err != nil) != test.wantErr {
				t.Errorf("parseAndSetDebugLevels(%q) error = %v, wantErr %v",
					test.level, err, test.wantErr)
			}
		})
	}
	// Restore the default level for any other tests in the package.
	setLogLevels(defaultLogLevel)
}

func TestSupportedSubsystemsSorted(t *testing.T) {
	subsystems := supportedSubsystems()
	if len(subsystems) != len(subsystemLoggers) {
		t.Fatalf("got %d subsystems, want %d", len(subsystems), len(subsystemLoggers))
	}
	for i := 1; i < len(subsystems); i++ {
		if subsystems[i-1] >= subsystems[i] {
			t.Errorf("subsystems not sorted at %d: %q >= %q", i, subsystems[i-1], subsystems[i])
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if cfg.Listen != defaultListen {
		t.Errorf("Listen = %q, want %q", cfg.Listen, defaultListen)
	}
	if cfg.BusBackend != defaultBusBackend || cfg.StorageBackend != defaultStorageBackend {
		t.Errorf("backends = %q/%q, want %q/%q",
			cfg.BusBackend, cfg.StorageBackend, defaultBusBackend, defaultStorageBackend)
	}
	if cfg.DBTimeout != defaultDBTimeout {
		t.Errorf("DBTimeout = %v, want %v", cfg.DBTimeout, defaultDBTimeout)
	}
}
