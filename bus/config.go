// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bus

import (
	"fmt"
)

// Backend selects the transport implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRemote Backend = "remote"
)

// ParseBackend validates a bus backend name from configuration.
func ParseBackend(raw string) (Backend, error) {
	switch Backend(raw) {
	case BackendMemory:
		return BackendMemory, nil
	case BackendRemote:
		return BackendRemote, nil
	}
	return "", fmt.Errorf("unsupported bus backend %q, use %q or %q",
		raw, BackendMemory, BackendRemote)
}

// NewTransport returns the optional remote transport sink for the backend.
// The memory backend needs no transport and returns nil; the in-memory
// snapshot bus is always maintained by the runtime regardless.
func NewTransport(backend Backend, bootstrap, clientID string) (Bus, error) {
	switch backend {
	case BackendMemory:
		return nil, nil
	case BackendRemote:
		if bootstrap == "" || clientID == "" {
			return nil, fmt.Errorf("remote bus backend requires bootstrap and client id")
		}
		return NewNATSBus(bootstrap, clientID)
	}
	return nil, fmt.Errorf("unsupported bus backend %q", backend)
}
