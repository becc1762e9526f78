// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package adapters

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the package logger.
func UseLogger(logger slog.Logger) {
	log = logger
}
