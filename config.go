// Copyright (c) 2024 The FlightLedger developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/flightledger/flightledger/bus"
	"github.com/flightledger/flightledger/db"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "flightledger.log"
	defaultBusBackend     = "memory"
	defaultStorageBackend = "memory"
	defaultDBHost         = "localhost"
	defaultDBPort         = "3306"
	defaultDBUser         = "flightledger"
	defaultDBName         = "flightledger"
	defaultDBTimeout      = 10 * time.Second
)

// config defines the configuration options for flightledger.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion    bool          `short:"V" long:"version" description:"Display version information and exit"`
	Listen         string        `long:"listen" env:"FLIGHTLEDGER_LISTEN" description:"Interface/port to listen for HTTP connections"`
	LogDir         string        `long:"logdir" description:"Directory to log output"`
	DebugLevel     string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	BusBackend     string        `long:"busbackend" env:"FLIGHTLEDGER_BUS_BACKEND" description:"Bus backend {memory, remote}"`
	BusBootstrap   string        `long:"busbootstrap" env:"FLIGHTLEDGER_BUS_BOOTSTRAP" description:"Bootstrap URL for the remote bus backend"`
	BusClientID    string        `long:"busclientid" env:"FLIGHTLEDGER_BUS_CLIENT_ID" description:"Client identifier for the remote bus backend"`
	StorageBackend string        `long:"storagebackend" env:"FLIGHTLEDGER_STORAGE_BACKEND" description:"Storage backend {memory, remote}"`
	DBHost         string        `long:"dbhost" env:"FLIGHTLEDGER_DB_HOST" description:"Hostname for database connection"`
	DBPort         string        `long:"dbport" env:"FLIGHTLEDGER_DB_PORT" description:"Port for database connection"`
	DBUser         string        `long:"dbuser" env:"FLIGHTLEDGER_DB_USER" description:"Username for database connection"`
	DBPass         string        `long:"dbpass" env:"FLIGHTLEDGER_DB_PASS" description:"Password for database connection"`
	DBName         string        `long:"dbname" env:"FLIGHTLEDGER_DB_NAME" description:"Name of database"`
	DBTimeout      time.Duration `long:"dbtimeout" description:"Dial/read/write timeout for remote database calls"`
}

func defaultConfig() config {
	return config{
		Listen:         defaultListen,
		LogDir:         defaultLogDirname,
		DebugLevel:     defaultLogLevel,
		BusBackend:     defaultBusBackend,
		StorageBackend: defaultStorageBackend,
		DBHost:         defaultDBHost,
		DBPort:         defaultDBPort,
		DBUser:         defaultDBUser,
		DBName:         defaultDBName,
		DBTimeout:      defaultDBTimeout,
	}
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid", debugLevel)
		}
		setLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- supported subsystems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid", logLevel)
		}
		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// loadConfig initializes and parses the config using command line options and
// environment variables, validates backend selections and initializes
// logging.  Invalid backend values are fatal.
func loadConfig() (*config, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	if cfg.ShowVersion {
		fmt.Printf("%s version %s (Go %s)\n", appName, version(), goVersion())
		os.Exit(0)
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	if _, err := bus.ParseBackend(cfg.BusBackend); err != nil {
		return nil, err
	}
	if bus.Backend(cfg.BusBackend) == bus.BackendRemote &&
		(cfg.BusBootstrap == "" || cfg.BusClientID == "") {
		return nil, fmt.Errorf("bus backend %q requires FLIGHTLEDGER_BUS_BOOTSTRAP "+
			"and FLIGHTLEDGER_BUS_CLIENT_ID", cfg.BusBackend)
	}
	if _, err := db.ParseBackend(cfg.StorageBackend); err != nil {
		return nil, err
	}

	// Initialize log rotation.  After the log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	return &cfg, nil
}
