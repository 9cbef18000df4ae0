// Package logs provides subsystem-tagged logging for the orchestration core. It is adapted
// from the teacher's logger package: same rotate-to-disk-plus-stdout backend shape, same
// per-subsystem SetLogLevel/SetLogLevels/ParseAndSetDebugLevels surface, retargeted at this
// module's own subsystem tags (see SPEC_FULL.md §10.1) and at btcsuite/btclog, the public
// continuation of the vendored "logs" package the teacher imports (that vendored package itself
// was not present in the retrieval pack).
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	if initiated {
		os.Stdout.Write(p)
		LogRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all subsystem loggers created
// from it write to the backend. Loggers must not be used before InitLogRotators is called.
var (
	backendLog = btclog.NewBackend(logWriter{})

	// LogRotator should be closed on application shutdown.
	LogRotator *rotator.Rotator

	orchLog = backendLog.Logger("ORCH")
	rtrLog  = backendLog.Logger("RTR ")
	crmLog  = backendLog.Logger("CRM ")
	fsmLog  = backendLog.Logger("FSM ")
	psigLog = backendLog.Logger("PSIG")
	voteLog = backendLog.Logger("VOTE")
	storLog = backendLog.Logger("STOR")
	ntadLog = backendLog.Logger("NTAD")
	apiLog  = backendLog.Logger("API ")

	initiated = false
)

// SubsystemTags enumerates the module's logging subsystems.
var SubsystemTags = struct {
	ORCH, RTR, CRM, FSM, PSIG, VOTE, STOR, NTAD, API string
}{
	ORCH: "ORCH", RTR: "RTR ", CRM: "CRM ", FSM: "FSM ",
	PSIG: "PSIG", VOTE: "VOTE", STOR: "STOR", NTAD: "NTAD", API: "API ",
}

var subsystemLoggers = map[string]btclog.Logger{
	SubsystemTags.ORCH: orchLog,
	SubsystemTags.RTR:  rtrLog,
	SubsystemTags.CRM:  crmLog,
	SubsystemTags.FSM:  fsmLog,
	SubsystemTags.PSIG: psigLog,
	SubsystemTags.VOTE: voteLog,
	SubsystemTags.STOR: storLog,
	SubsystemTags.NTAD: ntadLog,
	SubsystemTags.API:  apiLog,
}

// InitLogRotators initializes the logging rotator to write logs to logFile (and roll files in
// the same directory). Must be called before any subsystem logger is used.
func InitLogRotators(logFile string) {
	initiated = true
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		os.Exit(1)
	}
	LogRotator = r
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for every subsystem logger.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns a sorted slice of the supported subsystem tags.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for id := range subsystemLoggers {
		subsystems = append(subsystems, id)
	}
	sort.Strings(subsystems)
	return subsystems
}

// Get returns the logger for a specific subsystem tag.
func Get(tag string) (logger btclog.Logger, ok bool) {
	logger, ok = subsystemLoggers[tag]
	return
}

// ParseAndSetDebugLevels parses a debug-level spec ("info" or "RTR=debug,FSM=trace") and applies
// it, matching the teacher's flag-parsing convenience for --debuglevel.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(pair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", pair)
		}
		fields := strings.Split(pair, "=")
		subsysID, logLevel := fields[0], fields[1]
		if _, exists := Get(subsysID); !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevel(subsysID, logLevel)
	}
	return nil
}

func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}
