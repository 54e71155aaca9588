// Package ednalog sets up EDNA's logger. Log sink initialisation is
// listed in spec.md as an external collaborator; this package is the
// concrete thing the rest of the daemon takes a *logging.Logger from.
package ednalog

import (
	stdlog "log"
	"log/syslog"
	"os"

	"github.com/op/go-logging"
)

var syslogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} ▶ %{message}`,
)
var stderrFormat = logging.MustStringFormatter(
	`%{color}edna ▶ %{message}%{color:reset}`,
)

// Setup configures op/go-logging and returns a logger tagged with
// prefix. When trySyslog is set and syslog is reachable, log lines go
// to syslog; alsoStderr additionally (or, absent syslog, exclusively)
// attaches a colorized stderr backend, so a daemon running with -f
// still gets readable terminal output even though a supervised
// instance logs to syslog alone. The level can be overridden at
// runtime via the EDNA_LOG_LEVEL environment variable, falling back to
// defaultLevel.
func Setup(prefix string, defaultLevel logging.Level, trySyslog, alsoStderr bool) *logging.Logger {
	log := logging.MustGetLogger(prefix)

	var backends []logging.Backend
	if trySyslog {
		syslogBackend, err := logging.NewSyslogBackendPriority(prefix, syslog.LOG_NOTICE)
		if err == nil {
			logging.SetFormatter(syslogFormat)
			if sb, ok := syslogBackend.(*logging.SyslogBackend); ok {
				stdlog.SetOutput(sb.Writer)
			}
			backends = append(backends, syslogBackend)
		}
	}
	if alsoStderr || len(backends) == 0 {
		backends = append(backends, logging.NewLogBackend(os.Stderr, prefix, 0))
		logging.SetFormatter(stderrFormat)
	}

	leveled := logging.AddModuleLevel(logging.MultiLogger(backends...))
	switch os.Getenv("EDNA_LOG_LEVEL") {
	case "CRITICAL":
		leveled.SetLevel(logging.CRITICAL, prefix)
	case "ERROR":
		leveled.SetLevel(logging.ERROR, prefix)
	case "WARNING":
		leveled.SetLevel(logging.WARNING, prefix)
	case "NOTICE":
		leveled.SetLevel(logging.NOTICE, prefix)
	case "INFO":
		leveled.SetLevel(logging.INFO, prefix)
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, prefix)
	default:
		leveled.SetLevel(defaultLevel, prefix)
	}

	logging.SetBackend(leveled)
	return log
}

// LevelFromString maps a configuration string to a logging.Level,
// falling back to INFO for anything unrecognised.
func LevelFromString(s string) logging.Level {
	switch s {
	case "CRITICAL":
		return logging.CRITICAL
	case "ERROR":
		return logging.ERROR
	case "WARNING":
		return logging.WARNING
	case "NOTICE":
		return logging.NOTICE
	case "DEBUG":
		return logging.DEBUG
	default:
		return logging.INFO
	}
}
