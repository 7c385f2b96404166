// Package pemilu is the root of the election gateway. It holds the global
// logger and the list of Prometheus collectors that the components register.
//
// The gateway translates REST requests into read calls and unsigned
// transactions for the election smart contract. It never holds a private key:
// every write endpoint returns the payload that the wallet of the caller signs
// and broadcasts.
package pemilu

import (
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to change the logging
// level.
const EnvLogLevel = "LLVL"

// Version is the version of the gateway, reported by the status endpoint.
const Version = "v0.3.0"

const defaultLevel = zerolog.InfoLevel

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance. By default, it prints info
// level messages but it can be changed through an environment variable.
var Logger = zerolog.New(logout).Level(ParseLogLevel(os.Getenv(EnvLogLevel))).
	With().Timestamp().Logger().
	With().Caller().Logger()

// PromCollectors exposes the Prometheus collectors created by the components.
// They are registered when the metrics handler is installed.
var PromCollectors []prometheus.Collector

// ParseLogLevel returns the level matching the name, or the default one.
func ParseLogLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off":
		return zerolog.Disabled
	default:
		return defaultLevel
	}
}
