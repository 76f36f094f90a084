package graphstore

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment variables read by ConfigureLogging.
const (
	// LogLevelEnv holds a slog level name such as DEBUG, INFO, WARN or ERROR.
	LogLevelEnv = "GRAPHSTORE_LOG_LEVEL"
	// LogFormatEnv selects "text" (default) or "json" output.
	LogFormatEnv = "GRAPHSTORE_LOG_FORMAT"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs a default slog logger writing to stdout, configured from the
// environment. The store packages log through the slog default logger, so an application
// that installs its own handler does not need to call this.
func ConfigureLogging() {
	ConfigureLoggingTo(os.Stdout, os.Getenv(LogLevelEnv), os.Getenv(LogFormatEnv))
}

// ConfigureLoggingTo installs a default logger writing to w. Unrecognized levels fall back
// to INFO.
func ConfigureLoggingTo(w io.Writer, level, format string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		l = slog.LevelInfo
	}
	logLevel.Set(l)

	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// SetLogLevel changes the level of the logger installed by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
