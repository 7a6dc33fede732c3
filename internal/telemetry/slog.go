package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger configures the global slog default logger from the logging
// section of the application configuration.
//
// format: "json" → JSONHandler (machine readable; the production default);
// anything else → TextHandler for local development.
//
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to
// "info". At debug level records carry file:line source references.
//
// output: "stderr" routes records to standard error; anything else (including
// empty) uses standard output.
//
// The configured logger is installed as the default so slog calls anywhere in
// the application use it without carrying a *slog.Logger around. This channel
// doubles as the diagnostic sink for audit-subsystem faults (storage or crypto
// errors), which must never be routed back through the audit log itself.
func SetupLogger(format, level, output string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	if strings.ToLower(output) == "stderr" {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}
