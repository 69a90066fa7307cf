package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/vision/pipeline"
)

// envFlags maps environment variables to the flags they configure. A flag
// given on the command line wins over the environment.
var envFlags = map[string]string{
	"SIGHTLINE_DB_PATH":      "db-path",
	"SIGHTLINE_LISTEN":       "listen",
	"SIGHTLINE_SNAPSHOT_DIR": "snapshot-dir",
	"SIGHTLINE_LOG_LEVEL":    "log-level",
}

func applyEnvOverrides(fs *flag.FlagSet, getenv func(string) string) error {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for env, name := range envFlags {
		v := getenv(env)
		if v == "" || explicit[name] {
			continue
		}
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}
	return nil
}

// logWriters enables the pipeline streams up to level. Ops is always on.
func logWriters(level string, out io.Writer) (pipeline.LogWriters, error) {
	w := pipeline.LogWriters{Ops: out}
	switch level {
	case "ops":
	case "diag":
		w.Diag = out
	case "trace":
		w.Diag = out
		w.Trace = out
	default:
		return pipeline.LogWriters{}, fmt.Errorf("unknown log level %q (want ops, diag or trace)", level)
	}
	return w, nil
}

// configureLogging routes the pipeline and monitoring loggers to stderr, or
// to debugLog when set. The returned func closes the log file.
func configureLogging(level, debugLog string) (func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if debugLog != "" {
		f, err := os.OpenFile(debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open debug log: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	w, err := logWriters(level, out)
	if err != nil {
		closeFn()
		return nil, err
	}
	pipeline.SetLogWriters(w)
	monitoring.SetLogWriter(out)
	return closeFn, nil
}
