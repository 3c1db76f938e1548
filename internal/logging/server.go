package logging

import (
	"log/slog"
)

// SetupServerMode initializes logging for long-running server operation.
// Logs go to file only, never stdout/stderr, so an external transport that
// owns stdout (a JSON-RPC loop, a line protocol) is never corrupted by a
// stray log line.
func SetupServerMode(level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	slog.Info("server mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}
