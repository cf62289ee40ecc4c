package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger and installs it as the slog
// default. LOG_FORMAT=json selects the structured handler used in
// deployed environments; anything else gets the text handler.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}

	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("service", "signalboard"))
	slog.SetDefault(logger)
	return logger
}
