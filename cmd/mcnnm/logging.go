package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// newLogger builds the run logger. Every record carries a short run id so
// interleaved runs can be told apart.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch format {
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("log format %q: want text or json", format)
	}
	return slog.New(h).With(slog.String("run_id", uuid.NewString()[:8])), nil
}
