// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options select output and identity fields.
type Options struct {
	Level   string
	Console bool // human-readable output instead of JSON
	Service string
	Room    string
}

// New returns a logger writing to stdout.
func New(opts Options) zerolog.Logger {
	return NewWithWriter(os.Stdout, opts)
}

// NewWithWriter returns a logger stamped with service, room and a per-process
// instance id. Unknown levels fall back to info.
func NewWithWriter(w io.Writer, opts Options) zerolog.Logger {
	if opts.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	if opts.Room != "" {
		ctx = ctx.Str("room", opts.Room)
	}
	return ctx.Str("instance", uuid.NewString()).Logger()
}
