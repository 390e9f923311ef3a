// Package logger provides a configured zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

type options struct {
	out   io.Writer
	level zerolog.Level
}

// Option customises New.
type Option func(*options)

// WithWriter directs log output to w instead of stdout.
func WithWriter(w io.Writer) Option { return func(o *options) { o.out = w } }

// WithLevel sets the minimum level from its textual name ("debug", "info", ...).
// Unknown names keep the default info level.
func WithLevel(level string) Option {
	return func(o *options) {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && lvl != zerolog.NoLevel {
			o.level = lvl
		}
	}
}

// New returns a new zerolog.Logger configured for the application.
// Call sites should use .Stack() on error events to include stacks.
func New(serviceName string, opts ...Option) zerolog.Logger {
	o := options{out: os.Stdout, level: zerolog.InfoLevel}
	for _, fn := range opts {
		fn(&o)
	}

	// Stacks come from github.com/pkg/errors; plain errors get one attached at log time.
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}

	return zerolog.New(o.out).Level(o.level).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
