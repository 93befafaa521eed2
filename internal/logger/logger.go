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

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }

// New returns the service logger writing JSON to stdout at level.
// Call sites should use .Stack() on error events to include stacks.
func New(serviceName, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, serviceName, level)
}

// NewWithWriter is New with an explicit sink. Unknown levels fall back to info.
func NewWithWriter(w io.Writer, serviceName, level string) zerolog.Logger {
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(lvl).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
